package capability

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var defaultModels []byte

//go:embed models.schema.json
var modelsSchema []byte

const schemaURL = "models.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// modelsFile is the on-disk layout of a models file.
type modelsFile struct {
	Version int     `yaml:"version"`
	Models  []Entry `yaml:"models"`
}

// LoadDefault builds the registry from the models file compiled into the
// binary.
func LoadDefault() (*Registry, error) {
	return Parse(defaultModels)
}

// Load builds the registry from a YAML models file on disk.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("reading models file: %w", err)
	}
	reg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("models file %s: %w", path, err)
	}
	return reg, nil
}

// Parse validates YAML models data against the models schema and builds a
// Registry from it.
func Parse(data []byte) (*Registry, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var file modelsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: parsing models: %v", ErrInvalidRegistry, err) //nolint:errorlint // only the sentinel is matched
	}
	return NewRegistry(file.Models)
}

// validateSchema converts the YAML document to its JSON form and checks it
// against the embedded schema.
func validateSchema(data []byte) error {
	schema, err := loadSchema()
	if err != nil {
		return err
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: parsing models: %v", ErrInvalidRegistry, err) //nolint:errorlint // only the sentinel is matched
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: models are not representable as JSON: %v", ErrInvalidRegistry, err) //nolint:errorlint // only the sentinel is matched
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRegistry, err) //nolint:errorlint // only the sentinel is matched
	}

	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: schema validation failed: %v", ErrInvalidRegistry, err) //nolint:errorlint // only the sentinel is matched
	}
	return nil
}

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(modelsSchema)); err != nil {
			schemaErr = fmt.Errorf("adding models schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}
