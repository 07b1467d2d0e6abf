package capability

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Entry is the registry data for one model, as loaded from the models file.
type Entry struct {
	Model        Model             `yaml:"model" json:"model"`
	Description  string            `yaml:"description" json:"description,omitempty"`
	Capabilities []Capability      `yaml:"capabilities" json:"capabilities"`
	Actions      map[Action]string `yaml:"actions" json:"actions"`
}

type modelInfo struct {
	description string
	caps        Set
	actions     map[Action]string
}

// Registry maps device models to capability sets and controller action
// identifiers.
//
// A Registry is immutable once built and safe for concurrent use without
// locking. Lookups of unknown models fail closed with ErrUnknownModel.
type Registry struct {
	models map[Model]modelInfo
}

// NewRegistry validates entries and builds a Registry.
//
// Every problem found is reported, joined into one ErrInvalidRegistry error:
// empty or duplicate model names, unknown capabilities or actions, actions
// whose capability the model does not declare, declared capabilities with
// missing actions, and empty or duplicate identifiers within a model.
func NewRegistry(entries []Entry) (*Registry, error) {
	r := &Registry{models: make(map[Model]modelInfo, len(entries))}
	var errs []string

	for i, e := range entries {
		model := Model(strings.TrimSpace(string(e.Model)))
		if model == "" {
			errs = append(errs, fmt.Sprintf("entry %d: model name is required", i))
			continue
		}
		if _, dup := r.models[model]; dup {
			errs = append(errs, fmt.Sprintf("%s: duplicate model", model))
			continue
		}

		entryErrs := validateEntry(model, e)
		if len(entryErrs) > 0 {
			errs = append(errs, entryErrs...)
			continue
		}

		actions := make(map[Action]string, len(e.Actions))
		for a, id := range e.Actions {
			actions[a] = strings.TrimSpace(id)
		}
		r.models[model] = modelInfo{
			description: e.Description,
			caps:        NewSet(e.Capabilities...),
			actions:     actions,
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRegistry, strings.Join(errs, "; "))
	}
	if len(r.models) == 0 {
		return nil, fmt.Errorf("%w: no models defined", ErrInvalidRegistry)
	}
	return r, nil
}

func validateEntry(model Model, e Entry) []string {
	var errs []string

	declared := make(map[Capability]bool, len(e.Capabilities))
	for _, c := range e.Capabilities {
		if !IsKnownCapability(c) {
			errs = append(errs, fmt.Sprintf("%s: unknown capability %q", model, c))
			continue
		}
		declared[c] = true
	}

	seenIDs := make(map[string]Action, len(e.Actions))
	for a, id := range e.Actions {
		def, ok := LookupAction(a)
		if !ok {
			errs = append(errs, fmt.Sprintf("%s: unknown action %q", model, a))
			continue
		}
		if !declared[def.Capability] {
			errs = append(errs, fmt.Sprintf("%s: action %q requires undeclared capability %q", model, a, def.Capability))
		}
		id = strings.TrimSpace(id)
		if id == "" {
			errs = append(errs, fmt.Sprintf("%s: action %q has an empty identifier", model, a))
			continue
		}
		if other, dup := seenIDs[id]; dup {
			errs = append(errs, fmt.Sprintf("%s: identifier %q used by both %q and %q", model, id, other, a))
			continue
		}
		seenIDs[id] = a
	}

	for c := range declared {
		for _, a := range ActionsFor(c) {
			if _, ok := e.Actions[a]; !ok {
				errs = append(errs, fmt.Sprintf("%s: capability %q is missing action %q", model, c, a))
			}
		}
	}

	sort.Strings(errs)
	return errs
}

// CapabilitiesFor returns the capability set of a model.
// Returns ErrUnknownModel if the model is not registered.
func (r *Registry) CapabilitiesFor(model Model) (Set, error) {
	info, ok := r.models[model]
	if !ok {
		return Set{}, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	return info.caps, nil
}

// ActionIdentifierFor returns the controller identifier for an action on a
// model. Returns ErrUnknownModel or ErrUnsupportedAction.
func (r *Registry) ActionIdentifierFor(model Model, action Action) (string, error) {
	info, ok := r.models[model]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	def, ok := LookupAction(action)
	if !ok || !info.caps.Has(def.Capability) {
		return "", fmt.Errorf("%w: %s does not support %s", ErrUnsupportedAction, model, action)
	}
	id, ok := info.actions[action]
	if !ok {
		return "", fmt.Errorf("%w: %s has no identifier for %s", ErrUnsupportedAction, model, action)
	}
	return id, nil
}

// Supports reports whether model supports action. Unknown models support
// nothing.
func (r *Registry) Supports(model Model, action Action) bool {
	_, err := r.ActionIdentifierFor(model, action)
	return err == nil
}

// Models returns the registered models sorted by name.
func (r *Registry) Models() []Model {
	out := make([]Model, 0, len(r.models))
	for m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Describe returns a copy of a model's registry entry.
func (r *Registry) Describe(model Model) (Description, error) {
	info, ok := r.models[model]
	if !ok {
		return Description{}, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	actions := make(map[Action]string, len(info.actions))
	for a, id := range info.actions {
		actions[a] = id
	}
	return Description{
		Model:        model,
		Description:  info.description,
		Capabilities: info.caps.List(),
		Actions:      actions,
	}, nil
}

// IsUnsupported reports whether err means the model or action is outside
// the registry. Both cases are rejected before any controller call.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupportedAction) || errors.Is(err, ErrUnknownModel)
}
