// Package config handles loading and validating connectd configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with CONNECTD_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Controller and broker passwords should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - An empty security.jwt.secret leaves the HTTP API unauthenticated
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Controller.Host)
package config
