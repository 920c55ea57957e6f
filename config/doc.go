// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files. It supports configuration for server
// settings, the container runtime backend, orchestrator limits, and the
// per-language runner catalog.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Runtime backend: %s\n", cfg.Runtime.Backend)
package config
