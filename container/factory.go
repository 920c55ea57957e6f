package container

import (
	"fmt"

	"go.uber.org/zap"
)

// BackendConfig selects and parameterizes a runtime backend. The backend is
// chosen by explicit configuration, never by environment sniffing.
type BackendConfig struct {
	// Kind is one of "docker", "podman", or "containerd".
	Kind string
	// Address is the containerd socket path; ignored by the CLI backends.
	Address string
	// Namespace is the containerd namespace; ignored by the CLI backends.
	Namespace string
}

// NewBackend creates the runtime backend named by the configuration.
func NewBackend(logger *zap.Logger, cfg BackendConfig) (RuntimeBackend, error) {
	switch cfg.Kind {
	case "docker":
		return NewDockerBackend(logger), nil
	case "podman":
		return NewDockerBackend(logger, WithBinary("podman")), nil
	case "containerd":
		return NewContainerdBackend(logger, cfg.Address, cfg.Namespace)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Kind)
	}
}
