package container

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// DockerBackend implements RuntimeBackend by shelling out to a docker-CLI
// compatible binary. The argument surface matches a live docker deployment;
// pointing the binary at podman works unchanged.
type DockerBackend struct {
	logger *zap.Logger
	binary string
	runner CommandRunner
}

// DockerBackendOption defines a functional option for DockerBackend.
type DockerBackendOption func(*DockerBackend)

// WithCommandRunner sets the CommandRunner for DockerBackend.
func WithCommandRunner(runner CommandRunner) DockerBackendOption {
	return func(d *DockerBackend) {
		d.runner = runner
	}
}

// WithBinary sets the CLI binary name (for example "podman").
func WithBinary(binary string) DockerBackendOption {
	return func(d *DockerBackend) {
		d.binary = binary
	}
}

// NewDockerBackend creates a DockerBackend with default implementations and
// optional overrides.
func NewDockerBackend(logger *zap.Logger, opts ...DockerBackendOption) *DockerBackend {
	backend := &DockerBackend{
		logger: logger,
		binary: "docker",
		runner: &RealCommandRunner{},
	}

	for _, opt := range opts {
		opt(backend)
	}

	return backend
}

const bytesPerMiB = 1024 * 1024

// formatMemory renders a byte limit as the CLI's mebibyte form, rounding up
// so a limit is never weakened.
func formatMemory(bytes int64) string {
	mib := (bytes + bytesPerMiB - 1) / bytesPerMiB
	return fmt.Sprintf("%dm", mib)
}

// formatCPUs renders a CPU fraction without trailing zeros (1.0 -> "1").
func formatCPUs(fraction float64) string {
	return strconv.FormatFloat(fraction, 'f', -1, 64)
}

// createArgs builds the full `create` command line for a config.
func (d *DockerBackend) createArgs(cfg Config) []string {
	args := []string{d.binary, "create", "--rm", "-w", cfg.WorkingDir}

	for _, kv := range cfg.Env {
		args = append(args, "-e", kv)
	}

	if cfg.MemoryBytes > 0 {
		args = append(args, "--memory", formatMemory(cfg.MemoryBytes))
	}
	if cfg.CPULimit > 0 {
		args = append(args, "--cpus", formatCPUs(cfg.CPULimit))
	}

	for _, m := range cfg.Mounts {
		spec := m.HostPath + ":" + m.ContainerPath
		if m.Mode != "" {
			spec += ":" + m.Mode
		}
		args = append(args, "-v", spec)
	}

	if cfg.Network != nil {
		args = append(args, "--network", cfg.Network.Name)
		for _, p := range cfg.Network.Ports {
			args = append(args, "-p", fmt.Sprintf("%d:%d/%s", p.HostPort, p.ContainerPort, p.Protocol))
		}
		for _, dns := range cfg.Network.DNS {
			args = append(args, "--dns", dns)
		}
	}

	args = append(args, cfg.Image)
	args = append(args, cfg.Command...)
	return args
}

// imageExists probes the local image store.
func (d *DockerBackend) imageExists(ctx context.Context, image string) (bool, error) {
	_, _, code, err := d.runner.RunCommand(ctx, []string{d.binary, "image", "inspect", image})
	if err != nil {
		return false, &BackendError{Op: OpInspect, Err: err}
	}
	return code == 0, nil
}

// pullImage pulls an image; called at most once per Create.
func (d *DockerBackend) pullImage(ctx context.Context, image string) error {
	d.logger.Info("pulling image", zap.String("image", image))
	_, stderr, code, err := d.runner.RunCommand(ctx, []string{d.binary, "pull", image})
	if err != nil {
		return &BackendError{Op: OpPull, Err: err}
	}
	if code != 0 {
		return &BackendError{Op: OpPull, Diagnostic: strings.TrimSpace(stderr)}
	}
	return nil
}

// Create creates a container and returns the daemon-assigned id. A missing
// image triggers exactly one pull before the create; pull failures are not
// retried.
func (d *DockerBackend) Create(ctx context.Context, cfg Config) (string, error) {
	exists, err := d.imageExists(ctx, cfg.Image)
	if err != nil {
		return "", err
	}
	if !exists {
		if err := d.pullImage(ctx, cfg.Image); err != nil {
			return "", err
		}
	}

	stdout, stderr, code, err := d.runner.RunCommand(ctx, d.createArgs(cfg))
	if err != nil {
		return "", &BackendError{Op: OpCreate, Err: err}
	}
	if code != 0 {
		return "", &BackendError{Op: OpCreate, Diagnostic: strings.TrimSpace(stderr)}
	}

	id := strings.TrimSpace(stdout)
	d.logger.Debug("container created",
		zap.String("id", id),
		zap.String("image", cfg.Image))
	return id, nil
}

// Start starts the container.
func (d *DockerBackend) Start(ctx context.Context, id string) error {
	return d.simple(ctx, OpStart, []string{d.binary, "start", id})
}

// Stop signals the container's main process to terminate gracefully.
func (d *DockerBackend) Stop(ctx context.Context, id string) error {
	return d.simple(ctx, OpStop, []string{d.binary, "stop", id})
}

// Remove force-deletes the container.
func (d *DockerBackend) Remove(ctx context.Context, id string) error {
	return d.simple(ctx, OpRemove, []string{d.binary, "rm", "-f", id})
}

func (d *DockerBackend) simple(ctx context.Context, op BackendOp, args []string) error {
	_, stderr, code, err := d.runner.RunCommand(ctx, args)
	if err != nil {
		return &BackendError{Op: op, Err: err}
	}
	if code != 0 {
		return &BackendError{Op: op, Diagnostic: strings.TrimSpace(stderr)}
	}
	return nil
}

// Execute runs a one-shot command inside the running container through
// `exec -i <id> sh -c <command>` and returns the captured output.
func (d *DockerBackend) Execute(ctx context.Context, id, command string) (string, string, error) {
	stdout, stderr, code, err := d.runner.RunCommand(ctx, []string{d.binary, "exec", "-i", id, "sh", "-c", command})
	if err != nil {
		return "", "", &BackendError{Op: OpExec, Err: err}
	}
	if code != 0 {
		return stdout, stderr, &BackendError{Op: OpExec, Diagnostic: strings.TrimSpace(stderr)}
	}
	return stdout, stderr, nil
}

// IsRunning inspects the container's running flag.
func (d *DockerBackend) IsRunning(ctx context.Context, id string) (bool, error) {
	stdout, stderr, code, err := d.runner.RunCommand(ctx, []string{d.binary, "inspect", "--format={{.State.Running}}", id})
	if err != nil {
		return false, &BackendError{Op: OpInspect, Err: err}
	}
	if code != 0 {
		return false, &BackendError{Op: OpInspect, Diagnostic: strings.TrimSpace(stderr)}
	}
	return strings.TrimSpace(stdout) == "true", nil
}

// ExitCode inspects the exit code of the container's main process.
func (d *DockerBackend) ExitCode(ctx context.Context, id string) (int, error) {
	stdout, stderr, code, err := d.runner.RunCommand(ctx, []string{d.binary, "inspect", "--format={{.State.ExitCode}}", id})
	if err != nil {
		return 0, &BackendError{Op: OpInspect, Err: err}
	}
	if code != 0 {
		return 0, &BackendError{Op: OpInspect, Diagnostic: strings.TrimSpace(stderr)}
	}
	exitCode, parseErr := strconv.Atoi(strings.TrimSpace(stdout))
	if parseErr != nil {
		return 0, &BackendError{Op: OpInspect, Diagnostic: fmt.Sprintf("unparseable exit code %q", strings.TrimSpace(stdout))}
	}
	return exitCode, nil
}
