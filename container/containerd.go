package container

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"syscall"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/containers"
	"github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/google/uuid"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"go.uber.org/zap"
)

// ContainerdBackend implements RuntimeBackend against the containerd API:
// the image service for pulls, the container service for create/delete with
// an embedded OCI process spec, and the task service for the
// create/start/kill/delete run lifecycle.
type ContainerdBackend struct {
	logger    *zap.Logger
	client    *containerd.Client
	namespace string
}

// ContainerdBackendOption defines a functional option for ContainerdBackend.
type ContainerdBackendOption func(*ContainerdBackend)

// WithContainerdClient sets a pre-connected client, mainly for tests.
func WithContainerdClient(client *containerd.Client) ContainerdBackendOption {
	return func(b *ContainerdBackend) {
		b.client = client
	}
}

// NewContainerdBackend connects to the containerd socket and scopes all
// calls to the given namespace.
func NewContainerdBackend(logger *zap.Logger, address, namespace string, opts ...ContainerdBackendOption) (*ContainerdBackend, error) {
	backend := &ContainerdBackend{
		logger:    logger,
		namespace: namespace,
	}

	for _, opt := range opts {
		opt(backend)
	}

	if backend.client == nil {
		client, err := containerd.New(address)
		if err != nil {
			return nil, fmt.Errorf("connect to containerd at %s: %w", address, err)
		}
		backend.client = client
	}

	return backend, nil
}

// Close releases the containerd connection.
func (b *ContainerdBackend) Close() error {
	return b.client.Close()
}

func (b *ContainerdBackend) withNamespace(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, b.namespace)
}

// cfsPeriod is the CFS scheduling period used to express CPU fractions.
const cfsPeriod = 100000

// cpuQuota converts a CPU fraction in (0.0, 1.0] to a CFS quota over
// cfsPeriod.
func cpuQuota(fraction float64) int64 {
	return int64(fraction * float64(cfsPeriod))
}

// withIsolationNamespaces gives the container its own pid, ipc, uts, mount,
// and network namespaces.
func withIsolationNamespaces() oci.SpecOpts {
	return func(_ context.Context, _ oci.Client, _ *containers.Container, s *oci.Spec) error {
		if s.Linux == nil {
			s.Linux = &specs.Linux{}
		}
		s.Linux.Namespaces = []specs.LinuxNamespace{
			{Type: specs.PIDNamespace},
			{Type: specs.IPCNamespace},
			{Type: specs.UTSNamespace},
			{Type: specs.MountNamespace},
			{Type: specs.NetworkNamespace},
		}
		return nil
	}
}

// bindMounts converts config mounts into OCI bind mounts.
func bindMounts(mounts []Mount) []specs.Mount {
	out := make([]specs.Mount, 0, len(mounts))
	for _, m := range mounts {
		mode := m.Mode
		if mode == "" {
			mode = "rw"
		}
		out = append(out, specs.Mount{
			Destination: m.ContainerPath,
			Type:        "bind",
			Source:      m.HostPath,
			Options:     []string{"rbind", mode},
		})
	}
	return out
}

// specOpts assembles the OCI process specification for a config: args, cwd,
// env, non-terminal, root uid/gid, isolation namespaces, bind mounts, and
// resource limits.
func specOpts(image containerd.Image, cfg Config) []oci.SpecOpts {
	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithProcessArgs(cfg.Command...),
		oci.WithProcessCwd(cfg.WorkingDir),
		oci.WithEnv(cfg.Env),
		oci.WithUIDGID(0, 0),
		withIsolationNamespaces(),
	}
	if len(cfg.Mounts) > 0 {
		opts = append(opts, oci.WithMounts(bindMounts(cfg.Mounts)))
	}
	if cfg.MemoryBytes > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(cfg.MemoryBytes)))
	}
	if cfg.CPULimit > 0 {
		opts = append(opts, oci.WithCPUCFS(cpuQuota(cfg.CPULimit), cfsPeriod))
	}
	return opts
}

// resolveImage fetches the image from the local store, pulling exactly once
// when it is absent.
func (b *ContainerdBackend) resolveImage(ctx context.Context, ref string) (containerd.Image, error) {
	image, err := b.client.GetImage(ctx, ref)
	if err == nil {
		return image, nil
	}
	if !errdefs.IsNotFound(err) {
		return nil, &BackendError{Op: OpInspect, Diagnostic: err.Error(), Err: err}
	}

	b.logger.Info("pulling image", zap.String("image", ref))
	image, err = b.client.Pull(ctx, ref, containerd.WithPullUnpack)
	if err != nil {
		return nil, &BackendError{Op: OpPull, Diagnostic: err.Error(), Err: err}
	}
	return image, nil
}

// Create creates a container with a fresh rootfs snapshot and an embedded
// OCI spec, and returns its id. The task is not created until Start.
func (b *ContainerdBackend) Create(ctx context.Context, cfg Config) (string, error) {
	ctx = b.withNamespace(ctx)

	image, err := b.resolveImage(ctx, cfg.Image)
	if err != nil {
		return "", err
	}

	id := "judgebox-" + uuid.NewString()
	_, err = b.client.NewContainer(ctx, id,
		containerd.WithNewSnapshot(id+"-rootfs", image),
		containerd.WithNewSpec(specOpts(image, cfg)...),
	)
	if err != nil {
		return "", &BackendError{Op: OpCreate, Diagnostic: err.Error(), Err: err}
	}

	b.logger.Debug("container created",
		zap.String("id", id),
		zap.String("image", cfg.Image))
	return id, nil
}

// Start creates the container's task and starts it.
func (b *ContainerdBackend) Start(ctx context.Context, id string) error {
	ctx = b.withNamespace(ctx)

	cntr, err := b.client.LoadContainer(ctx, id)
	if err != nil {
		return &BackendError{Op: OpStart, Diagnostic: err.Error(), Err: err}
	}

	task, err := cntr.NewTask(ctx, cio.NullIO)
	if err != nil {
		return &BackendError{Op: OpStart, Diagnostic: err.Error(), Err: err}
	}
	if err := task.Start(ctx); err != nil {
		_, _ = task.Delete(ctx, containerd.WithProcessKill)
		return &BackendError{Op: OpStart, Diagnostic: err.Error(), Err: err}
	}
	return nil
}

func (b *ContainerdBackend) loadTask(ctx context.Context, id string) (containerd.Task, error) {
	cntr, err := b.client.LoadContainer(ctx, id)
	if err != nil {
		return nil, err
	}
	return cntr.Task(ctx, nil)
}

// Stop sends SIGTERM to the container's task.
func (b *ContainerdBackend) Stop(ctx context.Context, id string) error {
	ctx = b.withNamespace(ctx)

	task, err := b.loadTask(ctx, id)
	if err != nil {
		return &BackendError{Op: OpStop, Diagnostic: err.Error(), Err: err}
	}
	if err := task.Kill(ctx, syscall.SIGTERM); err != nil {
		return &BackendError{Op: OpStop, Diagnostic: err.Error(), Err: err}
	}
	return nil
}

// Remove deletes the task (killing it if needed), the container, and its
// snapshot.
func (b *ContainerdBackend) Remove(ctx context.Context, id string) error {
	ctx = b.withNamespace(ctx)

	cntr, err := b.client.LoadContainer(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return &BackendError{Op: OpRemove, Diagnostic: err.Error(), Err: err}
	}

	if task, taskErr := cntr.Task(ctx, nil); taskErr == nil {
		if _, err := task.Delete(ctx, containerd.WithProcessKill); err != nil && !errdefs.IsNotFound(err) {
			return &BackendError{Op: OpRemove, Diagnostic: err.Error(), Err: err}
		}
	}

	if err := cntr.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
		return &BackendError{Op: OpRemove, Diagnostic: err.Error(), Err: err}
	}
	return nil
}

// Execute runs a one-shot command inside the running task via exec, with a
// process spec derived from the container's own spec.
func (b *ContainerdBackend) Execute(ctx context.Context, id, command string) (string, string, error) {
	ctx = b.withNamespace(ctx)

	cntr, err := b.client.LoadContainer(ctx, id)
	if err != nil {
		return "", "", &BackendError{Op: OpExec, Diagnostic: err.Error(), Err: err}
	}
	task, err := cntr.Task(ctx, nil)
	if err != nil {
		return "", "", &BackendError{Op: OpExec, Diagnostic: err.Error(), Err: err}
	}
	spec, err := cntr.Spec(ctx)
	if err != nil {
		return "", "", &BackendError{Op: OpExec, Diagnostic: err.Error(), Err: err}
	}

	pspec := *spec.Process
	pspec.Args = []string{"sh", "-c", command}

	var stdoutBuf, stderrBuf bytes.Buffer
	execID := "exec-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	process, err := task.Exec(ctx, execID, &pspec, cio.NewCreator(cio.WithStreams(nil, &stdoutBuf, &stderrBuf)))
	if err != nil {
		return "", "", &BackendError{Op: OpExec, Diagnostic: err.Error(), Err: err}
	}
	defer func() {
		if _, deleteErr := process.Delete(ctx); deleteErr != nil && !errdefs.IsNotFound(deleteErr) {
			b.logger.Warn("failed to delete exec process", zap.String("exec_id", execID), zap.Error(deleteErr))
		}
	}()

	// Wait must be registered before Start to not miss a fast exit.
	exitCh, err := process.Wait(ctx)
	if err != nil {
		return "", "", &BackendError{Op: OpExec, Diagnostic: err.Error(), Err: err}
	}
	if err := process.Start(ctx); err != nil {
		return "", "", &BackendError{Op: OpExec, Diagnostic: err.Error(), Err: err}
	}

	select {
	case exit := <-exitCh:
		code, _, exitErr := exit.Result()
		if exitErr != nil {
			return stdoutBuf.String(), stderrBuf.String(), &BackendError{Op: OpExec, Diagnostic: exitErr.Error(), Err: exitErr}
		}
		if code != 0 {
			return stdoutBuf.String(), stderrBuf.String(), &BackendError{Op: OpExec, Diagnostic: strings.TrimSpace(stderrBuf.String())}
		}
		return stdoutBuf.String(), stderrBuf.String(), nil
	case <-ctx.Done():
		return stdoutBuf.String(), stderrBuf.String(), ctx.Err()
	}
}

// IsRunning reports whether the container's task is in the running state. A
// container without a task (created but not started, or already reaped) is
// not running.
func (b *ContainerdBackend) IsRunning(ctx context.Context, id string) (bool, error) {
	ctx = b.withNamespace(ctx)

	task, err := b.loadTask(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, &BackendError{Op: OpInspect, Diagnostic: err.Error(), Err: err}
	}

	status, err := task.Status(ctx)
	if err != nil {
		return false, &BackendError{Op: OpInspect, Diagnostic: err.Error(), Err: err}
	}
	return status.Status == containerd.Running, nil
}

// ExitCode returns the exit status recorded on the stopped task.
func (b *ContainerdBackend) ExitCode(ctx context.Context, id string) (int, error) {
	ctx = b.withNamespace(ctx)

	task, err := b.loadTask(ctx, id)
	if err != nil {
		return 0, &BackendError{Op: OpInspect, Diagnostic: err.Error(), Err: err}
	}

	status, err := task.Status(ctx)
	if err != nil {
		return 0, &BackendError{Op: OpInspect, Diagnostic: err.Error(), Err: err}
	}
	return int(status.ExitStatus), nil
}
