package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// RuntimeBackend is the engine that actually creates, runs, and tears down
// containers. Two implementations are provided: DockerBackend shells the
// docker (or podman) CLI, ContainerdBackend speaks the containerd API.
// Calls are not required to be idempotent at this level; idempotent cleanup
// is layered on by Lifecycle.
type RuntimeBackend interface {
	// Create creates a container and returns the backend-assigned id.
	Create(ctx context.Context, cfg Config) (string, error)
	// Start starts the container's main process.
	Start(ctx context.Context, id string) error
	// Stop signals the container to terminate gracefully.
	Stop(ctx context.Context, id string) error
	// Remove force-deletes the container.
	Remove(ctx context.Context, id string) error
	// Execute runs a one-shot command inside the running container and
	// returns its captured output. A non-zero exit yields a BackendError
	// carrying the stderr text alongside the captured output.
	Execute(ctx context.Context, id, command string) (stdout, stderr string, err error)
	// IsRunning reports whether the container's main process is running.
	IsRunning(ctx context.Context, id string) (bool, error)
	// ExitCode returns the exit code of the container's main process.
	ExitCode(ctx context.Context, id string) (int, error)
}

// CommandRunner executes host commands; the Docker backend is written
// against it so tests can substitute a mock.
type CommandRunner interface {
	RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error)
}

// RealCommandRunner implements CommandRunner with os/exec.
type RealCommandRunner struct{}

// RunCommand executes the given command with arguments.
func (RealCommandRunner) RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error) {
	if len(args) < 1 {
		return "", "", 0, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // Arguments are engine-built, not user-supplied

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err = cmd.Run()

	exitCode = 0
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			exitCode = exitError.ExitCode()
		} else {
			return "", "", 0, err
		}
	}

	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// FileSystem is the staging capability used to prepare workspace
// directories and mount points before container creation.
type FileSystem interface {
	ReadFile(filename string) ([]byte, error)
	WriteFile(filename string, data []byte, perm os.FileMode) error
	FileExists(path string) (bool, error)
	MkdirAll(path string, perm os.FileMode) error
	MkdirTemp(dir, pattern string) (string, error)
	RemoveAll(path string) error
	Copy(src, dst string) error
	ListDir(path string) ([]string, error)
}

// RealFileSystem implements FileSystem with the os package.
type RealFileSystem struct{}

func (RealFileSystem) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

func (RealFileSystem) FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (RealFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (RealFileSystem) MkdirTemp(dir, pattern string) (string, error) {
	return os.MkdirTemp(dir, pattern)
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

func (RealFileSystem) Copy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func (RealFileSystem) ListDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// Directory and file permissions used when staging workspaces.
const (
	DirPermission  = 0o755
	FilePermission = 0o644
)
