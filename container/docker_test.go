package container

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// mockResponse scripts one RunCommand outcome.
type mockResponse struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
}

// MockCommandRunner replays scripted responses keyed by the subcommand and
// records every invocation.
type MockCommandRunner struct {
	responses map[string][]mockResponse
	calls     [][]string
}

func NewMockCommandRunner() *MockCommandRunner {
	return &MockCommandRunner{responses: make(map[string][]mockResponse)}
}

func (m *MockCommandRunner) On(key string, resp mockResponse) {
	m.responses[key] = append(m.responses[key], resp)
}

// key derives the response key from an argument vector: "image inspect" for
// image subcommands, the verb otherwise.
func (m *MockCommandRunner) key(args []string) string {
	if len(args) >= 3 && args[1] == "image" {
		return args[1] + " " + args[2]
	}
	if len(args) >= 2 {
		return args[1]
	}
	return ""
}

func (m *MockCommandRunner) RunCommand(_ context.Context, args []string) (string, string, int, error) {
	m.calls = append(m.calls, args)
	key := m.key(args)
	queue := m.responses[key]
	if len(queue) == 0 {
		return "", "", 0, nil
	}
	resp := queue[0]
	m.responses[key] = queue[1:]
	return resp.stdout, resp.stderr, resp.exitCode, resp.err
}

func (m *MockCommandRunner) callsFor(key string) [][]string {
	var out [][]string
	for _, call := range m.calls {
		if m.key(call) == key {
			out = append(out, call)
		}
	}
	return out
}

func testBackend(t *testing.T, runner CommandRunner) *DockerBackend {
	t.Helper()
	return NewDockerBackend(zaptest.NewLogger(t), WithCommandRunner(runner))
}

func TestFormatMemory(t *testing.T) {
	assert.Equal(t, "256m", formatMemory(268435456))
	assert.Equal(t, "1m", formatMemory(1))
	assert.Equal(t, "2m", formatMemory(1024*1024+1))
}

func TestFormatCPUs(t *testing.T) {
	assert.Equal(t, "1", formatCPUs(1.0))
	assert.Equal(t, "0.5", formatCPUs(0.5))
}

func TestCreateArgs(t *testing.T) {
	d := testBackend(t, NewMockCommandRunner())

	t.Run("FullConfig", func(t *testing.T) {
		cfg := Config{
			Image:       "python:3.11-slim",
			Command:     []string{"tail", "-f", "/dev/null"},
			WorkingDir:  "/workspace",
			Env:         []string{"LANG=C", "MODE=judge"},
			MemoryBytes: 268435456,
			CPULimit:    1.0,
			Mounts: []Mount{
				{HostPath: "/tmp/ws", ContainerPath: "/workspace", Mode: "rw"},
			},
			Network: &NetworkConfig{
				Name: "judgenet",
				Ports: []PortMapping{
					{HostPort: 8080, ContainerPort: 80, Protocol: "tcp"},
				},
				DNS: []string{"1.1.1.1"},
			},
		}

		args := d.createArgs(cfg)
		joined := strings.Join(args, " ")

		assert.True(t, strings.HasPrefix(joined, "docker create --rm -w /workspace"))
		assert.Contains(t, joined, "-e LANG=C")
		assert.Contains(t, joined, "-e MODE=judge")
		assert.Contains(t, joined, "--memory 256m")
		assert.Contains(t, joined, "--cpus 1")
		assert.Contains(t, joined, "-v /tmp/ws:/workspace:rw")
		assert.Contains(t, joined, "--network judgenet")
		assert.Contains(t, joined, "-p 8080:80/tcp")
		assert.Contains(t, joined, "--dns 1.1.1.1")
		assert.True(t, strings.HasSuffix(joined, "python:3.11-slim tail -f /dev/null"))
	})

	t.Run("UnlimitedResourcesOmitFlags", func(t *testing.T) {
		args := d.createArgs(Config{Image: "alpine", WorkingDir: "/w"})
		joined := strings.Join(args, " ")
		assert.NotContains(t, joined, "--memory")
		assert.NotContains(t, joined, "--cpus")
		assert.NotContains(t, joined, "--network")
	})
}

func TestDockerCreate(t *testing.T) {
	t.Run("ImagePresentSkipsPull", func(t *testing.T) {
		runner := NewMockCommandRunner()
		runner.On("image inspect", mockResponse{exitCode: 0})
		runner.On("create", mockResponse{stdout: "abc123\n"})
		d := testBackend(t, runner)

		id, err := d.Create(context.Background(), Config{Image: "alpine", WorkingDir: "/w"})
		require.NoError(t, err)
		assert.Equal(t, "abc123", id)
		assert.Empty(t, runner.callsFor("pull"))
	})

	t.Run("MissingImagePulledOnce", func(t *testing.T) {
		runner := NewMockCommandRunner()
		runner.On("image inspect", mockResponse{exitCode: 1})
		runner.On("pull", mockResponse{exitCode: 0})
		runner.On("create", mockResponse{stdout: "abc123\n"})
		d := testBackend(t, runner)

		id, err := d.Create(context.Background(), Config{Image: "alpine", WorkingDir: "/w"})
		require.NoError(t, err)
		assert.Equal(t, "abc123", id)
		assert.Len(t, runner.callsFor("pull"), 1)
		assert.Len(t, runner.callsFor("create"), 1)
	})

	t.Run("PullFailureNotRetried", func(t *testing.T) {
		runner := NewMockCommandRunner()
		runner.On("image inspect", mockResponse{exitCode: 1})
		runner.On("pull", mockResponse{exitCode: 1, stderr: "manifest unknown"})
		d := testBackend(t, runner)

		_, err := d.Create(context.Background(), Config{Image: "nope", WorkingDir: "/w"})
		require.Error(t, err)
		var backendErr *BackendError
		require.ErrorAs(t, err, &backendErr)
		assert.Equal(t, OpPull, backendErr.Op)
		assert.Contains(t, backendErr.Diagnostic, "manifest unknown")
		assert.Len(t, runner.callsFor("pull"), 1)
		assert.Empty(t, runner.callsFor("create"))
	})

	t.Run("CreateFailureCarriesStderr", func(t *testing.T) {
		runner := NewMockCommandRunner()
		runner.On("image inspect", mockResponse{exitCode: 0})
		runner.On("create", mockResponse{exitCode: 125, stderr: "invalid mount\n"})
		d := testBackend(t, runner)

		_, err := d.Create(context.Background(), Config{Image: "alpine", WorkingDir: "/w"})
		require.Error(t, err)
		var backendErr *BackendError
		require.ErrorAs(t, err, &backendErr)
		assert.Equal(t, OpCreate, backendErr.Op)
		assert.Equal(t, "invalid mount", backendErr.Diagnostic)
	})
}

func TestDockerLifecycleCommands(t *testing.T) {
	runner := NewMockCommandRunner()
	d := testBackend(t, runner)
	ctx := context.Background()

	require.NoError(t, d.Start(ctx, "abc"))
	require.NoError(t, d.Stop(ctx, "abc"))
	require.NoError(t, d.Remove(ctx, "abc"))

	assert.Equal(t, []string{"docker", "start", "abc"}, runner.calls[0])
	assert.Equal(t, []string{"docker", "stop", "abc"}, runner.calls[1])
	assert.Equal(t, []string{"docker", "rm", "-f", "abc"}, runner.calls[2])
}

func TestDockerExecute(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		runner := NewMockCommandRunner()
		runner.On("exec", mockResponse{stdout: "hello\n"})
		d := testBackend(t, runner)

		stdout, stderr, err := d.Execute(context.Background(), "abc", "echo hello")
		require.NoError(t, err)
		assert.Equal(t, "hello\n", stdout)
		assert.Empty(t, stderr)
		assert.Equal(t, []string{"docker", "exec", "-i", "abc", "sh", "-c", "echo hello"}, runner.calls[0])
	})

	t.Run("NonZeroExitReturnsOutputAndError", func(t *testing.T) {
		runner := NewMockCommandRunner()
		runner.On("exec", mockResponse{stdout: "partial", stderr: "boom\n", exitCode: 2})
		d := testBackend(t, runner)

		stdout, stderr, err := d.Execute(context.Background(), "abc", "false")
		require.Error(t, err)
		assert.Equal(t, "partial", stdout)
		assert.Equal(t, "boom\n", stderr)
		var backendErr *BackendError
		require.ErrorAs(t, err, &backendErr)
		assert.Equal(t, OpExec, backendErr.Op)
		assert.Contains(t, backendErr.Diagnostic, "boom")
	})
}

func TestDockerInspect(t *testing.T) {
	t.Run("IsRunning", func(t *testing.T) {
		runner := NewMockCommandRunner()
		runner.On("inspect", mockResponse{stdout: "true\n"})
		runner.On("inspect", mockResponse{stdout: "false\n"})
		d := testBackend(t, runner)

		running, err := d.IsRunning(context.Background(), "abc")
		require.NoError(t, err)
		assert.True(t, running)

		running, err = d.IsRunning(context.Background(), "abc")
		require.NoError(t, err)
		assert.False(t, running)
	})

	t.Run("ExitCode", func(t *testing.T) {
		runner := NewMockCommandRunner()
		runner.On("inspect", mockResponse{stdout: "137\n"})
		d := testBackend(t, runner)

		code, err := d.ExitCode(context.Background(), "abc")
		require.NoError(t, err)
		assert.Equal(t, 137, code)
	})

	t.Run("UnparseableExitCode", func(t *testing.T) {
		runner := NewMockCommandRunner()
		runner.On("inspect", mockResponse{stdout: "garbage\n"})
		d := testBackend(t, runner)

		_, err := d.ExitCode(context.Background(), "abc")
		require.Error(t, err)
	})
}

func TestPodmanBinary(t *testing.T) {
	runner := NewMockCommandRunner()
	d := NewDockerBackend(zaptest.NewLogger(t), WithCommandRunner(runner), WithBinary("podman"))

	require.NoError(t, d.Start(context.Background(), "abc"))
	assert.Equal(t, []string{"podman", "start", "abc"}, runner.calls[0])
}
