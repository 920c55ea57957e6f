package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/judgebox/judgebox/config"
	"github.com/judgebox/judgebox/container"
	"github.com/judgebox/judgebox/logger"
	"github.com/judgebox/judgebox/mcpserver"
)

func integrationConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Transport: "stdio",
			HTTPPort:  8080,
		},
		Runtime: config.RuntimeConfig{
			Backend: "docker",
		},
		Orchestrator: config.OrchestratorConfig{
			RunTimeoutSec: 10,
			HistorySize:   100,
			InboxCapacity: 16,
		},
		Logging: config.LoggingConfig{
			Mode:  "development",
			Level: "debug",
		},
		Languages: map[string]container.Runner{
			"python": {
				Image:   "python:3.11-slim",
				RunCmd:  "python3 {source}",
				Workdir: "/workspace",
			},
			"cpp": {
				Image:      "gcc:13",
				CompileCmd: "g++ -std=c++17 -O2 -o app {source}",
				RunCmd:     "./app",
				Workdir:    "/workspace",
			},
		},
	}
}

// noopBackend satisfies container.RuntimeBackend without a daemon.
type noopBackend struct{}

func (noopBackend) Create(_ context.Context, _ container.Config) (string, error) {
	return "noop-1", nil
}
func (noopBackend) Start(_ context.Context, _ string) error  { return nil }
func (noopBackend) Stop(_ context.Context, _ string) error   { return nil }
func (noopBackend) Remove(_ context.Context, _ string) error { return nil }
func (noopBackend) Execute(_ context.Context, _, _ string) (string, string, error) {
	return "", "", nil
}
func (noopBackend) IsRunning(_ context.Context, _ string) (bool, error) { return true, nil }
func (noopBackend) ExitCode(_ context.Context, _ string) (int, error)   { return 0, nil }

// TestIntegrationConfigLoggerBackend tests the integration between config,
// logger, and the backend factory
func TestIntegrationConfigLoggerBackend(t *testing.T) {
	t.Run("ConfigAndLoggerIntegration", func(t *testing.T) {
		cfg := integrationConfig()

		testLogger, err := logger.New(cfg.Logging.Mode, cfg.Logging.Level)
		require.NoError(t, err)
		require.NotNil(t, testLogger)

		testLogger.Info("Integration test started")
		_ = testLogger.Sync()
	})

	t.Run("BackendFactoryFromConfig", func(t *testing.T) {
		cfg := integrationConfig()
		testLogger := zaptest.NewLogger(t)

		backend, err := container.NewBackend(testLogger, cfg.Backend())
		require.NoError(t, err)
		require.NotNil(t, backend)
	})

	t.Run("BackendFactoryRejectsUnknownKind", func(t *testing.T) {
		testLogger := zaptest.NewLogger(t)

		_, err := container.NewBackend(testLogger, container.BackendConfig{Kind: "firecracker"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported backend")
	})

	t.Run("FullMCPIntegration", func(t *testing.T) {
		cfg := integrationConfig()

		mcpLogger, err := logger.New(cfg.Logging.Mode, cfg.Logging.Level)
		require.NoError(t, err)

		server, err := mcpserver.New(cfg, mcpLogger, noopBackend{})
		require.NoError(t, err)
		require.NotNil(t, server)

		mcpServer := server.GetMCPServer()
		require.NotNil(t, mcpServer)
	})
}

// TestIntegrationOrchestratorOverBackend runs a full orchestrator pass over
// an in-process backend
func TestIntegrationOrchestratorOverBackend(t *testing.T) {
	testLogger := zaptest.NewLogger(t)
	cfg := integrationConfig()

	orch := container.NewOrchestrator(testLogger, noopBackend{},
		container.WithRunners(cfg.Languages),
		container.WithRunTimeout(cfg.RunTimeout()),
		container.WithHistorySize(cfg.Orchestrator.HistorySize),
	)
	t.Cleanup(func() {
		_ = orch.Shutdown(context.Background())
	})

	source := t.TempDir() + "/main.py"
	require.NoError(t, writeFile(source, "print('hi')"))

	c, err := orch.AddContainer("python", source, nil)
	require.NoError(t, err)

	require.NoError(t, orch.RunAll(context.Background()))
	assert.True(t, c.State().IsTerminal())

	status := orch.GetStatusSummary()
	assert.Equal(t, 1, status.TotalContainers)
}

func writeFile(path, content string) error {
	fs := container.RealFileSystem{}
	return fs.WriteFile(path, []byte(content), container.FilePermission)
}
