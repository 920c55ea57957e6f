// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package implements an MCP-compliant server that exposes tools
// for running code submissions. It uses the mark3labs/mcp-go library to handle
// the protocol details and provides the run_submission tool as the primary
// interface for containerized execution.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/judgebox/judgebox/config"
	"github.com/judgebox/judgebox/container"
)

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	backend   container.RuntimeBackend
	fs        container.FileSystem
	mcpServer *server.MCPServer

	mu      sync.Mutex
	current *container.Orchestrator
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, backend container.RuntimeBackend) (*MCPServer, error) {
	s := &MCPServer{
		config:  cfg,
		logger:  logger,
		backend: backend,
		fs:      &container.RealFileSystem{},
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", s.config.Server.Transport),
		zap.Int("server.http_port", s.config.Server.HTTPPort),
		zap.String("runtime.backend", s.config.Runtime.Backend),
		zap.Int("orchestrator.run_timeout_sec", s.config.Orchestrator.RunTimeoutSec),
		zap.Int("orchestrator.history_size", s.config.Orchestrator.HistorySize),
		zap.Int("languages", len(s.config.Languages)),
	)

	// Create the MCP server
	s.mcpServer = server.NewMCPServer("judgebox", "A containerized submission execution server")

	// Register the tools
	s.registerRunSubmissionTool()
	s.registerOrchestratorStatusTool()

	return s, nil
}

// languageKeys lists the configured languages for the tool schema.
func (s *MCPServer) languageKeys() []string {
	keys := make([]string, 0, len(s.config.Languages))
	for language := range s.config.Languages {
		keys = append(keys, language)
	}
	return keys
}

// sourceFileName picks the staged file name for a language.
func sourceFileName(language string) string {
	extensions := map[string]string{
		"python": "py",
		"go":     "go",
		"cpp":    "cpp",
		"c":      "c",
		"nodejs": "js",
		"rust":   "rs",
	}
	ext, ok := extensions[language]
	if !ok {
		ext = "txt"
	}
	return "main." + ext
}

// registerRunSubmissionTool registers the run_submission tool
func (s *MCPServer) registerRunSubmissionTool() {
	tool := mcp.Tool{
		Name:        "run_submission",
		Description: "Run a code submission in an isolated container",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "User-provided source code",
				},
				"language": map[string]any{
					"type":        "string",
					"description": "Runtime language",
					"enum":        s.languageKeys(),
				},
				"args": map[string]any{
					"type":        "array",
					"description": "Extra arguments appended to the run command (optional)",
					"items":       map[string]any{"type": "string"},
				},
				"stdin": map[string]any{
					"type":        "string",
					"description": "Text fed to the program on standard input (optional)",
				},
			},
			Required: []string{"code", "language"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleRunSubmission)
}

// registerOrchestratorStatusTool registers the orchestrator_status tool
func (s *MCPServer) registerOrchestratorStatusTool() {
	tool := mcp.Tool{
		Name:        "orchestrator_status",
		Description: "Summarize the most recent submission run: container states, links, and message traffic",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}

	s.mcpServer.AddTool(tool, s.handleOrchestratorStatus)
}

// submissionResult is the run_submission response payload.
type submissionResult struct {
	ContainerID   string `json:"container_id"`
	State         string `json:"state"`
	ExitCode      int    `json:"exit_code"`
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	CompileOutput string `json:"compile_output,omitempty"`
	Error         string `json:"error,omitempty"`
}

// handleRunSubmission handles the run_submission tool
func (s *MCPServer) handleRunSubmission(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logger.Info("submission requested")

	// Extract parameters
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	language, err := request.RequireString("language")
	if err != nil {
		return nil, fmt.Errorf("language parameter is required: %w", err)
	}

	if _, ok := s.config.Languages[language]; !ok {
		return nil, fmt.Errorf("invalid language: %s", language)
	}

	args := request.GetStringSlice("args", nil)

	// Stage the code into a temporary source file
	stageDir, err := s.fs.MkdirTemp("", "judgebox-submission-")
	if err != nil {
		return nil, fmt.Errorf("failed to stage submission: %w", err)
	}
	defer func() {
		if err := s.fs.RemoveAll(stageDir); err != nil {
			s.logger.Warn("failed to remove staging dir", zap.String("dir", stageDir), zap.Error(err))
		}
	}()

	sourcePath := filepath.Join(stageDir, sourceFileName(language))
	if err := s.fs.WriteFile(sourcePath, []byte(code), container.FilePermission); err != nil {
		return nil, fmt.Errorf("failed to write source file: %w", err)
	}

	// Each submission runs under a fresh orchestrator
	orch := container.NewOrchestrator(s.logger, s.backend,
		container.WithRunners(s.config.Languages),
		container.WithRunTimeout(s.config.RunTimeout()),
		container.WithHistorySize(s.config.Orchestrator.HistorySize),
		container.WithInboxCapacity(s.config.Orchestrator.InboxCapacity),
	)

	s.mu.Lock()
	s.current = orch
	s.mu.Unlock()

	// Stdin is staged as a file in the workspace and redirected into the run
	// command, since commands are exec'd through `sh -c`.
	stdin := request.GetString("stdin", "")
	if stdin != "" {
		args = append(args, "< input.txt")
	}

	c, err := orch.AddContainer(language, sourcePath, args)
	if err != nil {
		return nil, fmt.Errorf("failed to add container: %w", err)
	}

	if stdin != "" {
		if err := s.fs.WriteFile(filepath.Join(c.Workspace(), "input.txt"), []byte(stdin), container.FilePermission); err != nil {
			return nil, fmt.Errorf("failed to write stdin file: %w", err)
		}
	}

	s.logger.Info("running submission",
		zap.String("language", language),
		zap.String("container_id", c.ID()))

	runErr := orch.RunAll(ctx)
	if err := orch.Shutdown(ctx); err != nil {
		s.logger.Warn("orchestrator shutdown failed", zap.Error(err))
	}

	state := c.State()
	stdout, stderr := c.Output()
	result := submissionResult{
		ContainerID:   c.ID(),
		State:         state.Phase.String(),
		ExitCode:      state.ExitCode,
		Stdout:        stdout,
		Stderr:        stderr,
		CompileOutput: c.CompileOutput(),
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}

	s.logger.Info("submission completed",
		zap.String("container_id", c.ID()),
		zap.String("state", result.State),
		zap.Int("exit_code", result.ExitCode))

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(payload),
			},
		},
		IsError: runErr != nil,
	}, nil
}

// handleOrchestratorStatus handles the orchestrator_status tool
func (s *MCPServer) handleOrchestratorStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	orch := s.current
	s.mu.Unlock()

	if orch == nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.TextContent{
					Type: "text",
					Text: `{"total_containers":0,"running_containers":0,"isolated_containers":null,"total_links":0,"total_messages":0,"message_kinds":{}}`,
				},
			},
		}, nil
	}

	payload, err := json.Marshal(orch.GetStatusSummary())
	if err != nil {
		return nil, fmt.Errorf("failed to encode status: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(payload),
			},
		},
	}, nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
