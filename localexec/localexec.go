// Package localexec runs host commands with captured output and a hard
// timeout. It backs maintenance work that happens outside any container,
// such as preparing workspaces or probing the runtime CLI.
package localexec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// Result carries the captured outcome of one command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Shell executes host commands; the Executor is written against it so tests
// can substitute a mock.
type Shell interface {
	Run(ctx context.Context, dir string, env []string, stdin string, args []string) (Result, error)
}

// RealShell implements Shell with os/exec.
type RealShell struct{}

// Run executes the given command with arguments.
func (RealShell) Run(ctx context.Context, dir string, env []string, stdin string, args []string) (Result, error) {
	if len(args) < 1 {
		return Result{}, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // Arguments are engine-built, not user-supplied
	cmd.Dir = dir

	// Start with existing environment
	cmd.Env = os.Environ()
	cmd.Env = append(cmd.Env, env...)

	if stdin != "" {
		cmd.Stdin = bytes.NewBufferString(stdin)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()

	exitCode := 0
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			exitCode = exitError.ExitCode()
		} else {
			return Result{}, fmt.Errorf("failed to execute command: %w", err)
		}
	}

	return Result{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		ExitCode: exitCode,
	}, nil
}

// Executor runs commands through a Shell with a per-call timeout.
type Executor struct {
	logger  *zap.Logger
	shell   Shell
	timeout time.Duration
}

// ExecutorOption defines a functional option for Executor.
type ExecutorOption func(*Executor)

// WithShell sets the Shell for Executor.
func WithShell(shell Shell) ExecutorOption {
	return func(e *Executor) {
		e.shell = shell
	}
}

// NewExecutor creates an Executor with default implementations and optional
// overrides.
func NewExecutor(logger *zap.Logger, timeout time.Duration, opts ...ExecutorOption) *Executor {
	executor := &Executor{
		logger:  logger,
		shell:   &RealShell{},
		timeout: timeout,
	}

	for _, opt := range opts {
		opt(executor)
	}

	return executor
}

// Execute runs a command in the current directory with no extra environment.
func (e *Executor) Execute(ctx context.Context, args ...string) (Result, error) {
	return e.run(ctx, "", nil, "", args)
}

// ExecuteWithCwd runs a command in the given working directory.
func (e *Executor) ExecuteWithCwd(ctx context.Context, dir string, args ...string) (Result, error) {
	return e.run(ctx, dir, nil, "", args)
}

// ExecuteWithEnv runs a command with extra K=V environment entries.
func (e *Executor) ExecuteWithEnv(ctx context.Context, env []string, args ...string) (Result, error) {
	return e.run(ctx, "", env, "", args)
}

// ExecuteWithInput runs a command feeding the given text on stdin.
func (e *Executor) ExecuteWithInput(ctx context.Context, stdin string, args ...string) (Result, error) {
	return e.run(ctx, "", nil, stdin, args)
}

func (e *Executor) run(ctx context.Context, dir string, env []string, stdin string, args []string) (Result, error) {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	res, err := e.shell.Run(ctxWithTimeout, dir, env, stdin, args)

	// A timeout is reported in the result, not as an error
	if ctxWithTimeout.Err() == context.DeadlineExceeded {
		return Result{
			Stdout:   res.Stdout,
			Stderr:   res.Stderr + "\nExecution timed out",
			ExitCode: 1,
		}, nil
	}
	if err != nil {
		return Result{}, err
	}

	if res.ExitCode != 0 {
		e.logger.Debug("command exited non-zero",
			zap.Strings("args", args),
			zap.Int("exit_code", res.ExitCode))
	}
	return res, nil
}
