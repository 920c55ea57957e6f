package container

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Lifecycle binds a StateManager to a RuntimeBackend for one container:
// every backend call is reflected as a state transition, backend failures
// become the terminal Failed state plus a returned error, and cleanup is
// idempotent. No operation is retried internally; a failed compile or run is
// the submission's result.
type Lifecycle struct {
	logger  *zap.Logger
	backend RuntimeBackend
	states  *StateManager
	cfg     Config

	cleanupMu sync.Mutex
	cleaned   bool
}

// NewLifecycle creates a lifecycle for a container that does not exist yet.
func NewLifecycle(logger *zap.Logger, backend RuntimeBackend, cfg Config) *Lifecycle {
	return &Lifecycle{
		logger:  logger,
		backend: backend,
		states:  NewStateManager(),
		cfg:     cfg,
	}
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() State {
	return l.states.Current()
}

// Subscribe returns a channel receiving every state transition.
func (l *Lifecycle) Subscribe() <-chan State {
	return l.states.Subscribe()
}

// ContainerID returns the runtime container id, or "" before creation.
func (l *Lifecycle) ContainerID() string {
	return l.states.ContainerID()
}

// fail records a terminal failure. Transition errors are only logged here:
// the primary backend error is what the caller needs, and a concurrent
// teardown may already have made the state terminal.
func (l *Lifecycle) fail(id string, cause error) {
	if err := l.states.MarkFailed(id, cause.Error()); err != nil {
		l.logger.Debug("failure transition rejected", zap.String("id", id), zap.Error(err))
	}
}

// Create creates the container in the backend and transitions to Created.
// On backend failure the state stays Initial (the state machine has no edge
// Initial->Failed) and the error carries the captured diagnostic.
func (l *Lifecycle) Create(ctx context.Context) error {
	id, err := l.backend.Create(ctx, l.cfg)
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	return l.states.MarkCreated(id)
}

// Start starts the container and transitions to Running.
func (l *Lifecycle) Start(ctx context.Context) error {
	id := l.states.ContainerID()
	if id == "" {
		return ErrContainerNotFound
	}
	if err := l.backend.Start(ctx, id); err != nil {
		l.fail(id, err)
		return fmt.Errorf("start container: %w", err)
	}
	return l.states.MarkRunning(id)
}

// Compile runs the compile command inside the running container, passing
// through Compiling and back to Running. The captured compiler output is
// returned either way.
func (l *Lifecycle) Compile(ctx context.Context, command string) (string, string, error) {
	id := l.states.ContainerID()
	if id == "" {
		return "", "", ErrContainerNotFound
	}
	if err := l.states.MarkCompiling(id); err != nil {
		return "", "", err
	}
	stdout, stderr, err := l.backend.Execute(ctx, id, command)
	if err != nil {
		l.fail(id, err)
		return stdout, stderr, fmt.Errorf("compile: %w", err)
	}
	return stdout, stderr, l.states.MarkRunning(id)
}

// Execute runs a one-shot command inside the running container, passing
// through Executing and back to Running.
func (l *Lifecycle) Execute(ctx context.Context, command string) (string, string, error) {
	id := l.states.ContainerID()
	if id == "" {
		return "", "", ErrContainerNotFound
	}
	if err := l.states.MarkExecuting(id, command); err != nil {
		return "", "", err
	}
	stdout, stderr, err := l.backend.Execute(ctx, id, command)
	if err != nil {
		l.fail(id, err)
		return stdout, stderr, fmt.Errorf("execute: %w", err)
	}
	return stdout, stderr, l.states.MarkRunning(id)
}

// Stop gracefully stops the container and transitions to Stopped with the
// observed exit code.
func (l *Lifecycle) Stop(ctx context.Context) error {
	id := l.states.ContainerID()
	if id == "" {
		return ErrContainerNotFound
	}
	if err := l.backend.Stop(ctx, id); err != nil {
		l.fail(id, err)
		return fmt.Errorf("stop container: %w", err)
	}
	exitCode, err := l.backend.ExitCode(ctx, id)
	if err != nil {
		l.logger.Warn("exit code unavailable after stop", zap.String("id", id), zap.Error(err))
		exitCode = 0
	}
	return l.states.MarkStopped(id, exitCode)
}

// Finish records a completion the backend reported on its own (the main
// process exited without a stop signal from us).
func (l *Lifecycle) Finish(ctx context.Context) error {
	id := l.states.ContainerID()
	if id == "" {
		return ErrContainerNotFound
	}
	exitCode, err := l.backend.ExitCode(ctx, id)
	if err != nil {
		l.fail(id, err)
		return fmt.Errorf("read exit code: %w", err)
	}
	return l.states.MarkStopped(id, exitCode)
}

// Remove force-deletes the container from the backend. The state is left
// alone; Remove is expected after a terminal state.
func (l *Lifecycle) Remove(ctx context.Context) error {
	id := l.states.ContainerID()
	if id == "" {
		return ErrContainerNotFound
	}
	if err := l.backend.Remove(ctx, id); err != nil {
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// IsRunning asks the backend whether the container's main process runs.
func (l *Lifecycle) IsRunning(ctx context.Context) (bool, error) {
	id := l.states.ContainerID()
	if id == "" {
		return false, nil
	}
	return l.backend.IsRunning(ctx, id)
}

// Cleanup stops then removes the container. The first call performs the
// backend work; any later call, from any code path, returns success
// immediately. Errors are collected best-effort: a stop failure does not
// prevent the remove.
func (l *Lifecycle) Cleanup(ctx context.Context) error {
	l.cleanupMu.Lock()
	if l.cleaned {
		l.cleanupMu.Unlock()
		return nil
	}
	l.cleaned = true
	l.cleanupMu.Unlock()

	id := l.states.ContainerID()
	if id == "" {
		return nil
	}

	var firstErr error
	if err := l.backend.Stop(ctx, id); err != nil {
		l.logger.Warn("cleanup stop failed", zap.String("id", id), zap.Error(err))
		firstErr = err
	} else if state := l.states.Current(); !state.IsTerminal() {
		exitCode, codeErr := l.backend.ExitCode(ctx, id)
		if codeErr != nil {
			exitCode = 0
		}
		if err := l.states.MarkStopped(id, exitCode); err != nil {
			l.logger.Debug("cleanup stop transition rejected", zap.String("id", id), zap.Error(err))
		}
	}

	if err := l.backend.Remove(ctx, id); err != nil {
		l.logger.Warn("cleanup remove failed", zap.String("id", id), zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}

	if firstErr != nil {
		return fmt.Errorf("cleanup container %s: %w", id, firstErr)
	}
	return nil
}
