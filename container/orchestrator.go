package container

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Poll interval for container liveness and terminal-state checks.
const pollInterval = 100 * time.Millisecond

// DefaultInboxCapacity bounds a container's message inbox.
const DefaultInboxCapacity = 16

// DefaultRunTimeout bounds one container run unless configured otherwise.
const DefaultRunTimeout = 30 * time.Second

// Container is one managed submission: a staged workspace, a lifecycle over
// the runtime backend, and an inbox on the orchestrator's network.
type Container struct {
	id         string
	language   string
	sourceFile string
	args       []string
	runner     Runner
	workspace  string

	logger    *zap.Logger
	lifecycle *Lifecycle
	inbox     chan Message

	recvMu   sync.Mutex
	received []Message

	outMu      sync.Mutex
	compileOut string
	stdout     string
	stderr     string

	guardMu sync.Mutex
	guard   *TimeoutGuard
}

// ID returns the orchestrator-assigned container id.
func (c *Container) ID() string { return c.id }

// Language returns the runner language key.
func (c *Container) Language() string { return c.language }

// Workspace returns the staged host directory bind-mounted into the container.
func (c *Container) Workspace() string { return c.workspace }

// State returns the current lifecycle state.
func (c *Container) State() State { return c.lifecycle.State() }

// Subscribe returns a channel receiving every lifecycle transition.
func (c *Container) Subscribe() <-chan State { return c.lifecycle.Subscribe() }

// Output returns the captured stdout and stderr of the run command.
func (c *Container) Output() (string, string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	return c.stdout, c.stderr
}

// CompileOutput returns the captured compiler diagnostics, if any.
func (c *Container) CompileOutput() string {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	return c.compileOut
}

// Messages returns a copy of the messages received so far, in arrival order.
func (c *Container) Messages() []Message {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	out := make([]Message, len(c.received))
	copy(out, c.received)
	return out
}

func (c *Container) setGuard(g *TimeoutGuard) {
	c.guardMu.Lock()
	defer c.guardMu.Unlock()
	c.guard = g
}

func (c *Container) stopGuard() {
	c.guardMu.Lock()
	defer c.guardMu.Unlock()
	if c.guard != nil {
		c.guard.Stop()
	}
}

func (c *Container) recordMessage(msg Message) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	c.received = append(c.received, msg)
}

type execResult struct {
	stdout string
	stderr string
	err    error
}

// run drives the container through its full lifecycle: create, start,
// compile when the language requires it, then execute the run command while
// servicing the inbox and watching liveness. Cleanup always happens on the
// way out, whatever the exit path.
func (c *Container) run(ctx context.Context) error {
	defer func() {
		if err := c.lifecycle.Cleanup(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn("container cleanup failed", zap.String("id", c.id), zap.Error(err))
		}
	}()

	if err := c.lifecycle.Create(ctx); err != nil {
		return err
	}
	if err := c.lifecycle.Start(ctx); err != nil {
		return err
	}

	if compileCmd := c.runner.CompileCommand(c.sourceFile); compileCmd != "" {
		stdout, stderr, err := c.lifecycle.Compile(ctx, compileCmd)
		c.outMu.Lock()
		c.compileOut = strings.TrimSpace(stdout + stderr)
		c.outMu.Unlock()
		if err != nil {
			return err
		}
	}

	execDone := make(chan execResult, 1)
	go func() {
		stdout, stderr, err := c.lifecycle.Execute(ctx, c.runner.RunCommand(c.sourceFile, c.args))
		execDone <- execResult{stdout: stdout, stderr: stderr, err: err}
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg := <-c.inbox:
			c.recordMessage(msg)

		case res := <-execDone:
			c.outMu.Lock()
			c.stdout = res.stdout
			c.stderr = res.stderr
			c.outMu.Unlock()
			if res.err != nil {
				return res.err
			}
			return c.lifecycle.Stop(ctx)

		case <-ticker.C:
			running, err := c.lifecycle.IsRunning(ctx)
			if err != nil {
				c.logger.Debug("liveness probe failed", zap.String("id", c.id), zap.Error(err))
				continue
			}
			if !running {
				// The keepalive process died underneath us (OOM kill or an
				// external stop). Record the exit and finish.
				if err := c.lifecycle.Finish(ctx); err != nil {
					return err
				}
				return fmt.Errorf("container %s exited prematurely", c.id)
			}
		}
	}
}

// OrchestratorStatus is a point-in-time summary of the whole fleet.
type OrchestratorStatus struct {
	TotalContainers    int            `json:"total_containers"`
	RunningContainers  int            `json:"running_containers"`
	IsolatedContainers []string       `json:"isolated_containers"`
	TotalLinks         int            `json:"total_links"`
	TotalMessages      int            `json:"total_messages"`
	MessageKinds       map[string]int `json:"message_kinds"`
}

// Orchestrator manages a fleet of submission containers over one runtime
// backend: staging workspaces, running every container to completion under a
// shared timeout, routing messages between them, and tracking a directed
// link topology.
type Orchestrator struct {
	logger  *zap.Logger
	backend RuntimeBackend
	fs      FileSystem
	runners map[string]Runner
	network *Network

	runTimeout  time.Duration
	historySize int
	inboxCap    int

	mu         sync.RWMutex
	containers map[string]*Container

	linkMu sync.RWMutex
	links  map[string]map[string]struct{}
}

// OrchestratorOption defines a functional option for Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithRunners sets the per-language runner catalog.
func WithRunners(runners map[string]Runner) OrchestratorOption {
	return func(o *Orchestrator) {
		o.runners = runners
	}
}

// WithFileSystem sets the FileSystem used for workspace staging.
func WithFileSystem(fs FileSystem) OrchestratorOption {
	return func(o *Orchestrator) {
		o.fs = fs
	}
}

// WithRunTimeout sets the per-container run deadline.
func WithRunTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.runTimeout = d
	}
}

// WithHistorySize bounds the network's message history.
func WithHistorySize(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		o.historySize = n
	}
}

// WithInboxCapacity sets the buffer size of each container's inbox.
func WithInboxCapacity(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		o.inboxCap = n
	}
}

// NewOrchestrator creates an orchestrator over the given backend with
// default implementations and optional overrides.
func NewOrchestrator(logger *zap.Logger, backend RuntimeBackend, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		logger:      logger,
		backend:     backend,
		fs:          &RealFileSystem{},
		runners:     make(map[string]Runner),
		runTimeout:  DefaultRunTimeout,
		historySize: DefaultHistorySize,
		inboxCap:    DefaultInboxCapacity,
		containers:  make(map[string]*Container),
		links:       make(map[string]map[string]struct{}),
	}

	for _, opt := range opts {
		opt(o)
	}

	o.network = NewNetwork(o.historySize)
	return o
}

// AddContainer stages the source file into a fresh workspace and registers a
// container for it. The container is not created in the backend until RunAll.
func (o *Orchestrator) AddContainer(language, sourcePath string, args []string) (*Container, error) {
	runner, ok := o.runners[language]
	if !ok {
		return nil, fmt.Errorf("no runner configured for language %q", language)
	}

	workspace, err := o.fs.MkdirTemp("", "judgebox-"+language+"-")
	if err != nil {
		return nil, fmt.Errorf("stage workspace: %w", err)
	}
	staged := filepath.Join(workspace, filepath.Base(sourcePath))
	if err := o.fs.Copy(sourcePath, staged); err != nil {
		return nil, fmt.Errorf("stage source: %w", err)
	}

	id := language + "-" + uuid.NewString()[:8]
	c := &Container{
		id:         id,
		language:   language,
		sourceFile: staged,
		args:       args,
		runner:     runner,
		workspace:  workspace,
		logger:     o.logger,
		lifecycle:  NewLifecycle(o.logger, o.backend, runner.ContainerConfig(workspace)),
		inbox:      make(chan Message, o.inboxCap),
	}

	o.mu.Lock()
	o.containers[id] = c
	o.mu.Unlock()
	o.network.Register(id, c.inbox)

	o.logger.Info("container registered",
		zap.String("id", id),
		zap.String("language", language),
		zap.String("source", filepath.Base(sourcePath)))
	return c, nil
}

// GetContainer looks a container up by id.
func (o *Orchestrator) GetContainer(id string) (*Container, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	c, ok := o.containers[id]
	return c, ok
}

// ContainerIDs returns the ids of all registered containers.
func (o *Orchestrator) ContainerIDs() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ids := make([]string, 0, len(o.containers))
	for id := range o.containers {
		ids = append(ids, id)
	}
	return ids
}

// Link records a directed edge in the topology. Self-loops and repeated
// edges are accepted; the edge set deduplicates.
func (o *Orchestrator) Link(from, to string) error {
	o.mu.RLock()
	_, fromOK := o.containers[from]
	_, toOK := o.containers[to]
	o.mu.RUnlock()
	if !fromOK || !toOK {
		return ErrContainerNotFound
	}

	o.linkMu.Lock()
	defer o.linkMu.Unlock()
	if o.links[from] == nil {
		o.links[from] = make(map[string]struct{})
	}
	o.links[from][to] = struct{}{}
	return nil
}

// NetworkTopology returns the directed edge set as adjacency lists.
func (o *Orchestrator) NetworkTopology() map[string][]string {
	o.linkMu.RLock()
	defer o.linkMu.RUnlock()
	topo := make(map[string][]string, len(o.links))
	for from, tos := range o.links {
		out := make([]string, 0, len(tos))
		for to := range tos {
			out = append(out, to)
		}
		topo[from] = out
	}
	return topo
}

// GetIsolatedContainers returns the ids of containers with no links in
// either direction.
func (o *Orchestrator) GetIsolatedContainers() []string {
	o.mu.RLock()
	ids := make([]string, 0, len(o.containers))
	for id := range o.containers {
		ids = append(ids, id)
	}
	o.mu.RUnlock()

	o.linkMu.RLock()
	defer o.linkMu.RUnlock()

	linked := make(map[string]struct{})
	for from, tos := range o.links {
		linked[from] = struct{}{}
		for to := range tos {
			linked[to] = struct{}{}
		}
	}

	var isolated []string
	for _, id := range ids {
		if _, ok := linked[id]; !ok {
			isolated = append(isolated, id)
		}
	}
	return isolated
}

// RunAll runs every registered container to completion, each bounded by the
// run timeout. All containers are awaited even after the first failure; the
// first error is returned.
func (o *Orchestrator) RunAll(ctx context.Context) error {
	o.mu.RLock()
	containers := make([]*Container, 0, len(o.containers))
	for _, c := range o.containers {
		containers = append(containers, c)
	}
	o.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range containers {
		guard := NewTimeoutGuard(o.runTimeout)
		c.setGuard(guard)
		g.Go(func() error {
			if err := guard.Run(gctx, c.run); err != nil {
				o.logger.Warn("container run failed",
					zap.String("id", c.ID()),
					zap.Error(err))
				return fmt.Errorf("run %s: %w", c.ID(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// WaitAll blocks until every container has reached a terminal state or the
// context expires.
func (o *Orchestrator) WaitAll(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		o.mu.RLock()
		done := true
		for _, c := range o.containers {
			if !c.State().IsTerminal() {
				done = false
				break
			}
		}
		o.mu.RUnlock()
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// IsRunning asks the backend whether the container's main process runs.
func (o *Orchestrator) IsRunning(ctx context.Context, id string) (bool, error) {
	c, ok := o.GetContainer(id)
	if !ok {
		return false, ErrContainerNotFound
	}
	return c.lifecycle.IsRunning(ctx)
}

// SendMessage routes a directed message between two containers.
func (o *Orchestrator) SendMessage(from, to string, kind Kind, content string) {
	o.network.Send(NewMessage(from, to, kind, content))
}

// Broadcast routes a message from one container to every other container.
func (o *Orchestrator) Broadcast(from string, kind Kind, content string) {
	o.network.Broadcast(NewBroadcast(from, kind, content))
}

// MessageHistory returns the recorded network traffic in send order.
func (o *Orchestrator) MessageHistory() []Message {
	return o.network.History()
}

// GetStatusSummary builds a point-in-time fleet summary.
func (o *Orchestrator) GetStatusSummary() OrchestratorStatus {
	o.mu.RLock()
	total := len(o.containers)
	running := 0
	for _, c := range o.containers {
		switch c.State().Phase {
		case PhaseRunning, PhaseCompiling, PhaseExecuting:
			running++
		}
	}
	o.mu.RUnlock()

	o.linkMu.RLock()
	links := 0
	for _, tos := range o.links {
		links += len(tos)
	}
	o.linkMu.RUnlock()

	kinds := make(map[string]int)
	for kind, count := range o.network.CountByKind() {
		kinds[kind.String()] = count
	}

	return OrchestratorStatus{
		TotalContainers:    total,
		RunningContainers:  running,
		IsolatedContainers: o.GetIsolatedContainers(),
		TotalLinks:         links,
		TotalMessages:      o.network.HistoryLen(),
		MessageKinds:       kinds,
	}
}

// Shutdown cancels any in-flight runs, tears every container down, and
// removes the staged workspaces. Safe to call after RunAll has already
// cleaned up: container cleanup is idempotent.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.RLock()
	containers := make([]*Container, 0, len(o.containers))
	for _, c := range o.containers {
		containers = append(containers, c)
	}
	o.mu.RUnlock()

	var firstErr error
	for _, c := range containers {
		c.stopGuard()
		if err := c.lifecycle.Cleanup(ctx); err != nil {
			o.logger.Warn("shutdown cleanup failed", zap.String("id", c.ID()), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
		o.network.Unregister(c.ID())
		if err := o.fs.RemoveAll(c.Workspace()); err != nil {
			o.logger.Warn("workspace removal failed",
				zap.String("id", c.ID()),
				zap.String("workspace", c.Workspace()),
				zap.Error(err))
		}
	}
	return firstErr
}
