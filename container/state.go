package container

import (
	"sync"
	"time"
)

// Phase enumerates the positions in a container's lifecycle.
type Phase int

// Lifecycle phases. Stopped and Failed are terminal.
const (
	PhaseInitial Phase = iota
	PhaseCreated
	PhaseRunning
	PhaseCompiling
	PhaseExecuting
	PhaseStopped
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseInitial:
		return "initial"
	case PhaseCreated:
		return "created"
	case PhaseRunning:
		return "running"
	case PhaseCompiling:
		return "compiling"
	case PhaseExecuting:
		return "executing"
	case PhaseStopped:
		return "stopped"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is a snapshot of a container's lifecycle position. Only the fields
// relevant to the phase are populated; the zero value is the Initial state.
type State struct {
	Phase         Phase
	ContainerID   string
	CreatedAt     time.Time
	StartedAt     time.Time
	Command       string
	ExitCode      int
	ExecutionTime time.Duration
	Error         string
	OccurredAt    time.Time
}

// InitialState returns the state every container starts in.
func InitialState() State {
	return State{Phase: PhaseInitial}
}

// CreatedState marks a container created in the backend with the given id.
func CreatedState(containerID string) State {
	return State{Phase: PhaseCreated, ContainerID: containerID, CreatedAt: time.Now()}
}

// RunningState marks a container whose main process is running.
func RunningState(containerID string) State {
	return State{Phase: PhaseRunning, ContainerID: containerID, StartedAt: time.Now()}
}

// CompilingState marks a container currently compiling a submission.
func CompilingState(containerID string) State {
	return State{Phase: PhaseCompiling, ContainerID: containerID, StartedAt: time.Now()}
}

// ExecutingState marks a container executing a one-shot command.
func ExecutingState(containerID, command string) State {
	return State{Phase: PhaseExecuting, ContainerID: containerID, StartedAt: time.Now(), Command: command}
}

// StoppedState marks a container that exited; terminal.
func StoppedState(containerID string, exitCode int, executionTime time.Duration) State {
	return State{Phase: PhaseStopped, ContainerID: containerID, ExitCode: exitCode, ExecutionTime: executionTime}
}

// FailedState marks a container whose backend operation failed; terminal.
func FailedState(containerID, errText string) State {
	return State{Phase: PhaseFailed, ContainerID: containerID, Error: errText, OccurredAt: time.Now()}
}

// IsTerminal reports whether no further transitions are accepted.
func (s State) IsTerminal() bool {
	return s.Phase == PhaseStopped || s.Phase == PhaseFailed
}

// DurationSinceStart returns how long the container has been running, the
// recorded execution time for a stopped container, and false for phases that
// carry no timing information.
func (s State) DurationSinceStart() (time.Duration, bool) {
	switch s.Phase {
	case PhaseRunning, PhaseCompiling, PhaseExecuting:
		return time.Since(s.StartedAt), true
	case PhaseStopped:
		return s.ExecutionTime, true
	default:
		return 0, false
	}
}

// allowedEdges is the transition table. Any pair absent here is invalid.
var allowedEdges = map[Phase][]Phase{
	PhaseInitial:   {PhaseCreated},
	PhaseCreated:   {PhaseRunning, PhaseFailed},
	PhaseRunning:   {PhaseCompiling, PhaseExecuting, PhaseStopped, PhaseFailed},
	PhaseCompiling: {PhaseRunning, PhaseFailed},
	PhaseExecuting: {PhaseRunning, PhaseStopped, PhaseFailed},
}

func edgeAllowed(from, to Phase) bool {
	for _, p := range allowedEdges[from] {
		if p == to {
			return true
		}
	}
	return false
}

// ValidateTransition checks whether current may transition to next. Every
// edge except Initial->Created also requires that both states carry the same
// container id; a mismatch yields IDMismatchError rather than the generic
// TransitionError.
func ValidateTransition(current, next State) error {
	if !edgeAllowed(current.Phase, next.Phase) {
		return &TransitionError{From: current, To: next}
	}
	if current.Phase != PhaseInitial && current.ContainerID != next.ContainerID {
		return &IDMismatchError{Expected: current.ContainerID, Actual: next.ContainerID}
	}
	return nil
}

// subscriberBuffer is the capacity of each subscriber channel.
const subscriberBuffer = 32

// StateManager guards a single container's state and fans accepted
// transitions out to subscribers.
type StateManager struct {
	mu          sync.Mutex
	state       State
	subscribers []chan State
}

// NewStateManager returns a manager in the Initial state.
func NewStateManager() *StateManager {
	return &StateManager{state: InitialState()}
}

// Current returns the current state snapshot.
func (m *StateManager) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ContainerID returns the runtime container id, or "" before creation.
func (m *StateManager) ContainerID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.ContainerID
}

// TransitionTo validates and applies a transition, then notifies
// subscribers. The state is unchanged when an error is returned.
func (m *StateManager) TransitionTo(next State) error {
	m.mu.Lock()
	if err := ValidateTransition(m.state, next); err != nil {
		m.mu.Unlock()
		return err
	}
	m.state = next

	// Notify while filtering out subscribers that stopped draining; a full
	// subscriber channel drops the subscriber, not the transition.
	kept := m.subscribers[:0]
	for _, sub := range m.subscribers {
		select {
		case sub <- next:
			kept = append(kept, sub)
		default:
		}
	}
	m.subscribers = kept
	m.mu.Unlock()
	return nil
}

// Subscribe returns a channel receiving every accepted transition from this
// point on. A subscriber that stops draining is silently dropped.
func (m *StateManager) Subscribe() <-chan State {
	ch := make(chan State, subscriberBuffer)
	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()
	return ch
}

// MarkCreated transitions Initial -> Created with the backend-assigned id.
func (m *StateManager) MarkCreated(containerID string) error {
	return m.TransitionTo(CreatedState(containerID))
}

// MarkRunning transitions to Running.
func (m *StateManager) MarkRunning(containerID string) error {
	return m.TransitionTo(RunningState(containerID))
}

// MarkCompiling transitions Running -> Compiling.
func (m *StateManager) MarkCompiling(containerID string) error {
	return m.TransitionTo(CompilingState(containerID))
}

// MarkExecuting transitions Running -> Executing with the command being run.
func (m *StateManager) MarkExecuting(containerID, command string) error {
	return m.TransitionTo(ExecutingState(containerID, command))
}

// MarkStopped transitions to the terminal Stopped state, carrying the exit
// code and the execution time measured from the current state.
func (m *StateManager) MarkStopped(containerID string, exitCode int) error {
	elapsed, _ := m.Current().DurationSinceStart()
	return m.TransitionTo(StoppedState(containerID, exitCode, elapsed))
}

// MarkFailed transitions to the terminal Failed state with the captured
// diagnostic text.
func (m *StateManager) MarkFailed(containerID, errText string) error {
	return m.TransitionTo(FailedState(containerID, errText))
}
