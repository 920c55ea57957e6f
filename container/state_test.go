package container

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allPhases = []Phase{
	PhaseInitial, PhaseCreated, PhaseRunning,
	PhaseCompiling, PhaseExecuting, PhaseStopped, PhaseFailed,
}

func stateWithPhase(phase Phase, id string) State {
	return State{Phase: phase, ContainerID: id}
}

func TestValidateTransition(t *testing.T) {
	t.Run("AllowedEdges", func(t *testing.T) {
		allowed := []struct {
			from, to Phase
		}{
			{PhaseInitial, PhaseCreated},
			{PhaseCreated, PhaseRunning},
			{PhaseCreated, PhaseFailed},
			{PhaseRunning, PhaseCompiling},
			{PhaseRunning, PhaseExecuting},
			{PhaseRunning, PhaseStopped},
			{PhaseRunning, PhaseFailed},
			{PhaseCompiling, PhaseRunning},
			{PhaseCompiling, PhaseFailed},
			{PhaseExecuting, PhaseRunning},
			{PhaseExecuting, PhaseStopped},
			{PhaseExecuting, PhaseFailed},
		}
		for _, edge := range allowed {
			err := ValidateTransition(stateWithPhase(edge.from, "c1"), stateWithPhase(edge.to, "c1"))
			assert.NoError(t, err, "%s -> %s", edge.from, edge.to)
		}
	})

	t.Run("EveryOtherPairRejected", func(t *testing.T) {
		allowed := map[[2]Phase]bool{
			{PhaseInitial, PhaseCreated}:    true,
			{PhaseCreated, PhaseRunning}:    true,
			{PhaseCreated, PhaseFailed}:     true,
			{PhaseRunning, PhaseCompiling}:  true,
			{PhaseRunning, PhaseExecuting}:  true,
			{PhaseRunning, PhaseStopped}:    true,
			{PhaseRunning, PhaseFailed}:     true,
			{PhaseCompiling, PhaseRunning}:  true,
			{PhaseCompiling, PhaseFailed}:   true,
			{PhaseExecuting, PhaseRunning}:  true,
			{PhaseExecuting, PhaseStopped}:  true,
			{PhaseExecuting, PhaseFailed}:   true,
		}
		for _, from := range allPhases {
			for _, to := range allPhases {
				if allowed[[2]Phase{from, to}] {
					continue
				}
				err := ValidateTransition(stateWithPhase(from, "c1"), stateWithPhase(to, "c1"))
				require.Error(t, err, "%s -> %s must be rejected", from, to)
				var transErr *TransitionError
				assert.ErrorAs(t, err, &transErr)
			}
		}
	})

	t.Run("TerminalStatesRejectEverything", func(t *testing.T) {
		for _, from := range []Phase{PhaseStopped, PhaseFailed} {
			for _, to := range allPhases {
				err := ValidateTransition(stateWithPhase(from, "c1"), stateWithPhase(to, "c1"))
				assert.Error(t, err, "%s -> %s", from, to)
			}
		}
	})

	t.Run("IDMismatchOnAllowedEdge", func(t *testing.T) {
		err := ValidateTransition(stateWithPhase(PhaseCreated, "c1"), stateWithPhase(PhaseRunning, "c2"))
		require.Error(t, err)
		var idErr *IDMismatchError
		require.ErrorAs(t, err, &idErr)
		assert.Equal(t, "c1", idErr.Expected)
		assert.Equal(t, "c2", idErr.Actual)
	})

	t.Run("EdgeCheckedBeforeID", func(t *testing.T) {
		// An invalid edge with mismatched ids reports the edge, not the id.
		err := ValidateTransition(stateWithPhase(PhaseStopped, "c1"), stateWithPhase(PhaseRunning, "c2"))
		require.Error(t, err)
		var transErr *TransitionError
		assert.ErrorAs(t, err, &transErr)
	})

	t.Run("InitialIgnoresID", func(t *testing.T) {
		err := ValidateTransition(InitialState(), CreatedState("c1"))
		assert.NoError(t, err)
	})
}

func TestStateIsTerminal(t *testing.T) {
	assert.False(t, InitialState().IsTerminal())
	assert.False(t, RunningState("c1").IsTerminal())
	assert.True(t, StoppedState("c1", 0, time.Second).IsTerminal())
	assert.True(t, FailedState("c1", "boom").IsTerminal())
}

func TestDurationSinceStart(t *testing.T) {
	t.Run("RunningMeasuresElapsed", func(t *testing.T) {
		s := RunningState("c1")
		d, ok := s.DurationSinceStart()
		require.True(t, ok)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	})

	t.Run("StoppedReturnsRecordedTime", func(t *testing.T) {
		s := StoppedState("c1", 0, 42*time.Millisecond)
		d, ok := s.DurationSinceStart()
		require.True(t, ok)
		assert.Equal(t, 42*time.Millisecond, d)
	})

	t.Run("NoTimingBeforeStart", func(t *testing.T) {
		_, ok := InitialState().DurationSinceStart()
		assert.False(t, ok)
		_, ok = CreatedState("c1").DurationSinceStart()
		assert.False(t, ok)
	})
}

func TestStateManager(t *testing.T) {
	t.Run("FullLifecycle", func(t *testing.T) {
		m := NewStateManager()
		require.NoError(t, m.MarkCreated("c1"))
		require.NoError(t, m.MarkRunning("c1"))
		require.NoError(t, m.MarkCompiling("c1"))
		require.NoError(t, m.MarkRunning("c1"))
		require.NoError(t, m.MarkExecuting("c1", "./app"))
		require.NoError(t, m.MarkRunning("c1"))
		require.NoError(t, m.MarkStopped("c1", 0))

		state := m.Current()
		assert.Equal(t, PhaseStopped, state.Phase)
		assert.Equal(t, 0, state.ExitCode)
	})

	t.Run("RejectedTransitionLeavesStateUnchanged", func(t *testing.T) {
		m := NewStateManager()
		require.NoError(t, m.MarkCreated("c1"))

		err := m.MarkStopped("c1", 0)
		require.Error(t, err)
		assert.Equal(t, PhaseCreated, m.Current().Phase)
	})

	t.Run("IDMismatchRejected", func(t *testing.T) {
		m := NewStateManager()
		require.NoError(t, m.MarkCreated("c1"))

		err := m.MarkRunning("c2")
		require.Error(t, err)
		var idErr *IDMismatchError
		assert.ErrorAs(t, err, &idErr)
		assert.Equal(t, "c1", m.ContainerID())
	})

	t.Run("SubscriberReceivesTransitions", func(t *testing.T) {
		m := NewStateManager()
		ch := m.Subscribe()

		require.NoError(t, m.MarkCreated("c1"))
		require.NoError(t, m.MarkRunning("c1"))

		first := <-ch
		second := <-ch
		assert.Equal(t, PhaseCreated, first.Phase)
		assert.Equal(t, PhaseRunning, second.Phase)
	})

	t.Run("RejectedTransitionNotPublished", func(t *testing.T) {
		m := NewStateManager()
		ch := m.Subscribe()

		require.Error(t, m.MarkRunning("c1"))

		select {
		case s := <-ch:
			t.Fatalf("unexpected notification: %v", s.Phase)
		default:
		}
	})

	t.Run("FullSubscriberDropped", func(t *testing.T) {
		m := NewStateManager()
		_ = m.Subscribe()

		// Fill the subscriber buffer without draining; the manager must keep
		// accepting transitions.
		require.NoError(t, m.MarkCreated("c1"))
		require.NoError(t, m.MarkRunning("c1"))
		for i := 0; i < subscriberBuffer; i++ {
			require.NoError(t, m.MarkExecuting("c1", "noop"))
			require.NoError(t, m.MarkRunning("c1"))
		}
		assert.Equal(t, PhaseRunning, m.Current().Phase)
	})

	t.Run("MarkStoppedRecordsElapsed", func(t *testing.T) {
		m := NewStateManager()
		require.NoError(t, m.MarkCreated("c1"))
		require.NoError(t, m.MarkRunning("c1"))
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, m.MarkStopped("c1", 7))

		state := m.Current()
		assert.Equal(t, 7, state.ExitCode)
		assert.GreaterOrEqual(t, state.ExecutionTime, 10*time.Millisecond)
	})
}
