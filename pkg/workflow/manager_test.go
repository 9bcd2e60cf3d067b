package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, retention int) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), retention)
	require.NoError(t, err)
	return m
}

func TestCreateStartsPending(t *testing.T) {
	m := newTestManager(t, 0)

	id, err := m.Create("plan-1", "corr-1", []string{"step-a", "step-b"})
	require.NoError(t, err)

	wf, err := m.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatePending, wf.State)
	require.Equal(t, []string{"step-a", "step-b"}, wf.PendingSteps)
}

func TestLegalTransitionsSucceed(t *testing.T) {
	m := newTestManager(t, 0)
	id, err := m.Create("plan-1", "corr-1", nil)
	require.NoError(t, err)

	require.NoError(t, m.Transition(id, StateRunning, "", nil))
	require.NoError(t, m.Transition(id, StateCheckpointed, "step-a", map[string]any{"wrote": "file.go"}))
	require.NoError(t, m.Transition(id, StateRunning, "", nil))
	require.NoError(t, m.Transition(id, StateCompleted, "", nil))

	wf, err := m.Get(id)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, wf.State)
}

func TestIllegalTransitionRejected(t *testing.T) {
	m := newTestManager(t, 0)
	id, err := m.Create("plan-1", "corr-1", nil)
	require.NoError(t, err)

	err = m.Transition(id, StateCompleted, "", nil)
	require.Error(t, err)
	var transErr *TransitionError
	require.ErrorAs(t, err, &transErr)
	require.Equal(t, StatePending, transErr.From)
}

func TestFailRecordsReasonAndTransitions(t *testing.T) {
	m := newTestManager(t, 0)
	id, err := m.Create("plan-1", "corr-1", nil)
	require.NoError(t, err)
	require.NoError(t, m.Transition(id, StateRunning, "", nil))
	require.NoError(t, m.Transition(id, StatePaused, "", nil))
	require.NoError(t, m.Transition(id, StateRunning, "", nil))

	require.NoError(t, m.Fail(id, "user_rejected"))

	wf, err := m.Get(id)
	require.NoError(t, err)
	require.Equal(t, StateFailed, wf.State)
	require.Equal(t, "user_rejected", wf.FailureReason)
}

func TestFailRejectsIllegalTransitionFromTerminalState(t *testing.T) {
	m := newTestManager(t, 0)
	id, err := m.Create("plan-1", "corr-1", nil)
	require.NoError(t, err)
	require.NoError(t, m.Transition(id, StateRunning, "", nil))
	require.NoError(t, m.Transition(id, StateCompleted, "", nil))

	err = m.Fail(id, "too_late")
	require.Error(t, err)
	var transErr *TransitionError
	require.ErrorAs(t, err, &transErr)
}

func TestNoResurrectionFromTerminalStates(t *testing.T) {
	m := newTestManager(t, 0)
	id, err := m.Create("plan-1", "corr-1", nil)
	require.NoError(t, err)
	require.NoError(t, m.Transition(id, StateRunning, "", nil))
	require.NoError(t, m.Transition(id, StateFailed, "", nil))

	err = m.Transition(id, StateRunning, "", nil)
	require.Error(t, err)
}

func TestCheckpointRoundTripAndResume(t *testing.T) {
	m := newTestManager(t, 0)
	id, err := m.Create("plan-1", "corr-1", []string{"step-a"})
	require.NoError(t, err)
	require.NoError(t, m.Transition(id, StateRunning, "", nil))

	cpID, err := m.Checkpoint(id, "step-a", map[string]any{"diff": "+1 -0"}, map[string]any{"iteration": 1.0}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, cpID)

	result, err := m.Resume(id)
	require.NoError(t, err)
	require.Equal(t, StateRunning, result.State)
	require.NotNil(t, result.Checkpoint)
	require.Equal(t, cpID, result.Checkpoint.ID)
	require.Equal(t, "step-a", result.Checkpoint.StepName)
}

func TestCheckpointGenerationIncrementsOnReCheckpoint(t *testing.T) {
	m := newTestManager(t, 0)
	id, err := m.Create("plan-1", "corr-1", nil)
	require.NoError(t, err)
	require.NoError(t, m.Transition(id, StateRunning, "", nil))

	_, err = m.Checkpoint(id, "step-a", map[string]any{"n": 1.0}, nil, nil)
	require.NoError(t, err)
	_, err = m.Checkpoint(id, "step-a", map[string]any{"n": 2.0}, nil, nil)
	require.NoError(t, err)

	result, err := m.Resume(id)
	require.NoError(t, err)
	require.Equal(t, 1, result.Checkpoint.Generation)
}

func TestRetentionEvictsOldCheckpoints(t *testing.T) {
	m := newTestManager(t, 3)
	id, err := m.Create("plan-1", "corr-1", nil)
	require.NoError(t, err)
	require.NoError(t, m.Transition(id, StateRunning, "", nil))

	for i := 0; i < 5; i++ {
		_, err := m.Checkpoint(id, "step", map[string]any{"i": float64(i)}, nil, nil)
		require.NoError(t, err)
	}

	wf, err := m.Get(id)
	require.NoError(t, err)
	require.Len(t, wf.Checkpoints, 3)

	seqs, err := m.storage.listCheckpointSeqs(id)
	require.NoError(t, err)
	require.Len(t, seqs, 3)
}

func TestResumeDetectsCorruptCheckpoint(t *testing.T) {
	m := newTestManager(t, 0)
	id, err := m.Create("plan-1", "corr-1", nil)
	require.NoError(t, err)
	require.NoError(t, m.Transition(id, StateRunning, "", nil))
	_, err = m.Checkpoint(id, "step-a", map[string]any{"n": 1.0}, nil, nil)
	require.NoError(t, err)

	tw := m.workflows[id]
	cp, err := m.storage.loadCheckpoint(id, tw.nextSeq-1)
	require.NoError(t, err)
	cp.Checksum = "deadbeef"
	require.NoError(t, m.storage.saveCheckpoint(id, tw.nextSeq-1, cp))

	result, err := m.Resume(id)
	require.NoError(t, err)
	require.Equal(t, StateFailed, result.State)
	require.Equal(t, ReasonCorruptCheckpoint, result.Reason)

	wf, err := m.Get(id)
	require.NoError(t, err)
	require.Equal(t, StateFailed, wf.State)
}

func TestListResumableExcludesTerminalWorkflows(t *testing.T) {
	m := newTestManager(t, 0)
	running, err := m.Create("plan-1", "corr-1", nil)
	require.NoError(t, err)
	require.NoError(t, m.Transition(running, StateRunning, "", nil))

	done, err := m.Create("plan-2", "corr-2", nil)
	require.NoError(t, err)
	require.NoError(t, m.Transition(done, StateRunning, "", nil))
	require.NoError(t, m.Transition(done, StateCompleted, "", nil))

	ids, err := m.ListResumable()
	require.NoError(t, err)
	require.Equal(t, []string{running}, ids)
}

func TestRecoversWorkflowsFromDisk(t *testing.T) {
	dir := t.TempDir()
	m1, err := NewManager(dir, 5)
	require.NoError(t, err)
	id, err := m1.Create("plan-1", "corr-1", nil)
	require.NoError(t, err)
	require.NoError(t, m1.Transition(id, StateRunning, "", nil))
	_, err = m1.Checkpoint(id, "step-a", map[string]any{"n": 1.0}, nil, nil)
	require.NoError(t, err)

	m2, err := NewManager(dir, 5)
	require.NoError(t, err)
	wf, err := m2.Get(id)
	require.NoError(t, err)
	require.Equal(t, StateRunning, wf.State)

	result, err := m2.Resume(id)
	require.NoError(t, err)
	require.NotNil(t, result.Checkpoint)

	// A fresh checkpoint on the recovered manager must not collide with the
	// generation already used before recovery.
	_, err = m2.Checkpoint(id, "step-a", map[string]any{"n": 2.0}, nil, nil)
	require.NoError(t, err)
	result, err = m2.Resume(id)
	require.NoError(t, err)
	require.Equal(t, 1, result.Checkpoint.Generation)
}
