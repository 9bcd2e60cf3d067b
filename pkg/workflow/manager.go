package workflow

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trinity-os/trinity/internal/obslog"
)

const defaultRetention = 10

// trackedWorkflow is the manager's in-memory view: the durable Workflow
// plus just enough bookkeeping to assign the next checkpoint sequence
// number and generation without rescanning disk on every call.
type trackedWorkflow struct {
	wf      *Workflow
	nextSeq int
	stepGen map[string]int
}

// Manager is the Workflow State Machine: it owns Workflow and Checkpoint
// lifecycle exclusively (spec §3 ownership invariant) and is the only
// component permitted to mutate workflow state.
type Manager struct {
	mu        sync.Mutex
	storage   *storage
	retention int
	workflows map[string]*trackedWorkflow
}

// NewManager opens (and recovers) the workflow store rooted at dir
// (typically <StateDir>/workflows). retention <= 0 uses the spec default
// of 10 checkpoints per workflow.
func NewManager(dir string, retention int) (*Manager, error) {
	if retention <= 0 {
		retention = defaultRetention
	}
	st, err := newStorage(dir)
	if err != nil {
		return nil, err
	}
	m := &Manager{storage: st, retention: retention, workflows: map[string]*trackedWorkflow{}}
	if err := m.recover(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) recover() error {
	ids, err := m.storage.listWorkflowIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		wf, err := m.storage.loadMeta(id)
		if err != nil {
			obslog.Get().Warn("workflow: skipping unreadable workflow on recovery", "workflow_id", id, "error", err)
			continue
		}
		seqs, err := m.storage.listCheckpointSeqs(id)
		if err != nil {
			obslog.Get().Warn("workflow: skipping checkpoint scan on recovery", "workflow_id", id, "error", err)
			seqs = nil
		}
		tw := &trackedWorkflow{wf: wf, stepGen: map[string]int{}}
		for _, seq := range seqs {
			if seq >= tw.nextSeq {
				tw.nextSeq = seq + 1
			}
			cp, err := m.storage.loadCheckpoint(id, seq)
			if err != nil {
				continue
			}
			if cp.Generation >= tw.stepGen[cp.StepName] {
				tw.stepGen[cp.StepName] = cp.Generation + 1
			}
		}
		m.workflows[id] = tw
	}
	return nil
}

// Create persists a new Workflow in PENDING state and returns its id.
func (m *Manager) Create(planID, correlationID string, pendingSteps []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	wf := &Workflow{
		ID:            uuid.NewString(),
		PlanID:        planID,
		CorrelationID: correlationID,
		State:         StatePending,
		PendingSteps:  append([]string(nil), pendingSteps...),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.storage.saveMeta(wf); err != nil {
		return "", err
	}
	m.workflows[wf.ID] = &trackedWorkflow{wf: wf, stepGen: map[string]int{}}
	return wf.ID, nil
}

// Get returns a copy of the current workflow summary.
func (m *Manager) Get(workflowID string) (*Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tw, ok := m.workflows[workflowID]
	if !ok {
		return nil, &NotFoundError{WorkflowID: workflowID}
	}
	return tw.wf.clone(), nil
}

// Transition moves a workflow to a new state, rejecting illegal edges.
// When outputs is non-nil the transition carries meaningful outputs and is
// persisted atomically together with a Checkpoint for stepName, per
// §4.7: "Each transition is persisted atomically with a Checkpoint when
// the transition carries meaningful outputs."
func (m *Manager) Transition(workflowID string, to State, stepName string, outputs map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tw, ok := m.workflows[workflowID]
	if !ok {
		return &NotFoundError{WorkflowID: workflowID}
	}
	if !legalTransition(tw.wf.State, to) {
		return &TransitionError{WorkflowID: workflowID, From: tw.wf.State, To: to}
	}

	tw.wf.State = to
	if stepName != "" {
		tw.wf.CurrentStep = stepName
		if to == StateCompleted || to == StateCheckpointed {
			tw.wf.CompletedSteps = appendUnique(tw.wf.CompletedSteps, stepName)
			tw.wf.PendingSteps = removeString(tw.wf.PendingSteps, stepName)
		}
	}
	tw.wf.UpdatedAt = time.Now()

	if outputs != nil {
		if _, err := m.checkpointLocked(tw, stepName, outputs, nil, nil); err != nil {
			return err
		}
	}
	return m.storage.saveMeta(tw.wf)
}

// Checkpoint atomically writes a checksummed snapshot of workflow state at
// stepName and returns its id. Re-checkpointing the same step increments
// its generation (invariant 5: no two checkpoints share workflow+step+gen).
func (m *Manager) Checkpoint(workflowID, stepName string, outputs, contextSnapshot, toolResults map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tw, ok := m.workflows[workflowID]
	if !ok {
		return "", &NotFoundError{WorkflowID: workflowID}
	}
	return m.checkpointLocked(tw, stepName, outputs, contextSnapshot, toolResults)
}

func (m *Manager) checkpointLocked(tw *trackedWorkflow, stepName string, outputs, contextSnapshot, toolResults map[string]any) (string, error) {
	gen := tw.stepGen[stepName]
	seq := tw.nextSeq

	cp := &Checkpoint{
		ID:                   uuid.NewString(),
		WorkflowID:           tw.wf.ID,
		StepName:             stepName,
		Generation:           gen,
		Outputs:              outputs,
		AgentContextSnapshot: contextSnapshot,
		ToolResults:          toolResults,
		CreatedAt:            time.Now(),
	}
	checksum, err := computeChecksum(cp)
	if err != nil {
		return "", err
	}
	cp.Checksum = checksum

	if err := m.storage.saveCheckpoint(tw.wf.ID, seq, cp); err != nil {
		return "", fmt.Errorf("workflow: save checkpoint: %w", err)
	}
	tw.nextSeq = seq + 1
	tw.stepGen[stepName] = gen + 1
	tw.wf.Checkpoints = append(tw.wf.Checkpoints, cp.ID)

	if err := m.evictOldCheckpoints(tw); err != nil {
		obslog.Get().Warn("workflow: checkpoint retention GC failed", "workflow_id", tw.wf.ID, "error", err)
	}
	return cp.ID, nil
}

// evictOldCheckpoints drops checkpoint files beyond the retention window.
// The immutable workflow summary (meta.json) is never pruned.
func (m *Manager) evictOldCheckpoints(tw *trackedWorkflow) error {
	seqs, err := m.storage.listCheckpointSeqs(tw.wf.ID)
	if err != nil {
		return err
	}
	if len(seqs) <= m.retention {
		return nil
	}
	evict := seqs[:len(seqs)-m.retention]
	for _, seq := range evict {
		if err := m.storage.deleteCheckpoint(tw.wf.ID, seq); err != nil {
			return err
		}
	}
	if len(tw.wf.Checkpoints) > m.retention {
		tw.wf.Checkpoints = tw.wf.Checkpoints[len(tw.wf.Checkpoints)-m.retention:]
	}
	return nil
}

// Fail transitions workflowID to FAILED, recording reason (e.g.
// "user_rejected", "workflow_timeout") the way Resume already does
// internally for a corrupt checkpoint, so callers outside this package
// (EXECUTOR, HITL gates) can report a typed failure reason without
// reaching into Workflow's fields directly.
func (m *Manager) Fail(workflowID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tw, ok := m.workflows[workflowID]
	if !ok {
		return &NotFoundError{WorkflowID: workflowID}
	}
	if !legalTransition(tw.wf.State, StateFailed) {
		return &TransitionError{WorkflowID: workflowID, From: tw.wf.State, To: StateFailed}
	}
	tw.wf.State = StateFailed
	tw.wf.FailureReason = reason
	tw.wf.UpdatedAt = time.Now()
	return m.storage.saveMeta(tw.wf)
}

// ResumeResult is the structured outcome of Resume.
type ResumeResult struct {
	State      State
	Checkpoint *Checkpoint
	Reason     string
}

// Resume returns a workflow's current state and its latest checkpoint, if
// any. A checksum mismatch forces the workflow to FAILED with reason
// "corrupt_checkpoint" rather than handing back untrustworthy state; this
// is the one transition the manager performs outside the normal legality
// graph, because a corrupt checkpoint is itself evidence the workflow
// cannot safely continue from wherever it claims to be.
func (m *Manager) Resume(workflowID string) (ResumeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tw, ok := m.workflows[workflowID]
	if !ok {
		return ResumeResult{}, &NotFoundError{WorkflowID: workflowID}
	}

	seqs, err := m.storage.listCheckpointSeqs(workflowID)
	if err != nil {
		return ResumeResult{}, err
	}
	if len(seqs) == 0 {
		return ResumeResult{State: tw.wf.State}, nil
	}

	latest := seqs[len(seqs)-1]
	cp, err := m.storage.loadCheckpoint(workflowID, latest)
	if err != nil {
		return ResumeResult{}, fmt.Errorf("workflow: load latest checkpoint: %w", err)
	}
	if !verifyChecksum(cp) {
		tw.wf.State = StateFailed
		tw.wf.FailureReason = ReasonCorruptCheckpoint
		tw.wf.UpdatedAt = time.Now()
		if err := m.storage.saveMeta(tw.wf); err != nil {
			return ResumeResult{}, err
		}
		return ResumeResult{State: StateFailed, Reason: ReasonCorruptCheckpoint}, nil
	}
	return ResumeResult{State: tw.wf.State, Checkpoint: cp}, nil
}

// ListResumable returns ids of workflows not yet in a terminal state,
// ordered by creation time, for offering resume on process startup.
func (m *Manager) ListResumable() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var candidates []*Workflow
	for _, tw := range m.workflows {
		if !tw.wf.State.IsTerminal() {
			candidates = append(candidates, tw.wf)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	ids := make([]string, len(candidates))
	for i, wf := range candidates {
		ids[i] = wf.ID
	}
	return ids, nil
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func removeString(list []string, v string) []string {
	out := list[:0:0]
	for _, existing := range list {
		if existing != v {
			out = append(out, existing)
		}
	}
	return out
}
