// Package workflow implements the Workflow State Machine: typed workflow
// states, legal transitions, and checksum-validated checkpointing so a
// workflow can resume after a crash without losing progress.
package workflow

import (
	"fmt"
	"time"
)

// State is a workflow's position in the state graph.
type State string

const (
	StatePending      State = "PENDING"
	StateRunning      State = "RUNNING"
	StateCheckpointed State = "CHECKPOINTED"
	StatePaused       State = "PAUSED"
	StateCompleted    State = "COMPLETED"
	StateFailed       State = "FAILED"
)

// IsTerminal reports whether no further transitions are legal from s.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// legalEdges encodes the directed transition graph. No edge means the
// transition is rejected.
var legalEdges = map[State]map[State]bool{
	StatePending:      {StateRunning: true},
	StateRunning:      {StateCheckpointed: true, StatePaused: true, StateCompleted: true, StateFailed: true},
	StateCheckpointed: {StateRunning: true},
	StatePaused:       {StateRunning: true},
	StateCompleted:    {},
	StateFailed:       {},
}

func legalTransition(from, to State) bool {
	edges, ok := legalEdges[from]
	if !ok {
		return false
	}
	return edges[to]
}

// TransitionError reports an illegal state transition attempt.
type TransitionError struct {
	WorkflowID string
	From       State
	To         State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("workflow %s: illegal transition %s -> %s", e.WorkflowID, e.From, e.To)
}

// NotFoundError reports a reference to an unknown workflow.
type NotFoundError struct {
	WorkflowID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("workflow %s: not found", e.WorkflowID)
}

// Workflow is the durable summary of one orchestration run. It is retained
// indefinitely even after its checkpoints are garbage-collected.
type Workflow struct {
	ID             string    `json:"id"`
	PlanID         string    `json:"plan_id"`
	CorrelationID  string    `json:"correlation_id"`
	State          State     `json:"state"`
	CurrentStep    string    `json:"current_step"`
	CompletedSteps []string  `json:"completed_steps"`
	PendingSteps   []string  `json:"pending_steps"`
	Checkpoints    []string  `json:"checkpoints"` // retained checkpoint ids, oldest first
	FailureReason  string    `json:"failure_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (w *Workflow) clone() *Workflow {
	cp := *w
	cp.CompletedSteps = append([]string(nil), w.CompletedSteps...)
	cp.PendingSteps = append([]string(nil), w.PendingSteps...)
	cp.Checkpoints = append([]string(nil), w.Checkpoints...)
	return &cp
}
