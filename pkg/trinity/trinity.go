// Package trinity implements EXECUTOR, the Trinity core's meta-orchestrator
// (spec §4.6): it turns an ARCHITECT Plan into a running Workflow, spawns
// and supervises sub-agents per TaskSpec, enforces Absolute Verification
// before any artifact merges into workflow state, checkpoints on task
// completion, and records outcomes to the Pattern Store and Cost Ledger on
// workflow completion. EXECUTOR is a pure meta-orchestrator: it never
// itself performs code edits, git operations, or other worker actions —
// those exist only inside sub-agents.
package trinity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/trinity-os/trinity/pkg/architect"
	"github.com/trinity-os/trinity/pkg/bus"
	"github.com/trinity-os/trinity/pkg/costledger"
	"github.com/trinity-os/trinity/pkg/foundation"
	"github.com/trinity-os/trinity/pkg/hitl"
	"github.com/trinity-os/trinity/pkg/parallel"
	"github.com/trinity-os/trinity/pkg/pattern"
	"github.com/trinity-os/trinity/pkg/subagent"
	"github.com/trinity-os/trinity/pkg/verification"
	"github.com/trinity-os/trinity/pkg/workflow"
)

const foundationFailedQueue = "telemetry.foundation_failed"

// RejectedTask records one TaskSpec whose artifact the Verification Gate
// rejected. Per spec §4.9/§7, a rejection is never retried automatically
// with the same artifact: EXECUTOR surfaces it here instead of looping,
// leaving re-planning or HITL escalation to the caller.
type RejectedTask struct {
	TaskID string
	Reason string
}

// AcceptResult is the outcome of one Accept call.
type AcceptResult struct {
	WorkflowID    string
	State         workflow.State
	RejectedTasks []RejectedTask
	FailureReason string
}

// ErrEmptyCorrelation guards against a Plan that forgot to set the
// correlation id the spec requires to propagate unchanged through Plan →
// Workflow → Checkpoint → CostEntry → Pattern precedent updates.
var ErrEmptyCorrelation = errors.New("trinity: plan has no correlation_id")

// Executor is EXECUTOR, the meta-orchestrator.
type Executor struct {
	verifier   *foundation.Verifier
	workflows  *workflow.Manager
	parallel   *parallel.Executor
	gate       *verification.Gate
	dispatcher *subagent.Dispatcher
	ledger     *costledger.Ledger
	patterns   *pattern.Store
	hitl       *hitl.Gates
	bus        *bus.Bus
	repoDir    string
	logger     *slog.Logger

	policy parallel.Policy
}

// Option configures an Executor at construction time.
type Option func(*Executor)

// WithPolicy overrides parallel.DefaultPolicy() for ExecuteGraph calls.
func WithPolicy(p parallel.Policy) Option { return func(e *Executor) { e.policy = p } }

// WithLogger overrides the default slog.Default().
func WithLogger(logger *slog.Logger) Option { return func(e *Executor) { e.logger = logger } }

// New returns an Executor wiring every constitutional and orchestration
// component a Plan's acceptance needs.
func New(
	verifier *foundation.Verifier,
	workflows *workflow.Manager,
	parallelExec *parallel.Executor,
	gate *verification.Gate,
	dispatcher *subagent.Dispatcher,
	ledger *costledger.Ledger,
	patterns *pattern.Store,
	hitlGates *hitl.Gates,
	b *bus.Bus,
	repoDir string,
	opts ...Option,
) *Executor {
	e := &Executor{
		verifier:   verifier,
		workflows:  workflows,
		parallel:   parallelExec,
		gate:       gate,
		dispatcher: dispatcher,
		ledger:     ledger,
		patterns:   patterns,
		hitl:       hitlGates,
		bus:        b,
		repoDir:    repoDir,
		logger:     slog.Default(),
		policy:     parallel.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Accept runs the spec §4.6 operation: verify foundation, create a
// Workflow, hand its task DAG to the Parallel Executor, verify and merge
// each sub-agent artifact, checkpoint on completion, and record outcomes.
func (e *Executor) Accept(ctx context.Context, plan *architect.Plan) (*AcceptResult, error) {
	if plan.CorrelationID == "" {
		return nil, ErrEmptyCorrelation
	}

	health, err := e.verifier.Verify(ctx)
	if err != nil {
		var broken *foundation.BrokenFoundationError
		if errors.As(err, &broken) {
			e.publishFoundationFailed(ctx, plan, broken.Health)
			return nil, broken
		}
		return nil, fmt.Errorf("trinity: foundation check: %w", err)
	}
	_ = health

	taskIDs, taskByID := flattenTasks(plan)
	workflowID, err := e.workflows.Create(plan.ID, plan.CorrelationID, taskIDs)
	if err != nil {
		return nil, fmt.Errorf("trinity: create workflow: %w", err)
	}

	if len(taskIDs) == 0 {
		if err := e.workflows.Transition(workflowID, workflow.StateRunning, "", nil); err != nil {
			return nil, err
		}
		if err := e.workflows.Transition(workflowID, workflow.StateCompleted, "", nil); err != nil {
			return nil, err
		}
		return &AcceptResult{WorkflowID: workflowID, State: workflow.StateCompleted}, nil
	}

	if paused, result, err := e.checkBudget(ctx, workflowID, plan); paused {
		return result, err
	}

	if err := e.workflows.Transition(workflowID, workflow.StateRunning, "", nil); err != nil {
		return nil, err
	}

	graph := parallel.NewGraph()
	var rejected []RejectedTask
	for _, id := range taskIDs {
		task := taskByID[id]
		node := parallel.TaskNode{
			ID:        id,
			DependsOn: task.DependsOn,
			Run:       e.runTask(workflowID, plan, task, &rejected),
		}
		if err := graph.AddTask(node); err != nil {
			return nil, fmt.Errorf("trinity: build task graph: %w", err)
		}
	}

	result, err := e.parallel.ExecuteGraph(ctx, graph, e.policy, plan.CorrelationID)
	if err != nil {
		return nil, fmt.Errorf("trinity: execute graph: %w", err)
	}

	if result.Succeeded() {
		if err := e.workflows.Transition(workflowID, workflow.StateCompleted, "", nil); err != nil {
			return nil, err
		}
		e.recordOutcome(plan, true)
		return &AcceptResult{WorkflowID: workflowID, State: workflow.StateCompleted, RejectedTasks: rejected}, nil
	}

	reason := "task_failed"
	if len(rejected) > 0 {
		reason = "verification_rejected"
	}
	if err := e.workflows.Fail(workflowID, reason); err != nil {
		return nil, err
	}
	e.recordOutcome(plan, false)
	return &AcceptResult{WorkflowID: workflowID, State: workflow.StateFailed, RejectedTasks: rejected, FailureReason: reason}, nil
}

// checkBudget implements the boundary behavior "Budget of 0 with at least
// one task → workflow creates, pauses for HITL budget approval before any
// dispatch." It returns paused=true when Accept should return immediately
// with result/err rather than proceed to RUNNING.
func (e *Executor) checkBudget(ctx context.Context, workflowID string, plan *architect.Plan) (bool, *AcceptResult, error) {
	if e.ledger == nil || e.hitl == nil {
		return false, nil, nil
	}
	balance, err := e.ledger.Balance(plan.CorrelationID)
	if err != nil {
		return true, nil, fmt.Errorf("trinity: check budget: %w", err)
	}
	if balance.Remaining == nil || *balance.Remaining > 0 {
		return false, nil, nil
	}

	if err := e.workflows.Transition(workflowID, workflow.StateRunning, "", nil); err != nil {
		return true, nil, err
	}
	if err := e.workflows.Transition(workflowID, workflow.StatePaused, "", nil); err != nil {
		return true, nil, err
	}

	approval, err := e.hitl.Raise(ctx, hitl.Question{
		WorkflowID:    workflowID,
		GateID:        "budget",
		Step:          "dispatch",
		RiskCategory:  "budget",
		CorrelationID: plan.CorrelationID,
		EstimatedCost: *balance.Remaining,
	})
	if err != nil {
		return true, nil, fmt.Errorf("trinity: budget approval: %w", err)
	}

	switch approval.Decision {
	case hitl.DecisionYes:
		return false, nil, nil
	case hitl.DecisionNo:
		// PAUSED has no direct edge to FAILED (only back to RUNNING): pass
		// through RUNNING first so Fail's transition stays legal.
		if err := e.workflows.Transition(workflowID, workflow.StateRunning, "", nil); err != nil {
			return true, nil, err
		}
		if err := e.workflows.Fail(workflowID, "user_rejected"); err != nil {
			return true, nil, err
		}
		return true, &AcceptResult{WorkflowID: workflowID, State: workflow.StateFailed, FailureReason: "user_rejected"}, nil
	default: // LATER, TIMEOUT: stays PAUSED, no state loss
		return true, &AcceptResult{WorkflowID: workflowID, State: workflow.StatePaused}, nil
	}
}

// runTask returns the TaskNode.Run closure for one TaskSpec: dispatch the
// sub-agent, route its artifact through the Verification Gate, checkpoint
// on acceptance, record its CostEntry, and append to rejected on a
// RejectionError rather than ever retrying with the same artifact.
func (e *Executor) runTask(workflowID string, plan *architect.Plan, task architect.TaskSpec, rejected *[]RejectedTask) func(context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		agentCtx := subagent.AgentContext{
			WorkflowID:    workflowID,
			TaskID:        task.ID,
			CorrelationID: plan.CorrelationID,
		}
		if caps, ok := task.Constraints["read_capabilities"].([]string); ok {
			agentCtx.ReadCapabilities = caps
		}

		result, err := e.dispatcher.Dispatch(ctx, subagent.Task{
			ID:          task.ID,
			Role:        task.AgentRole,
			Prompt:      task.Prompt,
			Params:      task.Params,
			Constraints: task.Constraints,
			Context:     agentCtx,
		})
		if err != nil {
			return nil, fmt.Errorf("trinity: dispatch task %s: %w", task.ID, err)
		}

		if e.ledger != nil && result.Cost.TaskID != "" {
			entry := result.Cost
			entry.CorrelationID = plan.CorrelationID
			if err := e.ledger.Record(entry); err != nil {
				e.logger.Error("trinity: record cost entry failed", "task_id", task.ID, "error", err)
			}
		}

		artifact := verification.Artifact{
			ID:            uuid.NewString(),
			WorkflowID:    workflowID,
			TaskID:        task.ID,
			CorrelationID: plan.CorrelationID,
			Kind:          verification.ArtifactCode,
			Files:         result.Artifacts,
		}
		vctx := verification.Context{
			WorkflowID:    workflowID,
			TaskID:        task.ID,
			CorrelationID: plan.CorrelationID,
			RepoDir:       e.repoDir,
		}

		verified, err := e.gate.Verify(ctx, artifact, vctx)
		if err != nil {
			var rejErr *verification.RejectionError
			if errors.As(err, &rejErr) {
				*rejected = append(*rejected, RejectedTask{TaskID: task.ID, Reason: rejErr.Rejected.Reason})
			}
			return nil, err
		}

		if _, err := e.workflows.Checkpoint(workflowID, task.ID, result.Output, nil, nil); err != nil {
			return nil, fmt.Errorf("trinity: checkpoint task %s: %w", task.ID, err)
		}

		return verified, nil
	}
}

// recordOutcome writes the workflow's success/failure back to every
// precedent the Plan's reasoning drew on, per spec §4.6 step 7. Best
// effort: a Pattern Store write failure never fails an already-decided
// workflow outcome.
func (e *Executor) recordOutcome(plan *architect.Plan, success bool) {
	if e.patterns == nil {
		return
	}
	outcome := pattern.OutcomeSuccess
	if !success {
		outcome = pattern.OutcomeFailure
	}
	for _, id := range plan.PrecedentIDs {
		if err := e.patterns.UpdateUsage(id, outcome); err != nil {
			e.logger.Error("trinity: record pattern outcome failed", "correlation_id", plan.CorrelationID, "precedent_id", id, "error", err)
		}
	}
}

func (e *Executor) publishFoundationFailed(ctx context.Context, plan *architect.Plan, health foundation.FoundationHealth) {
	payload := map[string]any{
		"plan_id":         plan.ID,
		"correlation_id":  plan.CorrelationID,
		"test_status":     string(health.TestStatus),
		"violation_count": health.ViolationCount,
		"error_message":   health.ErrorMessage,
		"checked_at":      health.CheckedAt,
	}
	if _, err := e.bus.Publish(ctx, foundationFailedQueue, payload, 10, plan.CorrelationID); err != nil {
		e.logger.Error("trinity: publish foundation_failed failed", "error", err)
	}
}

func flattenTasks(plan *architect.Plan) ([]string, map[string]architect.TaskSpec) {
	var ids []string
	byID := map[string]architect.TaskSpec{}
	for _, tr := range plan.Tracks {
		for _, t := range tr.Tasks {
			ids = append(ids, t.ID)
			byID[t.ID] = t
		}
	}
	return ids, byID
}
