// Package architect implements ARCHITECT, the Trinity core's strategist
// (spec §4.5): it consumes Signals, gathers precedent context from the
// Pattern Store, decomposes a response into an immutable Plan (a DAG of
// Tracks and TaskSpecs), attaches quality gates, externalizes its
// reasoning chain, and publishes the Plan onto plan_queue. ARCHITECT is a
// pure producer — it never executes tool calls or spawns sub-agents
// itself; only EXECUTOR does.
package architect

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/trinity-os/trinity/pkg/bus"
	"github.com/trinity-os/trinity/pkg/llmclient"
	"github.com/trinity-os/trinity/pkg/pattern"
	"github.com/trinity-os/trinity/pkg/reasoning"
	"github.com/trinity-os/trinity/pkg/subagent"
	"github.com/trinity-os/trinity/pkg/witness"
)

const planQueue = "plan_queue"

// TaskSpec is one unit of sub-agent work within a Track.
type TaskSpec struct {
	ID          string         `json:"id"`
	AgentRole   subagent.Role  `json:"agent_role"`
	Prompt      string         `json:"prompt"`
	Params      map[string]any `json:"params,omitempty"`
	DependsOn   []string       `json:"depends_on,omitempty"`
	Constraints map[string]any `json:"constraints,omitempty"`
}

// Track is a named, independently schedulable group of TaskSpecs.
// Non-parallel tracks execute their tasks in listed order; parallel
// tracks may run their tasks concurrently (subject to each task's own
// depends_on).
type Track struct {
	Name      string     `json:"name"`
	Parallel  bool       `json:"parallel"`
	DependsOn []string   `json:"depends_on,omitempty"`
	Tasks     []TaskSpec `json:"tasks"`
}

// Plan is ARCHITECT's immutable output: a DAG of Tracks and TaskSpecs,
// attached quality gates, and the reasoning text that produced it.
// Revisions never mutate a Plan; they emit a new one (spec invariant 6),
// which this package exposes as PreviousPlanID.
type Plan struct {
	ID             string    `json:"id"`
	CorrelationID  string    `json:"correlation_id"`
	Tracks         []Track   `json:"tracks"`
	QualityGates   []string  `json:"quality_gates"`
	ReasoningText  string    `json:"reasoning_text"`
	CreatedAt      time.Time `json:"created_at"`
	PreviousPlanID string    `json:"previous_plan_id,omitempty"`

	// PrecedentIDs are the Pattern Store records context-gathering found
	// for this signal — EXECUTOR updates their usage stats with the
	// workflow's eventual success/failure outcome (spec §4.6 step 7).
	PrecedentIDs []string `json:"precedent_ids,omitempty"`
}

// ErrCyclicPlan is returned by Validate when a Plan's TaskSpec dependency
// graph contains a cycle, per the spec's acyclic-DAG invariant.
type ErrCyclicPlan struct {
	TaskID string
}

func (e *ErrCyclicPlan) Error() string {
	return fmt.Sprintf("architect: cyclic dependency reachable from task %q", e.TaskID)
}

// ErrDanglingDependency is returned by Validate when a TaskSpec's
// depends_on references a task id not present anywhere in the Plan.
type ErrDanglingDependency struct {
	TaskID   string
	DependsOn string
}

func (e *ErrDanglingDependency) Error() string {
	return fmt.Sprintf("architect: task %q depends on unknown task %q", e.TaskID, e.DependsOn)
}

// Validate checks the spec §8 invariant that every TaskSpec's depends_on
// is contained within the Plan and the induced graph is acyclic.
func Validate(p *Plan) error {
	tasks := map[string]TaskSpec{}
	for _, tr := range p.Tracks {
		for _, t := range tr.Tasks {
			tasks[t.ID] = t
		}
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, ok := tasks[dep]; !ok {
				return &ErrDanglingDependency{TaskID: t.ID, DependsOn: dep}
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(tasks))
	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case gray:
			return &ErrCyclicPlan{TaskID: id}
		case black:
			return nil
		}
		color[id] = gray
		for _, dep := range tasks[id].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}
	for id := range tasks {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// categoryPriority mirrors pkg/witness's Signal-category urgency ordering
// so plan_queue priority stays consistent with signal_queue priority for
// the same category.
func categoryPriority(c witness.Category) int {
	switch c {
	case witness.CategoryFailure:
		return 10
	case witness.CategoryUserIntent:
		return 7
	case witness.CategoryOpportunity:
		return 5
	case witness.CategoryRecurringTopic:
		return 2
	default:
		return 0
	}
}

// securityKeywords flags a Signal as security-impacting, triggering a
// mandatory HITL quality gate (spec §4.5 step 4 example).
var securityKeywords = []string{"auth", "security", "credential", "secret", "token", "permission"}

func isSecurityImpacting(keywords []string) bool {
	for _, kw := range keywords {
		for _, sec := range securityKeywords {
			if kw == sec {
				return true
			}
		}
	}
	return false
}

// Architect consumes Signals and emits Plans onto plan_queue.
type Architect struct {
	bus       *bus.Bus
	patterns  *pattern.Store
	reasoning *reasoning.Store
	llm       llmclient.Client
	logger    *slog.Logger
}

// Option configures an Architect at construction time.
type Option func(*Architect)

// WithLogger overrides the default slog.Default().
func WithLogger(logger *slog.Logger) Option { return func(a *Architect) { a.logger = logger } }

// New returns an Architect synthesizing Plans from signals against store,
// persisting its reasoning via reasoningStore, and publishing onto b.
func New(b *bus.Bus, store *pattern.Store, reasoningStore *reasoning.Store, llm llmclient.Client, opts ...Option) *Architect {
	a := &Architect{
		bus:       b,
		patterns:  store,
		reasoning: reasoningStore,
		llm:       llm,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Synthesize turns one Signal into a Plan, per spec §4.5's six-step
// contract: context gathering, spec generation, planning, quality-gate
// attachment, reasoning externalization, and emission onto plan_queue.
// Synthesize is deterministic up to the configured llmclient.Client's own
// nondeterminism: identical signal+precedent inputs at temperature 0
// produce an identical Plan shape.
func (a *Architect) Synthesize(ctx context.Context, signal witness.Signal) (*Plan, error) {
	chain := reasoning.NewChain(signal.CorrelationID, "architect")

	precedents, err := a.patterns.Search(signal.PatternName, signal.Evidence.Keywords, 5)
	if err != nil {
		return nil, fmt.Errorf("architect: context gathering: %w", err)
	}
	chain.Step("context gathering", fmt.Sprintf(
		"signal %q (category=%s, confidence=%.2f) matched %d precedent(s)",
		signal.PatternName, signal.Category, signal.Confidence, len(precedents)))

	specPrompt := fmt.Sprintf(
		"signal: %s\ncategory: %s\nkeywords: %v\nprecedents: %d",
		signal.PatternName, signal.Category, signal.Evidence.Keywords, len(precedents))
	specResp, err := a.llm.Complete(ctx, llmclient.Request{Prompt: "spec: " + specPrompt})
	if err != nil {
		return nil, fmt.Errorf("architect: spec generation: %w", err)
	}
	chain.Step("spec generation", specResp.Text)

	tracks := a.plan(signal)
	chain.Step("planning", fmt.Sprintf("decomposed into %d track(s)", len(tracks)))

	gates := []string{"100% test pass rate", "zero constitutional violations"}
	if isSecurityImpacting(signal.Evidence.Keywords) {
		gates = append(gates, "HITL approval for security-impacting tasks")
	}
	chain.Step("quality gates", fmt.Sprintf("%v", gates))

	precedentIDs := make([]string, 0, len(precedents))
	for _, m := range precedents {
		precedentIDs = append(precedentIDs, m.Record.ID)
	}

	plan := &Plan{
		ID:            uuid.NewString(),
		CorrelationID: signal.CorrelationID,
		Tracks:        tracks,
		QualityGates:  gates,
		ReasoningText: chain.Render(),
		CreatedAt:     time.Now(),
		PrecedentIDs:  precedentIDs,
	}

	if err := Validate(plan); err != nil {
		return nil, fmt.Errorf("architect: invalid plan: %w", err)
	}

	if a.reasoning != nil {
		if err := a.reasoning.Persist(chain); err != nil {
			a.logger.Error("architect: persist reasoning failed", "correlation_id", signal.CorrelationID, "error", err)
		}
	}

	if err := a.publish(ctx, plan, signal.Category); err != nil {
		return nil, fmt.Errorf("architect: publish plan: %w", err)
	}

	return plan, nil
}

// plan decomposes signal into a single implementation Track: a
// code-writer task, a test-author task depending on it, an auditor task
// depending on that, and a merger task depending on the auditor —
// non-parallel, since each stage's input is the previous stage's output.
func (a *Architect) plan(signal witness.Signal) []Track {
	writeID := uuid.NewString()
	testID := uuid.NewString()
	auditID := uuid.NewString()
	mergeID := uuid.NewString()

	base := map[string]any{"correlation_id": signal.CorrelationID, "pattern_name": signal.PatternName}

	return []Track{
		{
			Name:     "implementation",
			Parallel: false,
			Tasks: []TaskSpec{
				{
					ID:        writeID,
					AgentRole: subagent.RoleCodeWriter,
					Prompt:    fmt.Sprintf("address %s: %s", signal.Category, signal.PatternName),
					Params:    base,
				},
				{
					ID:        testID,
					AgentRole: subagent.RoleTestAuthor,
					Prompt:    fmt.Sprintf("cover the fix for %s", signal.PatternName),
					Params:    base,
					DependsOn: []string{writeID},
				},
				{
					ID:        auditID,
					AgentRole: subagent.RoleAuditor,
					Prompt:    fmt.Sprintf("review the change addressing %s", signal.PatternName),
					Params:    base,
					DependsOn: []string{testID},
				},
				{
					ID:        mergeID,
					AgentRole: subagent.RoleMerger,
					Prompt:    fmt.Sprintf("merge the reviewed change for %s", signal.PatternName),
					Params:    base,
					DependsOn: []string{auditID},
				},
			},
		},
	}
}

func (a *Architect) publish(ctx context.Context, plan *Plan, category witness.Category) error {
	payload := map[string]any{
		"id":             plan.ID,
		"correlation_id": plan.CorrelationID,
		"tracks":         len(plan.Tracks),
		"quality_gates":  plan.QualityGates,
		"created_at":     plan.CreatedAt,
	}
	_, err := a.bus.Publish(ctx, planQueue, payload, categoryPriority(category), plan.CorrelationID)
	return err
}
