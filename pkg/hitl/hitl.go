// Package hitl implements HITL Approval Gates: surfacing decisions to
// humans at declared points in a Plan without losing workflow progress.
package hitl

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trinity-os/trinity/internal/obslog"
	"github.com/trinity-os/trinity/pkg/bus"
)

// Decision is the outcome of a human review.
type Decision string

const (
	DecisionYes     Decision = "YES"
	DecisionNo      Decision = "NO"
	DecisionLater   Decision = "LATER"
	DecisionTimeout Decision = "TIMEOUT"
	// DecisionForce is recorded only via the Verification Gate's explicit
	// override path (§4.9); the approval-gate flow here never emits it.
	DecisionForce Decision = "FORCE"
)

const humanReviewQueue = "human_review_queue"

// ErrQuestionNotFound is returned by Respond for an unknown or already
// fully-resolved question id.
var ErrQuestionNotFound = errors.New("hitl: question not found")

// Question is surfaced to a human at a workflow gate.
type Question struct {
	ID            string
	WorkflowID    string
	GateID        string
	Step          string
	Inputs        map[string]any
	EstimatedCost float64
	RiskCategory  string
	CorrelationID string
	CreatedAt     time.Time
	Deferrals     int
}

// Response is a human's answer to a Question.
type Response struct {
	QuestionID  string
	Decision    Decision
	Annotations string
	RespondedAt time.Time
}

// UserApproval is the durable record of how a gate was resolved.
type UserApproval struct {
	WorkflowID  string
	GateID      string
	Decision    Decision
	Context     map[string]any
	RespondedAt time.Time
}

type pendingQuestion struct {
	question Question
	respCh   chan Response

	mu       sync.Mutex
	resolved *UserApproval
}

// Gates manages the proactive-question path: raising a Question on
// human_review_queue and blocking the caller (typically EXECUTOR, from
// within its own goroutine) until a Response resolves it or the configured
// timeout elapses.
type Gates struct {
	bus                  *bus.Bus
	policy               RiskPolicy
	timeout              time.Duration
	quietHoursInterval   time.Duration
	maxDeferralsBeforeNo int

	mu      sync.Mutex
	pending map[string]*pendingQuestion
}

// Option configures Gates at construction time.
type Option func(*Gates)

func WithTimeout(d time.Duration) Option           { return func(g *Gates) { g.timeout = d } }
func WithQuietHoursInterval(d time.Duration) Option { return func(g *Gates) { g.quietHoursInterval = d } }
func WithMaxDeferralsBeforeNo(n int) Option         { return func(g *Gates) { g.maxDeferralsBeforeNo = n } }
func WithRiskPolicy(p RiskPolicy) Option            { return func(g *Gates) { g.policy = p } }

// New returns a Gates publishing Questions through b.
func New(b *bus.Bus, opts ...Option) *Gates {
	g := &Gates{
		bus:     b,
		policy:  DefaultRiskPolicy(),
		timeout: 5 * time.Minute,
		pending: map[string]*pendingQuestion{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RequiresGate reports whether riskCategory requires a HITL gate by the
// configured policy.
func (g *Gates) RequiresGate(riskCategory string) bool {
	return g.policy.RequiresGate(riskCategory)
}

// Raise publishes q to human_review_queue and waits for resolution.
//
// YES/NO resolve immediately. LATER re-offers the question after the
// configured quiet-hours interval, incrementing Deferrals each time; once
// Deferrals reaches maxDeferralsBeforeNo (if nonzero) it auto-resolves to
// NO. Silence for the full timeout resolves to TIMEOUT — this does not
// discard the question: a Response that arrives after Raise has already
// returned TIMEOUT is still recorded and observable via Outcome, since per
// spec "the workflow stays PAUSED; no state loss."
func (g *Gates) Raise(ctx context.Context, q Question) (UserApproval, error) {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}

	pq := &pendingQuestion{question: q, respCh: make(chan Response, 1)}
	g.mu.Lock()
	g.pending[q.ID] = pq
	g.mu.Unlock()

	if err := g.publish(ctx, q); err != nil {
		return UserApproval{}, err
	}

	for {
		select {
		case resp := <-pq.respCh:
			switch resp.Decision {
			case DecisionYes, DecisionNo, DecisionForce:
				approval := UserApproval{WorkflowID: q.WorkflowID, GateID: q.GateID, Decision: resp.Decision, Context: map[string]any{"annotations": resp.Annotations}, RespondedAt: resp.RespondedAt}
				g.resolve(q.ID, approval)
				return approval, nil
			case DecisionLater:
				q.Deferrals++
				if g.maxDeferralsBeforeNo > 0 && q.Deferrals >= g.maxDeferralsBeforeNo {
					approval := UserApproval{WorkflowID: q.WorkflowID, GateID: q.GateID, Decision: DecisionNo, Context: map[string]any{"reason": "max_deferrals_exceeded"}, RespondedAt: time.Now()}
					g.resolve(q.ID, approval)
					return approval, nil
				}
				select {
				case <-time.After(g.quietHoursInterval):
				case <-ctx.Done():
					return UserApproval{}, ctx.Err()
				}
				if err := g.publish(ctx, q); err != nil {
					return UserApproval{}, err
				}
			default:
				// Treat any other/explicit TIMEOUT response the same as
				// silence below.
			}
		case <-ctx.Done():
			return UserApproval{}, ctx.Err()
		case <-time.After(g.timeout):
			obslog.Get().Warn("hitl: question timed out awaiting response", "question_id", q.ID, "workflow_id", q.WorkflowID, "gate_id", q.GateID)
			return UserApproval{WorkflowID: q.WorkflowID, GateID: q.GateID, Decision: DecisionTimeout, RespondedAt: time.Now()}, nil
		}
	}
}

// Respond resolves questionID with resp. Safe to call after the
// originating Raise has already returned (e.g. on TIMEOUT); the outcome is
// still recorded and retrievable via Outcome.
func (g *Gates) Respond(questionID string, resp Response) error {
	g.mu.Lock()
	pq, ok := g.pending[questionID]
	g.mu.Unlock()
	if !ok {
		return ErrQuestionNotFound
	}
	if resp.RespondedAt.IsZero() {
		resp.RespondedAt = time.Now()
	}
	resp.QuestionID = questionID

	select {
	case pq.respCh <- resp:
	default:
	}

	if resp.Decision == DecisionYes || resp.Decision == DecisionNo || resp.Decision == DecisionForce {
		approval := UserApproval{WorkflowID: pq.question.WorkflowID, GateID: pq.question.GateID, Decision: resp.Decision, Context: map[string]any{"annotations": resp.Annotations}, RespondedAt: resp.RespondedAt}
		g.resolve(questionID, approval)
	}
	return nil
}

// Outcome returns the recorded resolution of questionID, if any — covering
// both a direct Raise return and a late Response recorded after Raise
// already gave up on TIMEOUT.
func (g *Gates) Outcome(questionID string) (UserApproval, bool) {
	g.mu.Lock()
	pq, ok := g.pending[questionID]
	g.mu.Unlock()
	if !ok {
		return UserApproval{}, false
	}
	pq.mu.Lock()
	defer pq.mu.Unlock()
	if pq.resolved == nil {
		return UserApproval{}, false
	}
	return *pq.resolved, true
}

func (g *Gates) resolve(questionID string, approval UserApproval) {
	g.mu.Lock()
	pq, ok := g.pending[questionID]
	g.mu.Unlock()
	if !ok {
		return
	}
	pq.mu.Lock()
	pq.resolved = &approval
	pq.mu.Unlock()
}

func (g *Gates) publish(ctx context.Context, q Question) error {
	payload := map[string]any{
		"question_id":    q.ID,
		"workflow_id":    q.WorkflowID,
		"gate_id":        q.GateID,
		"step":           q.Step,
		"inputs":         q.Inputs,
		"estimated_cost": q.EstimatedCost,
		"risk_category":  q.RiskCategory,
		"deferrals":      q.Deferrals,
	}
	_, err := g.bus.Publish(ctx, humanReviewQueue, payload, riskPriority(q.RiskCategory), q.CorrelationID)
	return err
}

// riskPriority gives security-impacting gates priority over routine ones
// in the human_review_queue, same idea as a Signal's category-derived Plan
// priority (§4.5).
func riskPriority(riskCategory string) int {
	if riskCategory == "security-impacting" {
		return 10
	}
	return 0
}
