// Package costledger implements the Trinity Orchestration Core's Cost
// Ledger (spec §4.11): per-task, per-agent, per-model token and currency
// accounting, with budget projection and enforcement. The default backend
// is an append-only log under state/cost/ledger.log (one JSON CostEntry per
// line, per spec §6); alternate SQL backends (sqlite, postgres, mysql) are
// available for deployments that already run one of those databases for
// other state, grounded on the teacher's pkg/config.DBPool driver dispatch.
package costledger

import (
	"errors"
	"time"
)

// ErrBudgetExceeded is returned by Reserve when the projected cost of a task
// would exceed the remaining budget for its scope.
var ErrBudgetExceeded = errors.New("costledger: projected cost exceeds remaining budget")

// CostEntry is the ledger's entity (spec §3): `{task_id, agent, model,
// input_tokens, output_tokens, currency_amount, timestamp}`.
type CostEntry struct {
	TaskID          string    `json:"task_id"`
	CorrelationID   string    `json:"correlation_id,omitempty"`
	Agent           string    `json:"agent"`
	Model           string    `json:"model"`
	InputTokens     int64     `json:"input_tokens"`
	OutputTokens    int64     `json:"output_tokens"`
	CurrencyAmount  float64   `json:"currency_amount"`
	Timestamp       time.Time `json:"timestamp"`
}

// Balance is the result of Balance(scope): spent-so-far and what's left.
// Remaining is nil when the scope has no configured budget (unlimited).
type Balance struct {
	Spent     float64
	Remaining *float64
}

// Rate prices a model's input/output tokens in currency per 1000 tokens,
// used by Project to estimate a task's cost before it runs.
type Rate struct {
	InputPer1K  float64
	OutputPer1K float64
}

// Backend is the durable store behind a Ledger. Implementations must make
// Append durable before returning, matching the Message Bus's WAL
// discipline: a CostEntry that Append has acknowledged must survive an
// unclean process exit (spec §8's "CostEntry with matching task_id exists
// before the workflow reports completion" property depends on this).
type Backend interface {
	Append(entry CostEntry) error
	Sum(scope string) (float64, error)
	Entries(scope string) ([]CostEntry, error)
	Close() error
}

// Ledger is the Cost Ledger (spec §4.11).
type Ledger struct {
	backend Backend
	rates   map[string]Rate
	budgets map[string]float64 // scope -> total budget; absent = unlimited
}

// Option configures a Ledger at construction time.
type Option func(*Ledger)

// WithRate registers a per-model pricing rate used by Project.
func WithRate(model string, rate Rate) Option {
	return func(l *Ledger) { l.rates[model] = rate }
}

// WithBudget sets a total currency budget for scope (spec §4.11's
// `balance(scope)`; scope is typically a workflow id or "global").
func WithBudget(scope string, amount float64) Option {
	return func(l *Ledger) { l.budgets[scope] = amount }
}

// New constructs a Ledger over backend.
func New(backend Backend, opts ...Option) *Ledger {
	l := &Ledger{
		backend: backend,
		rates:   make(map[string]Rate),
		budgets: make(map[string]float64),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record durably appends entry (spec §4.11 `record(entry)`).
func (l *Ledger) Record(entry CostEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	return l.backend.Append(entry)
}

// Project estimates the currency cost of a task given expected token counts,
// using the registered Rate for model (spec §4.11 `project(task_id, model)`).
// Unregistered models project to zero, which the caller should treat as
// "unknown cost" rather than "free" when deciding whether to require HITL
// approval.
func (l *Ledger) Project(model string, estimatedInputTokens, estimatedOutputTokens int64) float64 {
	rate, ok := l.rates[model]
	if !ok {
		return 0
	}
	return float64(estimatedInputTokens)/1000*rate.InputPer1K +
		float64(estimatedOutputTokens)/1000*rate.OutputPer1K
}

// Balance reports spent and remaining budget for scope (spec §4.11
// `balance(scope)`).
func (l *Ledger) Balance(scope string) (Balance, error) {
	spent, err := l.backend.Sum(scope)
	if err != nil {
		return Balance{}, err
	}

	budget, hasBudget := l.budgets[scope]
	if !hasBudget {
		return Balance{Spent: spent}, nil
	}
	remaining := budget - spent
	return Balance{Spent: spent, Remaining: &remaining}, nil
}

// Reserve checks projected against the remaining budget for scope before the
// Parallel Executor dispatches a task (spec §4.8's cost_budget policy field
// and §4.11's "Parallel Executor consults balance before dispatch"). It
// returns ErrBudgetExceeded rather than mutating any state: reservation in
// this ledger is advisory, the actual spend is booked by Record once the
// task's real token usage is known.
func (l *Ledger) Reserve(scope string, projected float64) error {
	bal, err := l.Balance(scope)
	if err != nil {
		return err
	}
	if bal.Remaining == nil {
		return nil
	}
	if projected > *bal.Remaining {
		return ErrBudgetExceeded
	}
	return nil
}

// Entries returns every CostEntry recorded for scope, for audit (spec §8's
// "CostEntry with matching task_id exists" testable property).
func (l *Ledger) Entries(scope string) ([]CostEntry, error) {
	return l.backend.Entries(scope)
}

// Close releases the backend.
func (l *Ledger) Close() error { return l.backend.Close() }
