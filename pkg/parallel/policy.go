package parallel

import (
	"math/rand"
	"time"
)

// Backoff selects the retry delay shape.
type Backoff string

const (
	BackoffExponential Backoff = "exp"
	BackoffFixed       Backoff = "fixed"
)

// Fairness selects how ready tasks are ordered for dispatch when more are
// ready than there is concurrency to run them.
type Fairness string

const (
	FairnessRoundRobin    Fairness = "round_robin"
	FairnessShortestFirst Fairness = "shortest_first"
)

// Cancellation selects failure-propagation scope.
type Cancellation string

const (
	// CancellationCascading aborts dependents and still-queued independent
	// tasks on any task failure.
	CancellationCascading Cancellation = "cascading"
	// CancellationIsolated aborts only the failed task's own dependent
	// subtree; independent branches continue.
	CancellationIsolated Cancellation = "isolated"
)

// RetryPolicy configures per-task retry behavior. Backoff delays are
// deterministic for a fixed Seed, so tests can reproduce exact timing.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     Backoff
	Jitter      bool
	Seed        int64
	BaseDelay   time.Duration
}

func (r RetryPolicy) withDefaults() RetryPolicy {
	if r.MaxAttempts < 1 {
		r.MaxAttempts = 1
	}
	if r.Backoff == "" {
		r.Backoff = BackoffExponential
	}
	if r.BaseDelay <= 0 {
		r.BaseDelay = 100 * time.Millisecond
	}
	return r
}

// delay returns the wait before attempt (1-indexed) retries, using rng for
// jitter so the sequence is reproducible given the same Seed.
func (r RetryPolicy) delay(attempt int, rng *rand.Rand) time.Duration {
	var base time.Duration
	switch r.Backoff {
	case BackoffFixed:
		base = r.BaseDelay
	default: // exponential
		base = r.BaseDelay << uint(attempt-1)
	}
	if !r.Jitter {
		return base
	}
	// Full jitter in [0, base], per the well-known AWS backoff-with-jitter
	// recipe; rng is seeded per task so the sequence is deterministic.
	return time.Duration(rng.Int63n(int64(base) + 1))
}

// Policy configures one execute_graph invocation.
type Policy struct {
	MaxConcurrency int
	Retry          RetryPolicy
	TaskTimeout    time.Duration
	OverallTimeout time.Duration
	CostBudget     *float64
	Fairness       Fairness
	Cancellation   Cancellation
}

// DefaultPolicy returns the spec's documented defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxConcurrency: 5,
		Retry:          RetryPolicy{MaxAttempts: 3, Backoff: BackoffExponential, Jitter: true},
		Fairness:       FairnessRoundRobin,
		Cancellation:   CancellationCascading,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxConcurrency <= 0 {
		p.MaxConcurrency = 5
	}
	p.Retry = p.Retry.withDefaults()
	if p.Fairness == "" {
		p.Fairness = FairnessRoundRobin
	}
	if p.Cancellation == "" {
		p.Cancellation = CancellationCascading
	}
	return p
}
