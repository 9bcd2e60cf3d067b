package parallel

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trinity-os/trinity/internal/obslog"
	"github.com/trinity-os/trinity/pkg/costledger"
)

// Executor runs task graphs. A cost-budget rejection surfaces as a normal
// failure (ERROR) of the task that hit it, propagated per the cancellation
// mode; it never aborts the ExecuteGraph call itself. The spec's boundary
// behavior ("budget of 0 ... pauses for HITL budget approval") is handled
// by the caller (EXECUTOR) before tasks are ever dispatched here.
type Executor struct {
	Ledger *costledger.Ledger
}

// New returns an Executor that consults ledger for cost-budget checks.
// ledger may be nil, in which case cost_budget is never enforced.
func New(ledger *costledger.Ledger) *Executor {
	return &Executor{Ledger: ledger}
}

// ExecuteGraph runs graph to completion (or abort) under policy, honoring
// topological order, bounded concurrency, retries, timeouts, fairness, and
// the configured cancellation mode. costScope identifies the Cost Ledger
// scope (typically the workflow's correlation id) budget checks apply to.
func (e *Executor) ExecuteGraph(ctx context.Context, graph *Graph, policy Policy, costScope string) (*Result, error) {
	if err := graph.Validate(); err != nil {
		return nil, err
	}
	policy = policy.withDefaults()

	overallCtx := ctx
	if policy.OverallTimeout > 0 {
		var cancel context.CancelFunc
		overallCtx, cancel = context.WithTimeout(ctx, policy.OverallTimeout)
		defer cancel()
	}

	s := &scheduler{
		graph:      graph,
		policy:     policy,
		ledger:     e.Ledger,
		costScope:  costScope,
		inDegree:   graph.inDegree(),
		dependents: graph.dependents(),
		results:    map[string]*TaskResult{},
		launched:   map[string]bool{},
		running:    map[string]bool{},
		skipped:    map[string]bool{},
	}

	start := time.Now()
	sem := make(chan struct{}, policy.MaxConcurrency)
	eg, egCtx := errgroup.WithContext(overallCtx)

	var dispatch func(ids []string)
	dispatch = func(ids []string) {
		for _, id := range ids {
			id := id
			s.mu.Lock()
			if s.skipped[id] || s.launched[id] {
				s.mu.Unlock()
				continue
			}
			s.launched[id] = true
			s.mu.Unlock()

			eg.Go(func() error {
				select {
				case sem <- struct{}{}:
				case <-egCtx.Done():
					tr := &TaskResult{TaskID: id, Err: egCtx.Err(), FailureKind: FailureTimeout, Started: time.Now(), Finished: time.Now()}
					next := s.advance(tr)
					dispatch(next)
					return nil
				}
				defer func() { <-sem }()

				// A cascading abort may have marked id skipped while this
				// goroutine was queued on sem; re-check before running so a
				// "still-queued" task never starts after the graph aborted.
				s.mu.Lock()
				skip := s.skipped[id]
				if !skip {
					s.running[id] = true
				}
				s.mu.Unlock()
				if skip {
					return nil
				}

				tr := s.runTask(egCtx, id)
				next := s.advance(tr)
				dispatch(next)
				return nil
			})
		}
	}

	dispatch(s.sortedReady(s.initialReady()))
	_ = eg.Wait()

	return &Result{Tasks: s.snapshot(), Aborted: s.aborted(), Started: start, Finished: time.Now()}, nil
}

// scheduler holds all mutable DAG-execution bookkeeping behind one mutex.
// Its methods are the only place graph state is mutated; Executor itself
// is stateless and reusable across calls.
type scheduler struct {
	graph      *Graph
	policy     Policy
	ledger     *costledger.Ledger
	costScope  string
	inDegree   map[string]int
	dependents map[string][]string

	mu       sync.Mutex
	results  map[string]*TaskResult
	launched map[string]bool // goroutine has been dispatched for this id (dedup only)
	running  map[string]bool // past the semaphore gate and actually executing; no longer skippable
	skipped  map[string]bool
	abortAll bool
}

func (s *scheduler) initialReady() []string {
	var ready []string
	for id, n := range s.inDegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	return ready
}

// sortedReady orders ids per the configured fairness policy.
func (s *scheduler) sortedReady(ids []string) []string {
	index := make(map[string]int, len(s.graph.order))
	for i, id := range s.graph.order {
		index[id] = i
	}
	out := append([]string(nil), ids...)
	switch s.policy.Fairness {
	case FairnessShortestFirst:
		sort.Slice(out, func(i, j int) bool {
			wi, wj := s.graph.nodes[out[i]].weight(), s.graph.nodes[out[j]].weight()
			if wi != wj {
				return wi < wj
			}
			return index[out[i]] < index[out[j]]
		})
	default: // round_robin: FIFO by insertion order
		sort.Slice(out, func(i, j int) bool { return index[out[i]] < index[out[j]] })
	}
	return out
}

// runTask executes one task to success or exhaustion of retries, applying
// the per-task timeout and cost-budget check on every attempt.
func (s *scheduler) runTask(ctx context.Context, id string) *TaskResult {
	node := s.graph.nodes[id]
	retry := s.policy.Retry
	rng := rand.New(rand.NewSource(retry.Seed + int64(stringHash(id))))

	started := time.Now()
	var lastErr error
	lastKind := FailureError
	attempts := 0

	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		attempts = attempt

		if s.ledger != nil && s.policy.CostBudget != nil {
			projected := s.ledger.Project(node.Model, node.EstimatedInputTokens, node.EstimatedOutputTokens)
			if err := s.ledger.Reserve(s.costScope, projected); err != nil {
				return &TaskResult{TaskID: id, Err: err, FailureKind: FailureError, Attempts: attempts, Started: started, Finished: time.Now()}
			}
		}

		taskCtx := ctx
		var cancel context.CancelFunc
		if s.policy.TaskTimeout > 0 {
			taskCtx, cancel = context.WithTimeout(ctx, s.policy.TaskTimeout)
		}
		out, err := node.Run(taskCtx)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			return &TaskResult{TaskID: id, Output: out, Attempts: attempts, Started: started, Finished: time.Now()}
		}

		lastErr = err
		if errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
			lastKind = FailureTimeout
		} else {
			lastKind = FailureError
		}

		if attempt == retry.MaxAttempts {
			break
		}
		wait := retry.delay(attempt, rng)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			lastKind = FailureTimeout
			return &TaskResult{TaskID: id, Err: ctx.Err(), FailureKind: lastKind, Attempts: attempts, Started: started, Finished: time.Now()}
		}
	}
	return &TaskResult{TaskID: id, Err: lastErr, FailureKind: lastKind, Attempts: attempts, Started: started, Finished: time.Now()}
}

// advance records tr, propagates failure per the cancellation policy, and
// returns the next batch of tasks ready to dispatch (already fairness
// ordered).
func (s *scheduler) advance(tr *TaskResult) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[tr.TaskID] = tr

	if tr.Err != nil {
		if s.policy.Cancellation == CancellationCascading {
			s.abortAll = true
			s.skipRemainingLocked()
			return nil
		}
		s.skipDescendantsLocked(tr.TaskID)
		return s.sortedReady(s.readyFromLocked(tr.TaskID))
	}

	return s.sortedReady(s.readyFromLocked(tr.TaskID))
}

// readyFromLocked decrements the in-degree of tr's dependents and returns
// those that reach zero, skipping ones already skipped or already launched
// (dispatch is idempotent per id).
func (s *scheduler) readyFromLocked(id string) []string {
	var ready []string
	for _, dep := range s.dependents[id] {
		if s.skipped[dep] || s.launched[dep] {
			continue
		}
		s.inDegree[dep]--
		if s.inDegree[dep] <= 0 {
			ready = append(ready, dep)
		}
	}
	return ready
}

// skipDescendantsLocked marks id's dependent subtree skipped. A dependent
// already launched but still queued on the semaphore is still caught here;
// its goroutine re-checks skipped before actually running. Only a dependent
// that has already started running is left alone.
func (s *scheduler) skipDescendantsLocked(id string) {
	queue := append([]string(nil), s.dependents[id]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if s.skipped[next] || s.running[next] {
			continue
		}
		if _, done := s.results[next]; done {
			continue
		}
		s.skipped[next] = true
		s.results[next] = &TaskResult{TaskID: next, Err: ErrDependencyFailed, FailureKind: FailureError, Skipped: true, Started: time.Now(), Finished: time.Now()}
		queue = append(queue, s.dependents[next]...)
	}
}

// skipRemainingLocked marks every task in the graph that hasn't yet started
// running as skipped — including ones already launched but still queued on
// the semaphore, which is precisely "still-queued independents" from the
// cascading-cancellation edge case.
func (s *scheduler) skipRemainingLocked() {
	for id := range s.graph.nodes {
		if s.skipped[id] || s.running[id] {
			continue
		}
		if _, done := s.results[id]; done {
			continue
		}
		s.skipped[id] = true
		s.results[id] = &TaskResult{TaskID: id, Err: ErrCascadeAborted, FailureKind: FailureError, Skipped: true, Started: time.Now(), Finished: time.Now()}
	}
}

func (s *scheduler) snapshot() map[string]*TaskResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*TaskResult, len(s.results))
	for id, tr := range s.results {
		out[id] = tr
	}
	if len(out) < len(s.graph.nodes) {
		// Tasks that never ran and were never explicitly skipped (can only
		// happen if the overall context was cancelled before they were
		// reached) are reported as TIMEOUT rather than silently omitted.
		for id := range s.graph.nodes {
			if _, ok := out[id]; !ok {
				obslog.Get().Warn("parallel: task never dispatched before graph execution ended", "task_id", id)
				out[id] = &TaskResult{TaskID: id, Err: context.DeadlineExceeded, FailureKind: FailureTimeout, Skipped: true}
			}
		}
	}
	return out
}

func (s *scheduler) aborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abortAll
}

// stringHash is a small FNV-1a hash used only to derive a per-task,
// per-run-deterministic jitter seed from a task id.
func stringHash(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}
