package parallel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sleepTask(id string, d time.Duration) TaskNode {
	return TaskNode{ID: id, Run: func(ctx context.Context) (any, error) {
		select {
		case <-time.After(d):
			return id, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
}

func TestParallelSpeedupAtMaxConcurrencyFour(t *testing.T) {
	// Spec scenario 4: 4 independent 1s tasks, max_concurrency=4 → < 1.5s.
	g := NewGraph()
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, g.AddTask(sleepTask(id, time.Second)))
	}
	policy := DefaultPolicy()
	policy.MaxConcurrency = 4

	start := time.Now()
	result, err := New(nil).ExecuteGraph(context.Background(), g, policy, "wf-1")
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.True(t, result.Succeeded())
	require.Less(t, elapsed, 1500*time.Millisecond)
}

func TestParallelSerializesAtMaxConcurrencyOne(t *testing.T) {
	// Spec scenario 4: same 4 tasks, max_concurrency=1 → > 3.9s.
	g := NewGraph()
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, g.AddTask(sleepTask(id, time.Second)))
	}
	policy := DefaultPolicy()
	policy.MaxConcurrency = 1

	start := time.Now()
	result, err := New(nil).ExecuteGraph(context.Background(), g, policy, "wf-1")
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.True(t, result.Succeeded())
	require.Greater(t, elapsed, 3900*time.Millisecond)
}

func TestTopologicalOrderRespected(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(id string) func(ctx context.Context) (any, error) {
		return func(ctx context.Context) (any, error) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return id, nil
		}
	}

	g := NewGraph()
	require.NoError(t, g.AddTask(TaskNode{ID: "root", Run: record("root")}))
	require.NoError(t, g.AddTask(TaskNode{ID: "child", DependsOn: []string{"root"}, Run: record("child")}))
	require.NoError(t, g.AddTask(TaskNode{ID: "grandchild", DependsOn: []string{"child"}, Run: record("grandchild")}))

	result, err := New(nil).ExecuteGraph(context.Background(), g, DefaultPolicy(), "wf-1")
	require.NoError(t, err)
	require.True(t, result.Succeeded())
	require.Equal(t, []string{"root", "child", "grandchild"}, order)
}

func TestCycleRejectedAtValidation(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddTask(TaskNode{ID: "a", DependsOn: []string{"b"}}))
	require.NoError(t, g.AddTask(TaskNode{ID: "b", DependsOn: []string{"a"}}))

	_, err := New(nil).ExecuteGraph(context.Background(), g, DefaultPolicy(), "wf-1")
	require.Error(t, err)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
}

func TestRetrySucceedsRecordsAttempts(t *testing.T) {
	var calls int32
	g := NewGraph()
	require.NoError(t, g.AddTask(TaskNode{ID: "flaky", Run: func(ctx context.Context) (any, error) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	}}))

	policy := DefaultPolicy()
	policy.Retry = RetryPolicy{MaxAttempts: 5, Backoff: BackoffFixed, BaseDelay: time.Millisecond}

	result, err := New(nil).ExecuteGraph(context.Background(), g, policy, "wf-1")
	require.NoError(t, err)
	require.Equal(t, 3, result.Tasks["flaky"].Attempts)
	require.NoError(t, result.Tasks["flaky"].Err)
}

func TestTaskTimeoutDistinctFromError(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddTask(TaskNode{ID: "slow", Run: func(ctx context.Context) (any, error) {
		select {
		case <-time.After(time.Second):
			return "too slow", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}))

	policy := DefaultPolicy()
	policy.TaskTimeout = 10 * time.Millisecond
	policy.Retry = RetryPolicy{MaxAttempts: 1}

	result, err := New(nil).ExecuteGraph(context.Background(), g, policy, "wf-1")
	require.NoError(t, err)
	require.Equal(t, FailureTimeout, result.Tasks["slow"].FailureKind)
}

func TestCascadingCancellationAbortsIndependentQueuedTasks(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddTask(TaskNode{ID: "fails", Run: func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	}}))
	require.NoError(t, g.AddTask(TaskNode{ID: "independent", Run: func(ctx context.Context) (any, error) {
		time.Sleep(50 * time.Millisecond)
		return "ok", nil
	}}))

	policy := DefaultPolicy()
	policy.MaxConcurrency = 1
	policy.Cancellation = CancellationCascading
	policy.Retry = RetryPolicy{MaxAttempts: 1}

	result, err := New(nil).ExecuteGraph(context.Background(), g, policy, "wf-1")
	require.NoError(t, err)
	require.True(t, result.Aborted)
	require.Error(t, result.Tasks["independent"].Err)
}

func TestIsolatedCancellationLetsIndependentBranchesFinish(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddTask(TaskNode{ID: "fails", Run: func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	}}))
	require.NoError(t, g.AddTask(TaskNode{ID: "dependent", DependsOn: []string{"fails"}, Run: func(ctx context.Context) (any, error) {
		return "should not run", nil
	}}))
	require.NoError(t, g.AddTask(TaskNode{ID: "independent", Run: func(ctx context.Context) (any, error) {
		return "ok", nil
	}}))

	policy := DefaultPolicy()
	policy.Cancellation = CancellationIsolated
	policy.Retry = RetryPolicy{MaxAttempts: 1}

	result, err := New(nil).ExecuteGraph(context.Background(), g, policy, "wf-1")
	require.NoError(t, err)
	require.False(t, result.Aborted)
	require.ErrorIs(t, result.Tasks["dependent"].Err, ErrDependencyFailed)
	require.True(t, result.Tasks["dependent"].Skipped)
	require.NoError(t, result.Tasks["independent"].Err)
}
