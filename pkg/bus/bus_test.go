package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishSubscribeOrdering(t *testing.T) {
	// Scenario 2 from spec §8: priorities {A:1, B:3, C:2} published in that
	// order must be received as B, C, A.
	dir := t.TempDir()
	b, err := Open(Options{StateDir: dir})
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = b.Publish(ctx, "signal_queue", map[string]any{"name": "A"}, 1, "")
	require.NoError(t, err)
	_, err = b.Publish(ctx, "signal_queue", map[string]any{"name": "B"}, 3, "")
	require.NoError(t, err)
	_, err = b.Publish(ctx, "signal_queue", map[string]any{"name": "C"}, 2, "")
	require.NoError(t, err)

	msgs, err := b.Subscribe(ctx, "signal_queue")
	require.NoError(t, err)

	var order []string
	for i := 0; i < 3; i++ {
		m := <-msgs
		order = append(order, m.Payload["name"].(string))
		require.NoError(t, b.Ack("signal_queue", m.ID))
	}

	require.Equal(t, []string{"B", "C", "A"}, order)
}

func TestCrashResumeRoundtrip(t *testing.T) {
	// Scenario 1 from spec §8.
	dir := t.TempDir()

	func() {
		b, err := Open(Options{StateDir: dir})
		require.NoError(t, err)
		defer b.Close()

		ctx := context.Background()
		_, err = b.Publish(ctx, "execution_queue", map[string]any{"task": "critical"}, 10, "")
		require.NoError(t, err)
		_, err = b.Publish(ctx, "execution_queue", map[string]any{"task": "normal"}, 5, "")
		require.NoError(t, err)
		// Simulate a crash: no Ack, no graceful Close of in-flight state.
	}()

	// Restart: a fresh Bus over the same directory.
	b2, err := Open(Options{StateDir: dir})
	require.NoError(t, err)
	defer b2.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msgs, err := b2.Subscribe(ctx, "execution_queue")
	require.NoError(t, err)

	first := <-msgs
	require.Equal(t, "critical", first.Payload["task"])
	second := <-msgs
	require.Equal(t, "normal", second.Payload["task"])
}

func TestAckPreventsRedelivery(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(Options{StateDir: dir, VisibilityTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	id, err := b.Publish(ctx, "q", map[string]any{"x": 1}, 0, "")
	require.NoError(t, err)

	msgs, err := b.Subscribe(ctx, "q")
	require.NoError(t, err)

	m := <-msgs
	require.Equal(t, id, m.ID)
	require.NoError(t, b.Ack("q", id))

	time.Sleep(150 * time.Millisecond) // past visibility timeout

	select {
	case <-msgs:
		t.Fatal("acked message was redelivered")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestUnackedRedeliveryAfterVisibilityTimeout(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(Options{StateDir: dir, VisibilityTimeout: 30 * time.Millisecond})
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	id, err := b.Publish(ctx, "q", map[string]any{"x": 1}, 0, "")
	require.NoError(t, err)

	msgs, err := b.Subscribe(ctx, "q")
	require.NoError(t, err)

	first := <-msgs
	require.Equal(t, id, first.ID)
	// Simulate a crash mid-processing: never ack, never nack. The
	// visibility-timeout reaper should redeliver it.

	second := <-msgs
	require.Equal(t, id, second.ID)
	require.NoError(t, b.Ack("q", id))
}

func TestDeadLetterAfterNthNack(t *testing.T) {
	// Testable property from spec §4.1: a message nacked exactly N times
	// with requeue=true ends up in the dead-letter queue on the Nth nack.
	dir := t.TempDir()
	b, err := Open(Options{StateDir: dir, DeadLetterThreshold: 3})
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	id, err := b.Publish(ctx, "q", map[string]any{"x": 1}, 0, "")
	require.NoError(t, err)

	msgs, err := b.Subscribe(ctx, "q")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		m := <-msgs
		require.Equal(t, id, m.ID)
		require.NoError(t, b.Nack("q", id, true))
	}

	stats, err := b.Stats("q")
	require.NoError(t, err)
	require.Equal(t, 0, stats.Depth)

	deadStats, err := b.Stats("q.dead")
	require.NoError(t, err)
	require.Equal(t, 1, deadStats.Depth)
}

func TestPeekDoesNotDequeue(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(Options{StateDir: dir})
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	_, err = b.Publish(ctx, "q", map[string]any{"x": 1}, 0, "")
	require.NoError(t, err)

	peeked, err := b.Peek("q", 10)
	require.NoError(t, err)
	require.Len(t, peeked, 1)

	stats, err := b.Stats("q")
	require.NoError(t, err)
	require.Equal(t, 1, stats.Depth)
}
