package bus

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Sentinel errors, surfaced rather than swallowed per spec §7's propagation
// policy: callers decide escalation for everything except transient I/O.
var (
	ErrMessageNotInFlight = errors.New("bus: message not in-flight (already acked, or unknown id)")
	ErrQueueNotFound      = errors.New("bus: queue not found")
)

const defaultVisibilityTimeout = 5 * time.Minute
const defaultDeadLetterThreshold = 5

// Options configures a Bus.
type Options struct {
	// StateDir is the directory under which state/bus/<queue>.log files are
	// written (spec §6).
	StateDir string

	// VisibilityTimeout is how long a delivered-but-unacked message stays
	// invisible to other subscribers before it is redelivered. Zero selects
	// the spec default of 5 minutes.
	VisibilityTimeout time.Duration

	// DeadLetterThreshold is how many nacks-with-requeue a message survives
	// before being moved to "<queue>.dead". Zero selects the spec default
	// of 5.
	DeadLetterThreshold int

	// PublishMaxAttempts bounds the retry loop around a single publish; once
	// exhausted, the error is surfaced to the caller (spec §4.1 failure
	// semantics).
	PublishMaxAttempts int
}

func (o Options) withDefaults() Options {
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = defaultVisibilityTimeout
	}
	if o.DeadLetterThreshold <= 0 {
		o.DeadLetterThreshold = defaultDeadLetterThreshold
	}
	if o.PublishMaxAttempts <= 0 {
		o.PublishMaxAttempts = 5
	}
	return o
}

// Bus is the durable, priority-ordered message bus described in spec §4.1.
// It is safe for concurrent use by multiple publishers and subscribers.
type Bus struct {
	opts    Options
	mu      sync.Mutex
	queues  map[string]*queue
	reapers sync.WaitGroup
	stopCh  chan struct{}
}

// Open opens (or creates) a bus rooted at opts.StateDir, replaying every
// existing queue log it discovers so previously-unacked messages are
// visible to the first Subscribe call — this is what makes a publish
// durable across a crash-and-restart (spec §8 scenario 1).
func Open(opts Options) (*Bus, error) {
	opts = opts.withDefaults()
	if opts.StateDir == "" {
		return nil, fmt.Errorf("bus: StateDir is required")
	}

	b := &Bus{
		opts:   opts,
		queues: make(map[string]*queue),
		stopCh: make(chan struct{}),
	}

	existing, _ := filepath.Glob(filepath.Join(opts.StateDir, "*.log"))
	for _, path := range existing {
		name := filepath.Base(path)
		name = name[:len(name)-len(".log")]
		if _, err := b.ensureQueue(name); err != nil {
			return nil, err
		}
	}

	b.reapers.Add(1)
	go b.reapLoop()

	return b, nil
}

func (b *Bus) ensureQueue(name string) (*queue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.queues[name]; ok {
		return q, nil
	}

	q, err := newQueue(b.opts.StateDir, name, b.opts.VisibilityTimeout, b.opts.DeadLetterThreshold)
	if err != nil {
		return nil, err
	}

	// Every live queue gets its own dead-letter queue, named "<queue>.dead",
	// wired once so a repeatedly-nacked message has somewhere to go
	// (spec §4.1 dead-letter requirement). The dead-letter queue itself has
	// no dead-letter threshold: it is the end of the line.
	if filepath.Ext(name) != ".dead" {
		dl, err := newQueue(b.opts.StateDir, name+".dead", b.opts.VisibilityTimeout, 0)
		if err != nil {
			return nil, err
		}
		q.deadLetter = dl
		b.queues[name+".dead"] = dl
	}

	b.queues[name] = q
	return q, nil
}

// Publish durably appends message to queue and returns its id, retrying
// transient failures with bounded exponential backoff before surfacing an
// error to the caller (spec §4.1).
func (b *Bus) Publish(ctx context.Context, queueName string, payload map[string]any, priority int, correlationID string) (string, error) {
	q, err := b.ensureQueue(queueName)
	if err != nil {
		return "", err
	}

	operation := func() (string, error) {
		id, err := q.publish(payload, priority, correlationID)
		if err != nil {
			return "", err
		}
		return id, nil
	}

	id, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(b.opts.PublishMaxAttempts)),
	)
	if err != nil {
		return "", fmt.Errorf("bus: publish to %s failed after retries: %w", queueName, err)
	}
	return id, nil
}

// Subscribe returns a channel yielding messages from queueName in strict
// priority-desc, then-FIFO order, for as long as ctx is alive. It is
// restartable: a fresh Subscribe call after a crash-and-restart replays
// every previously-unacked message first, since Open() already loaded them
// into the ready heap.
func (b *Bus) Subscribe(ctx context.Context, queueName string) (<-chan *Message, error) {
	q, err := b.ensureQueue(queueName)
	if err != nil {
		return nil, err
	}

	out := make(chan *Message)
	go func() {
		defer close(out)
		for {
			for {
				m := q.dequeueReady()
				if m == nil {
					break
				}
				select {
				case out <- m:
				case <-ctx.Done():
					// Put it back so it isn't lost if the subscriber exits
					// mid-delivery: the requeueing nack makes it ready again
					// at once, and counts toward its dead-letter threshold.
					_ = q.nack(m.ID, true)
					return
				}
			}

			select {
			case <-q.notify:
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Ack acknowledges a previously-delivered message. Once Ack returns nil, the
// message will not be redelivered (spec §4.1 no-duplicates guarantee).
func (b *Bus) Ack(queueName, id string) error {
	q, err := b.ensureQueue(queueName)
	if err != nil {
		return err
	}
	return q.ack(id)
}

// Nack negatively acknowledges a message. If requeue is true it becomes
// ready again (or is dead-lettered, past the threshold); if false it is
// dropped permanently.
func (b *Bus) Nack(queueName, id string, requeue bool) error {
	q, err := b.ensureQueue(queueName)
	if err != nil {
		return err
	}
	return q.nack(id, requeue)
}

// Peek returns up to limit ready messages without dequeuing them, for
// observability (spec §4.1).
func (b *Bus) Peek(queueName string, limit int) ([]*Message, error) {
	q, err := b.ensureQueue(queueName)
	if err != nil {
		return nil, err
	}
	return q.peek(limit), nil
}

// Stats reports queue depth, oldest-message age, and in-flight count.
func (b *Bus) Stats(queueName string) (QueueStats, error) {
	q, err := b.ensureQueue(queueName)
	if err != nil {
		return QueueStats{}, err
	}
	return q.stats(), nil
}

// Close stops background reaping and closes every queue's log file.
func (b *Bus) Close() error {
	close(b.stopCh)
	b.reapers.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for _, q := range b.queues {
		if err := q.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *Bus) reapLoop() {
	defer b.reapers.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.mu.Lock()
			queues := make([]*queue, 0, len(b.queues))
			for _, q := range b.queues {
				queues = append(queues, q)
			}
			b.mu.Unlock()

			for _, q := range queues {
				q.reapExpired()
			}
		}
	}
}
