package bus

import (
	"container/heap"
	"sync"
	"time"
)

// priorityHeap orders ready messages by priority desc, then seq asc (FIFO
// tie-break), giving the bus's subscribe() its "strict priority-desc, then
// FIFO" ordering guarantee (spec §4.1).
type priorityHeap []*Message

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *priorityHeap) Push(x any)   { *h = append(*h, x.(*Message)) }
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	m := old[n-1]
	*h = old[:n-1]
	return m
}

// queue holds one queue's full state: durable log, ready heap, in-flight
// (delivered-but-unacked) set, and nack counters for dead-lettering.
type queue struct {
	mu   sync.Mutex
	name string
	dir  string
	log  *wal

	ready   priorityHeap
	inFlight map[string]*Message // id -> message, currently delivered

	nackCounts map[string]int

	nextSeq uint64

	visibilityTimeout   time.Duration
	deadLetterThreshold int

	deadLetter *queue // nil when this queue itself is a dead-letter queue

	notify chan struct{} // signaled whenever a message becomes ready
}

func newQueue(dir, name string, visibilityTimeout time.Duration, deadLetterThreshold int) (*queue, error) {
	log, err := openWAL(dir, name)
	if err != nil {
		return nil, err
	}

	unacked, maxSeq, err := replayWAL(dir, name)
	if err != nil {
		return nil, err
	}

	q := &queue{
		name:                name,
		dir:                 dir,
		log:                 log,
		inFlight:            make(map[string]*Message),
		nackCounts:          make(map[string]int),
		nextSeq:             maxSeq,
		visibilityTimeout:   visibilityTimeout,
		deadLetterThreshold: deadLetterThreshold,
		notify:              make(chan struct{}, 1),
	}
	heap.Init(&q.ready)
	for _, m := range unacked {
		q.ready.Push(m)
	}
	heap.Init(&q.ready)

	return q, nil
}

func (q *queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// publish durably appends and enqueues a new message, returning its id.
func (q *queue) publish(payload map[string]any, priority int, correlationID string) (string, error) {
	q.mu.Lock()
	q.nextSeq++
	m := newMessage(q.name, payload, priority, correlationID)
	m.seq = q.nextSeq
	q.mu.Unlock()

	if err := q.log.appendMessage(m); err != nil {
		return "", err
	}

	q.mu.Lock()
	heap.Push(&q.ready, m)
	q.mu.Unlock()
	q.signal()

	return m.ID, nil
}

// dequeueReady pops the highest-priority ready message, if any, and marks it
// in-flight.
func (q *queue) dequeueReady() *Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ready.Len() == 0 {
		return nil
	}
	m := heap.Pop(&q.ready).(*Message)
	m.deliveries++
	m.deliveredAt = time.Now()
	q.inFlight[m.ID] = m
	return m
}

// ack durably tombstones the message and removes it from in-flight tracking.
func (q *queue) ack(id string) error {
	q.mu.Lock()
	_, ok := q.inFlight[id]
	if ok {
		delete(q.inFlight, id)
		delete(q.nackCounts, id)
	}
	q.mu.Unlock()

	if !ok {
		return ErrMessageNotInFlight
	}
	return q.log.appendAck(id)
}

// nack removes the message from in-flight tracking and, if requeue is true,
// either returns it to the ready heap or, once the dead-letter threshold is
// reached, moves it to the associated dead-letter queue.
func (q *queue) nack(id string, requeue bool) error {
	q.mu.Lock()
	m, ok := q.inFlight[id]
	if !ok {
		q.mu.Unlock()
		return ErrMessageNotInFlight
	}
	delete(q.inFlight, id)

	if !requeue {
		q.mu.Unlock()
		return q.log.appendAck(id)
	}

	q.nackCounts[id]++
	count := q.nackCounts[id]
	deadLetter := q.deadLetterThreshold > 0 && count >= q.deadLetterThreshold
	if !deadLetter {
		heap.Push(&q.ready, m)
	}
	q.mu.Unlock()

	if deadLetter {
		if q.deadLetter != nil {
			if _, err := q.deadLetter.publish(m.Payload, m.Priority, m.CorrelationID); err != nil {
				return err
			}
		}
		return q.log.appendAck(id) // remove from this queue's log either way
	}

	q.signal()
	return nil
}

// reapExpired scans in-flight messages and requeues any that have been
// delivered longer than the visibility timeout without an ack — the bus's
// at-least-once redelivery guarantee.
func (q *queue) reapExpired() {
	q.mu.Lock()
	var expired []*Message
	now := time.Now()
	for id, m := range q.inFlight {
		if now.Sub(m.deliveredAt) >= q.visibilityTimeout {
			delete(q.inFlight, id)
			expired = append(expired, m)
		}
	}
	for _, m := range expired {
		heap.Push(&q.ready, m)
	}
	q.mu.Unlock()

	if len(expired) > 0 {
		q.signal()
	}
}

func (q *queue) peek(limit int) []*Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	cp := make(priorityHeap, len(q.ready))
	copy(cp, q.ready)
	heap.Init(&cp)

	n := limit
	if n <= 0 || n > cp.Len() {
		n = cp.Len()
	}
	out := make([]*Message, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, heap.Pop(&cp).(*Message))
	}
	return out
}

func (q *queue) stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	depth := q.ready.Len() + len(q.inFlight)
	var oldest time.Duration
	for _, m := range q.ready {
		age := time.Since(m.Timestamp)
		if age > oldest {
			oldest = age
		}
	}
	for _, m := range q.inFlight {
		age := time.Since(m.Timestamp)
		if age > oldest {
			oldest = age
		}
	}

	return QueueStats{
		Depth:     depth,
		OldestAge: oldest,
		InFlight:  len(q.inFlight),
	}
}

func (q *queue) close() error {
	return q.log.close()
}
