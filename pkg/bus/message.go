// Package bus implements the Trinity Orchestration Core's durable,
// priority-ordered, at-least-once message bus (spec §4.1). Messages are
// appended to a per-queue write-ahead log under state/bus/<queue>.log (one
// JSON object per line, per spec §6) so a published message survives an
// unclean process exit; on restart the bus replays the log and rebuilds its
// in-memory priority index before any Subscribe call is served.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// Message is a single bus record, matching the wire format of spec §6.
type Message struct {
	ID            string          `json:"id"`
	Queue         string          `json:"queue"`
	Timestamp     time.Time       `json:"ts"`
	Priority      int             `json:"priority"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       map[string]any  `json:"payload"`
	Acked         bool            `json:"acked"`

	// seq disambiguates FIFO order among equal-priority messages. Not part
	// of the wire format; assigned by the bus on append.
	seq uint64

	// deliveries and deliveredAt track at-least-once redelivery bookkeeping;
	// neither is persisted, since a crash before ack always means
	// "redeliver", which is the at-least-once contract already requires.
	deliveries  int
	deliveredAt time.Time
}

// newMessage builds a Message with a fresh id and current timestamp.
func newMessage(queue string, payload map[string]any, priority int, correlationID string) *Message {
	return &Message{
		ID:            uuid.NewString(),
		Queue:         queue,
		Timestamp:     time.Now(),
		Priority:      priority,
		CorrelationID: correlationID,
		Payload:       payload,
	}
}

// QueueStats reports observability data for a single queue (spec §4.1 `stats`).
type QueueStats struct {
	Depth      int           // messages ready or in-flight, not yet acked
	OldestAge  time.Duration // age of the oldest unacked message, 0 if empty
	InFlight   int           // messages delivered but not yet acked/nacked
}
