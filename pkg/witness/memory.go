package witness

import (
	"strings"
	"sync"
	"time"
)

// shortTermMemory is a bounded sliding window of recently observed events,
// grounded on the teacher's buffer-window working-memory strategy (keep
// the last N, drop the rest) generalized with a time bound as well as a
// count bound so "within a sliding window" (spec's recurring_topic
// requirement) means both "recent enough" and "not unboundedly many".
type shortTermMemory struct {
	mu     sync.Mutex
	size   int
	window time.Duration
	events []Event
}

func newShortTermMemory(size int, window time.Duration) *shortTermMemory {
	if size <= 0 {
		size = 200
	}
	if window <= 0 {
		window = time.Hour
	}
	return &shortTermMemory{size: size, window: window}
}

// record appends event, evicting anything older than the window and, if
// still over capacity, the oldest remaining entries.
func (m *shortTermMemory) record(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	m.events = append(m.events, event)
	m.evictLocked(event.Timestamp)
}

func (m *shortTermMemory) evictLocked(now time.Time) {
	cutoff := now.Add(-m.window)
	kept := m.events[:0]
	for _, e := range m.events {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	m.events = kept

	if len(m.events) > m.size {
		m.events = m.events[len(m.events)-m.size:]
	}
}

// countMatchingTags returns the number of events currently in the window
// whose content keywords overlap tags at all — the times_seen evidence
// count a recurring_topic Signal needs.
func (m *shortTermMemory) countMatchingTags(tags []string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	tagSet := make(map[string]bool, len(tags))
	for _, t := range tags {
		tagSet[strings.ToLower(t)] = true
	}

	count := 0
	for _, e := range m.events {
		for _, kw := range keywordsOf(e) {
			if tagSet[kw] {
				count++
				break
			}
		}
	}
	return count
}
