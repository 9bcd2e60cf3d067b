// Package witness implements the WITNESS meta-agent: pattern detection
// over ambient and telemetry events. observe(event) classifies an Event
// against the Pattern Store and, when a pattern's confidence and
// min-evidence thresholds are met, emits a Signal to signal_queue.
// WITNESS never blocks upstream producers: a classification error is
// logged and retried a bounded number of times, then the event is
// dropped with a logged reason.
package witness

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trinity-os/trinity/pkg/bus"
	"github.com/trinity-os/trinity/pkg/pattern"
)

const signalQueue = "signal_queue"

// Category is one of the closed set of Signal categories.
type Category string

const (
	CategoryUserIntent     Category = "user_intent"
	CategoryOpportunity    Category = "opportunity"
	CategoryFailure        Category = "failure"
	CategoryRecurringTopic Category = "recurring_topic"
)

// Event is one unit of ambient or telemetry input. Immutable once emitted.
type Event struct {
	ID         string
	Source     string
	Timestamp  time.Time
	Content    string
	Confidence float64
	Metadata   map[string]any
}

// Evidence backs a Signal's classification.
type Evidence struct {
	TimesSeen int
	Keywords  []string
	Timeframe time.Duration
}

// Signal is WITNESS's output: a classified Event tied to a matched
// pattern, published to signal_queue.
type Signal struct {
	ID            string
	PatternName   string
	Category      Category
	Confidence    float64
	Evidence      Evidence
	CorrelationID string
}

// categoryPriority derives plan/signal queue priority from a Signal's
// category — failure is the most urgent, recurring topics the least.
func categoryPriority(c Category) int {
	switch c {
	case CategoryFailure:
		return 10
	case CategoryUserIntent:
		return 7
	case CategoryOpportunity:
		return 5
	case CategoryRecurringTopic:
		return 2
	default:
		return 0
	}
}

// Witness classifies Events against the Pattern Store and emits Signals.
type Witness struct {
	bus    *bus.Bus
	store  *pattern.Store
	memory *shortTermMemory
	logger *slog.Logger

	confidenceFloor float64
	tagOverlapFloor float64
	minEvidence     map[Category]int
	maxRetries      int
}

// Option configures a Witness at construction time.
type Option func(*Witness)

// WithConfidenceFloor sets the minimum combined (tag-overlap, semantic)
// score a pattern match must clear to emit a Signal. Default 0.5.
func WithConfidenceFloor(f float64) Option { return func(w *Witness) { w.confidenceFloor = f } }

// WithTagOverlapFloor sets the minimum tag/keyword overlap ratio a
// candidate pattern must clear before its semantic score is even
// considered. Default 0.2.
func WithTagOverlapFloor(f float64) Option { return func(w *Witness) { w.tagOverlapFloor = f } }

// WithMinEvidence overrides the default min `times_seen` threshold for a
// Signal category.
func WithMinEvidence(category Category, n int) Option {
	return func(w *Witness) { w.minEvidence[category] = n }
}

// WithMaxRetries sets how many times observe retries a classification
// failure before dropping the event. Default 3.
func WithMaxRetries(n int) Option { return func(w *Witness) { w.maxRetries = n } }

// WithWindow sets the short-term memory's sliding window size and
// duration, used to satisfy recurring_topic's times_seen≥k requirement.
func WithWindow(size int, within time.Duration) Option {
	return func(w *Witness) { w.memory = newShortTermMemory(size, within) }
}

// WithLogger overrides the default slog.Default().
func WithLogger(logger *slog.Logger) Option { return func(w *Witness) { w.logger = logger } }

// New returns a Witness observing events against store and publishing
// Signals onto b.
func New(b *bus.Bus, store *pattern.Store, opts ...Option) *Witness {
	w := &Witness{
		bus:             b,
		store:           store,
		memory:          newShortTermMemory(200, time.Hour),
		logger:          slog.Default(),
		confidenceFloor: 0.5,
		tagOverlapFloor: 0.2,
		minEvidence: map[Category]int{
			CategoryUserIntent:     1,
			CategoryOpportunity:    1,
			CategoryFailure:        1,
			CategoryRecurringTopic: 3,
		},
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Observe classifies event against the Pattern Store, retrying up to
// maxRetries times on a classification error, and emits zero or more
// Signals — one per pattern clearing both thresholds, all sharing one
// correlation_id (ambiguous classification: multiple patterns above
// threshold emit one Signal per pattern). Observe never returns an error
// that should stop the caller's event loop: failures are logged and
// swallowed, per WITNESS's "never blocks upstream producers" contract.
func (w *Witness) Observe(ctx context.Context, event Event) []Signal {
	w.memory.record(event)

	var matches []pattern.Match
	var err error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		matches, err = w.store.Search(event.Content, keywordsOf(event), 10)
		if err == nil {
			break
		}
		w.logger.Warn("witness: classification attempt failed", "event_id", event.ID, "attempt", attempt, "error", err)
	}
	if err != nil {
		w.logger.Error("witness: dropping event after exhausting retries", "event_id", event.ID, "reason", err.Error())
		return nil
	}

	correlationID := uuid.NewString()
	var signals []Signal

	for _, m := range matches {
		category := categoryOf(m.Record)
		overlap := tagOverlap(keywordsOf(event), m.Record.Tags)
		if overlap < w.tagOverlapFloor {
			continue
		}

		combined := combinedScore(overlap, m.Score)
		if combined < w.confidenceFloor {
			continue
		}

		timesSeen := w.memory.countMatchingTags(m.Record.Tags)
		if timesSeen < w.minEvidence[category] {
			continue
		}

		signal := Signal{
			ID:          uuid.NewString(),
			PatternName: m.Record.Key,
			Category:    category,
			Confidence:  combined,
			Evidence: Evidence{
				TimesSeen: timesSeen,
				Keywords:  keywordsOf(event),
				Timeframe: w.memory.window,
			},
			CorrelationID: correlationID,
		}
		signals = append(signals, signal)

		if err := w.publish(ctx, signal); err != nil {
			w.logger.Error("witness: publish signal failed", "signal_id", signal.ID, "error", err)
		}
	}

	return signals
}

func (w *Witness) publish(ctx context.Context, s Signal) error {
	payload := map[string]any{
		"id":             s.ID,
		"pattern_name":   s.PatternName,
		"category":       string(s.Category),
		"confidence":     s.Confidence,
		"times_seen":     s.Evidence.TimesSeen,
		"keywords":       s.Evidence.Keywords,
		"correlation_id": s.CorrelationID,
	}
	_, err := w.bus.Publish(ctx, signalQueue, payload, categoryPriority(s.Category), s.CorrelationID)
	return err
}

// categoryOf derives a Signal category from a pattern record's own
// metadata category field, defaulting to opportunity when unset.
func categoryOf(r *pattern.Record) Category {
	if r.Metadata != nil {
		if c, ok := r.Metadata["category"].(string); ok {
			switch Category(c) {
			case CategoryUserIntent, CategoryOpportunity, CategoryFailure, CategoryRecurringTopic:
				return Category(c)
			}
		}
	}
	return CategoryOpportunity
}

func keywordsOf(event Event) []string {
	return strings.Fields(strings.ToLower(event.Content))
}

// tagOverlap returns |keywords ∩ tags| / max(1, |tags|).
func tagOverlap(keywords, tags []string) float64 {
	if len(tags) == 0 {
		return 0
	}
	set := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		set[strings.ToLower(k)] = true
	}
	hits := 0
	for _, tag := range tags {
		if set[strings.ToLower(tag)] {
			hits++
		}
	}
	return float64(hits) / float64(len(tags))
}

// combinedScore blends tag/keyword overlap and the Pattern Store's
// semantic similarity score into the single confidence value a Signal
// carries forward.
func combinedScore(overlap, semantic float64) float64 {
	return 0.4*overlap + 0.6*semantic
}
