package pattern

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trinity-os/trinity/internal/obslog"
)

// scoring weights for search(); kept as named constants rather than config
// since the spec pins the contract ("score combines semantic similarity
// with tag match and recency") without exposing tunable weights.
const (
	weightSemantic = 0.6
	weightTag      = 0.25
	weightRecency  = 0.15
)

// Store is the Pattern Store (spec §4.2). It is safe for concurrent use.
type Store struct {
	mu  sync.RWMutex
	dir string

	records map[string]*Record // id -> record
	byKey   map[string]string  // key -> id
	byHash  map[string]string  // content hash -> id

	backend   VectorBackend
	embedder  Embedder
	staleDays int
}

// Open loads (or initializes) a Pattern Store rooted at dir (spec §6:
// state/patterns/), replaying every <id>.json record file it finds.
func Open(dir string, backend VectorBackend, embedder Embedder, staleDays int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("pattern: create state dir: %w", err)
	}

	s := &Store{
		dir:       dir,
		records:   make(map[string]*Record),
		byKey:     make(map[string]string),
		byHash:    make(map[string]string),
		backend:   backend,
		embedder:  embedder,
		staleDays: staleDays,
	}

	entries, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("pattern: glob state dir: %w", err)
	}
	for _, path := range entries {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("pattern: read %s: %w", path, err)
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			// A record file is written atomically (temp + rename, see
			// persist()); a corrupt one here means manual tampering, not a
			// torn write. Skip it rather than fail the whole store open.
			obslog.Get().Warn("pattern: skipping unreadable record", "path", path, "error", err)
			continue
		}
		s.records[rec.ID] = &rec
		s.byKey[rec.Key] = rec.ID
		s.byHash[rec.ContentHash] = rec.ID
	}

	return s, nil
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Store implements the `store` contract: keys are unique; re-storing the
// same key replaces content but preserves usage statistics. Patterns with
// identical content but different keys are de-duplicated at the
// content-hash level (spec §4.2 edge case), aliasing the new key onto the
// existing record rather than creating a duplicate.
func (s *Store) Store(key, content string, tags []string, metadata map[string]any) (string, error) {
	if key == "" {
		return "", fmt.Errorf("pattern: key is required")
	}

	now := time.Now()
	hash := contentHash(content)

	s.mu.Lock()
	var rec *Record
	if existingID, ok := s.byHash[hash]; ok {
		// Identical content already stored under some key: alias this key
		// onto it and merge usage stats (there's nothing to merge but the
		// alias itself, since the record already carries the canonical
		// counters).
		rec = s.records[existingID]
		s.byKey[key] = existingID
		rec.LastSeen = now
		rec.Tags = unionTags(rec.Tags, tags)
	} else if existingID, ok := s.byKey[key]; ok {
		// Re-storing an existing key with new content: replace content,
		// preserve usage statistics.
		rec = s.records[existingID]
		delete(s.byHash, rec.ContentHash)
		rec.Content = content
		rec.ContentHash = hash
		rec.Tags = tags
		rec.Metadata = metadata
		rec.LastSeen = now
		rec.embeddingCurrent = false
		s.byHash[hash] = existingID
	} else {
		rec = &Record{
			ID:          uuid.NewString(),
			Key:         key,
			ContentHash: hash,
			Content:     content,
			Tags:        tags,
			Metadata:    metadata,
			FirstSeen:   now,
			LastSeen:    now,
		}
		rec.recomputeConfidence(now, s.staleDays)
		s.records[rec.ID] = rec
		s.byKey[key] = rec.ID
		s.byHash[hash] = rec.ID
	}
	id := rec.ID
	snapshot := *rec
	s.mu.Unlock()

	if err := s.persist(&snapshot); err != nil {
		return "", err
	}

	// Embedding is computed lazily and best-effort: a failure here must
	// never fail the write (spec §4.2 failure semantics).
	go s.ensureEmbedded(id)

	return id, nil
}

func unionTags(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, t := range append(append([]string{}, a...), b...) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Get resolves either a record id or a key to its record.
func (s *Store) Get(idOrKey string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.records[idOrKey]; ok {
		cp := *rec
		return &cp, nil
	}
	if id, ok := s.byKey[idOrKey]; ok {
		cp := *s.records[id]
		return &cp, nil
	}
	return nil, ErrNotFound
}

// All returns a snapshot of every non-deprecated record, for offline
// consumers (the Meta-Learner) that need to scan the whole store rather
// than rank against one query.
func (s *Store) All() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		if rec.Deprecated {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out
}

// ensureEmbedded computes and indexes the embedding for rec if it isn't
// current, logging (rather than propagating) any failure.
func (s *Store) ensureEmbedded(id string) {
	s.mu.RLock()
	rec, ok := s.records[id]
	current := ok && rec.embeddingCurrent
	content := ""
	if ok {
		content = rec.Content
	}
	s.mu.RUnlock()
	if !ok || current {
		return
	}

	vec, err := s.embedder.Embed(content)
	if err != nil {
		obslog.Get().Warn("pattern: embedding failed, falling back to tag search", "id", id, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.backend.Upsert(ctx, id, vec); err != nil {
		obslog.Get().Warn("pattern: vector backend upsert failed", "id", id, "error", err)
		return
	}

	s.mu.Lock()
	if rec, ok := s.records[id]; ok {
		rec.embeddingCurrent = true
	}
	s.mu.Unlock()
}

// Search implements the `search` contract: ordered (record, score) pairs,
// score combining semantic similarity, tag overlap, and recency, with
// deterministic id tie-breaking. Embedding-backend unavailability degrades
// to tag+recency ranking without error (spec §4.2 failure semantics);
// vector-backend unavailability during an otherwise-successful search is
// likewise swallowed into the degraded path, since a typed error there
// would defeat the "restartable, always yields a finite sequence"
// guarantee. The degradation is only logged at debug level; the returned
// matches do not record whether it happened.
func (s *Store) Search(query string, tags []string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 10
	}

	s.mu.RLock()
	candidates := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		if rec.Deprecated {
			continue
		}
		cp := *rec
		candidates = append(candidates, &cp)
	}
	s.mu.RUnlock()

	semantic := make(map[string]float64)
	if query != "" {
		vec, err := s.embedder.Embed(query)
		if err != nil {
			obslog.Get().Debug("pattern: query embedding failed, degrading to tag+recency search", "error", err)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			matches, serr := s.backend.Search(ctx, vec, len(candidates))
			cancel()
			if serr != nil {
				obslog.Get().Debug("pattern: vector backend search failed, degrading to tag+recency search", "error", serr)
			} else {
				for _, m := range matches {
					semantic[m.ID] = m.Similarity
				}
			}
		}
	}

	now := time.Now()
	out := make([]Match, 0, len(candidates))
	for _, rec := range candidates {
		tagScore := 1.0
		if len(tags) > 0 {
			tagScore = tagOverlap(rec.Tags, tags)
		}
		recency := recencyWeight(now, rec.LastSeen, s.staleDays)
		score := weightSemantic*semantic[rec.ID] + weightTag*tagScore + weightRecency*recency
		out = append(out, Match{Record: rec, Score: clamp01(score)})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Record.ID < out[j].Record.ID
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func tagOverlap(have, want []string) float64 {
	if len(want) == 0 {
		return 1.0
	}
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	matched := 0
	for _, t := range want {
		if _, ok := set[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(want))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// UpdateUsage atomically updates the success/failure counters and triggers
// confidence recomputation (spec §4.2, invariant §3.4).
func (s *Store) UpdateUsage(id string, outcome Outcome) error {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	switch outcome {
	case OutcomeSuccess:
		rec.SuccessCount++
	case OutcomeFailure:
		rec.FailureCount++
	default:
		s.mu.Unlock()
		return fmt.Errorf("pattern: unknown outcome %q", outcome)
	}
	rec.LastSeen = time.Now()
	rec.recomputeConfidence(rec.LastSeen, s.staleDays)
	snapshot := *rec
	s.mu.Unlock()

	return s.persist(&snapshot)
}

// Deprecate marks a record hidden from default search but retained for
// audit (spec §4.2).
func (s *Store) Deprecate(id, reason string) error {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	rec.Deprecated = true
	rec.DeprecatedReason = reason
	snapshot := *rec
	s.mu.Unlock()

	return s.persist(&snapshot)
}

// persist writes rec to state/patterns/<id>.json via write-temp-then-rename,
// so a reader never observes a partially written record (mirroring the
// checkpoint store's atomic-write discipline the teacher applies to
// pkg/checkpoint/storage.go).
func (s *Store) persist(rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("pattern: marshal record: %w", err)
	}

	path := filepath.Join(s.dir, rec.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("pattern: write record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("pattern: rename record: %w", err)
	}
	return nil
}

// Close releases the underlying vector backend.
func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}
