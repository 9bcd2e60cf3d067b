package pattern

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	backend, err := NewChromemBackend(dir)
	require.NoError(t, err)
	s, err := Open(dir, backend, NewHashEmbedder(64), 90)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreAndGetByKeyAndID(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Store("retry-with-backoff", "retry failed network calls with exponential backoff",
		[]string{"resilience", "network"}, map[string]any{"origin": "test"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	byID, err := s.Get(id)
	require.NoError(t, err)
	require.Equal(t, "retry-with-backoff", byID.Key)

	byKey, err := s.Get("retry-with-backoff")
	require.NoError(t, err)
	require.Equal(t, id, byKey.ID)
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("does-not-exist")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReStoreSameKeyPreservesUsageStats(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Store("k1", "original content", nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.UpdateUsage(id, OutcomeSuccess))
	require.NoError(t, s.UpdateUsage(id, OutcomeFailure))

	id2, err := s.Store("k1", "revised content", nil, nil)
	require.NoError(t, err)
	require.Equal(t, id, id2)

	rec, err := s.Get(id)
	require.NoError(t, err)
	require.Equal(t, "revised content", rec.Content)
	require.Equal(t, 1, rec.SuccessCount)
	require.Equal(t, 1, rec.FailureCount)
}

func TestIdenticalContentDifferentKeysDeduplicate(t *testing.T) {
	s := newTestStore(t)

	id1, err := s.Store("key-a", "shared content body", nil, nil)
	require.NoError(t, err)
	id2, err := s.Store("key-b", "shared content body", nil, nil)
	require.NoError(t, err)

	require.Equal(t, id1, id2)

	byA, err := s.Get("key-a")
	require.NoError(t, err)
	byB, err := s.Get("key-b")
	require.NoError(t, err)
	require.Equal(t, byA.ID, byB.ID)
}

func TestUpdateUsageRecomputesConfidence(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Store("k", "content", nil, nil)
	require.NoError(t, err)

	for i := 0; i < 9; i++ {
		require.NoError(t, s.UpdateUsage(id, OutcomeSuccess))
	}
	require.NoError(t, s.UpdateUsage(id, OutcomeFailure))

	rec, err := s.Get(id)
	require.NoError(t, err)
	require.Equal(t, 9, rec.SuccessCount)
	require.Equal(t, 1, rec.FailureCount)
	require.Equal(t, 10, rec.Frequency())
	// ratio 0.9, fresh record so recency weight ~1: confidence should sit
	// close to the ratio, well above the neutral 0.5 a stale record decays to.
	require.Greater(t, rec.Confidence, 0.8)
}

func TestDeprecateHidesFromSearch(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Store("k", "retry pattern content about backoff", []string{"resilience"}, nil)
	require.NoError(t, err)

	results, err := s.Search("retry backoff", nil, 10)
	require.NoError(t, err)
	require.True(t, containsID(results, id))

	require.NoError(t, s.Deprecate(id, "superseded"))

	results, err = s.Search("retry backoff", nil, 10)
	require.NoError(t, err)
	require.False(t, containsID(results, id))

	rec, err := s.Get(id)
	require.NoError(t, err)
	require.True(t, rec.Deprecated)
	require.Equal(t, "superseded", rec.DeprecatedReason)
}

func TestSearchTagFilterRanksOverlapHigher(t *testing.T) {
	s := newTestStore(t)

	idMatch, err := s.Store("match", "some pattern content about security audits", []string{"security", "audit"}, nil)
	require.NoError(t, err)
	idOther, err := s.Store("other", "some unrelated pattern content about performance", []string{"performance"}, nil)
	require.NoError(t, err)
	require.NotEqual(t, idMatch, idOther)

	results, err := s.Search("", []string{"security"}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	var matchScore, otherScore float64
	for _, r := range results {
		if r.Record.ID == idMatch {
			matchScore = r.Score
		}
		if r.Record.ID == idOther {
			otherScore = r.Score
		}
	}
	require.Greater(t, matchScore, otherScore)
}

func TestSearchReturnsAllCandidatesOrderedDescByScore(t *testing.T) {
	s := newTestStore(t)

	idA, err := s.Store("a", "alpha content one", nil, nil)
	require.NoError(t, err)
	idB, err := s.Store("b", "beta content two", nil, nil)
	require.NoError(t, err)

	results, err := s.Search("", nil, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.ElementsMatch(t, []string{idA, idB}, []string{results[0].Record.ID, results[1].Record.ID})
	require.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestRecencyWeightDecaysOverStaleness(t *testing.T) {
	now := time.Now()
	fresh := recencyWeight(now, now, 90)
	old := recencyWeight(now, now.Add(-200*24*time.Hour), 90)
	require.Equal(t, 1.0, fresh)
	require.Less(t, old, fresh)
	require.GreaterOrEqual(t, old, 0.0)
}

func containsID(matches []Match, id string) bool {
	for _, m := range matches {
		if m.Record.ID == id {
			return true
		}
	}
	return false
}
