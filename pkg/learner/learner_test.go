package learner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trinity-os/trinity/pkg/bus"
	"github.com/trinity-os/trinity/pkg/hitl"
	"github.com/trinity-os/trinity/pkg/llmclient"
	"github.com/trinity-os/trinity/pkg/pattern"
	"github.com/trinity-os/trinity/pkg/subagent"
)

func newTestPatternStore(t *testing.T) *pattern.Store {
	t.Helper()
	dir := t.TempDir()
	backend, err := pattern.NewChromemBackend(dir)
	require.NoError(t, err)
	s, err := pattern.Open(dir, backend, pattern.NewHashEmbedder(64), 90)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	b, err := bus.Open(bus.Options{StateDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// seedSuccesses stores n precedent records tagged for role and tag, each
// with one recorded success, so they qualify for clustering.
func seedSuccesses(t *testing.T, store *pattern.Store, role subagent.Role, tag string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("precedent:%s:%s:%d", role, tag, i)
		id, err := store.Store(key, fmt.Sprintf("successful %s run #%d using %s", role, i, tag), []string{RoleTag(role), tag}, nil)
		require.NoError(t, err)
		require.NoError(t, store.UpdateUsage(id, pattern.OutcomeSuccess))
	}
}

func TestClusterGroupsByRoleAndTagAboveMinSize(t *testing.T) {
	store := newTestPatternStore(t)
	seedSuccesses(t, store, subagent.Role("code_writer"), "go-http-handler", 3)
	seedSuccesses(t, store, subagent.Role("code_writer"), "rare-tag", 1)

	l, err := New(store, llmclient.NewEcho(""), nil, t.TempDir(), WithRequireApproval(false), WithMinClusterSize(3))
	require.NoError(t, err)

	clusters := l.cluster(store.All())
	require.Len(t, clusters, 1)
	require.Equal(t, subagent.Role("code_writer"), clusters[0].Role)
	require.Equal(t, "go-http-handler", clusters[0].Tag)
	require.Len(t, clusters[0].Records, 3)
}

func TestClusterIgnoresRecordsWithoutRoleTagOrSuccess(t *testing.T) {
	store := newTestPatternStore(t)
	_, err := store.Store("untagged", "no role tag here", []string{"go-http-handler"}, nil)
	require.NoError(t, err)

	id, err := store.Store("never-succeeded", "zero successes", []string{RoleTag("code_writer"), "go-http-handler"}, nil)
	require.NoError(t, err)
	require.NoError(t, store.UpdateUsage(id, pattern.OutcomeFailure))

	l, err := New(store, llmclient.NewEcho(""), nil, t.TempDir(), WithRequireApproval(false), WithMinClusterSize(1))
	require.NoError(t, err)

	clusters := l.cluster(store.All())
	require.Empty(t, clusters)
}

func TestRunPersistsImmediatelyWhenApprovalNotRequired(t *testing.T) {
	store := newTestPatternStore(t)
	seedSuccesses(t, store, subagent.Role("test_author"), "table-driven", 3)

	promptsDir := t.TempDir()
	l, err := New(store, llmclient.NewEcho("template: "), nil, promptsDir, WithRequireApproval(false), WithMinClusterSize(3))
	require.NoError(t, err)

	proposals, err := l.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, proposals, 1)
	require.True(t, proposals[0].Applied)
	require.Equal(t, hitl.DecisionYes, proposals[0].Decision)

	entries, err := os.ReadDir(promptsDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	rec, err := store.Get(proposals[0].PatternKey)
	require.NoError(t, err)
	require.Contains(t, rec.Content, "template: ")
}

func TestRunGatesOnHITLAndPersistsOnYes(t *testing.T) {
	store := newTestPatternStore(t)
	seedSuccesses(t, store, subagent.Role("auditor"), "security-review", 4)

	b := newTestBus(t)
	gates := hitl.New(b, hitl.WithTimeout(5*time.Second))
	promptsDir := t.TempDir()
	l, err := New(store, llmclient.NewEcho(""), gates, promptsDir, WithRequireApproval(true), WithMinClusterSize(4))
	require.NoError(t, err)

	sub, err := b.Subscribe(context.Background(), "human_review_queue")
	require.NoError(t, err)

	var proposals []Proposal
	var runErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		proposals, runErr = l.Run(context.Background())
	}()

	msg := <-sub
	questionID, _ := msg.Payload["question_id"].(string)
	require.NotEmpty(t, questionID)
	require.NoError(t, gates.Respond(questionID, hitl.Response{Decision: hitl.DecisionYes}))

	<-done
	require.NoError(t, runErr)
	require.Len(t, proposals, 1)
	require.True(t, proposals[0].Applied)

	entries, err := os.ReadDir(promptsDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestRunSkipsPersistenceOnNo(t *testing.T) {
	store := newTestPatternStore(t)
	seedSuccesses(t, store, subagent.Role("merger"), "conflict-resolution", 3)

	b := newTestBus(t)
	gates := hitl.New(b, hitl.WithTimeout(5*time.Second))
	promptsDir := t.TempDir()
	l, err := New(store, llmclient.NewEcho(""), gates, promptsDir, WithRequireApproval(true), WithMinClusterSize(3))
	require.NoError(t, err)

	sub, err := b.Subscribe(context.Background(), "human_review_queue")
	require.NoError(t, err)

	var proposals []Proposal
	done := make(chan struct{})
	go func() {
		defer close(done)
		proposals, _ = l.Run(context.Background())
	}()

	msg := <-sub
	questionID, _ := msg.Payload["question_id"].(string)
	require.NoError(t, gates.Respond(questionID, hitl.Response{Decision: hitl.DecisionNo}))

	<-done
	require.Len(t, proposals, 1)
	require.False(t, proposals[0].Applied)
	require.Equal(t, hitl.DecisionNo, proposals[0].Decision)

	entries, err := os.ReadDir(promptsDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestPersistWritesCompiledTemplateAtomically(t *testing.T) {
	store := newTestPatternStore(t)
	promptsDir := t.TempDir()
	l, err := New(store, llmclient.NewEcho(""), nil, promptsDir, WithRequireApproval(false))
	require.NoError(t, err)

	prop := Proposal{
		Role:        subagent.Role("toolsmith"),
		Tag:         "api-client",
		ClusterSize: 3,
		Template:    PromptTemplate{Role: "toolsmith", Tag: "api-client", Body: "refined template body"},
		PatternKey:  "learner:template:toolsmith:api-client",
		GeneratedAt: time.Now(),
	}
	require.NoError(t, l.persist(prop))

	path := filepath.Join(promptsDir, "toolsmith_api_client.md")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "refined template body", string(data))

	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
}
