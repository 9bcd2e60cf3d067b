package verification

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trinity-os/trinity/pkg/foundation"
	"github.com/trinity-os/trinity/pkg/hitl"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	run("commit", "--allow-empty", "-q", "-m", "init")
	return dir
}

func newAudit(t *testing.T) *AuditLog {
	t.Helper()
	a, err := OpenAuditLog(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestVerifyAcceptsHealthyArtifact(t *testing.T) {
	dir := initRepo(t)
	v := foundation.New(dir, time.Second, foundation.WithTestCommand([]string{"true"}), foundation.WithRules())
	gate := New(v, newAudit(t))

	artifact := Artifact{ID: "art-1", Kind: ArtifactCode}
	verified, err := gate.Verify(context.Background(), artifact, Context{RepoDir: dir})
	require.NoError(t, err)
	require.False(t, verified.Forced)
	require.True(t, verified.Health.IsHealthy)
}

func TestVerifyRejectsFailingArtifact(t *testing.T) {
	dir := initRepo(t)
	v := foundation.New(dir, time.Second, foundation.WithTestCommand([]string{"false"}), foundation.WithRules())
	gate := New(v, newAudit(t))

	artifact := Artifact{ID: "art-2", Kind: ArtifactCode}
	verified, err := gate.Verify(context.Background(), artifact, Context{RepoDir: dir})
	require.Nil(t, verified)
	var rejErr *RejectionError
	require.ErrorAs(t, err, &rejErr)
	require.Equal(t, "art-2", rejErr.Rejected.Artifact.ID)
	require.False(t, rejErr.Rejected.Health.IsHealthy)
}

func TestForceRequiresForceDecision(t *testing.T) {
	dir := initRepo(t)
	v := foundation.New(dir, time.Second, foundation.WithTestCommand([]string{"false"}), foundation.WithRules())
	gate := New(v, newAudit(t))

	artifact := Artifact{ID: "art-3"}
	_, err := gate.Verify(context.Background(), artifact, Context{RepoDir: dir})
	var rejErr *RejectionError
	require.ErrorAs(t, err, &rejErr)

	_, forceErr := gate.Force(context.Background(), artifact, Context{}, rejErr.Rejected, hitl.UserApproval{Decision: hitl.DecisionYes})
	require.Error(t, forceErr)
}

func TestForceOverrideAdmitsAndAudits(t *testing.T) {
	dir := initRepo(t)
	v := foundation.New(dir, time.Second, foundation.WithTestCommand([]string{"false"}), foundation.WithRules())
	audit := newAudit(t)
	gate := New(v, audit)

	artifact := Artifact{ID: "art-4", WorkflowID: "wf-1"}
	_, err := gate.Verify(context.Background(), artifact, Context{RepoDir: dir})
	var rejErr *RejectionError
	require.ErrorAs(t, err, &rejErr)

	approval := hitl.UserApproval{
		WorkflowID: "wf-1",
		GateID:     "gate-verify",
		Decision:   hitl.DecisionForce,
		Context:    map[string]any{"approver": "alice"},
	}
	verified, forceErr := gate.Force(context.Background(), artifact, Context{WorkflowID: "wf-1"}, rejErr.Rejected, approval)
	require.NoError(t, forceErr)
	require.True(t, verified.Forced)
	require.NotNil(t, verified.Approval)

	entries, err := audit.All()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "art-4", entries[0].ArtifactID)
	require.Equal(t, "wf-1", entries[0].WorkflowID)
	require.Equal(t, "alice", entries[0].ApprovedBy["approver"])
}

func TestAuditLogPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	a, err := OpenAuditLog(dir)
	require.NoError(t, err)
	require.NoError(t, a.Record(AuditEntry{ArtifactID: "a1", Reason: "tests failed"}))
	require.NoError(t, a.Close())

	reopened, err := OpenAuditLog(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	entries, err := reopened.All()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "a1", entries[0].ArtifactID)
}
