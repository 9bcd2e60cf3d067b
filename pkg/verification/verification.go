// Package verification implements the Verification Gate (Absolute
// Verification): no sub-agent artifact is accepted into workflow state
// without first clearing Article II (100% tests pass, zero constitutional
// violations). The only bypass is an explicit, fully-audited HITL FORCE
// decision.
package verification

import (
	"context"
	"fmt"
	"time"

	"github.com/trinity-os/trinity/pkg/foundation"
	"github.com/trinity-os/trinity/pkg/hitl"
)

// ArtifactKind distinguishes the few shapes of proposed sub-agent output
// the gate knows how to verify.
type ArtifactKind string

const (
	ArtifactCode ArtifactKind = "code"
	ArtifactDoc  ArtifactKind = "doc"
)

// Artifact is a sub-agent's proposed contribution to workflow state.
type Artifact struct {
	ID            string
	WorkflowID    string
	TaskID        string
	CorrelationID string
	Kind          ArtifactKind
	Files         []string
}

// Context carries the scoping information recorded with a verification:
// workflow, task and correlation ids, repository and risk category. Verify
// does not read it; Force copies its ids into the audit entry.
type Context struct {
	WorkflowID    string
	TaskID        string
	CorrelationID string
	RepoDir       string
	RiskCategory  string
}

// VerifiedArtifact is the gate's accept result.
type VerifiedArtifact struct {
	Artifact   Artifact
	Health     foundation.FoundationHealth
	VerifiedAt time.Time
	Forced     bool
	Approval   *hitl.UserApproval
}

// RejectedArtifact is the gate's typed reject result, returned wrapped in
// a RejectionError so callers can't accidentally treat an error path as
// success by ignoring a second return value.
type RejectedArtifact struct {
	Artifact Artifact
	Reason   string
	Health   foundation.FoundationHealth
}

// RejectionError wraps a RejectedArtifact. "No mechanism exists to bypass
// [the gate] short of an explicit HITL FORCE decision" — the gate never
// swallows a rejection into a success value; Force is the only other path.
type RejectionError struct {
	Rejected RejectedArtifact
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("verification: artifact %s rejected: %s", e.Rejected.Artifact.ID, e.Rejected.Reason)
}

// Gate runs Article II verification against proposed artifacts.
type Gate struct {
	verifier *foundation.Verifier
	audit    *AuditLog
}

// New returns a Gate backed by verifier, recording forced overrides to audit.
func New(verifier *foundation.Verifier, audit *AuditLog) *Gate {
	return &Gate{verifier: verifier, audit: audit}
}

// Verify runs the Foundation Verifier's test-suite + constitutional scan
// against the repository that verifier was built for (vctx.RepoDir is not
// consulted) and returns a VerifiedArtifact on success or a
// *RejectionError on failure.
func (g *Gate) Verify(ctx context.Context, artifact Artifact, vctx Context) (*VerifiedArtifact, error) {
	health, err := g.verifier.Verify(ctx)
	if err == nil {
		return &VerifiedArtifact{Artifact: artifact, Health: health, VerifiedAt: time.Now()}, nil
	}

	var broken *foundation.BrokenFoundationError
	if !asBrokenFoundation(err, &broken) {
		return nil, fmt.Errorf("verification: %w", err)
	}

	rejected := RejectedArtifact{Artifact: artifact, Reason: broken.Health.ErrorMessage, Health: broken.Health}
	return nil, &RejectionError{Rejected: rejected}
}

func asBrokenFoundation(err error, target **foundation.BrokenFoundationError) bool {
	if b, ok := err.(*foundation.BrokenFoundationError); ok {
		*target = b
		return true
	}
	return false
}

// Force overrides a rejection given an explicit FORCE-decision UserApproval,
// recording a full audit entry. approval.Decision must be hitl.DecisionForce;
// anything else is refused.
func (g *Gate) Force(ctx context.Context, artifact Artifact, vctx Context, rejected RejectedArtifact, approval hitl.UserApproval) (*VerifiedArtifact, error) {
	if approval.Decision != hitl.DecisionForce {
		return nil, fmt.Errorf("verification: Force requires a FORCE decision, got %q", approval.Decision)
	}

	entry := AuditEntry{
		ArtifactID:    artifact.ID,
		WorkflowID:    vctx.WorkflowID,
		TaskID:        vctx.TaskID,
		CorrelationID: vctx.CorrelationID,
		Reason:        rejected.Reason,
		ApprovedBy:    approval.Context,
		ForcedAt:      time.Now(),
	}
	if g.audit != nil {
		if err := g.audit.Record(entry); err != nil {
			return nil, fmt.Errorf("verification: record force audit: %w", err)
		}
	}

	approvalCopy := approval
	return &VerifiedArtifact{
		Artifact:   artifact,
		Health:     rejected.Health,
		VerifiedAt: time.Now(),
		Forced:     true,
		Approval:   &approvalCopy,
	}, nil
}
