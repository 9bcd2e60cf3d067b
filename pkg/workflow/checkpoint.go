package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Checkpoint is a durable, checksummed snapshot of a workflow at a named
// step. Uniqueness is (WorkflowID, StepName, Generation): re-checkpointing
// the same step increments Generation rather than overwriting.
type Checkpoint struct {
	ID                   string         `json:"id"`
	WorkflowID           string         `json:"workflow_id"`
	StepName             string         `json:"step_name"`
	Generation           int            `json:"generation"`
	Outputs              map[string]any `json:"outputs,omitempty"`
	AgentContextSnapshot map[string]any `json:"agent_context_snapshot,omitempty"`
	ToolResults          map[string]any `json:"tool_results,omitempty"`
	Checksum             string         `json:"checksum"`
	CreatedAt            time.Time      `json:"created_at"`
}

// checksumPayload is the subset of Checkpoint fields covered by Checksum.
// A plain struct (rather than hashing the whole Checkpoint) keeps the
// digest stable if unrelated fields are ever added.
type checksumPayload struct {
	ID                   string         `json:"id"`
	WorkflowID           string         `json:"workflow_id"`
	StepName             string         `json:"step_name"`
	Generation           int            `json:"generation"`
	Outputs              map[string]any `json:"outputs,omitempty"`
	AgentContextSnapshot map[string]any `json:"agent_context_snapshot,omitempty"`
	ToolResults          map[string]any `json:"tool_results,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
}

func computeChecksum(cp *Checkpoint) (string, error) {
	payload := checksumPayload{
		ID:                   cp.ID,
		WorkflowID:           cp.WorkflowID,
		StepName:             cp.StepName,
		Generation:           cp.Generation,
		Outputs:              cp.Outputs,
		AgentContextSnapshot: cp.AgentContextSnapshot,
		ToolResults:          cp.ToolResults,
		CreatedAt:            cp.CreatedAt,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("workflow: marshal checkpoint for checksum: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// verifyChecksum reports whether cp.Checksum matches its recomputed digest.
func verifyChecksum(cp *Checkpoint) bool {
	want, err := computeChecksum(cp)
	if err != nil {
		return false
	}
	return want == cp.Checksum
}

// ReasonCorruptCheckpoint is the reason string recorded on the workflow and surfaced
// from Resume, per invariant 3 (a checkpoint is either fully written, i.e.
// checksum validates, or absent; this is the third state the spec calls
// out: present-but-corrupt, which resume must not silently trust).
const ReasonCorruptCheckpoint = "corrupt_checkpoint"
