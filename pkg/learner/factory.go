package learner

import (
	"path/filepath"

	"github.com/trinity-os/trinity/pkg/config"
	"github.com/trinity-os/trinity/pkg/hitl"
	"github.com/trinity-os/trinity/pkg/llmclient"
	"github.com/trinity-os/trinity/pkg/pattern"
)

// NewFromConfig wires a Learner rooted under cfg.StateDir/prompts, with
// approval-gating driven by cfg.LearnerRequireApproval (spec §6).
func NewFromConfig(cfg *config.Config, patterns *pattern.Store, llm llmclient.Client, gates *hitl.Gates) (*Learner, error) {
	return New(patterns, llm, gates, filepath.Join(cfg.StateDir, "prompts"),
		WithRequireApproval(cfg.LearnerRequireApproval))
}
