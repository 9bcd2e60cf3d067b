package workflow

import (
	"path/filepath"

	"github.com/trinity-os/trinity/pkg/config"
)

// OpenFromConfig opens the Workflow State Machine rooted under
// <cfg.StateDir>/workflows, using cfg.RetentionCheckpoints as the
// per-workflow checkpoint retention window.
func OpenFromConfig(cfg *config.Config) (*Manager, error) {
	return NewManager(filepath.Join(cfg.StateDir, "workflows"), cfg.RetentionCheckpoints)
}
