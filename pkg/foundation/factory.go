package foundation

import (
	"time"

	"github.com/trinity-os/trinity/pkg/config"
)

// NewFromConfig builds a Verifier for repoDir using the configured test
// timeout. Callers needing a synthetic test command (e.g. tests) should
// pass WithTestCommand after construction via opts.
func NewFromConfig(cfg *config.Config, repoDir string, opts ...Option) *Verifier {
	timeout := time.Duration(cfg.FoundationTimeoutSecond) * time.Second
	return New(repoDir, timeout, opts...)
}
