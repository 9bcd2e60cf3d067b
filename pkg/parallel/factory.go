package parallel

import "github.com/trinity-os/trinity/pkg/config"

// PolicyFromConfig returns the default execute_graph policy derived from
// bootstrap configuration; callers (the EXECUTOR) override fields per-Plan
// as TaskSpec constraints require.
func PolicyFromConfig(cfg *config.Config) Policy {
	p := DefaultPolicy()
	p.MaxConcurrency = cfg.MaxConcurrency
	return p
}
