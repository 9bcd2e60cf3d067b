package trinity

import (
	"github.com/trinity-os/trinity/pkg/bus"
	"github.com/trinity-os/trinity/pkg/config"
	"github.com/trinity-os/trinity/pkg/costledger"
	"github.com/trinity-os/trinity/pkg/foundation"
	"github.com/trinity-os/trinity/pkg/hitl"
	"github.com/trinity-os/trinity/pkg/parallel"
	"github.com/trinity-os/trinity/pkg/pattern"
	"github.com/trinity-os/trinity/pkg/subagent"
	"github.com/trinity-os/trinity/pkg/verification"
	"github.com/trinity-os/trinity/pkg/workflow"
)

// NewFromConfig wires an Executor from cfg's environment-derived policy
// defaults and the core's already-constructed collaborators — each built by
// its own package's *FromConfig constructor.
func NewFromConfig(
	cfg *config.Config,
	verifier *foundation.Verifier,
	workflows *workflow.Manager,
	parallelExec *parallel.Executor,
	gate *verification.Gate,
	dispatcher *subagent.Dispatcher,
	ledger *costledger.Ledger,
	patterns *pattern.Store,
	hitlGates *hitl.Gates,
	b *bus.Bus,
	repoDir string,
) *Executor {
	policy := parallel.DefaultPolicy()
	policy.MaxConcurrency = cfg.MaxConcurrency
	if cfg.BudgetUSD != nil {
		budget := *cfg.BudgetUSD
		policy.CostBudget = &budget
	}

	return New(verifier, workflows, parallelExec, gate, dispatcher, ledger, patterns, hitlGates, b, repoDir,
		WithPolicy(policy))
}
