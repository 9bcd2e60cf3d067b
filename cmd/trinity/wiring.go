package main

import (
	"fmt"
	"path/filepath"

	"github.com/trinity-os/trinity/pkg/architect"
	"github.com/trinity-os/trinity/pkg/bus"
	"github.com/trinity-os/trinity/pkg/config"
	"github.com/trinity-os/trinity/pkg/costledger"
	"github.com/trinity-os/trinity/pkg/foundation"
	"github.com/trinity-os/trinity/pkg/hitl"
	"github.com/trinity-os/trinity/pkg/learner"
	"github.com/trinity-os/trinity/pkg/llmclient"
	"github.com/trinity-os/trinity/pkg/parallel"
	"github.com/trinity-os/trinity/pkg/pattern"
	"github.com/trinity-os/trinity/pkg/reasoning"
	"github.com/trinity-os/trinity/pkg/subagent"
	"github.com/trinity-os/trinity/pkg/tool"
	"github.com/trinity-os/trinity/pkg/trinity"
	"github.com/trinity-os/trinity/pkg/verification"
	"github.com/trinity-os/trinity/pkg/witness"
	"github.com/trinity-os/trinity/pkg/workflow"
)

// core holds every collaborator the CLI's commands wire against, built once
// per invocation from cfg. There is no running provider configured yet
// (pkg/llmclient ships only the interface and a deterministic Echo client),
// so every command that needs an LLM uses Echo — wiring a real provider in
// is the seam this struct exists to make obvious.
type core struct {
	cfg        *config.Config
	bus        *bus.Bus
	patterns   *pattern.Store
	workflows  *workflow.Manager
	ledger     *costledger.Ledger
	reasoning  *reasoning.Store
	llm        llmclient.Client
	hitlGates  *hitl.Gates
	witness    *witness.Witness
	architect  *architect.Architect
	trinity    *trinity.Executor
	learner    *learner.Learner
}

// buildCore wires the full Trinity stack from cfg, rooted at repoDir for
// anything that needs a working tree (the Foundation Verifier).
func buildCore(cfg *config.Config, repoDir string) (*core, error) {
	b, err := bus.Open(bus.Options{StateDir: filepath.Join(cfg.StateDir, "bus")})
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}

	patterns, err := pattern.OpenFromConfig(cfg, pattern.RemoteOptions{})
	if err != nil {
		return nil, fmt.Errorf("open pattern store: %w", err)
	}

	workflows, err := workflow.OpenFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("open workflow manager: %w", err)
	}

	ledger, err := costledger.OpenFromConfig(cfg, "")
	if err != nil {
		return nil, fmt.Errorf("open cost ledger: %w", err)
	}

	reasoningStore, err := reasoning.Open(filepath.Join(cfg.StateDir, "reasoning"))
	if err != nil {
		return nil, fmt.Errorf("open reasoning store: %w", err)
	}

	llm := llmclient.NewEcho("")

	// No bootstrap file is wired in at the CLI layer yet, so risk gating
	// falls back to hitl.RiskPolicyFromGates(nil) (nothing auto-required);
	// a deployment wanting the bootstrap-driven gate registry would load
	// its config.Bootstrap here and pass Bootstrap.Gates instead of nil.
	hitlGates := hitl.NewFromConfig(cfg, b, nil)

	verifier := foundation.NewFromConfig(cfg, repoDir)
	gate, err := verification.NewFromConfig(verifier, cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("open verification gate: %w", err)
	}

	dispatcher, err := subagent.NewDefaultDispatcher(llm, tool.NewRegistry())
	if err != nil {
		return nil, fmt.Errorf("build sub-agent dispatcher: %w", err)
	}

	parallelExec := parallel.New(ledger)

	exec := trinity.NewFromConfig(cfg, verifier, workflows, parallelExec, gate, dispatcher, ledger, patterns, hitlGates, b, repoDir)

	w := witness.NewFromConfig(cfg, b, patterns)
	a := architect.New(b, patterns, reasoningStore, llm)

	learn, err := learner.NewFromConfig(cfg, patterns, llm, hitlGates)
	if err != nil {
		return nil, fmt.Errorf("build learner: %w", err)
	}

	return &core{
		cfg:       cfg,
		bus:       b,
		patterns:  patterns,
		workflows: workflows,
		ledger:    ledger,
		reasoning: reasoningStore,
		llm:       llm,
		hitlGates: hitlGates,
		witness:   w,
		architect: a,
		trinity:   exec,
		learner:   learn,
	}, nil
}

func (c *core) Close() error {
	return c.patterns.Close()
}
