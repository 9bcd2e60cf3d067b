package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trinity-os/trinity/pkg/architect"
	"github.com/trinity-os/trinity/pkg/witness"
)

// RunCmd feeds one ambient event through WITNESS and, for every Signal it
// emits, ARCHITECT and EXECUTOR — the full pipeline a real event bus would
// drive, invoked here for one event at a time.
type RunCmd struct {
	Repo       string  `help:"Repository working tree for the Foundation Verifier." default:"." type:"path"`
	Content    string  `arg:"" help:"Event content WITNESS classifies against the Pattern Store."`
	Source     string  `help:"Event source identifier." default:"cli"`
	Confidence float64 `help:"Event confidence, 0-1." default:"0.8"`
}

func (c *RunCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	core, err := buildCore(cfg, c.Repo)
	if err != nil {
		return err
	}
	defer core.Close()

	ctx := context.Background()
	event := witness.Event{
		ID:         uuid.NewString(),
		Source:     c.Source,
		Timestamp:  time.Now(),
		Content:    c.Content,
		Confidence: c.Confidence,
	}

	signals := core.witness.Observe(ctx, event)
	if len(signals) == 0 {
		fmt.Println("no signal emitted: event did not match any pattern above threshold")
		return nil
	}

	for _, sig := range signals {
		fmt.Printf("signal: category=%s pattern=%s confidence=%.2f\n", sig.Category, sig.PatternName, sig.Confidence)

		plan, err := core.architect.Synthesize(ctx, sig)
		if err != nil {
			return fmt.Errorf("synthesize plan: %w", err)
		}
		if err := architect.Validate(plan); err != nil {
			return fmt.Errorf("validate plan: %w", err)
		}

		result, err := core.trinity.Accept(ctx, plan)
		if err != nil {
			return fmt.Errorf("accept plan %s: %w", plan.ID, err)
		}

		printResult(plan, result)
	}
	return nil
}

func printResult(plan *architect.Plan, result any) {
	fmt.Printf("plan %s (%d tracks): %s\n", plan.ID, len(plan.Tracks), strings.Join(planTrackNames(plan), ", "))
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Printf("result: %+v\n", result)
		return
	}
	fmt.Println(string(data))
}

func planTrackNames(plan *architect.Plan) []string {
	names := make([]string, 0, len(plan.Tracks))
	for _, t := range plan.Tracks {
		names = append(names, t.Name)
	}
	return names
}
