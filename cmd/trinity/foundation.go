package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/trinity-os/trinity/pkg/foundation"
)

// FoundationCmd runs the Foundation Verifier against a repository without
// going through the Verification Gate or EXECUTOR.
type FoundationCmd struct {
	Verify FoundationVerifyCmd `cmd:"" help:"Run the constitutional scanner and test suite."`
}

type FoundationVerifyCmd struct {
	Repo string `help:"Repository working tree." default:"." type:"path"`
}

func (c *FoundationVerifyCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	verifier := foundation.NewFromConfig(cfg, c.Repo)
	health, err := verifier.Verify(context.Background())
	if err != nil {
		var broken *foundation.BrokenFoundationError
		if errors.As(err, &broken) {
			fmt.Printf("BROKEN FOUNDATION: %s\n", broken.Error())
			return nil
		}
		return err
	}

	fmt.Printf("healthy=%v branch=%s test_status=%s violations=%d checked_at=%s\n",
		health.IsHealthy, health.Branch, health.TestStatus, health.ViolationCount, health.CheckedAt.Format("2006-01-02T15:04:05Z07:00"))
	return nil
}
