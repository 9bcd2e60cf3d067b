package main

import (
	"context"
	"fmt"
)

// LearnCmd runs the Meta-Learner's offline clustering-and-proposal job once
// over the current Pattern Store.
type LearnCmd struct {
	Repo string `help:"Repository working tree, needed to build the full stack." default:"." type:"path"`
}

func (c *LearnCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	core, err := buildCore(cfg, c.Repo)
	if err != nil {
		return err
	}
	defer core.Close()

	proposals, err := core.learner.Run(context.Background())
	if err != nil {
		return err
	}
	if len(proposals) == 0 {
		fmt.Println("no cluster met the minimum size; nothing proposed")
		return nil
	}
	for _, p := range proposals {
		fmt.Printf("role=%-14s tag=%-20s cluster_size=%d decision=%-4s applied=%v\n", p.Role, p.Tag, p.ClusterSize, p.Decision, p.Applied)
	}
	return nil
}
