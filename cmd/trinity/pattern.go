package main

import (
	"fmt"
	"strings"
)

// PatternCmd groups Pattern Store inspection subcommands.
type PatternCmd struct {
	Search PatternSearchCmd `cmd:"" help:"Search the Pattern Store by query and/or tags."`
}

type PatternSearchCmd struct {
	Repo  string `help:"Repository working tree, needed to build the full stack." default:"." type:"path"`
	Query string `arg:"" help:"Search query."`
	Tags  string `help:"Comma-separated tag filter." default:""`
	Limit int    `help:"Maximum results." default:"10"`
}

func (c *PatternSearchCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	core, err := buildCore(cfg, c.Repo)
	if err != nil {
		return err
	}
	defer core.Close()

	var tags []string
	if c.Tags != "" {
		tags = strings.Split(c.Tags, ",")
	}

	matches, err := core.patterns.Search(c.Query, tags, c.Limit)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Println("no matches")
		return nil
	}
	for _, m := range matches {
		fmt.Printf("%.3f  %s  %s  tags=%v\n", m.Score, m.Record.ID, m.Record.Key, m.Record.Tags)
	}
	return nil
}
