package main

import (
	"fmt"
	"path/filepath"

	trinitybus "github.com/trinity-os/trinity/pkg/bus"
)

// BusCmd groups bus-inspection subcommands.
type BusCmd struct {
	Deadletter BusDeadletterCmd `cmd:"" help:"List messages moved to a queue's dead-letter log."`
}

// BusDeadletterCmd surfaces <queue>.dead for human inspection, per §4.1's
// dead-letter requirement, reusing the live queue's peek contract.
type BusDeadletterCmd struct {
	StateDir string `help:"Root state directory (overrides the global flag if set)." default:"" type:"path"`
	Queue    string `arg:"" help:"Queue name (without the .dead suffix)."`
	Limit    int    `help:"Maximum messages to show." default:"20"`
}

func (c *BusDeadletterCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	stateDir := cfg.StateDir
	if c.StateDir != "" {
		stateDir = c.StateDir
	}

	b, err := trinitybus.Open(trinitybus.Options{StateDir: filepath.Join(stateDir, "bus")})
	if err != nil {
		return err
	}
	defer b.Close()

	deadQueue := c.Queue + ".dead"
	msgs, err := b.Peek(deadQueue, c.Limit)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Printf("no dead-lettered messages on %s\n", deadQueue)
		return nil
	}
	for _, m := range msgs {
		fmt.Printf("%s  ts=%s  correlation_id=%s  payload=%v\n", m.ID, m.Timestamp.Format("2006-01-02T15:04:05Z07:00"), m.CorrelationID, m.Payload)
	}
	return nil
}
