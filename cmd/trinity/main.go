// Command trinity is the CLI for the Trinity Orchestration Core.
//
// Usage:
//
//	trinity run --repo . "ship the retry logic"
//	trinity workflow list
//	trinity workflow status <id>
//	trinity workflow resume <id>
//	trinity foundation verify --repo .
//	trinity pattern search "retry policy"
//	trinity bus deadletter foundation_failed_queue
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/trinity-os/trinity/internal/obslog"
	"github.com/trinity-os/trinity/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version    VersionCmd    `cmd:"" help:"Show version information."`
	Run        RunCmd        `cmd:"" help:"Synthesize and execute a Plan for one ambient event."`
	Workflow   WorkflowCmd   `cmd:"" help:"Inspect and resume workflows."`
	Foundation FoundationCmd `cmd:"" help:"Run the Foundation Verifier standalone."`
	Pattern    PatternCmd    `cmd:"" help:"Search the Pattern Store."`
	Bus        BusCmd        `cmd:"" help:"Inspect bus queues."`
	Learn      LearnCmd      `cmd:"" help:"Run the Meta-Learner over the Pattern Store."`

	StateDir string `help:"Root state directory." default:"state" type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
}

// VersionCmd prints build version info.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("trinity version %s\n", version)
	return nil
}

// loadConfig builds a *config.Config from the environment, overriding
// StateDir with whatever the CLI was invoked with.
func loadConfig(cli *CLI) (*config.Config, error) {
	cfg, err := config.LoadEnv("")
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cli.StateDir != "" {
		cfg.StateDir = cli.StateDir
	}
	return cfg, nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("trinity"),
		kong.Description("Trinity Orchestration Core - ambient multi-agent orchestration"),
		kong.UsageOnError(),
	)

	level, err := obslog.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(1)
	}
	obslog.Init(level, os.Stderr, "text")

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
