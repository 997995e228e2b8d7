// Command sharectl renders shared ledgers from the command line.
//
//	sharectl render -viewpoint Alice books/main.jsonl > alice.jsonl
//	sharectl check books/main.jsonl
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/rs/zerolog"

	"github.com/warp/ledger-share/config"
	"github.com/warp/ledger-share/engine"
	"github.com/warp/ledger-share/factory"
	"github.com/warp/ledger-share/observability"
)

var (
	configPath = flag.String("config", "", "YAML configuration file (seed policies, receivable root, tolerance)")
	ledgerDir  = flag.String("ledgers", "", "Directory ledger paths must stay in. Unrestricted by default.")
	verbose    = flag.Bool("v", false, "Log engine activity to stderr")
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	Register(subcommands.DefaultCommander)

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}

// Register the subcommands.
func Register(c *subcommands.Commander) {
	c.Register(&renderCmd{}, "ledgers")
	c.Register(&checkCmd{}, "ledgers")
}

// newEngine builds an engine from the global flags, along with the loader
// it reads ledgers through.
func newEngine() (*engine.Engine, engine.Loader, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	ec, err := cfg.EngineConfig()
	if err != nil {
		return nil, nil, err
	}

	log := zerolog.Nop()
	if *verbose {
		log = observability.NewLoggerTo(os.Stderr, "sharectl", observability.ParseLevel(cfg.Log.Level))
	}
	loader := factory.NewFileLoader(*ledgerDir)
	return engine.New(ec, loader, log, nil), loader, nil
}
