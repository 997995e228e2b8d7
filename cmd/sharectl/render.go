package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"

	"github.com/warp/ledger-share/engine"
	"github.com/warp/ledger-share/factory"
	"github.com/warp/ledger-share/split"
)

type renderCmd struct {
	viewpoint  string
	outputFile string
}

func (*renderCmd) Name() string     { return "render" }
func (*renderCmd) Synopsis() string { return "renders a ledger from one party's viewpoint" }
func (*renderCmd) Usage() string {
	return `sharectl render [-viewpoint <name>] [-o <file>] <ledger>

  Renders the ledger and the ledgers it includes for one viewpoint and writes
  the result as JSON Lines. The viewpoint is "nobody" (the default),
  "everyone" or a party name. Errors found in the ledger are reported on
  stderr; the rendered ledger is written anyway.

Usage Examples:
# Alice's books
$ sharectl render -viewpoint Alice books/main.jsonl > alice.jsonl

`
}

func (c *renderCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.viewpoint, "viewpoint", "nobody", "Viewpoint to render: nobody, everyone or a party name")
	f.StringVar(&c.outputFile, "o", "", "Output file. Defaults to stdout.")
}

func (c *renderCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Error: expected exactly one ledger file\n")
		return subcommands.ExitUsageError
	}
	vp, err := split.ParseViewpoint(c.viewpoint)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	eng, _, err := newEngine()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	out := io.Writer(os.Stdout)
	if c.outputFile != "" {
		file, err := os.Create(c.outputFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating output file %q: %v\n", c.outputFile, err)
			return subcommands.ExitFailure
		}
		defer file.Close()
		out = file
	}

	n, err := render(ctx, eng, f.Arg(0), vp, out, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	if n > 0 {
		fmt.Fprintf(os.Stderr, "%d error(s) in %s\n", n, f.Arg(0))
	}
	return subcommands.ExitSuccess
}

// render writes the rendering of path to out and its errors to errOut, one
// per line. It returns the number of errors.
func render(ctx context.Context, eng *engine.Engine, path string, vp split.Viewpoint, out, errOut io.Writer) (int, error) {
	res, err := eng.ProcessFile(ctx, path, vp)
	if err != nil {
		return 0, err
	}
	if err := factory.EncodeEntries(out, res.Entries); err != nil {
		return 0, fmt.Errorf("error writing entries: %w", err)
	}
	for _, e := range res.Errors {
		fmt.Fprintln(errOut, e)
	}
	return len(res.Errors), nil
}
