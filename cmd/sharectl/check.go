package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/subcommands"

	"github.com/warp/ledger-share/engine"
	"github.com/warp/ledger-share/ledger"
	"github.com/warp/ledger-share/policy"
	"github.com/warp/ledger-share/split"
)

type checkCmd struct{}

func (*checkCmd) Name() string     { return "check" }
func (*checkCmd) Synopsis() string { return "renders a ledger for every viewpoint and reports errors" }
func (*checkCmd) Usage() string {
	return `sharectl check <ledger>

  Renders the ledger for nobody, for everyone and for every party named in
  its share-* metadata, including the ledgers it includes. Every error is
  reported on stderr. Exits with a failure status when any viewpoint has
  errors.

`
}

func (*checkCmd) SetFlags(f *flag.FlagSet) {}

func (c *checkCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Error: expected exactly one ledger file\n")
		return subcommands.ExitUsageError
	}
	eng, loader, err := newEngine()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	ok, err := check(ctx, eng, loader, f.Arg(0), os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	if !ok {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// check renders path for every viewpoint, writing one summary line per
// viewpoint to out and the errors to errOut. It reports whether no viewpoint
// had errors.
func check(ctx context.Context, eng *engine.Engine, loader engine.Loader, path string, out, errOut io.Writer) (bool, error) {
	names, err := parties(ctx, loader, path, errOut)
	if err != nil {
		return false, err
	}
	viewpoints := []split.Viewpoint{split.Nobody, split.Everyone}
	for _, name := range names {
		viewpoints = append(viewpoints, split.Party(name))
	}

	clean := true
	for _, vp := range viewpoints {
		res, err := eng.ProcessFile(ctx, path, vp)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "%-12s %4d entries %4d errors\n", vp, len(res.Entries), len(res.Errors))
		for _, e := range res.Errors {
			fmt.Fprintf(errOut, "%s: %v\n", vp, e)
		}
		if len(res.Errors) > 0 {
			clean = false
		}
	}
	return clean, nil
}

// parties lists, sorted, the party names used in share-* metadata by path
// and the ledgers it includes. Includes that cannot be read are reported on
// errOut and skipped.
func parties(ctx context.Context, loader engine.Loader, path string, errOut io.Writer) ([]string, error) {
	found := map[string]bool{}
	seen := map[string]bool{}

	var walk func(path string) error
	walk = func(path string) error {
		if seen[path] {
			return nil
		}
		seen[path] = true
		res, err := loader.Load(ctx, path)
		if err != nil {
			return err
		}
		for _, e := range res.Entries {
			collectParties(e.Head().Meta, found)
			switch d := e.(type) {
			case ledger.Transaction:
				for _, p := range d.Postings {
					collectParties(p.Meta, found)
				}
			case ledger.Include:
				if err := walk(d.Path); err != nil {
					fmt.Fprintf(errOut, "%s: include %s: %v\n", path, d.Path, err)
				}
			}
		}
		return nil
	}
	if err := walk(path); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func collectParties(meta ledger.Metadata, found map[string]bool) {
	for key := range meta {
		name, ok := strings.CutPrefix(key, policy.PartyPrefix)
		if !ok {
			continue
		}
		if r, _ := utf8.DecodeRuneInString(name); unicode.IsUpper(r) {
			found[name] = true
		}
	}
}
