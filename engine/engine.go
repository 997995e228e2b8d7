/*
engine.go - One viewpoint render over a ledger and the ledgers it includes

PURPOSE:
  A render runs in two stages. Reading walks a ledger's entries in order,
  applies its policy directives to a per-ledger Policy Database, resolves
  the policy of every posting against that database and follows include
  directives through the Loader. Links between included ledgers are then
  resolved on those unsplit transactions. Rendering hands every collected
  entry to the handler registered for its kind, which splits it for the
  viewpoint, appends output entries and records errors.

PASS STRUCTURE:
  Render(entries, viewpoint)
    -> read(entries)                       this ledger, see read.go
         policy  -> this ledger's database
         include -> Loader.Load -> read(child)
         link    -> collected
       resolve links over the included ledgers' transactions
       interleave included entries by date, own order kept
    -> handler per entry                   split and render
    -> expand Open/Close for generated accounts

ERRORS:
  Nothing in a ledger stops the pass. Every failure is recorded in the
  result's error list against the entry that caused it; the failed entry is
  passed through with share metadata stripped, or dropped when it is a
  sharing directive. Process only returns an error when ctx is done.

SEE ALSO:
  - read.go: Reading stage and link resolution
  - handlers.go: Per-kind handlers
  - expand.go: Open/Close expansion
*/
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/ledger-share/ledger"
	"github.com/warp/ledger-share/link"
	"github.com/warp/ledger-share/observability"
	"github.com/warp/ledger-share/policy"
	"github.com/warp/ledger-share/split"
)

// Loader loads a ledger by path. Paths are opaque to the engine.
type Loader interface {
	Load(ctx context.Context, path string) (LoadResult, error)
}

// LoadResult is what a loader returns for one ledger.
type LoadResult struct {
	Entries []ledger.Entry
	Errors  []error
	Options Options
}

// Options carries ledger options the engine passes back to its caller.
type Options struct {
	// Includes lists every ledger file read, in first-seen order.
	Includes []string `json:"includes,omitempty" yaml:"includes,omitempty"`
}

// Merge returns the union of both include lists.
func (o Options) Merge(other Options) Options {
	seen := make(map[string]bool, len(o.Includes)+len(other.Includes))
	var out Options
	for _, list := range [][]string{o.Includes, other.Includes} {
		for _, p := range list {
			if !seen[p] {
				seen[p] = true
				out.Includes = append(out.Includes, p)
			}
		}
	}
	return out
}

// Seed is a policy definition added to every ledger's database before the
// ledger's own policy directives.
type Seed struct {
	Key        string
	Definition policy.Definition
}

// Config holds the engine settings.
type Config struct {
	Split split.Config
	Seeds []Seed
}

// Result is the output of a pass.
type Result struct {
	Entries []ledger.Entry
	Errors  []error
	Options Options
}

// Engine renders ledgers. It holds no per-render state and may be shared.
type Engine struct {
	cfg      Config
	loader   Loader
	log      zerolog.Logger
	metrics  *observability.Metrics
	resolver *link.Resolver
}

// New creates an engine. loader may be nil when no ledger includes others;
// metrics may be nil.
func New(cfg Config, loader Loader, log zerolog.Logger, metrics *observability.Metrics) *Engine {
	if cfg.Split.ReceivableRoot == "" {
		cfg.Split.ReceivableRoot = split.DefaultReceivableRoot
	}
	if cfg.Split.DefaultTolerance.IsZero() {
		cfg.Split.DefaultTolerance = split.DefaultConfig().DefaultTolerance
	}
	return &Engine{
		cfg:      cfg,
		loader:   loader,
		log:      log,
		metrics:  metrics,
		resolver: link.NewResolver(log.With().Str("stage", "link").Logger()),
	}
}

// Config returns the engine settings.
func (e *Engine) Config() Config {
	return e.cfg
}

// WithSeeds returns an engine that adds seeds after the configured ones.
func (e *Engine) WithSeeds(seeds []Seed) *Engine {
	if len(seeds) == 0 {
		return e
	}
	out := *e
	out.cfg.Seeds = append(append([]Seed(nil), e.cfg.Seeds...), seeds...)
	return &out
}

// ProcessFile loads path and renders it for vp.
func (e *Engine) ProcessFile(ctx context.Context, path string, vp split.Viewpoint) (Result, error) {
	if e.loader == nil {
		return Result{}, ErrNoLoader
	}
	loaded, err := e.loader.Load(ctx, path)
	if err != nil {
		return Result{}, &LoadError{Path: path, Err: err}
	}
	vc := NewViewpointContext(vp)
	vc.enter(path)
	res, err := e.render(ctx, loaded.Entries, loaded.Options.Merge(Options{Includes: []string{path}}), vc)
	if err != nil {
		return Result{}, err
	}
	res.Errors = append(append([]error(nil), loaded.Errors...), res.Errors...)
	return res, nil
}

// Render runs a top-level pass over entries for vp.
func (e *Engine) Render(ctx context.Context, entries []ledger.Entry, opts Options, vp split.Viewpoint) (Result, error) {
	return e.render(ctx, entries, opts, NewViewpointContext(vp))
}

func (e *Engine) render(ctx context.Context, entries []ledger.Entry, opts Options, vc *ViewpointContext) (Result, error) {
	start := time.Now()
	res, err := e.process(ctx, entries, opts, vc)
	if err != nil {
		return Result{}, err
	}
	res.Entries = expand(res.Entries, vc)
	for _, err := range res.Errors {
		e.metrics.EntryError(ledger.IsSoft(err))
	}
	e.metrics.Render(viewKind(vc.Viewpoint), start)
	e.log.Info().
		Str("viewpoint", vc.Viewpoint.String()).
		Int("entries_in", len(entries)).
		Int("entries_out", len(res.Entries)).
		Int("errors", len(res.Errors)).
		Dur("took", time.Since(start)).
		Msg("ledger rendered")
	return res, nil
}

// Process runs one pass over entries. With a nil vc it is a top-level
// render for the nobody viewpoint. A supplied vc is used as is, the way an
// included ledger shares its includer's context, and no Open/Close
// expansion takes place.
func (e *Engine) Process(ctx context.Context, entries []ledger.Entry, opts Options, vc *ViewpointContext) (Result, error) {
	if vc == nil {
		return e.render(ctx, entries, opts, NewViewpointContext(split.Nobody))
	}
	return e.process(ctx, entries, opts, vc)
}

func (e *Engine) process(ctx context.Context, entries []ledger.Entry, opts Options, vc *ViewpointContext) (Result, error) {
	p := e.newPass(ctx, vc, opts)
	items, err := p.read("", entries)
	if err != nil {
		return Result{}, err
	}

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		h, ok := handlers[it.entry.Kind()]
		if !ok {
			p.emit(it.entry)
			continue
		}
		h(p, it)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Result{Entries: p.out, Errors: p.errs.Errors(), Options: p.opts}, nil
}

// =============================================================================
// PASS - State of one render
// =============================================================================

type pass struct {
	e    *Engine
	ctx  context.Context
	vc   *ViewpointContext
	errs *ledger.ErrorLog
	opts Options
	out  []ledger.Entry
	log  zerolog.Logger
}

func (e *Engine) newPass(ctx context.Context, vc *ViewpointContext, opts Options) *pass {
	return &pass{
		e:    e,
		ctx:  ctx,
		vc:   vc,
		errs: &ledger.ErrorLog{},
		opts: opts,
		log:  e.log.With().Str("viewpoint", vc.Viewpoint.String()).Logger(),
	}
}

// scope is the sharing state of one ledger: its Policy Database and the
// Splitter realizing its assertion accounts.
type scope struct {
	path     string
	db       *policy.Database
	splitter *split.Splitter
}

func (p *pass) newScope(path string) *scope {
	db := policy.NewDatabase()
	sc := &scope{
		path:     path,
		db:       db,
		splitter: split.NewSplitter(db, p.e.cfg.Split, p.log),
	}
	for _, seed := range p.e.cfg.Seeds {
		if err := db.AddPolicy(seed.Key, seed.Definition); err != nil {
			p.errs.Add(nil, &SeedError{Key: seed.Key, Err: err})
		}
	}
	return sc
}

func (p *pass) emit(entries ...ledger.Entry) {
	p.out = append(p.out, entries...)
}

func (p *pass) record(accounts []string, date time.Time) {
	for _, a := range accounts {
		p.vc.Record(a, date)
	}
}

func viewKind(vp split.Viewpoint) string {
	switch vp.Kind {
	case split.ViewEveryone:
		return "everyone"
	case split.ViewParty:
		return "party"
	default:
		return "nobody"
	}
}
