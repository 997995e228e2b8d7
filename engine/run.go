package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/warp/ledger-share/ledger"
	"github.com/warp/ledger-share/split"
)

// Run is a stored render: what was asked for and what came out.
type Run struct {
	ID        string
	Viewpoint string
	Source    string
	CreatedAt time.Time
	Entries   []ledger.Entry
	Errors    []string
	Options   Options
}

// NewRun records res as a run of source rendered for vp.
func NewRun(source string, vp split.Viewpoint, res Result) Run {
	errs := make([]string, 0, len(res.Errors))
	for _, err := range res.Errors {
		errs = append(errs, err.Error())
	}
	return Run{
		ID:        uuid.NewString(),
		Viewpoint: vp.String(),
		Source:    source,
		CreatedAt: time.Now().UTC(),
		Entries:   res.Entries,
		Errors:    errs,
		Options:   res.Options,
	}
}

// RunStore persists runs. Runs are never modified once saved.
type RunStore interface {
	SaveRun(ctx context.Context, run Run) error
	// GetRun returns ErrRunNotFound for unknown ids.
	GetRun(ctx context.Context, id string) (Run, error)
	// ListRuns returns the most recent runs first, at most limit of them
	// (all when limit <= 0).
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}

// PolicyStore persists seed policies between renders. ListPolicies returns
// them in the order they were first saved, so a named parent is listed
// before the definitions inheriting from it.
type PolicyStore interface {
	SavePolicy(ctx context.Context, seed Seed) error
	ListPolicies(ctx context.Context) ([]Seed, error)
	// DeletePolicy returns ErrPolicyNotFound for unknown keys.
	DeletePolicy(ctx context.Context, key string) error
}
