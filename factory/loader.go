package factory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/warp/ledger-share/engine"
)

// FileLoader reads JSON Lines ledgers from a directory. Relative paths are
// resolved against Dir; with a non-empty Dir, paths that leave it are
// refused. The path as given is what entries record as their filename, so
// link directives and error messages use the same names as include
// directives do.
type FileLoader struct {
	Dir string
}

// NewFileLoader creates a loader rooted at dir.
func NewFileLoader(dir string) *FileLoader {
	return &FileLoader{Dir: dir}
}

// Load implements engine.Loader.
func (l *FileLoader) Load(ctx context.Context, path string) (engine.LoadResult, error) {
	if err := ctx.Err(); err != nil {
		return engine.LoadResult{}, err
	}
	full, err := l.Resolve(path)
	if err != nil {
		return engine.LoadResult{}, err
	}

	f, err := os.Open(full)
	if err != nil {
		return engine.LoadResult{}, fmt.Errorf("could not open ledger file %q: %w", full, err)
	}
	defer f.Close()

	entries, errs, err := ParseLedger(f, path)
	if err != nil {
		return engine.LoadResult{}, err
	}
	return engine.LoadResult{Entries: entries, Errors: errs}, nil
}

// Resolve maps a ledger path to a file system path.
func (l *FileLoader) Resolve(path string) (string, error) {
	if l.Dir == "" {
		return filepath.Clean(path), nil
	}
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(l.Dir, path)
	}
	full = filepath.Clean(full)

	rel, err := filepath.Rel(filepath.Clean(l.Dir), full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideDir, path)
	}
	return full, nil
}

var _ engine.Loader = (*FileLoader)(nil)
