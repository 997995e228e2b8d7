/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Persists render runs and seed policy definitions. A run stores what was
  rendered (source, viewpoint), the output entries, the error messages and
  the ledger options, so a render can be fetched again without re-reading
  the ledger files.

INTERFACES IMPLEMENTED:
  engine.RunStore:    Render runs (append-only)
  engine.PolicyStore: Seed policy definitions

APPEND-ONLY ENFORCEMENT:
  Runs are never updated or deleted. Saving an existing run id fails with
  store.ErrDuplicateRun, like the in-memory store.

KEY TABLES:
  runs:     One row per render; entries, errors and options as JSON
  policies: Seed definitions keyed by policy key, in insertion order

ENCODING:
  Entries use the factory JSON form (one object per entry, in a JSON
  array), definitions the factory DefinitionJSON form. Run timestamps are
  fixed-width UTC so that they sort as text.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time

USAGE:
  st, err := sqlite.New("./data/share.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

SEE ALSO:
  - engine/run.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/ledger-share/engine"
	"github.com/warp/ledger-share/engine/store"
	"github.com/warp/ledger-share/factory"
	"github.com/warp/ledger-share/ledger"
	"github.com/warp/ledger-share/observability"
	"github.com/warp/ledger-share/policy"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements the run and policy stores using SQLite.
type Store struct {
	db      *sql.DB
	mu      sync.RWMutex
	metrics *observability.Metrics
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is its own database.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// WithMetrics counts saved runs on m.
func (s *Store) WithMetrics(m *observability.Metrics) *Store {
	s.metrics = m
	return s
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Render runs (append-only)
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		viewpoint TEXT NOT NULL,
		source TEXT NOT NULL,
		entries_json TEXT NOT NULL,
		errors_json TEXT NOT NULL,
		options_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created_at
		ON runs(created_at DESC);

	-- Seed policies
	CREATE TABLE IF NOT EXISTS policies (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		policy_key TEXT NOT NULL UNIQUE,
		definition_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RUN STORE (engine.RunStore interface)
// =============================================================================

// SaveRun appends a run.
func (s *Store) SaveRun(ctx context.Context, run engine.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entriesJSON, err := encodeEntries(run.Entries)
	if err != nil {
		return err
	}
	errs := run.Errors
	if errs == nil {
		errs = []string{}
	}
	errorsJSON, _ := json.Marshal(errs)
	optionsJSON, _ := json.Marshal(run.Options)

	query := `
		INSERT INTO runs
		(id, viewpoint, source, entries_json, errors_json, options_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		run.Viewpoint,
		run.Source,
		string(entriesJSON),
		string(errorsJSON),
		string(optionsJSON),
		run.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return store.ErrDuplicateRun
		}
		return fmt.Errorf("failed to save run: %w", err)
	}

	s.metrics.RunSaved()
	return nil
}

// GetRun returns one run.
func (s *Store) GetRun(ctx context.Context, id string) (engine.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, viewpoint, source, entries_json, errors_json, options_json, created_at
		FROM runs
		WHERE id = ?
	`
	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Run{}, engine.ErrRunNotFound
	}
	return run, err
}

// ListRuns returns the latest runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]engine.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, viewpoint, source, entries_json, errors_json, options_json, created_at
		FROM runs
		ORDER BY created_at DESC, rowid DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []engine.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (engine.Run, error) {
	var (
		run                                 engine.Run
		entriesJSON, errorsJSON, optionsJSON string
		createdAt                           string
	)
	if err := row.Scan(&run.ID, &run.Viewpoint, &run.Source, &entriesJSON, &errorsJSON, &optionsJSON, &createdAt); err != nil {
		return engine.Run{}, err
	}

	entries, err := decodeEntries([]byte(entriesJSON))
	if err != nil {
		return engine.Run{}, fmt.Errorf("run %s: %w", run.ID, err)
	}
	run.Entries = entries
	if err := json.Unmarshal([]byte(errorsJSON), &run.Errors); err != nil {
		return engine.Run{}, fmt.Errorf("run %s: failed to decode errors: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(optionsJSON), &run.Options); err != nil {
		return engine.Run{}, fmt.Errorf("run %s: failed to decode options: %w", run.ID, err)
	}
	run.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return engine.Run{}, fmt.Errorf("run %s: bad created_at: %w", run.ID, err)
	}
	return run, nil
}

func encodeEntries(entries []ledger.Entry) ([]byte, error) {
	out := make([]factory.EntryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, factory.ToJSON(e))
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entries: %w", err)
	}
	return data, nil
}

func decodeEntries(data []byte) ([]ledger.Entry, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode entries: %w", err)
	}
	entries := make([]ledger.Entry, 0, len(raw))
	for i, r := range raw {
		ej, err := factory.DecodeEntry(r)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		e, err := factory.FromJSON(ej)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// =============================================================================
// POLICY STORE (engine.PolicyStore interface)
// =============================================================================

// SavePolicy inserts or replaces a seed definition. A replaced definition
// keeps its position in ListPolicies.
func (s *Store) SavePolicy(ctx context.Context, seed engine.Seed) error {
	if _, _, err := policy.ClassifyKey(seed.Key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	defJSON, err := json.Marshal(factory.FromDefinition(seed.Definition))
	if err != nil {
		return fmt.Errorf("failed to encode definition: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)

	query := `
		INSERT INTO policies (policy_key, definition_json, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(policy_key) DO UPDATE SET
			definition_json = excluded.definition_json,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, strings.TrimSpace(seed.Key), string(defJSON), now, now); err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

// ListPolicies returns every seed definition in insertion order.
func (s *Store) ListPolicies(ctx context.Context) ([]engine.Seed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT policy_key, definition_json FROM policies ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var seeds []engine.Seed
	for rows.Next() {
		var key, defJSON string
		if err := rows.Scan(&key, &defJSON); err != nil {
			return nil, err
		}
		def, err := factory.ParseDefinition([]byte(defJSON))
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", key, err)
		}
		seeds = append(seeds, engine.Seed{Key: key, Definition: def})
	}
	return seeds, rows.Err()
}

// DeletePolicy removes a seed definition.
func (s *Store) DeletePolicy(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM policies WHERE policy_key = ?`, strings.TrimSpace(key))
	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return engine.ErrPolicyNotFound
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY"))
}

var (
	_ engine.RunStore    = (*Store)(nil)
	_ engine.PolicyStore = (*Store)(nil)
)
