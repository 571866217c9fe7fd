// Package store is the durable source of truth for specgate.
//
// It uses SQLite (pure-Go modernc driver) in WAL mode. Every governance
// row is written inside a transaction; versions, authorities, acceptance
// records and evidence are append-only. The only status column that ever
// changes is the specification version lifecycle and the artifact
// delivery state, and both change through conditional UPDATEs.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/HendryAvila/specgate/internal/governance"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds store configuration.
type Config struct {
	DataDir string
	// FileName defaults to specgate.db.
	FileName string
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir:  filepath.Join(home, ".specgate"),
		FileName: "specgate.db",
	}
}

// ─── Store ───────────────────────────────────────────────────────────────────

// Store is the SQLite-backed governance store.
type Store struct {
	db    *sql.DB
	cfg   Config
	hooks storeHooks
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type storeHooks struct {
	exec    func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error)
	beginTx func(ctx context.Context, db *sql.DB) (*sql.Tx, error)
	commit  func(tx *sql.Tx) error
}

func defaultStoreHooks() storeHooks {
	return storeHooks{
		exec: func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error) {
			return db.ExecContext(ctx, query, args...)
		},
		beginTx: func(ctx context.Context, db *sql.DB) (*sql.Tx, error) {
			return db.BeginTx(ctx, nil)
		},
		commit: func(tx *sql.Tx) error {
			return tx.Commit()
		},
	}
}

func (s *Store) execHook(ctx context.Context, db execer, query string, args ...any) (sql.Result, error) {
	if s.hooks.exec != nil {
		return s.hooks.exec(ctx, db, query, args...)
	}
	return db.ExecContext(ctx, query, args...)
}

func (s *Store) beginTxHook(ctx context.Context) (*sql.Tx, error) {
	if s.hooks.beginTx != nil {
		return s.hooks.beginTx(ctx, s.db)
	}
	return s.db.BeginTx(ctx, nil)
}

func (s *Store) commitHook(tx *sql.Tx) error {
	if s.hooks.commit != nil {
		return s.hooks.commit(tx)
	}
	return tx.Commit()
}

// withTx runs fn inside a transaction, rolling back when fn or the
// commit fails.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.beginTxHook(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := s.commitHook(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// New creates a Store with the given configuration.
// It creates the data directory if needed, opens SQLite with WAL mode,
// and runs migrations.
func New(cfg Config) (*Store, error) {
	if cfg.FileName == "" {
		cfg.FileName = "specgate.db"
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, cfg.FileName)
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// SQLite performance pragmas
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, cfg: cfg, hooks: defaultStoreHooks()}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return filepath.Join(s.cfg.DataDir, s.cfg.FileName)
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS spec_contents (
			content_ref TEXT PRIMARY KEY,
			content     TEXT NOT NULL,
			created_at  TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS spec_versions (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id      TEXT NOT NULL,
			content_ref     TEXT NOT NULL REFERENCES spec_contents(content_ref),
			content_hash    TEXT NOT NULL,
			status          TEXT NOT NULL DEFAULT 'draft'
			                CHECK (status IN ('draft', 'pending_review', 'approved', 'superseded')),
			approver        TEXT NOT NULL DEFAULT '',
			approval_notes  TEXT NOT NULL DEFAULT '',
			approved_at     TEXT NOT NULL DEFAULT '',
			idempotency_key TEXT,
			created_at      TEXT NOT NULL,
			UNIQUE (project_id, idempotency_key)
		);

		CREATE INDEX IF NOT EXISTS idx_versions_project ON spec_versions(project_id, id);

		CREATE TABLE IF NOT EXISTS change_reviews (
			id              TEXT PRIMARY KEY,
			version_id      INTEGER NOT NULL REFERENCES spec_versions(id),
			base_version_id INTEGER REFERENCES spec_versions(id),
			diff            TEXT NOT NULL,
			lines_added     INTEGER NOT NULL,
			lines_removed   INTEGER NOT NULL,
			created_at      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_reviews_version ON change_reviews(version_id);

		CREATE TABLE IF NOT EXISTS compiled_authorities (
			id                 TEXT PRIMARY KEY,
			version_id         INTEGER NOT NULL UNIQUE REFERENCES spec_versions(id),
			compiler_version   TEXT NOT NULL,
			prompt_fingerprint TEXT NOT NULL,
			source_hash        TEXT NOT NULL,
			scope              TEXT NOT NULL,
			invariants         TEXT NOT NULL,
			eligible_items     TEXT NOT NULL,
			rejected_items     TEXT NOT NULL,
			open_gaps          TEXT NOT NULL,
			compiled_at        TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS acceptance_records (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT NOT NULL UNIQUE,
			project_id      TEXT NOT NULL,
			version_id      INTEGER NOT NULL REFERENCES spec_versions(id),
			decision        TEXT NOT NULL CHECK (decision IN ('accepted', 'rejected')),
			policy          TEXT NOT NULL,
			reviewer        TEXT NOT NULL,
			rationale       TEXT NOT NULL DEFAULT '',
			idempotency_key TEXT UNIQUE,
			created_at      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_acceptance_pair ON acceptance_records(project_id, version_id, seq);

		CREATE TABLE IF NOT EXISTS artifacts (
			id                       TEXT PRIMARY KEY,
			project_id               TEXT NOT NULL,
			kind                     TEXT NOT NULL,
			title                    TEXT NOT NULL,
			body                     TEXT NOT NULL DEFAULT '',
			fields                   TEXT NOT NULL DEFAULT '{}',
			acceptance_criteria      TEXT NOT NULL DEFAULT '[]',
			topics                   TEXT NOT NULL DEFAULT '[]',
			status                   TEXT NOT NULL DEFAULT 'draft',
			content_hash             TEXT NOT NULL,
			accepted_spec_version_id INTEGER REFERENCES spec_versions(id),
			created_at               TEXT NOT NULL,
			updated_at               TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_artifacts_pin ON artifacts(project_id, accepted_spec_version_id);

		CREATE TABLE IF NOT EXISTS validation_evidence (
			seq               INTEGER PRIMARY KEY AUTOINCREMENT,
			id                TEXT NOT NULL UNIQUE,
			artifact_id       TEXT NOT NULL REFERENCES artifacts(id),
			project_id        TEXT NOT NULL,
			version_id        INTEGER NOT NULL REFERENCES spec_versions(id),
			validator_version TEXT NOT NULL,
			input_hash        TEXT NOT NULL,
			rules             TEXT NOT NULL,
			passed            INTEGER NOT NULL,
			warnings          TEXT NOT NULL DEFAULT '[]',
			relied_invariants TEXT NOT NULL DEFAULT '[]',
			attempt_key       TEXT UNIQUE,
			created_at        TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_evidence_artifact ON validation_evidence(artifact_id, seq);
		CREATE INDEX IF NOT EXISTS idx_evidence_version ON validation_evidence(version_id, passed);

		CREATE TABLE IF NOT EXISTS impact_reports (
			id           TEXT PRIMARY KEY,
			from_version INTEGER NOT NULL REFERENCES spec_versions(id),
			to_version   INTEGER NOT NULL REFERENCES spec_versions(id),
			fingerprint  TEXT NOT NULL,
			report       TEXT NOT NULL,
			created_at   TEXT NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func notFound(op, format string, args ...any) error {
	return governance.E(governance.NotFound, op, format, args...)
}

func encodeJSON(v any) (string, error) {
	if v == nil {
		return "null", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeJSON(raw string, v any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullVersion(v governance.VersionID) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v != 0}
}

func stamp(ts string) string {
	if ts == "" {
		return governance.Timestamp()
	}
	return ts
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// noRows maps sql.ErrNoRows onto a NotFound governance error.
func noRows(err error, op, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(op, format, args...)
	}
	return fmt.Errorf("%s: %w", op, err)
}
