package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rmax-ai/fhirgraph/pkg/discovery"
)

// Store keeps the discovery run log and leases in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database at dbPath.
// It enables WAL mode so report readers do not block a running discovery.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS discovery_runs (
		run_id TEXT PRIMARY KEY,
		source_url TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		sample_limit INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS discovery_pairs (
		run_id TEXT NOT NULL REFERENCES discovery_runs(run_id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		source_type TEXT NOT NULL,
		field TEXT NOT NULL,
		outcome TEXT NOT NULL,
		sampled INTEGER NOT NULL,
		malformed INTEGER NOT NULL,
		targets JSON NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_discovery_runs_started ON discovery_runs(started_at);

	CREATE TABLE IF NOT EXISTS leases (
		name TEXT PRIMARY KEY,
		holder_id TEXT NOT NULL,
		expires_at DATETIME NOT NULL,
		version INTEGER NOT NULL
	);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return nil
}

// SaveReport stores a discovery report in one transaction.
func (s *Store) SaveReport(ctx context.Context, r *discovery.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO discovery_runs (run_id, source_url, started_at, finished_at, sample_limit)
		VALUES (?, ?, ?, ?, ?)
	`, r.RunID, r.SourceURL, r.StartedAt.UTC(), r.FinishedAt.UTC(), r.SampleLimit); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", r.RunID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO discovery_pairs (run_id, seq, source_type, field, outcome, sampled, malformed, targets, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare pair insert: %w", err)
	}
	defer stmt.Close()

	for i, p := range r.Pairs {
		targets := p.Targets
		if targets == nil {
			targets = []string{}
		}
		targetsJSON, err := json.Marshal(targets)
		if err != nil {
			return fmt.Errorf("failed to marshal targets: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, r.RunID, i, p.SourceType, p.Field, string(p.Outcome), p.Sampled, p.Malformed, string(targetsJSON), p.Error); err != nil {
			return fmt.Errorf("failed to insert pair %s.%s: %w", p.SourceType, p.Field, err)
		}
	}

	return tx.Commit()
}

// LatestReport returns the most recent run, optionally restricted to one source.
func (s *Store) LatestReport(ctx context.Context, sourceURL string) (*discovery.Report, error) {
	query := `SELECT run_id FROM discovery_runs`
	var args []any
	if sourceURL != "" {
		query += ` WHERE source_url = ?`
		args = append(args, sourceURL)
	}
	query += ` ORDER BY started_at DESC, rowid DESC LIMIT 1`

	var runID string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoRuns
		}
		return nil, fmt.Errorf("failed to find latest run: %w", err)
	}
	return s.GetReport(ctx, runID)
}

// GetReport loads one run with all of its pairs.
func (s *Store) GetReport(ctx context.Context, runID string) (*discovery.Report, error) {
	r := &discovery.Report{}
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, source_url, started_at, finished_at, sample_limit
		FROM discovery_runs WHERE run_id = ?
	`, runID).Scan(&r.RunID, &r.SourceURL, &r.StartedAt, &r.FinishedAt, &r.SampleLimit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", runID, ErrNoRuns)
		}
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source_type, field, outcome, sampled, malformed, targets, error
		FROM discovery_pairs WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pairs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p discovery.Pair
		var outcome, targets string
		if err := rows.Scan(&p.SourceType, &p.Field, &outcome, &p.Sampled, &p.Malformed, &targets, &p.Error); err != nil {
			return nil, fmt.Errorf("failed to scan pair: %w", err)
		}
		p.Outcome = discovery.Outcome(outcome)
		if err := json.Unmarshal([]byte(targets), &p.Targets); err != nil {
			return nil, fmt.Errorf("failed to unmarshal targets: %w", err)
		}
		if len(p.Targets) == 0 {
			p.Targets = nil
		}
		r.Pairs = append(r.Pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return r, nil
}

// ListRuns returns up to limit runs, newest first, with outcome counts.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, r.source_url, r.started_at, r.finished_at, r.sample_limit,
			COALESCE(SUM(p.outcome = 'accepted'), 0),
			COALESCE(SUM(p.outcome = 'ambiguous'), 0),
			COALESCE(SUM(p.outcome = 'empty'), 0),
			COALESCE(SUM(p.outcome = 'failed'), 0)
		FROM discovery_runs r
		LEFT JOIN discovery_pairs p ON p.run_id = r.run_id
		GROUP BY r.run_id
		ORDER BY r.started_at DESC, r.rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var rs RunSummary
		if err := rows.Scan(&rs.RunID, &rs.SourceURL, &rs.StartedAt, &rs.FinishedAt, &rs.SampleLimit,
			&rs.Accepted, &rs.Ambiguous, &rs.Empty, &rs.Failed); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}
