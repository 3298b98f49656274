// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package catalog indexes harvest runs, datasets, authors and files in a
// SQLite database so they can be queried after the crawl.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/dataverse-harvester/pkg/types"
)

// Store manages the catalog SQLite database. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens or creates the catalog database at path and creates the
// schema if it does not exist.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating catalog directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection serializes writers from concurrent workers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			query TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			processed INTEGER NOT NULL DEFAULT 0,
			saved INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS datasets (
			persistent_id TEXT PRIMARY KEY,
			id TEXT,
			name TEXT,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS authors (
			dataset_persistent_id TEXT NOT NULL REFERENCES datasets(persistent_id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			name TEXT,
			affiliation TEXT,
			PRIMARY KEY (dataset_persistent_id, position)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_authors_affiliation ON authors(affiliation)`,
		`CREATE TABLE IF NOT EXISTS files (
			dedup_key TEXT PRIMARY KEY,
			file_id TEXT,
			name TEXT NOT NULL,
			dataset_persistent_id TEXT,
			dataset_name TEXT,
			outcome TEXT NOT NULL,
			path TEXT,
			error TEXT,
			run_id TEXT REFERENCES runs(id),
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_files_dataset ON files(dataset_persistent_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// BeginRun records the start of a harvest and returns its run ID.
func (s *Store) BeginRun(ctx context.Context, query string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, query, started_at) VALUES (?, ?, ?)`, id, query, now())
	if err != nil {
		return "", fmt.Errorf("inserting run: %w", err)
	}
	return id, nil
}

// FinishRun stores the final counts of a run and its fatal error, if any.
func (s *Store) FinishRun(ctx context.Context, runID string, summary types.HarvestSummary, runErr error) error {
	var errText sql.NullString
	if runErr != nil {
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, processed = ?, saved = ?, skipped = ?, failed = ?, error = ?
		 WHERE id = ?`,
		now(), summary.Processed, summary.Saved, summary.Skipped, summary.Failed, errText, runID)
	if err != nil {
		return fmt.Errorf("updating run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &RunNotFoundError{ID: runID}
	}
	return nil
}

// RecordDataset upserts a dataset and replaces its author list, keeping
// the source order in the position column.
func (s *Store) RecordDataset(ctx context.Context, rec types.DatasetRecord) error {
	if rec.PersistentID == "" {
		return fmt.Errorf("dataset record has no persistent ID")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO datasets (persistent_id, id, name, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(persistent_id) DO UPDATE SET
			id=excluded.id, name=excluded.name, updated_at=excluded.updated_at`,
		rec.PersistentID, rec.ID, rec.Name, now())
	if err != nil {
		return fmt.Errorf("upserting dataset %s: %w", rec.PersistentID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM authors WHERE dataset_persistent_id = ?`, rec.PersistentID); err != nil {
		return fmt.Errorf("deleting old authors: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO authors (dataset_persistent_id, position, name, affiliation) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, a := range rec.Authors {
		if _, err := stmt.ExecContext(ctx, rec.PersistentID, i, nullable(a.Name), nullable(a.Affiliation)); err != nil {
			return fmt.Errorf("inserting author %d of %s: %w", i, rec.PersistentID, err)
		}
	}
	return tx.Commit()
}

// RecordFile upserts the latest outcome for a file, keyed by dedupKey.
// An empty runID stores no run reference.
func (s *Store) RecordFile(ctx context.Context, runID, dedupKey string, item types.SearchResultItem, out types.DownloadOutcome) error {
	var errText sql.NullString
	if out.Err != nil {
		errText = sql.NullString{String: out.Err.Error(), Valid: true}
	}
	path := nonEmpty(out.Path)
	run := nonEmpty(runID)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (dedup_key, file_id, name, dataset_persistent_id, dataset_name, outcome, path, error, run_id, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(dedup_key) DO UPDATE SET
			file_id=excluded.file_id, name=excluded.name,
			dataset_persistent_id=excluded.dataset_persistent_id, dataset_name=excluded.dataset_name,
			outcome=excluded.outcome, path=excluded.path, error=excluded.error,
			run_id=excluded.run_id, updated_at=excluded.updated_at`,
		dedupKey, nullable(item.FileID), item.Name, nullable(item.DatasetPersistentID), item.DatasetName,
		string(out.Kind), path, errText, run, now())
	if err != nil {
		return fmt.Errorf("upserting file %s: %w", dedupKey, err)
	}
	return nil
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nonEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func fromNullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

// RunNotFoundError is returned when a run ID has no record.
type RunNotFoundError struct {
	ID string
}

func (e *RunNotFoundError) Error() string {
	return fmt.Sprintf("no harvest run with ID %s", e.ID)
}
