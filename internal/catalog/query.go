// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pdiddy/dataverse-harvester/pkg/types"
)

const defaultLimit = 1000

// AuthorQuery filters catalog author lookups. Empty fields match everything.
type AuthorQuery struct {
	// Affiliation matches authors whose affiliation contains this substring,
	// case-insensitively.
	Affiliation string

	// Name matches authors whose name contains this substring.
	Name string

	// Limit caps the number of rows. Zero uses the default.
	Limit int
}

// AuthorRow is one author of one dataset.
type AuthorRow struct {
	DatasetPersistentID string  `json:"dataset_persistent_id" yaml:"dataset_persistent_id"`
	DatasetName         string  `json:"dataset_name" yaml:"dataset_name"`
	Position            int     `json:"position" yaml:"position"`
	Name                *string `json:"name" yaml:"name"`
	Affiliation         *string `json:"affiliation" yaml:"affiliation"`
}

// Authors returns authors matching q, ordered by dataset then position.
func (s *Store) Authors(ctx context.Context, q AuthorQuery) ([]AuthorRow, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	var (
		qb   strings.Builder
		args []any
	)
	qb.WriteString(
		`SELECT a.dataset_persistent_id, COALESCE(d.name, ''), a.position, a.name, a.affiliation
		FROM authors a
		JOIN datasets d ON d.persistent_id = a.dataset_persistent_id
		WHERE 1=1`)
	if q.Affiliation != "" {
		qb.WriteString(` AND a.affiliation LIKE ? COLLATE NOCASE`)
		args = append(args, "%"+q.Affiliation+"%")
	}
	if q.Name != "" {
		qb.WriteString(` AND a.name LIKE ? COLLATE NOCASE`)
		args = append(args, "%"+q.Name+"%")
	}
	qb.WriteString(` ORDER BY a.dataset_persistent_id, a.position LIMIT ?`)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying authors: %w", err)
	}
	defer rows.Close()

	var out []AuthorRow
	for rows.Next() {
		var (
			r           AuthorRow
			name, affil sql.NullString
		)
		if err := rows.Scan(&r.DatasetPersistentID, &r.DatasetName, &r.Position, &name, &affil); err != nil {
			return nil, fmt.Errorf("scanning author row: %w", err)
		}
		r.Name = fromNullable(name)
		r.Affiliation = fromNullable(affil)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Datasets returns every cataloged dataset with its ordered author list.
func (s *Store) Datasets(ctx context.Context) ([]types.DatasetRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT persistent_id, COALESCE(id, ''), COALESCE(name, '') FROM datasets ORDER BY persistent_id`)
	if err != nil {
		return nil, fmt.Errorf("querying datasets: %w", err)
	}

	var (
		records []types.DatasetRecord
		index   = map[string]int{}
	)
	for rows.Next() {
		var rec types.DatasetRecord
		if err := rows.Scan(&rec.PersistentID, &rec.ID, &rec.Name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning dataset row: %w", err)
		}
		rec.Authors = []types.Author{}
		index[rec.PersistentID] = len(records)
		records = append(records, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	authors, err := s.db.QueryContext(ctx,
		`SELECT dataset_persistent_id, name, affiliation FROM authors ORDER BY dataset_persistent_id, position`)
	if err != nil {
		return nil, fmt.Errorf("querying authors: %w", err)
	}
	defer authors.Close()
	for authors.Next() {
		var (
			pid         string
			name, affil sql.NullString
		)
		if err := authors.Scan(&pid, &name, &affil); err != nil {
			return nil, fmt.Errorf("scanning author row: %w", err)
		}
		if i, ok := index[pid]; ok {
			records[i].Authors = append(records[i].Authors, types.Author{
				Name: fromNullable(name), Affiliation: fromNullable(affil),
			})
		}
	}
	return records, authors.Err()
}

// RunRow summarizes one harvest run.
type RunRow struct {
	ID         string  `json:"id" yaml:"id"`
	Query      string  `json:"query" yaml:"query"`
	StartedAt  string  `json:"started_at" yaml:"started_at"`
	FinishedAt *string `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Processed  int     `json:"processed" yaml:"processed"`
	Saved      int     `json:"saved" yaml:"saved"`
	Skipped    int     `json:"skipped" yaml:"skipped"`
	Failed     int     `json:"failed" yaml:"failed"`
	Error      *string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Runs returns the most recent runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, query, started_at, finished_at, processed, saved, skipped, failed, error
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var (
			r                RunRow
			finished, errTxt sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Query, &r.StartedAt, &finished, &r.Processed,
			&r.Saved, &r.Skipped, &r.Failed, &errTxt); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		r.FinishedAt = fromNullable(finished)
		r.Error = fromNullable(errTxt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// FileRow is the latest recorded outcome for one file.
type FileRow struct {
	DedupKey            string  `json:"dedup_key" yaml:"dedup_key"`
	FileID              *string `json:"file_id" yaml:"file_id"`
	Name                string  `json:"name" yaml:"name"`
	DatasetPersistentID *string `json:"dataset_persistent_id" yaml:"dataset_persistent_id"`
	Outcome             string  `json:"outcome" yaml:"outcome"`
	Path                *string `json:"path,omitempty" yaml:"path,omitempty"`
	Error               *string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Files returns recorded files, optionally restricted to one outcome kind.
func (s *Store) Files(ctx context.Context, outcome types.OutcomeKind) ([]FileRow, error) {
	query := `SELECT dedup_key, file_id, name, dataset_persistent_id, outcome, path, error FROM files`
	var args []any
	if outcome != "" {
		query += ` WHERE outcome = ?`
		args = append(args, string(outcome))
	}
	query += ` ORDER BY dedup_key`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying files: %w", err)
	}
	defer rows.Close()

	var out []FileRow
	for rows.Next() {
		var (
			r                        FileRow
			fileID, pid, path, errTx sql.NullString
		)
		if err := rows.Scan(&r.DedupKey, &fileID, &r.Name, &pid, &r.Outcome, &path, &errTx); err != nil {
			return nil, fmt.Errorf("scanning file row: %w", err)
		}
		r.FileID = fromNullable(fileID)
		r.DatasetPersistentID = fromNullable(pid)
		r.Path = fromNullable(path)
		r.Error = fromNullable(errTx)
		out = append(out, r)
	}
	return out, rows.Err()
}
