package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rubrica-app/rubrica/internal/exam"
)

// PutRubric stores r as the next seq of its version and returns that seq.
// Earlier seqs are left untouched, so exams pinned to them keep grading
// against the rubric they were added under.
func (s *Store) PutRubric(ctx context.Context, r exam.Rubric) (int64, error) {
	content, err := marshalRubric(r)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("put rubric: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM rubrics WHERE version = ?`, r.Version,
	).Scan(&seq); err != nil {
		return 0, fmt.Errorf("put rubric: next seq: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO rubrics (version, seq, content, created_at)
		VALUES (?, ?, ?, ?)
	`, r.Version, seq, content, s.timestamp()); err != nil {
		return 0, fmt.Errorf("put rubric: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("put rubric: commit: %w", err)
	}
	return seq, nil
}

// Rubric returns the latest seq of version.
func (s *Store) Rubric(ctx context.Context, version string) (exam.Rubric, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, content FROM rubrics
		WHERE version = ?
		ORDER BY seq DESC
		LIMIT 1
	`, version)
	return scanRubric(row, version)
}

// RubricAt returns one specific seq of version.
func (s *Store) RubricAt(ctx context.Context, version string, seq int64) (exam.Rubric, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, content FROM rubrics
		WHERE version = ? AND seq = ?
	`, version, seq)
	return scanRubric(row, version)
}

// RubricVersions lists every stored version with its latest seq, ordered by
// version.
func (s *Store) RubricVersions(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, MAX(seq) FROM rubrics
		GROUP BY version
		ORDER BY version COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query rubric versions: %w", err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var version string
		var seq int64
		if err := rows.Scan(&version, &seq); err != nil {
			return nil, fmt.Errorf("scan rubric version: %w", err)
		}
		out[version] = seq
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rubric versions: %w", err)
	}
	return out, nil
}

func scanRubric(row *sql.Row, version string) (exam.Rubric, error) {
	var seq int64
	var content string
	if err := row.Scan(&seq, &content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return exam.Rubric{}, fmt.Errorf("rubric %q: %w", version, ErrNotFound)
		}
		return exam.Rubric{}, fmt.Errorf("read rubric %q: %w", version, err)
	}
	r, err := unmarshalRubric(content)
	if err != nil {
		return exam.Rubric{}, err
	}
	r.Seq = seq
	return r, nil
}
