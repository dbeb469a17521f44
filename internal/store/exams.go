package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/rubrica-app/rubrica/internal/exam"
)

// AddExam stores a validated exam input as a pending exam pinned to the
// latest seq of its rubric version. The input must carry its anonymous
// identifier already.
func (s *Store) AddExam(ctx context.Context, in exam.Input) (exam.Exam, error) {
	if err := exam.CheckAnonID(in.AnonID); err != nil {
		return exam.Exam{}, err
	}
	if err := in.Validate(); err != nil {
		return exam.Exam{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return exam.Exam{}, fmt.Errorf("add exam: %w", err)
	}
	defer tx.Rollback()

	var latest sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM rubrics WHERE version = ?`, in.RubricVersion,
	).Scan(&latest); err != nil {
		return exam.Exam{}, fmt.Errorf("add exam: rubric seq: %w", err)
	}
	if !latest.Valid {
		return exam.Exam{}, fmt.Errorf("add exam: rubric %q: %w", in.RubricVersion, ErrNotFound)
	}
	seq := latest.Int64

	_, err = tx.ExecContext(ctx, `
		INSERT INTO exams (anon_id, rubric_version, rubric_seq, state, created_at)
		VALUES (?, ?, ?, 'pending', ?)
	`, in.AnonID, in.RubricVersion, seq, s.timestamp())
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return exam.Exam{}, fmt.Errorf("add exam %s: %w", in.AnonID, ErrExists)
		}
		return exam.Exam{}, fmt.Errorf("add exam: %w", err)
	}

	for _, p := range in.Pages {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pages (anon_id, number, media_type, data)
			VALUES (?, ?, ?, ?)
		`, in.AnonID, p.Number, p.MediaType, p.Data); err != nil {
			return exam.Exam{}, fmt.Errorf("add exam: page %d: %w", p.Number, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return exam.Exam{}, fmt.Errorf("add exam: commit: %w", err)
	}

	return exam.Exam{
		AnonID:        in.AnonID,
		RubricVersion: in.RubricVersion,
		RubricSeq:     seq,
		State:         exam.StatePending,
	}, nil
}

// AnonIDExists reports whether an exam already uses id.
func (s *Store) AnonIDExists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exams WHERE anon_id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("check anon id: %w", err)
	}
	return n > 0, nil
}

const examColumns = `anon_id, rubric_version, rubric_seq, state, grade, error, run_id, attempts, graded_at`

// Exam returns one exam without its pages.
func (s *Store) Exam(ctx context.Context, id string) (exam.Exam, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+examColumns+` FROM exams WHERE anon_id = ?`, id)
	e, err := scanExam(row)
	if errors.Is(err, sql.ErrNoRows) {
		return exam.Exam{}, fmt.Errorf("exam %s: %w", id, ErrNotFound)
	}
	return e, err
}

// Pages returns an exam's answer pages ordered by page number.
func (s *Store) Pages(ctx context.Context, id string) ([]exam.Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT number, media_type, data FROM pages
		WHERE anon_id = ?
		ORDER BY number ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}
	defer rows.Close()

	var pages []exam.Page
	for rows.Next() {
		var p exam.Page
		if err := rows.Scan(&p.Number, &p.MediaType, &p.Data); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return pages, nil
}

// Filter selects exams in ListExams. Zero fields match everything.
type Filter struct {
	States []exam.State
	IDs    []string
	RunID  string
}

// ListExams returns exams matching f, ordered by anonymous identifier.
func (s *Store) ListExams(ctx context.Context, f Filter) ([]exam.Exam, error) {
	var where []string
	var args []any
	if len(f.States) > 0 {
		where = append(where, "state IN ("+placeholders(len(f.States))+")")
		for _, st := range f.States {
			args = append(args, string(st))
		}
	}
	if len(f.IDs) > 0 {
		where = append(where, "anon_id IN ("+placeholders(len(f.IDs))+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	if f.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, f.RunID)
	}

	query := `SELECT ` + examColumns + ` FROM exams`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY anon_id COLLATE BINARY ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query exams: %w", err)
	}
	defer rows.Close()

	exams := []exam.Exam{}
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exams: %w", err)
	}
	return exams, nil
}

// Counts returns the number of exams in each state. Every state is present.
func (s *Store) Counts(ctx context.Context) (map[exam.State]int, error) {
	counts := make(map[exam.State]int, len(exam.States))
	for _, st := range exam.States {
		counts[st] = 0
	}

	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM exams GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count exams: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[exam.State(st)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExam(row scanner) (exam.Exam, error) {
	var (
		e        exam.Exam
		state    string
		grade    sql.NullString
		gradedAt sql.NullString
	)
	err := row.Scan(&e.AnonID, &e.RubricVersion, &e.RubricSeq, &state, &grade,
		&e.Error, &e.RunID, &e.Attempts, &gradedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return exam.Exam{}, err
	}
	if err != nil {
		return exam.Exam{}, fmt.Errorf("scan exam: %w", err)
	}
	e.State = exam.State(state)
	if e.Grade, err = unmarshalPayload(grade); err != nil {
		return exam.Exam{}, fmt.Errorf("exam %s: %w", e.AnonID, err)
	}
	if e.GradedAt, err = parseTime(gradedAt); err != nil {
		return exam.Exam{}, fmt.Errorf("exam %s: %w", e.AnonID, err)
	}
	return e, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
