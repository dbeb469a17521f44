package store

import (
	"context"
	"fmt"

	"github.com/rubrica-app/rubrica/internal/exam"
)

// Claim moves an exam to in_progress for runID. Pending and failed exams
// are claimable; a graded exam only when regrade is set. It reports false,
// without error, when the exam is in any other state, which is how a rerun
// skips exams that are already graded.
//
// The claim is recorded in claim_run_id. run_id keeps naming the run that
// produced the stored grade until SaveGrade replaces it.
func (s *Store) Claim(ctx context.Context, id, runID string, regrade bool) (bool, error) {
	states := []any{string(exam.StatePending), string(exam.StateFailed)}
	if regrade {
		states = append(states, string(exam.StateGraded))
	}

	args := append([]any{runID, id}, states...)
	res, err := s.db.ExecContext(ctx, `
		UPDATE exams SET state = 'in_progress', claim_run_id = ?
		WHERE anon_id = ? AND state IN (`+placeholders(len(states))+`)
	`, args...)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", id, err)
	}
	return n == 1, nil
}

// SaveGrade stores a finished grade. The payload, state, producing run,
// attempt count and timestamp change in a single UPDATE.
func (s *Store) SaveGrade(ctx context.Context, id, runID string, p exam.Payload, attempts int) error {
	grade, err := marshalPayload(p)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE exams
		SET state = 'graded', grade = ?, error = '', attempts = attempts + ?, graded_at = ?,
		    run_id = claim_run_id, claim_run_id = ''
		WHERE anon_id = ? AND state = 'in_progress' AND claim_run_id = ?
	`, grade, attempts, s.timestamp(), id, runID)
	if err != nil {
		return fmt.Errorf("save grade %s: %w", id, err)
	}
	return requireOne(res, id)
}

// MarkFailed records a terminal grading failure. msg must already be safe
// to show to users. An exam that had a grade before a failed re-grade keeps
// that grade, and the run that produced it, and returns to graded;
// otherwise it becomes failed under runID.
func (s *Store) MarkFailed(ctx context.Context, id, runID, msg string, attempts int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE exams
		SET state = CASE WHEN grade IS NULL THEN 'failed' ELSE 'graded' END,
		    run_id = CASE WHEN grade IS NULL THEN claim_run_id ELSE run_id END,
		    claim_run_id = '', error = ?, attempts = attempts + ?
		WHERE anon_id = ? AND state = 'in_progress' AND claim_run_id = ?
	`, msg, attempts, id, runID)
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", id, err)
	}
	return requireOne(res, id)
}

// ResetStale releases exams left in_progress by runs other than liveRunID.
// Call it while liveRunID holds the run lease: any other claim then belongs
// to a run whose process died or whose lease expired. A graded exam keeps
// its grade and producing run.
func (s *Store) ResetStale(ctx context.Context, liveRunID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE exams
		SET state = CASE WHEN grade IS NULL THEN 'pending' ELSE 'graded' END,
		    claim_run_id = ''
		WHERE state = 'in_progress' AND claim_run_id != ?
	`, liveRunID)
	if err != nil {
		return 0, fmt.Errorf("reset stale: %w", err)
	}
	return res.RowsAffected()
}

// ClearGrade drops an exam's grade and returns it to pending.
func (s *Store) ClearGrade(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE exams
		SET state = 'pending', grade = NULL, error = '', run_id = '', graded_at = NULL
		WHERE anon_id = ? AND state != 'in_progress'
	`, id)
	if err != nil {
		return fmt.Errorf("clear grade %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.Exam(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("clear grade %s: %w", id, ErrBusy)
}

type rowsAffected interface {
	RowsAffected() (int64, error)
}

func requireOne(res rowsAffected, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("exam %s: %w", id, err)
	}
	if n != 1 {
		return fmt.Errorf("exam %s: %w", id, ErrNotClaimed)
	}
	return nil
}
