package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DefaultLeaseTTL is how long a run lease survives without a heartbeat.
const DefaultLeaseTTL = time.Minute

var (
	// ErrLeaseHeld is returned by AcquireRun while another live run holds
	// the run lease, possibly in another process.
	ErrLeaseHeld = errors.New("another grading run holds the store")

	// ErrLeaseLost is returned by RenewRun when the lease expired and was
	// taken over, or was released.
	ErrLeaseLost = errors.New("run lease lost")
)

// Lease is the current holder of the run lease.
type Lease struct {
	RunID     string
	Holder    string
	Heartbeat time.Time
}

// AcquireRun takes the run lease for runID. holder identifies the process
// in error messages and logs. A lease whose heartbeat is older than ttl is
// taken over; a live one yields ErrLeaseHeld. The check and the write are a
// single statement, so two processes racing for the lease cannot both win.
func (s *Store) AcquireRun(ctx context.Context, runID, holder string, ttl time.Duration) error {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO run_lease (id, run_id, holder, heartbeat_at) VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET run_id = excluded.run_id, holder = excluded.holder, heartbeat_at = excluded.heartbeat_at
		WHERE run_lease.heartbeat_at < ?
	`, runID, holder, now.UnixMilli(), now.Add(-ttl).UnixMilli())
	if err != nil {
		return fmt.Errorf("acquire run lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("acquire run lease: %w", err)
	}
	if n == 1 {
		return nil
	}

	l, ok, err := s.RunLease(ctx)
	if err != nil {
		return fmt.Errorf("acquire run lease: %w", err)
	}
	if !ok {
		// Released between the two statements.
		return s.AcquireRun(ctx, runID, holder, ttl)
	}
	return fmt.Errorf("run %s (%s): %w", l.RunID, l.Holder, ErrLeaseHeld)
}

// RenewRun refreshes the heartbeat of runID's lease.
func (s *Store) RenewRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE run_lease SET heartbeat_at = ? WHERE id = 1 AND run_id = ?
	`, s.now().UnixMilli(), runID)
	if err != nil {
		return fmt.Errorf("renew run lease: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("renew run lease: %w", err)
	} else if n != 1 {
		return fmt.Errorf("run %s: %w", runID, ErrLeaseLost)
	}
	return nil
}

// ReleaseRun gives up runID's lease. Releasing a lease that was already
// lost is not an error.
func (s *Store) ReleaseRun(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM run_lease WHERE id = 1 AND run_id = ?`, runID); err != nil {
		return fmt.Errorf("release run lease: %w", err)
	}
	return nil
}

// RunLease returns the lease row, live or not. ok is false when no run
// holds it.
func (s *Store) RunLease(ctx context.Context) (l Lease, ok bool, err error) {
	var beat int64
	err = s.db.QueryRowContext(ctx,
		`SELECT run_id, holder, heartbeat_at FROM run_lease WHERE id = 1`,
	).Scan(&l.RunID, &l.Holder, &beat)
	if errors.Is(err, sql.ErrNoRows) {
		return Lease{}, false, nil
	}
	if err != nil {
		return Lease{}, false, fmt.Errorf("read run lease: %w", err)
	}
	l.Heartbeat = time.UnixMilli(beat).UTC()
	return l, true, nil
}
