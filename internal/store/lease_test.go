package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubrica-app/rubrica/internal/testutil"
)

// manualClock only moves when told to.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func leaseStore(t *testing.T) (*Store, *manualClock) {
	t.Helper()
	clock := &manualClock{t: testutil.Epoch}
	s, err := Open(filepath.Join(t.TempDir(), "lease.db"), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func TestAcquireRun_LiveLeaseIsExclusive(t *testing.T) {
	s, _ := leaseStore(t)
	ctx := context.Background()

	require.NoError(t, s.AcquireRun(ctx, "run-a", "host-a:100", time.Minute))

	err := s.AcquireRun(ctx, "run-b", "host-b:200", time.Minute)
	assert.ErrorIs(t, err, ErrLeaseHeld)
	assert.Contains(t, err.Error(), "run-a")
	assert.Contains(t, err.Error(), "host-a:100")

	l, ok, err := s.RunLease(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "run-a", l.RunID)
	assert.True(t, l.Heartbeat.Equal(testutil.Epoch), "heartbeat %s", l.Heartbeat)
}

func TestAcquireRun_AfterRelease(t *testing.T) {
	s, _ := leaseStore(t)
	ctx := context.Background()

	require.NoError(t, s.AcquireRun(ctx, "run-a", "a", time.Minute))
	require.NoError(t, s.ReleaseRun(ctx, "run-b"), "releasing someone else's lease is a no-op")
	assert.ErrorIs(t, s.AcquireRun(ctx, "run-b", "b", time.Minute), ErrLeaseHeld)

	require.NoError(t, s.ReleaseRun(ctx, "run-a"))
	_, ok, err := s.RunLease(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.AcquireRun(ctx, "run-b", "b", time.Minute))
}

func TestAcquireRun_TakesOverExpiredLease(t *testing.T) {
	s, clock := leaseStore(t)
	ctx := context.Background()

	require.NoError(t, s.AcquireRun(ctx, "run-a", "a", time.Minute))

	clock.Advance(30 * time.Second)
	require.NoError(t, s.RenewRun(ctx, "run-a"))

	clock.Advance(45 * time.Second)
	assert.ErrorIs(t, s.AcquireRun(ctx, "run-b", "b", time.Minute), ErrLeaseHeld, "renewed 45s ago")

	clock.Advance(30 * time.Second)
	require.NoError(t, s.AcquireRun(ctx, "run-b", "b", time.Minute), "no heartbeat for 75s")

	assert.ErrorIs(t, s.RenewRun(ctx, "run-a"), ErrLeaseLost)
	require.NoError(t, s.RenewRun(ctx, "run-b"))
}

func TestResetStale_SparesLiveRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedExam(t, s, "AAAA0001")
	seedExam(t, s, "AAAA0002")

	_, err := s.Claim(ctx, "AAAA0001", "run-dead", false)
	require.NoError(t, err)
	_, err = s.Claim(ctx, "AAAA0002", "run-live", false)
	require.NoError(t, err)

	n, err := s.ResetStale(ctx, "run-live")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	dead, err := s.Exam(ctx, "AAAA0001")
	require.NoError(t, err)
	live, err := s.Exam(ctx, "AAAA0002")
	require.NoError(t, err)
	assert.Equal(t, "pending", string(dead.State))
	assert.Equal(t, "in_progress", string(live.State))

	require.NoError(t, s.SaveGrade(ctx, "AAAA0002", "run-live", gradedPayload(), 1),
		"the live run still owns its claim")
	assert.ErrorIs(t, s.SaveGrade(ctx, "AAAA0001", "run-dead", gradedPayload(), 1), ErrNotClaimed)
}
