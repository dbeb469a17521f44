package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultErrorHistory is how many recent per-exam failures a run keeps.
const DefaultErrorHistory = 10

// ExamError is a per-exam failure as shown to users.
type ExamError struct {
	AnonID  string `json:"anon_id"`
	Message string `json:"message"`
}

// Progress is a snapshot of one run.
type Progress struct {
	RunID      string      `json:"run_id"`
	Running    bool        `json:"running"`
	Cancelled  bool        `json:"cancelled"`
	Total      int         `json:"total"`
	Graded     int         `json:"graded"`
	Failed     int         `json:"failed"`
	Skipped    int         `json:"skipped"`
	InFlight   int         `json:"in_flight"`
	Errors     []ExamError `json:"errors"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// Remaining returns how many dispatched-or-waiting exams have no outcome yet.
func (p Progress) Remaining() int {
	return p.Total - p.Graded - p.Failed - p.Skipped
}

// Run is one grading run. Counters are updated by workers with atomics and
// read by pollers without locking the run.
type Run struct {
	ID      string
	started time.Time

	cancel context.CancelFunc
	done   chan struct{}

	total     atomic.Int64
	graded    atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	inFlight  atomic.Int64
	cancelled atomic.Bool

	mu       sync.Mutex
	errors   []ExamError
	history  int
	finished *time.Time
	err      error
}

func newRun(id string, started time.Time, history int, cancel context.CancelFunc) *Run {
	return &Run{
		ID:      id,
		started: started,
		cancel:  cancel,
		done:    make(chan struct{}),
		history: history,
	}
}

// Cancel stops dispatching new exams. Exams already being graded finish.
func (r *Run) Cancel() {
	r.cancelled.Store(true)
	r.cancel()
}

// Done is closed when every worker has returned.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finishes and returns its final progress and any
// run-level error.
func (r *Run) Wait() (Progress, error) {
	<-r.done
	r.mu.Lock()
	err := r.err
	r.mu.Unlock()
	return r.Progress(), err
}

// Progress returns a snapshot of the run.
func (r *Run) Progress() Progress {
	r.mu.Lock()
	errs := append([]ExamError{}, r.errors...)
	finished := r.finished
	r.mu.Unlock()

	return Progress{
		RunID:      r.ID,
		Running:    finished == nil,
		Cancelled:  r.cancelled.Load(),
		Total:      int(r.total.Load()),
		Graded:     int(r.graded.Load()),
		Failed:     int(r.failed.Load()),
		Skipped:    int(r.skipped.Load()),
		InFlight:   int(r.inFlight.Load()),
		Errors:     errs,
		StartedAt:  r.started,
		FinishedAt: finished,
	}
}

func (r *Run) recordError(anonID, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, ExamError{AnonID: anonID, Message: msg})
	if len(r.errors) > r.history {
		r.errors = r.errors[len(r.errors)-r.history:]
	}
}

func (r *Run) finish(at time.Time, err error) {
	r.mu.Lock()
	r.finished = &at
	r.err = err
	r.mu.Unlock()
	close(r.done)
}
