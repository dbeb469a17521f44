// Package orchestrator drives grading runs over every ungraded exam.
//
// A run claims each candidate exam atomically in the store and hands it to
// one of a fixed number of workers, each of which grades its exam to
// completion before taking the next. Exams already graded are never sent
// to the model unless a re-grade was requested. Cancelling a run stops
// dispatch; exams already with a worker finish and are saved normally.
//
// Runs in different processes sharing one database exclude each other
// through the store's run lease, which a run renews while it is active.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rubrica-app/rubrica/internal/exam"
	"github.com/rubrica-app/rubrica/internal/grader"
	"github.com/rubrica-app/rubrica/internal/scorer"
	"github.com/rubrica-app/rubrica/internal/store"
)

// DefaultWorkers is the worker pool size.
const DefaultWorkers = 5

// ErrRunActive is returned by Start while another run is in progress, in
// this process or in another one on the same database.
var ErrRunActive = errors.New("a grading run is already in progress")

// Store is the persistence the orchestrator needs. *store.Store implements
// it.
type Store interface {
	AcquireRun(ctx context.Context, runID, holder string, ttl time.Duration) error
	RenewRun(ctx context.Context, runID string) error
	ReleaseRun(ctx context.Context, runID string) error
	ResetStale(ctx context.Context, liveRunID string) (int64, error)
	ListExams(ctx context.Context, f store.Filter) ([]exam.Exam, error)
	Counts(ctx context.Context) (map[exam.State]int, error)
	Claim(ctx context.Context, id, runID string, regrade bool) (bool, error)
	Pages(ctx context.Context, id string) ([]exam.Page, error)
	RubricAt(ctx context.Context, version string, seq int64) (exam.Rubric, error)
	SaveGrade(ctx context.Context, id, runID string, p exam.Payload, attempts int) error
	MarkFailed(ctx context.Context, id, runID, msg string, attempts int) error
}

// Grader grades one exam. *grader.Grader implements it.
type Grader interface {
	Grade(ctx context.Context, req scorer.Request) (grader.Result, error)
}

// Options configures an Orchestrator. Zero values select defaults.
type Options struct {
	Workers      int
	ErrorHistory int
	RunIDs       RunIDGenerator
	Now          func() time.Time
	Logger       *slog.Logger

	// Holder names this process in the run lease. Defaults to host:pid.
	Holder string

	// LeaseTTL is how long the run lease outlives a missed heartbeat.
	// Heartbeats are sent every LeaseTTL/4.
	LeaseTTL time.Duration
}

// Request selects the exams of a run.
type Request struct {
	// Regrade names graded exams to grade again. Their previous grade is
	// replaced only if the new grade succeeds.
	Regrade []string

	// Version limits the run to exams of one rubric version.
	Version string
}

// Orchestrator owns grading runs. At most one run is active at a time.
type Orchestrator struct {
	store   Store
	grader  Grader
	workers int
	history int
	ids     RunIDGenerator
	now     func() time.Time
	logger  *slog.Logger
	holder  string
	ttl     time.Duration

	mu     sync.Mutex
	active *Run
	last   *Run
}

// New creates an Orchestrator.
func New(s Store, g Grader, opts Options) *Orchestrator {
	o := &Orchestrator{
		store:   s,
		grader:  g,
		workers: opts.Workers,
		history: opts.ErrorHistory,
		ids:     opts.RunIDs,
		now:     opts.Now,
		logger:  opts.Logger,
		holder:  opts.Holder,
		ttl:     opts.LeaseTTL,
	}
	if o.workers <= 0 {
		o.workers = DefaultWorkers
	}
	if o.history <= 0 {
		o.history = DefaultErrorHistory
	}
	if o.ids == nil {
		o.ids = UUIDv7Generator{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.holder == "" {
		host, _ := os.Hostname()
		o.holder = fmt.Sprintf("%s:%d", host, os.Getpid())
	}
	if o.ttl <= 0 {
		o.ttl = store.DefaultLeaseTTL
	}
	return o
}

// Run grades every candidate exam and blocks until the run is over.
// Cancelling ctx stops dispatch; the returned progress then reports
// Cancelled and the error is nil.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Progress, error) {
	run, err := o.Start(ctx, req)
	if err != nil {
		return Progress{}, err
	}
	return run.Wait()
}

// Start begins a run in the background and returns it. The run stops
// dispatching when ctx is cancelled or Run.Cancel is called.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*Run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != nil {
		return nil, ErrRunActive
	}

	id := o.ids.Generate()
	if err := o.store.AcquireRun(ctx, id, o.holder, o.ttl); err != nil {
		if errors.Is(err, store.ErrLeaseHeld) {
			return nil, fmt.Errorf("%w: %w", ErrRunActive, err)
		}
		return nil, fmt.Errorf("start run: %w", err)
	}

	candidates, regrade, err := o.prepare(ctx, id, req)
	if err != nil {
		if rerr := o.store.ReleaseRun(context.WithoutCancel(ctx), id); rerr != nil {
			o.logger.Error("releasing run lease", "run_id", id, "error", rerr)
		}
		return nil, fmt.Errorf("start run: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := newRun(id, o.now(), o.history, cancel)
	run.total.Store(int64(len(candidates)))
	o.active = run

	o.logger.Info("grading run started",
		"run_id", run.ID,
		"exams", len(candidates),
		"regrade", len(regrade),
		"workers", o.workers)

	go o.execute(runCtx, run, candidates, regrade)
	return run, nil
}

// Abort cancels the active run. It reports false when no run is active.
func (o *Orchestrator) Abort() bool {
	o.mu.Lock()
	run := o.active
	o.mu.Unlock()
	if run == nil {
		return false
	}
	o.logger.Info("grading run abort requested", "run_id", run.ID)
	run.Cancel()
	return true
}

// Shutdown aborts the active run and waits until its in-flight exams are
// saved, or until ctx ends.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	run := o.active
	o.mu.Unlock()
	if run == nil {
		return nil
	}
	run.Cancel()
	select {
	case <-run.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status is the externally polled view of grading.
type Status struct {
	Counts map[exam.State]int `json:"counts"`
	Run    *Progress          `json:"run,omitempty"`
}

// Status returns per-state exam counts and the active run, or the most
// recent one when none is active.
func (o *Orchestrator) Status(ctx context.Context) (Status, error) {
	counts, err := o.store.Counts(ctx)
	if err != nil {
		return Status{}, err
	}
	st := Status{Counts: counts}

	o.mu.Lock()
	run := o.active
	if run == nil {
		run = o.last
	}
	o.mu.Unlock()
	if run != nil {
		p := run.Progress()
		st.Run = &p
	}
	return st, nil
}

// prepare runs once runID holds the lease. Any claim by another run is then
// left over from a process that died or lost its lease, and is released
// before the candidates are listed.
func (o *Orchestrator) prepare(ctx context.Context, runID string, req Request) ([]exam.Exam, map[string]bool, error) {
	if n, err := o.store.ResetStale(ctx, runID); err != nil {
		return nil, nil, err
	} else if n > 0 {
		o.logger.Warn("reset stale in-progress exams", "count", n)
	}
	return o.candidates(ctx, req)
}

// candidates lists pending and failed exams plus the requested re-grades.
func (o *Orchestrator) candidates(ctx context.Context, req Request) ([]exam.Exam, map[string]bool, error) {
	exams, err := o.store.ListExams(ctx, store.Filter{
		States: []exam.State{exam.StatePending, exam.StateFailed},
	})
	if err != nil {
		return nil, nil, err
	}

	regrade := map[string]bool{}
	if len(req.Regrade) > 0 {
		extra, err := o.store.ListExams(ctx, store.Filter{
			States: []exam.State{exam.StateGraded},
			IDs:    req.Regrade,
		})
		if err != nil {
			return nil, nil, err
		}
		for _, e := range extra {
			regrade[e.AnonID] = true
		}
		exams = append(exams, extra...)
	}

	if req.Version == "" {
		return exams, regrade, nil
	}
	filtered := exams[:0]
	for _, e := range exams {
		if e.RubricVersion == req.Version {
			filtered = append(filtered, e)
		} else {
			delete(regrade, e.AnonID)
		}
	}
	return filtered, regrade, nil
}

func (o *Orchestrator) execute(ctx context.Context, run *Run, candidates []exam.Exam, regrade map[string]bool) {
	// Workers outlive cancellation so an exam that has started is saved
	// whole or marked failed, never left half-written.
	workCtx := context.WithoutCancel(ctx)

	stopBeat := make(chan struct{})
	beatDone := make(chan struct{})
	go o.heartbeat(workCtx, run, stopBeat, beatDone)

	jobs := make(chan exam.Exam)
	var wg sync.WaitGroup
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range jobs {
				o.gradeOne(workCtx, run, e, regrade[e.AnonID])
			}
		}()
	}

dispatch:
	for _, e := range candidates {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- e:
		}
	}
	if ctx.Err() != nil {
		run.cancelled.Store(true)
	}
	close(jobs)
	wg.Wait()

	close(stopBeat)
	<-beatDone
	if err := o.store.ReleaseRun(workCtx, run.ID); err != nil {
		o.logger.Error("releasing run lease", "run_id", run.ID, "error", err)
	}

	p := run.Progress()
	o.logger.Info("grading run finished",
		"run_id", run.ID,
		"graded", p.Graded,
		"failed", p.Failed,
		"skipped", p.Skipped,
		"not_started", p.Remaining(),
		"cancelled", p.Cancelled)

	o.mu.Lock()
	o.active = nil
	o.last = run
	o.mu.Unlock()
	run.cancel()
	run.finish(o.now(), nil)
}

// heartbeat renews the run lease until stop is closed. A lost lease means
// another process may already be grading, so dispatch stops.
func (o *Orchestrator) heartbeat(ctx context.Context, run *Run, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(max(o.ttl/4, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			err := o.store.RenewRun(ctx, run.ID)
			switch {
			case errors.Is(err, store.ErrLeaseLost):
				o.logger.Error("run lease lost, stopping dispatch", "run_id", run.ID)
				run.Cancel()
				return
			case err != nil:
				o.logger.Warn("renewing run lease", "run_id", run.ID, "error", err)
			}
		}
	}
}

// gradeOne runs the full pipeline for one exam. It never returns an error:
// every outcome is recorded on the exam row and the run counters.
func (o *Orchestrator) gradeOne(ctx context.Context, run *Run, e exam.Exam, regrade bool) {
	logger := o.logger.With("run_id", run.ID, "anon_id", e.AnonID)

	claimed, err := o.store.Claim(ctx, e.AnonID, run.ID, regrade)
	if err != nil {
		logger.Error("claim failed", "error", err)
		run.failed.Add(1)
		run.recordError(e.AnonID, grader.MsgInternal)
		return
	}
	if !claimed {
		logger.Debug("exam no longer eligible, skipping")
		run.skipped.Add(1)
		return
	}

	run.inFlight.Add(1)
	defer run.inFlight.Add(-1)

	req, err := o.request(ctx, e)
	if err != nil {
		o.fail(ctx, run, logger, e.AnonID, err, 0)
		return
	}

	logger.Debug("grading exam", "pages", len(req.Pages), "rubric", e.RubricVersion)
	res, err := o.grader.Grade(ctx, req)
	if err != nil {
		o.fail(ctx, run, logger, e.AnonID, err, res.Attempts)
		return
	}

	if err := o.store.SaveGrade(ctx, e.AnonID, run.ID, res.Payload, res.Attempts); err != nil {
		o.fail(ctx, run, logger, e.AnonID, err, res.Attempts)
		return
	}
	run.graded.Add(1)
	logger.Info("exam graded",
		"total", res.Payload.TotalPoints,
		"percentage", res.Payload.Percentage,
		"letter", res.Payload.Letter,
		"attempts", res.Attempts,
		"boundary_check", res.Payload.Boundary != nil)
}

func (o *Orchestrator) request(ctx context.Context, e exam.Exam) (scorer.Request, error) {
	rubric, err := o.store.RubricAt(ctx, e.RubricVersion, e.RubricSeq)
	if err != nil {
		return scorer.Request{}, err
	}
	pages, err := o.store.Pages(ctx, e.AnonID)
	if err != nil {
		return scorer.Request{}, err
	}
	if len(pages) == 0 {
		return scorer.Request{}, fmt.Errorf("exam %s has no answer pages", e.AnonID)
	}
	return scorer.Request{AnonID: e.AnonID, Rubric: rubric, Pages: pages}, nil
}

// fail logs the full error and stores only its public message.
func (o *Orchestrator) fail(ctx context.Context, run *Run, logger *slog.Logger, anonID string, err error, attempts int) {
	msg := grader.PublicMessage(err)
	logger.Error("exam grading failed", "attempts", attempts, "error", err)
	if merr := o.store.MarkFailed(ctx, anonID, run.ID, msg, attempts); merr != nil {
		logger.Error("recording failure", "error", merr)
	}
	run.failed.Add(1)
	run.recordError(anonID, msg)
}
