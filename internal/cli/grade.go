package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rubrica-app/rubrica/internal/exam"
	"github.com/rubrica-app/rubrica/internal/orchestrator"
)

// progressInterval is how often a running grade command logs progress.
const progressInterval = 15 * time.Second

// GradeOptions holds flags for the grade command.
type GradeOptions struct {
	*RootOptions
	Regrade []string
	Version string
}

// NewGradeCommand creates the grade command.
func NewGradeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GradeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "grade",
		Short: "Grade every pending and failed exam",
		Long: `Grade every pending and previously failed exam with a bounded pool of
workers. Graded exams are skipped unless named with --regrade; a re-grade
replaces the stored grade only if it succeeds.

Ctrl-C stops dispatching new exams. Exams already being graded finish and
are saved, and the rest stay pending for the next run.

Example:
  rubrica grade
  rubrica grade --version ECON-A
  rubrica grade --regrade K7QX2M9A --regrade P3T8W1ZD`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGrade(opts, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Regrade, "regrade", nil, "re-grade these graded exams")
	cmd.Flags().StringVar(&opts.Version, "version", "", "only exams of this rubric version")

	return cmd
}

// GradeSummary is the outcome of a grade command.
type GradeSummary struct {
	orchestrator.Progress
	NotStarted int `json:"not_started"`
}

func (s GradeSummary) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Run %s: %d graded, %d failed, %d skipped of %d\n",
		s.RunID, s.Graded, s.Failed, s.Skipped, s.Total)
	if s.Cancelled {
		fmt.Fprintf(w, "Cancelled: %d exams not started\n", s.NotStarted)
	}
	for _, e := range s.Errors {
		fmt.Fprintf(w, "  %s: %s\n", e.AnonID, e.Message)
	}
	return nil
}

func runGrade(opts *GradeOptions, cmd *cobra.Command) error {
	e, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	for _, id := range opts.Regrade {
		if err := exam.CheckAnonID(id); err != nil {
			return e.out.fail(ExitCommandError, CodeInput, "invalid --regrade", err)
		}
	}

	orch, err := opts.orchestrator(e)
	if err != nil {
		return err
	}

	// Setup signal handling for graceful cancellation
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			e.logger.Info("received signal, finishing in-flight exams", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	run, err := orch.Start(ctx, orchestrator.Request{Regrade: opts.Regrade, Version: opts.Version})
	if errors.Is(err, orchestrator.ErrRunActive) {
		return e.out.fail(ExitCommandError, CodeRunActive, "a grading run is already active", err)
	}
	if err != nil {
		return e.out.fail(ExitCommandError, CodeStore, "failed to start grading", err)
	}

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
wait:
	for {
		select {
		case <-run.Done():
			break wait
		case <-ticker.C:
			p := run.Progress()
			e.logger.Info("grading progress",
				"run_id", p.RunID,
				"graded", p.Graded,
				"failed", p.Failed,
				"in_flight", p.InFlight,
				"remaining", p.Remaining())
		}
	}

	p, err := run.Wait()
	if err != nil {
		return e.out.fail(ExitFailure, CodeGrading, "grading run failed", err)
	}
	summary := GradeSummary{Progress: p}
	if p.Cancelled {
		summary.NotStarted = p.Remaining()
	}

	if p.Failed > 0 {
		msg := fmt.Sprintf("%d of %d exams failed to grade", p.Failed, p.Total)
		if e.out.Format == "json" {
			_ = e.out.Error(CodeGrading, msg, summary)
		} else {
			_ = e.out.Success(summary)
			_ = e.out.Error(CodeGrading, msg, nil)
		}
		return NewExitError(ExitFailure, msg)
	}
	return e.out.Success(summary)
}
