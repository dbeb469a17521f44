package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rubrica-app/rubrica/internal/exam"
	"github.com/rubrica-app/rubrica/internal/store"
)

// NewExamCommand creates the exam command group.
func NewExamCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exam",
		Short: "Add and inspect anonymized exams",
	}
	cmd.AddCommand(newExamAddCommand(rootOpts))
	cmd.AddCommand(newExamListCommand(rootOpts))
	cmd.AddCommand(newExamShowCommand(rootOpts))
	return cmd
}

// ExamAdded is one exam stored by exam add.
type ExamAdded struct {
	File          string `json:"file"`
	AnonID        string `json:"anon_id"`
	RubricVersion string `json:"rubric_version"`
	RubricSeq     int64  `json:"rubric_seq"`
	Pages         int    `json:"pages"`
}

type examsAdded []ExamAdded

func (l examsAdded) WriteText(w io.Writer) error {
	for _, a := range l {
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s (seq %d)\t%d pages\n",
			a.AnonID, a.File, a.RubricVersion, a.RubricSeq, a.Pages); err != nil {
			return err
		}
	}
	return nil
}

func newExamAddCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <input.json>...",
		Short: "Validate and store exam inputs",
		Long: `Validate exam inputs and store them as pending exams.

An input is a JSON object with anon_id (optional), rubric_version and pages.
Any other field, such as a student name, is rejected. Inputs without an
anon_id are assigned a fresh one.

Example:
  rubrica exam add scans/*.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			added := make(examsAdded, 0, len(args))
			for _, path := range args {
				a, err := addExam(cmd.Context(), e.store, path)
				switch {
				case exam.IsValidationError(err), errors.Is(err, store.ErrExists):
					return e.out.fail(ExitCommandError, CodeInput, "rejected "+path, err)
				case errors.Is(err, store.ErrNotFound):
					return e.out.fail(ExitCommandError, CodeNotFound, "unknown rubric in "+path, err)
				case err != nil:
					return e.out.fail(ExitCommandError, CodeStore, "failed to add "+path, err)
				}
				e.logger.Info("exam added", "anon_id", a.AnonID, "rubric_version", a.RubricVersion)
				added = append(added, a)
			}
			return e.out.Success(added)
		},
	}
}

func addExam(ctx context.Context, st *store.Store, path string) (ExamAdded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ExamAdded{}, err
	}
	in, err := exam.DecodeInput(data)
	if err != nil {
		return ExamAdded{}, err
	}
	if in.AnonID == "" {
		in.AnonID, err = exam.NewAnonID(func(id string) (bool, error) {
			return st.AnonIDExists(ctx, id)
		})
		if err != nil {
			return ExamAdded{}, err
		}
	}
	ex, err := st.AddExam(ctx, in)
	if err != nil {
		return ExamAdded{}, err
	}
	return ExamAdded{
		File:          path,
		AnonID:        ex.AnonID,
		RubricVersion: ex.RubricVersion,
		RubricSeq:     ex.RubricSeq,
		Pages:         len(in.Pages),
	}, nil
}

type examList []exam.Exam

func (l examList) WriteText(w io.Writer) error {
	if len(l) == 0 {
		_, err := fmt.Fprintln(w, "No exams.")
		return err
	}
	for _, e := range l {
		line := fmt.Sprintf("%s\t%s\t%s", e.AnonID, e.RubricVersion, e.State)
		if e.Grade != nil {
			line += fmt.Sprintf("\t%.1f%% %s", e.Grade.Percentage, e.Grade.Letter)
		}
		if e.Error != "" {
			line += "\t" + e.Error
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func newExamListCommand(rootOpts *RootOptions) *cobra.Command {
	var states []string
	var runID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List exams with their state and grade",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			f := store.Filter{RunID: runID}
			for _, s := range states {
				st := exam.State(s)
				if !st.Valid() {
					return e.out.fail(ExitCommandError, CodeInput, fmt.Sprintf("unknown state %q", s), nil)
				}
				f.States = append(f.States, st)
			}
			exams, err := e.store.ListExams(cmd.Context(), f)
			if err != nil {
				return e.out.fail(ExitCommandError, CodeStore, "failed to list exams", err)
			}
			return e.out.Success(examList(exams))
		},
	}
	cmd.Flags().StringSliceVar(&states, "state", nil, "only exams in these states (pending|in_progress|graded|failed)")
	cmd.Flags().StringVar(&runID, "run", "", "only exams last touched by this run")
	return cmd
}

// examView renders one exam with its per-question grade.
type examView struct {
	exam.Exam
}

func (v examView) WriteText(w io.Writer) error {
	e := v.Exam
	fmt.Fprintf(w, "%s  rubric %s (seq %d)  %s  attempts %d\n", e.AnonID, e.RubricVersion, e.RubricSeq, e.State, e.Attempts)
	if e.Error != "" {
		fmt.Fprintf(w, "last error: %s\n", e.Error)
	}
	g := e.Grade
	if g == nil {
		return nil
	}
	for _, q := range g.Questions {
		fmt.Fprintf(w, "  %s  %s/%s  %s\n", q.Question, exam.FormatPoints(q.Points), exam.FormatPoints(q.MaxPoints), q.Feedback)
	}
	fmt.Fprintf(w, "total %s/%s  %.1f%%  %s\n",
		exam.FormatPoints(g.TotalPoints), exam.FormatPoints(g.PossiblePoints), g.Percentage, g.Letter)
	if b := g.Boundary; b != nil {
		fmt.Fprintf(w, "boundary check at %s: %.1f%% %s, %.1f%% %s, %s\n",
			exam.FormatPoints(b.Threshold), b.FirstPercentage, b.FirstLetter, b.SecondPercentage, b.SecondLetter, b.Method)
	}
	if g.OverallFeedback != "" {
		fmt.Fprintln(w, g.OverallFeedback)
	}
	return nil
}

func newExamShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <anon_id>",
		Short: "Show one exam and its grade",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			ex, err := e.store.Exam(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				return e.out.fail(ExitCommandError, CodeNotFound, fmt.Sprintf("exam %s not found", args[0]), nil)
			}
			if err != nil {
				return e.out.fail(ExitCommandError, CodeStore, "failed to read exam", err)
			}
			return e.out.Success(examView{ex})
		},
	}
}
