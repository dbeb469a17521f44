package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rubrica-app/rubrica/internal/exam"
	"github.com/rubrica-app/rubrica/internal/orchestrator"
	"github.com/rubrica-app/rubrica/internal/store"
)

// StatusReport is the result of the status command.
type StatusReport struct {
	Counts map[exam.State]int       `json:"counts"`
	Total  int                      `json:"total"`
	Failed []orchestrator.ExamError `json:"failed"`
}

func (r StatusReport) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "%d exams\n", r.Total)
	for _, s := range exam.States {
		fmt.Fprintf(w, "  %-12s %d\n", s, r.Counts[s])
	}
	if len(r.Failed) > 0 {
		fmt.Fprintln(w, "Failed:")
		for _, f := range r.Failed {
			fmt.Fprintf(w, "  %s: %s\n", f.AnonID, f.Message)
		}
	}
	return nil
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show exam counts per state and failed exams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			counts, err := e.store.Counts(cmd.Context())
			if err != nil {
				return e.out.fail(ExitCommandError, CodeStore, "failed to count exams", err)
			}
			failed, err := e.store.ListExams(cmd.Context(), store.Filter{States: []exam.State{exam.StateFailed}})
			if err != nil {
				return e.out.fail(ExitCommandError, CodeStore, "failed to list failed exams", err)
			}

			report := StatusReport{Counts: counts, Failed: []orchestrator.ExamError{}}
			for _, n := range counts {
				report.Total += n
			}
			for _, f := range failed {
				report.Failed = append(report.Failed, orchestrator.ExamError{AnonID: f.AnonID, Message: f.Error})
			}
			return e.out.Success(report)
		},
	}
}
