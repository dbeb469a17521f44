package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rubrica-app/rubrica/internal/audit"
)

// CompareReport is the result of the compare command.
type CompareReport struct {
	Summary    audit.Summary     `json:"summary"`
	Agreements []audit.Agreement `json:"agreements"`
	Unmatched  []string          `json:"unmatched"`
}

func (r CompareReport) WriteText(w io.Writer) error {
	s := r.Summary
	fmt.Fprintf(w, "%d exams, %d questions\n", s.Exams, s.Questions)
	fmt.Fprintf(w, "  exact score match   %5.1f%% (%d)\n", s.ExactPct, s.ExactMatches)
	fmt.Fprintf(w, "  within one point    %5.1f%% (%d)\n", s.Within1Pct, s.Within1Matches)
	fmt.Fprintf(w, "  letter agreement    %5.1f%% (%d)\n", s.GradeAgreementPct, s.GradeMatches)
	fmt.Fprintf(w, "  mean absolute error %.2f points per question\n", s.MeanAbsError)
	fmt.Fprintf(w, "  mean bias           %+.2f points per exam\n", s.MeanBias)
	for _, ag := range r.Agreements {
		if ag.GradeMatch {
			continue
		}
		fmt.Fprintf(w, "  %s: %s (%.1f%%) vs %s (%.1f%%)\n",
			ag.AnonID, ag.OriginalLetter, ag.OriginalPercentage, ag.AuditLetter, ag.AuditPercentage)
	}
	if len(r.Unmatched) > 0 {
		fmt.Fprintf(w, "Unmatched: %v\n", r.Unmatched)
	}
	return nil
}

// NewCompareCommand creates the compare command.
func NewCompareCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "compare <original-export> <audit-export>",
		Short: "Measure agreement between two independent gradings",
		Long: `Compare two exports of the same exams, for example a production grading
and an audit re-grading with a different model, and report exact, within
one point and letter grade agreement.

Example:
  rubrica compare grades.json audit.yaml`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			original, err := readExport(args[0])
			if err != nil {
				return out.fail(ExitCommandError, CodeInput, "failed to read "+args[0], err)
			}
			audited, err := readExport(args[1])
			if err != nil {
				return out.fail(ExitCommandError, CodeInput, "failed to read "+args[1], err)
			}

			agreements, unmatched := audit.CompareRecords(original, audited)
			if agreements == nil {
				agreements = []audit.Agreement{}
			}
			if unmatched == nil {
				unmatched = []string{}
			}
			return out.Success(CompareReport{
				Summary:    audit.Summarize(agreements),
				Agreements: agreements,
				Unmatched:  unmatched,
			})
		},
	}
}
