package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rubrica-app/rubrica/internal/audit"
	"github.com/rubrica-app/rubrica/internal/exam"
	"github.com/rubrica-app/rubrica/internal/store"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Encoding string
	Output   string
	Version  string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export graded exams as auditable records",
		Long: `Export every graded exam with its full grade, boundary check record,
sub-part sources and a SHA-256 digest of the grade.

The encoding defaults to the output file extension, or JSON on stdout.

Example:
  rubrica export -o grades.json
  rubrica export --encoding yaml --version ECON-A`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Encoding, "encoding", "", "json or yaml")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write to this file instead of stdout")
	cmd.Flags().StringVar(&opts.Version, "version", "", "only exams of this rubric version")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	e, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	enc := audit.EncodingFor(opts.Output)
	if opts.Encoding != "" {
		if enc, err = audit.ParseEncoding(opts.Encoding); err != nil {
			return e.out.fail(ExitCommandError, CodeInput, "invalid --encoding", err)
		}
	}

	exams, err := e.store.ListExams(cmd.Context(), store.Filter{States: []exam.State{exam.StateGraded}})
	if err != nil {
		return e.out.fail(ExitCommandError, CodeStore, "failed to list graded exams", err)
	}
	if opts.Version != "" {
		kept := exams[:0]
		for _, ex := range exams {
			if ex.RubricVersion == opts.Version {
				kept = append(kept, ex)
			}
		}
		exams = kept
	}
	records, err := audit.Records(exams)
	if err != nil {
		return e.out.fail(ExitFailure, CodeStore, "failed to build records", err)
	}

	var w io.Writer = cmd.OutOrStdout()
	if opts.Output != "" {
		f, err := os.Create(opts.Output)
		if err != nil {
			return e.out.fail(ExitCommandError, CodeInput, "failed to create output", err)
		}
		defer f.Close()
		w = f
	}
	if err := audit.Write(w, records, enc); err != nil {
		return e.out.fail(ExitFailure, CodeStore, "failed to write export", err)
	}
	e.logger.Info("export written", "records", len(records), "encoding", enc, "output", opts.Output)

	if opts.Output != "" {
		return e.out.Success(fmt.Sprintf("Exported %d graded exams to %s", len(records), opts.Output))
	}
	return nil
}

// readExport reads an export file, inferring its encoding from the extension.
func readExport(path string) ([]audit.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return audit.Read(f, audit.EncodingFor(path))
}

// VerifyReport is the result of the verify command.
type VerifyReport struct {
	Records  int      `json:"records"`
	Mismatch []string `json:"mismatched"`
}

func (r VerifyReport) WriteText(w io.Writer) error {
	if len(r.Mismatch) == 0 {
		_, err := fmt.Fprintf(w, "All %d records verified\n", r.Records)
		return err
	}
	fmt.Fprintf(w, "%d of %d records do not match their digest:\n", len(r.Mismatch), r.Records)
	for _, id := range r.Mismatch {
		fmt.Fprintf(w, "  %s\n", id)
	}
	return nil
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <export-file>",
		Short: "Check every record of an export against its digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			records, err := readExport(args[0])
			if err != nil {
				return out.fail(ExitCommandError, CodeInput, "failed to read export", err)
			}
			report := VerifyReport{Records: len(records), Mismatch: []string{}}
			for _, r := range records {
				ok, err := r.Verify()
				if err != nil {
					return out.fail(ExitCommandError, CodeInput, "failed to digest "+r.AnonID, err)
				}
				if !ok {
					report.Mismatch = append(report.Mismatch, r.AnonID)
				}
			}
			if len(report.Mismatch) > 0 {
				_ = out.Success(report)
				return NewExitError(ExitFailure, fmt.Sprintf("%d records do not verify", len(report.Mismatch)))
			}
			return out.Success(report)
		},
	}
}
