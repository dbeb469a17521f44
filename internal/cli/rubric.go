package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/rubrica-app/rubrica/internal/exam"
	"github.com/rubrica-app/rubrica/internal/rubric"
	"github.com/rubrica-app/rubrica/internal/store"
)

// NewRubricCommand creates the rubric command group.
func NewRubricCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rubric",
		Short: "Manage scoring rubrics",
	}
	cmd.AddCommand(newRubricAddCommand(rootOpts))
	cmd.AddCommand(newRubricShowCommand(rootOpts))
	cmd.AddCommand(newRubricListCommand(rootOpts))
	return cmd
}

// RubricAdded is the result of rubric add.
type RubricAdded struct {
	Version     string  `json:"version"`
	Seq         int64   `json:"seq"`
	Questions   int     `json:"questions"`
	TotalPoints float64 `json:"total_points"`
}

func (r RubricAdded) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Added rubric %s (seq %d): %d questions, %s points\n",
		r.Version, r.Seq, r.Questions, exam.FormatPoints(r.TotalPoints))
	return err
}

func newRubricAddCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <file>",
		Short: "Validate and store a rubric (.cue, .yaml or .json)",
		Long: `Validate a rubric file against the rubric schema and store it.

Adding a version that already exists stores a new edit of it. Exams already
added keep the edit they were pinned to.

Example:
  rubrica rubric add rubrics/econ-a.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			r, err := rubric.Load(args[0])
			if err != nil {
				return e.out.fail(ExitCommandError, CodeInput, "invalid rubric", err)
			}
			seq, err := e.store.PutRubric(cmd.Context(), r)
			if err != nil {
				return e.out.fail(ExitCommandError, CodeStore, "failed to store rubric", err)
			}
			e.logger.Info("rubric stored", "version", r.Version, "seq", seq)

			return e.out.Success(RubricAdded{
				Version:     r.Version,
				Seq:         seq,
				Questions:   len(r.Questions),
				TotalPoints: r.DeclaredTotal(),
			})
		},
	}
}

// rubricView renders a stored rubric.
type rubricView struct {
	exam.Rubric
}

func (r rubricView) WriteText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "seq %d, total %s points\n", r.Seq, exam.FormatPoints(r.DeclaredTotal())); err != nil {
		return err
	}
	_, err := io.WriteString(w, r.Text())
	return err
}

func newRubricShowCommand(rootOpts *RootOptions) *cobra.Command {
	var seq int64
	cmd := &cobra.Command{
		Use:   "show <version>",
		Short: "Show the latest (or a given) edit of a rubric",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			var r exam.Rubric
			if seq > 0 {
				r, err = e.store.RubricAt(cmd.Context(), args[0], seq)
			} else {
				r, err = e.store.Rubric(cmd.Context(), args[0])
			}
			if errors.Is(err, store.ErrNotFound) {
				return e.out.fail(ExitCommandError, CodeNotFound, fmt.Sprintf("rubric %s not found", args[0]), nil)
			}
			if err != nil {
				return e.out.fail(ExitCommandError, CodeStore, "failed to read rubric", err)
			}
			return e.out.Success(rubricView{r})
		},
	}
	cmd.Flags().Int64Var(&seq, "seq", 0, "show this edit instead of the latest")
	return cmd
}

// RubricVersion is one row of rubric list.
type RubricVersion struct {
	Version string `json:"version"`
	Seq     int64  `json:"latest_seq"`
}

type rubricList []RubricVersion

func (l rubricList) WriteText(w io.Writer) error {
	if len(l) == 0 {
		_, err := fmt.Fprintln(w, "No rubrics.")
		return err
	}
	for _, v := range l {
		if _, err := fmt.Fprintf(w, "%s\tseq %d\n", v.Version, v.Seq); err != nil {
			return err
		}
	}
	return nil
}

func newRubricListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List rubric versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			versions, err := e.store.RubricVersions(cmd.Context())
			if err != nil {
				return e.out.fail(ExitCommandError, CodeStore, "failed to list rubrics", err)
			}
			list := make(rubricList, 0, len(versions))
			for v, seq := range versions {
				list = append(list, RubricVersion{Version: v, Seq: seq})
			}
			sort.Slice(list, func(i, j int) bool { return list[i].Version < list[j].Version })
			return e.out.Success(list)
		},
	}
}
