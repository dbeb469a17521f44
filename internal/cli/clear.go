package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rubrica-app/rubrica/internal/store"
)

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <anon_id>...",
		Short: "Discard grades so the exams are graded again",
		Long: `Discard the stored grade of each named exam and return it to pending.
An exam that is being graded cannot be cleared.

Example:
  rubrica clear K7QX2M9A`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			for _, id := range args {
				err := e.store.ClearGrade(cmd.Context(), id)
				switch {
				case errors.Is(err, store.ErrNotFound):
					return e.out.fail(ExitCommandError, CodeNotFound, fmt.Sprintf("exam %s not found", id), nil)
				case errors.Is(err, store.ErrBusy):
					return e.out.fail(ExitCommandError, CodeConflict, fmt.Sprintf("exam %s is being graded", id), nil)
				case err != nil:
					return e.out.fail(ExitCommandError, CodeStore, "failed to clear "+id, err)
				}
				e.logger.Info("grade cleared", "anon_id", id)
			}
			return e.out.Success(fmt.Sprintf("Cleared %d exams", len(args)))
		},
	}
}
