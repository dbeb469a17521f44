package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rubrica-app/rubrica/internal/server"
)

// drainTimeout bounds how long serve waits for in-flight exams on exit.
const drainTimeout = 6 * time.Minute

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve grading progress over HTTP",
		Long: `Start the progress server:

  GET  /grade/status   exam counts per state and the current run
  POST /grade          start grading ({"regrade": [...], "version": "..."})
  POST /grade/abort    stop dispatching; in-flight exams finish

Example:
  rubrica serve --listen 127.0.0.1:8420`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config listen_addr)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	e, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	orch, err := opts.orchestrator(e)
	if err != nil {
		return err
	}
	addr := e.cfg.ListenAddr
	if opts.Listen != "" {
		addr = opts.Listen
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			e.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	srv := server.New(ctx, orch, e.logger)
	serveErr := srv.Serve(ctx, addr)

	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer drainCancel()
	if err := orch.Shutdown(drainCtx); err != nil {
		e.logger.Error("in-flight exams did not finish", "error", err)
	}

	if serveErr != nil {
		return e.out.fail(ExitCommandError, CodeConfig, "server error", serveErr)
	}
	e.logger.Info("server stopped gracefully")
	return nil
}
