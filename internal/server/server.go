// Package server exposes grading progress over HTTP so a front end can poll
// a long-running grading run and cancel it.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/rubrica-app/rubrica/internal/exam"
	"github.com/rubrica-app/rubrica/internal/orchestrator"
)

const shutdownTimeout = 10 * time.Second

// Controller is the grading surface the server drives.
// *orchestrator.Orchestrator implements it.
type Controller interface {
	Start(ctx context.Context, req orchestrator.Request) (*orchestrator.Run, error)
	Abort() bool
	Status(ctx context.Context) (orchestrator.Status, error)
}

// Server is the progress HTTP server.
type Server struct {
	e      *echo.Echo
	ctl    Controller
	runCtx context.Context
	logger *slog.Logger
}

// New creates a server. Runs started through it are bound to ctx, not to
// the HTTP request that started them.
func New(ctx context.Context, ctl Controller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{ctl: ctl, runCtx: ctx, logger: logger}

	s.e = echo.New()
	s.e.HideBanner = true
	s.e.HidePort = true
	s.e.Logger.SetLevel(log.WARN)
	s.e.Use(middleware.Recover())
	s.e.Use(s.logRequests)

	s.e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, "OK")
	})
	s.e.GET("/grade/status", s.handleStatus)
	s.e.POST("/grade", s.handleGrade)
	s.e.POST("/grade/abort", s.handleAbort)
	return s
}

// ServeHTTP lets the server be mounted or tested without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.e.ServeHTTP(w, r)
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	errc := make(chan error, 1)
	go func() {
		errc <- s.e.Start(addr)
	}()
	s.logger.Info("progress server listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		s.logger.Debug("http request",
			"method", c.Request().Method,
			"path", c.Path(),
			"status", c.Response().Status,
			"duration", time.Since(start))
		return err
	}
}

// RunView is a run as reported to pollers.
type RunView struct {
	orchestrator.Progress
	Done      int `json:"done"`
	Remaining int `json:"remaining"`
}

// StatusResponse is the body of GET /grade/status.
type StatusResponse struct {
	Counts map[exam.State]int `json:"counts"`
	Run    *RunView           `json:"run,omitempty"`
}

// GradeRequest is the optional body of POST /grade.
type GradeRequest struct {
	Regrade []string `json:"regrade" form:"regrade" query:"regrade"`
	Version string   `json:"version" form:"version" query:"version"`
}

// GradeResponse is the body of an accepted POST /grade.
type GradeResponse struct {
	RunID string `json:"run_id"`
	Total int    `json:"total"`
}

func (s *Server) handleStatus(c echo.Context) error {
	st, err := s.ctl.Status(c.Request().Context())
	if err != nil {
		s.logger.Error("read grading status", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "status unavailable")
	}
	resp := StatusResponse{Counts: st.Counts}
	if st.Run != nil {
		p := *st.Run
		resp.Run = &RunView{
			Progress:  p,
			Done:      p.Graded + p.Failed + p.Skipped,
			Remaining: p.Remaining(),
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGrade(c echo.Context) error {
	req := &GradeRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid grade request")
	}
	for _, id := range req.Regrade {
		if err := exam.CheckAnonID(id); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	run, err := s.ctl.Start(s.runCtx, orchestrator.Request{Regrade: req.Regrade, Version: req.Version})
	switch {
	case errors.Is(err, orchestrator.ErrRunActive):
		return echo.NewHTTPError(http.StatusConflict, "a grading run is already active")
	case err != nil:
		s.logger.Error("start grading run", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "could not start grading run")
	}
	p := run.Progress()
	return c.JSON(http.StatusAccepted, GradeResponse{RunID: p.RunID, Total: p.Total})
}

func (s *Server) handleAbort(c echo.Context) error {
	if !s.ctl.Abort() {
		return echo.NewHTTPError(http.StatusConflict, "no grading run is active")
	}
	return c.JSON(http.StatusAccepted, map[string]bool{"aborted": true})
}
