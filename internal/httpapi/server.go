// Package httpapi serves the worker's admin endpoints: health, status
// counts, stuck rows, recent jobs and resets.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/MimeLyc/rulebook-translator/internal/jobs"
	"github.com/MimeLyc/rulebook-translator/internal/persistence"
)

// Store is the slice of persistence the admin API reads and resets.
type Store interface {
	Ping(ctx context.Context) error
	CountRulebooksByStatus(ctx context.Context) (map[persistence.RulebookStatus]int, error)
	ListStuck(ctx context.Context, before time.Time) ([]persistence.StuckRow, error)
	ResetStuck(ctx context.Context, opts persistence.ResetOptions) (persistence.ResetResult, error)
}

type Server struct {
	store   Store
	history *jobs.History

	stuckAfter time.Duration
	now        func() time.Time

	echo *echo.Echo
}

type Option func(*Server)

// WithStuckAfter sets the age from which a processing row counts as stuck.
func WithStuckAfter(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.stuckAfter = d
		}
	}
}

// WithHistory exposes the runner's recent jobs under /api/jobs.
func WithHistory(h *jobs.History) Option {
	return func(s *Server) {
		s.history = h
	}
}

func NewServer(store Store, opts ...Option) *Server {
	s := &Server{
		store:      store,
		stuckAfter: 2 * time.Hour,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadHeaderTimeout = 5 * time.Second
	e.Use(middleware.Recover())
	s.echo = e
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// ListenAndServe blocks until Shutdown. A clean shutdown returns nil.
func (s *Server) ListenAndServe(addr string) error {
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) routes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/status", s.handleStatus)
	s.echo.POST("/api/reset", s.handleReset)
	s.echo.GET("/api/jobs", s.handleJobs)
	s.echo.GET("/api/jobs/:id", s.handleJob)
}
