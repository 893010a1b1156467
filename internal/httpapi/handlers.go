package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/MimeLyc/rulebook-translator/internal/jobs"
	"github.com/MimeLyc/rulebook-translator/internal/persistence"
	"github.com/MimeLyc/rulebook-translator/pkg/log"
)

type statusResponse struct {
	Rulebooks  map[persistence.RulebookStatus]int `json:"rulebooks"`
	Stuck      []persistence.StuckRow             `json:"stuck"`
	StuckAfter string                             `json:"stuck_after"`
}

// ResetRequest selects which rows /api/reset returns to pending. At least
// one of GameID or OlderThan is required.
type ResetRequest struct {
	GameID        int64  `json:"game_id"`
	OlderThan     string `json:"older_than"`
	IncludeFailed bool   `json:"include_failed"`
	Force         bool   `json:"force"`
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.store.Ping(c.Request().Context()); err != nil {
		return writeError(c, http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	ctx := c.Request().Context()
	counts, err := s.store.CountRulebooksByStatus(ctx)
	if err != nil {
		return writeError(c, http.StatusInternalServerError, err.Error())
	}
	stuck, err := s.store.ListStuck(ctx, s.now().Add(-s.stuckAfter))
	if err != nil {
		return writeError(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, statusResponse{
		Rulebooks:  counts,
		Stuck:      stuck,
		StuckAfter: s.stuckAfter.String(),
	})
}

func (s *Server) handleReset(c echo.Context) error {
	var req ResetRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, "invalid json body")
	}
	opts, err := req.options(s.now())
	if err != nil {
		return writeError(c, http.StatusBadRequest, err.Error())
	}

	res, err := s.store.ResetStuck(c.Request().Context(), opts)
	if err != nil {
		return writeError(c, http.StatusInternalServerError, err.Error())
	}
	log.Info("Admin reset (game=%d, older_than=%q, failed=%t, force=%t): %d rulebooks, %d queue rows",
		req.GameID, req.OlderThan, req.IncludeFailed, req.Force, res.Rulebooks, res.QueueRows)
	return c.JSON(http.StatusOK, res)
}

func (r ResetRequest) options(now time.Time) (persistence.ResetOptions, error) {
	opts := persistence.ResetOptions{
		GameID:        r.GameID,
		IncludeFailed: r.IncludeFailed,
		Force:         r.Force,
	}
	if r.OlderThan != "" {
		d, err := time.ParseDuration(r.OlderThan)
		if err != nil || d <= 0 {
			return opts, errors.New("older_than must be a positive duration such as 2h")
		}
		opts.StuckBefore = now.Add(-d)
	}
	if opts.GameID <= 0 && opts.StuckBefore.IsZero() {
		return opts, errors.New("game_id or older_than is required")
	}
	if opts.Force && opts.GameID <= 0 {
		return opts, errors.New("force requires game_id")
	}
	return opts, nil
}

func (s *Server) handleJobs(c echo.Context) error {
	if s.history == nil {
		return writeError(c, http.StatusNotImplemented, "job history is not available in this mode")
	}
	runs := s.history.List()
	if status := c.QueryParam("status"); status != "" {
		filtered := make([]jobs.Run, 0, len(runs))
		for _, r := range runs {
			if string(r.Status) == status {
				filtered = append(filtered, r)
			}
		}
		runs = filtered
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) handleJob(c echo.Context) error {
	if s.history == nil {
		return writeError(c, http.StatusNotImplemented, "job history is not available in this mode")
	}
	run, ok := s.history.Get(c.Param("id"))
	if !ok {
		return writeError(c, http.StatusNotFound, "job not found")
	}
	return c.JSON(http.StatusOK, run)
}

func writeError(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]any{
		"error": msg,
	})
}
