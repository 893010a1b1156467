package jobs

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunSuccess  RunStatus = "success"
	RunFailed   RunStatus = "failed"
	RunRejected RunStatus = "rejected"
)

// Run is one job as seen by this process.
type Run struct {
	ID        string    `json:"id"`
	GameID    int64     `json:"game_id"`
	BGGID     int64     `json:"bgg_id"`
	GameName  string    `json:"game_name"`
	Status    RunStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// History keeps the most recent runs in memory for the admin API. The store
// remains the source of truth.
type History struct {
	maxRuns int

	mu   sync.RWMutex
	runs map[string]*Run
}

func NewHistory(maxRuns int) *History {
	if maxRuns <= 0 {
		maxRuns = 1000
	}
	return &History{
		maxRuns: maxRuns,
		runs:    make(map[string]*Run),
	}
}

func (h *History) start(job TranslationJob) string {
	now := time.Now()
	run := &Run{
		ID:        uuid.NewString(),
		GameID:    job.GameID,
		BGGID:     job.BGGID,
		GameName:  job.GameName,
		Status:    RunRunning,
		StartedAt: now,
		UpdatedAt: now,
	}

	h.mu.Lock()
	h.runs[run.ID] = run
	h.pruneLocked()
	h.mu.Unlock()
	return run.ID
}

func (h *History) finish(id string, status RunStatus, gameID int64, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	run, ok := h.runs[id]
	if !ok {
		return
	}
	run.Status = status
	if gameID > 0 {
		run.GameID = gameID
	}
	if err != nil {
		run.Error = err.Error()
	}
	run.UpdatedAt = time.Now()
}

func (h *History) Get(id string) (Run, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	run, ok := h.runs[id]
	if !ok {
		return Run{}, false
	}
	return *run, true
}

// List returns runs newest first.
func (h *History) List() []Run {
	h.mu.RLock()
	ret := make([]Run, 0, len(h.runs))
	for _, run := range h.runs {
		ret = append(ret, *run)
	}
	h.mu.RUnlock()

	sort.Slice(ret, func(i, j int) bool {
		return ret[i].StartedAt.After(ret[j].StartedAt)
	})
	return ret
}

// pruneLocked drops the oldest finished runs beyond maxRuns.
func (h *History) pruneLocked() {
	if len(h.runs) <= h.maxRuns {
		return
	}

	terminal := make([]*Run, 0, len(h.runs))
	for _, run := range h.runs {
		if run.Status != RunRunning {
			terminal = append(terminal, run)
		}
	}
	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].UpdatedAt.Before(terminal[j].UpdatedAt)
	})

	toRemove := min(len(h.runs)-h.maxRuns, len(terminal))
	for i := 0; i < toRemove; i++ {
		delete(h.runs, terminal[i].ID)
	}
}
