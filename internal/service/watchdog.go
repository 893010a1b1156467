package service

import (
	"context"
	"time"

	"github.com/MimeLyc/rulebook-translator/internal/persistence"
	"github.com/MimeLyc/rulebook-translator/pkg/log"
)

type StuckLister interface {
	ListStuck(ctx context.Context, before time.Time) ([]persistence.StuckRow, error)
}

// Watchdog reports rows that sat in processing longer than a threshold. It
// only logs; resetting them is an operator decision.
type Watchdog struct {
	store StuckLister
	after time.Duration
	now   func() time.Time
}

func NewWatchdog(store StuckLister, after time.Duration) *Watchdog {
	if after <= 0 {
		after = 2 * time.Hour
	}
	return &Watchdog{store: store, after: after, now: time.Now}
}

// Check logs and returns the stuck rows.
func (w *Watchdog) Check(ctx context.Context) ([]persistence.StuckRow, error) {
	rows, err := w.store.ListStuck(ctx, w.now().Add(-w.after))
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		log.Warn("Stuck %s row %d (game %d) processing since %s", r.Table, r.ID, r.GameID, r.Since.Format(time.RFC3339))
	}
	if len(rows) > 0 {
		log.Warn("%d rows stuck for more than %s, reset them with the reset command", len(rows), w.after)
	}
	return rows, nil
}

// Run adapts Check for Schedule.
func (w *Watchdog) Run(ctx context.Context) error {
	_, err := w.Check(ctx)
	return err
}
