package service

import (
	"context"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/rulebook-translator/pkg/icron"
	"github.com/MimeLyc/rulebook-translator/pkg/log"
)

var singleflightGroup singleflight.Group

// Schedule registers fn on c under name. A trigger that fires while the
// previous run of the same name is still going joins it instead of starting
// a second one.
func Schedule(ctx context.Context, c *cron.Cron, expr, name string, fn func(ctx context.Context) error) (cron.EntryID, error) {
	if err := icron.Validate(expr); err != nil {
		return 0, err
	}
	log.Info("Scheduling %s at %q", name, expr)

	runFunc := func() {
		_, _, _ = singleflightGroup.Do(name, func() (any, error) {
			log.Info("Run %s", name)
			if err := fn(ctx); err != nil {
				log.Error("Scheduled %s failed: %v", name, err)
			}
			return nil, nil
		})
	}
	return c.AddFunc(expr, runFunc)
}
