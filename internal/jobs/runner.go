package jobs

import (
	"context"
	"errors"
	"sync"

	"github.com/MimeLyc/rulebook-translator/internal/apperr"
	"github.com/MimeLyc/rulebook-translator/pkg/log"
)

// Processor runs one job to completion. It reports failures in the Result.
type Processor interface {
	Process(ctx context.Context, job TranslationJob) Result
}

// Runner pulls jobs from one Source on a single goroutine. A job that has
// started is never cancelled; stopping takes effect between jobs.
type Runner struct {
	source  Source
	proc    Processor
	history *History
	maxJobs int

	stopCh   chan struct{}
	stopOnce sync.Once
}

type RunnerOption func(*Runner)

// WithMaxJobs stops the runner after n settled jobs.
func WithMaxJobs(n int) RunnerOption {
	return func(r *Runner) {
		r.maxJobs = n
	}
}

func WithHistory(h *History) RunnerOption {
	return func(r *Runner) {
		r.history = h
	}
}

func NewRunner(source Source, proc Processor, opts ...RunnerOption) *Runner {
	r := &Runner{
		source: source,
		proc:   proc,
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.history == nil {
		r.history = NewHistory(0)
	}
	return r
}

func (r *Runner) History() *History {
	return r.history
}

// Stop asks the runner to return after the current job.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
}

func (r *Runner) stopping() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

// Run processes jobs until the source is exhausted, ctx ends or Stop is
// called. Cancelling ctx only interrupts the wait for the next job.
func (r *Runner) Run(ctx context.Context) error {
	defer func() {
		if err := r.source.Close(); err != nil {
			log.Warn("Failed to close job source: %v", err)
		}
	}()

	settled := 0
	for {
		if r.stopping() || ctx.Err() != nil {
			log.Info("Runner stopping after %d jobs", settled)
			return nil
		}
		if r.maxJobs > 0 && settled >= r.maxJobs {
			log.Info("Runner reached the limit of %d jobs", r.maxJobs)
			return nil
		}

		nextCtx, cancel := r.nextContext(ctx)
		d, err := r.source.Next(nextCtx)
		cancel()
		if err != nil {
			switch {
			case errors.Is(err, ErrExhausted):
				log.Info("Job source exhausted after %d jobs", settled)
				return nil
			case ctx.Err() != nil, r.stopping():
				return nil
			default:
				return err
			}
		}

		r.handle(context.WithoutCancel(ctx), d)
		settled++
	}
}

// nextContext ends the wait for a job on Stop as well as on ctx.
func (r *Runner) nextContext(ctx context.Context) (context.Context, context.CancelFunc) {
	nextCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-r.stopCh:
			cancel()
		case <-nextCtx.Done():
		}
	}()
	return nextCtx, cancel
}

func (r *Runner) handle(ctx context.Context, d *Delivery) {
	runID := r.history.start(d.Job)
	log.Info("Processing %s", d.Job)

	var res Result
	if err := apperr.SafeExecute(func() error {
		res = r.proc.Process(ctx, d.Job)
		return nil
	}); err != nil {
		res = Result{GameID: d.Job.GameID, BGGID: d.Job.BGGID, Err: err, Kind: apperr.KindOf(err)}
	}

	if res.Err != nil && !res.Recorded {
		log.Error("Rejecting %s, failure could not be recorded: %v", d.Job, res.Err)
		if err := d.Reject(ctx, res.Err); err != nil {
			log.Error("Failed to reject %s: %v", d.Job, err)
		}
		r.history.finish(runID, RunRejected, res.GameID, res.Err)
		return
	}

	if err := d.Ack(ctx, res); err != nil {
		log.Error("Failed to acknowledge %s: %v", d.Job, err)
	}
	if res.Success {
		r.history.finish(runID, RunSuccess, res.GameID, nil)
		log.Info("Finished %s in %s", d.Job, res.Duration)
		return
	}
	r.history.finish(runID, RunFailed, res.GameID, res.Err)
	log.Warn("Finished %s with failure: %v", d.Job, res.Err)
}
