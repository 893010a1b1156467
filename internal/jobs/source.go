package jobs

import (
	"context"
	"errors"
	"sync"
)

// ErrExhausted is returned by Source.Next when no job is left.
var ErrExhausted = errors.New("source exhausted")

// Source hands out jobs one at a time. Next is never called again before
// the previous Delivery is settled.
type Source interface {
	Next(ctx context.Context) (*Delivery, error)
	Close() error
}

// Delivery is a job plus the handles that settle it at its source.
type Delivery struct {
	Job TranslationJob

	once   sync.Once
	ack    func(ctx context.Context, res Result) error
	reject func(ctx context.Context, reason error) error
}

func NewDelivery(
	job TranslationJob,
	ack func(ctx context.Context, res Result) error,
	reject func(ctx context.Context, reason error) error,
) *Delivery {
	return &Delivery{Job: job, ack: ack, reject: reject}
}

var errSettled = errors.New("delivery already settled")

// Ack confirms the job after the orchestrator finished it.
func (d *Delivery) Ack(ctx context.Context, res Result) error {
	err := errSettled
	d.once.Do(func() {
		err = nil
		if d.ack != nil {
			err = d.ack(ctx, res)
		}
	})
	return err
}

// Reject drops the job for good. It is never redelivered.
func (d *Delivery) Reject(ctx context.Context, reason error) error {
	err := errSettled
	d.once.Do(func() {
		err = nil
		if d.reject != nil {
			err = d.reject(ctx, reason)
		}
	})
	return err
}
