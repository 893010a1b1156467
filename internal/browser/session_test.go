package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLauncher struct {
	started atomic.Int32
	stopped atomic.Int32
	fail    error
}

func (f *fakeLauncher) start(ctx context.Context, opts Options) (*rod.Browser, func() error, error) {
	if f.fail != nil {
		return nil, nil, f.fail
	}
	f.started.Add(1)
	return nil, func() error {
		f.stopped.Add(1)
		return nil
	}, nil
}

func TestSessionStartsLazilyOnce(t *testing.T) {
	fl := &fakeLauncher{}
	s := NewSession(Options{}, WithStartFunc(fl.start))
	assert.Equal(t, int32(0), fl.started.Load())

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Do(context.Background(), func(ctx context.Context, b *rod.Browser) error {
			return nil
		}))
	}
	assert.Equal(t, int32(1), fl.started.Load())

	require.NoError(t, s.Close())
	assert.Equal(t, int32(1), fl.stopped.Load())
	assert.ErrorIs(t, s.Do(context.Background(), func(context.Context, *rod.Browser) error { return nil }), ErrClosed)
	assert.NoError(t, s.Close())
}

func TestSessionSerializesAccess(t *testing.T) {
	fl := &fakeLauncher{}
	s := NewSession(Options{}, WithStartFunc(fl.start))

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(context.Background(), func(ctx context.Context, b *rod.Browser) error {
				n := inside.Add(1)
				for {
					m := maxInside.Load()
					if n <= m || maxInside.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
}

func TestSessionRestart(t *testing.T) {
	fl := &fakeLauncher{}
	s := NewSession(Options{}, WithStartFunc(fl.start))

	require.NoError(t, s.Do(context.Background(), func(context.Context, *rod.Browser) error { return nil }))
	require.NoError(t, s.Restart(context.Background()))

	starts, restarts := s.Stats()
	assert.Equal(t, 2, starts)
	assert.Equal(t, 1, restarts)
	assert.Equal(t, int32(1), fl.stopped.Load())
}

func TestSessionStartFailure(t *testing.T) {
	fl := &fakeLauncher{fail: errors.New("no chromium")}
	s := NewSession(Options{}, WithStartFunc(fl.start))

	called := false
	err := s.Do(context.Background(), func(context.Context, *rod.Browser) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no chromium")
	assert.False(t, called)
}

func TestSessionDoAppliesTimeout(t *testing.T) {
	fl := &fakeLauncher{}
	s := NewSession(Options{Timeout: 20 * time.Millisecond}, WithStartFunc(fl.start))

	err := s.Do(context.Background(), func(ctx context.Context, b *rod.Browser) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSessionGenerationInsideDo(t *testing.T) {
	fl := &fakeLauncher{}
	s := NewSession(Options{}, WithStartFunc(fl.start))
	assert.Equal(t, int64(0), s.Generation())

	var seen int64
	require.NoError(t, s.Do(context.Background(), func(context.Context, *rod.Browser) error {
		seen = s.Generation()
		return nil
	}))
	assert.Equal(t, int64(1), seen)

	require.NoError(t, s.Restart(context.Background()))
	assert.Equal(t, int64(2), s.Generation())
}
