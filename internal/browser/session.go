// Package browser owns the single headless Chromium session shared by the
// document fetcher and the interactive translation provider.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"

	"github.com/MimeLyc/rulebook-translator/pkg/log"
)

var ErrClosed = errors.New("browser session closed")

type Options struct {
	Headless   bool
	ProfileDir string
	Bin        string
	// Timeout bounds every Do call.
	Timeout time.Duration
}

// StartFunc launches a browser and returns it with a function that stops it.
type StartFunc func(ctx context.Context, opts Options) (*rod.Browser, func() error, error)

// Session is a lazily started browser. All access is serialized, so only one
// caller drives the browser at a time.
type Session struct {
	mu       sync.Mutex
	opts     Options
	start    StartFunc
	browser  *rod.Browser
	stop     func() error
	starts   int
	restarts int
	closed   bool
	// generation mirrors starts for readers that may already hold mu.
	generation atomic.Int64
}

type Option func(*Session)

// WithStartFunc replaces the Chromium launcher.
func WithStartFunc(fn StartFunc) Option {
	return func(s *Session) {
		s.start = fn
	}
}

func NewSession(opts Options, options ...Option) *Session {
	if opts.Timeout <= 0 {
		opts.Timeout = 90 * time.Second
	}
	s := &Session{
		opts:  opts,
		start: launch,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Do runs fn with exclusive access to the browser, starting it first if
// needed. The browser handed to fn is bound to a context with the session
// timeout.
func (s *Session) Do(ctx context.Context, fn func(ctx context.Context, b *rod.Browser) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureStarted(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	b := s.browser
	if b != nil {
		b = b.Context(ctx)
	}
	return fn(ctx, b)
}

// Restart stops the current browser and starts a fresh one.
func (s *Session) Restart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.restarts++
	log.Warn("Restarting browser session (restart #%d)", s.restarts)
	s.shutdown()
	return s.ensureStarted(ctx)
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.shutdown()
}

// Generation identifies the running browser instance. It changes on every
// start and never takes the session lock, so it is safe to call from inside Do.
func (s *Session) Generation() int64 {
	return s.generation.Load()
}

// Stats returns how many times the browser was started and restarted.
func (s *Session) Stats() (starts, restarts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.restarts
}

func (s *Session) ensureStarted(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	if s.stop != nil {
		return nil
	}

	b, stop, err := s.start(ctx, s.opts)
	if err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	if stop == nil {
		stop = func() error { return nil }
	}
	s.browser = b
	s.stop = stop
	s.starts++
	s.generation.Add(1)
	log.Info("Browser session started (headless=%v)", s.opts.Headless)
	return nil
}

func (s *Session) shutdown() error {
	if s.stop == nil {
		return nil
	}
	err := s.stop()
	if err != nil {
		log.Warn("Failed to stop browser: %v", err)
	}
	s.browser = nil
	s.stop = nil
	return err
}

// launch starts Chromium detached from ctx so the browser outlives the job
// that first needed it.
func launch(ctx context.Context, opts Options) (*rod.Browser, func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	l := launcher.New().Headless(opts.Headless)
	if opts.ProfileDir != "" {
		if err := os.MkdirAll(opts.ProfileDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create profile dir: %w", err)
		}
		l = l.UserDataDir(opts.ProfileDir)
	}
	if opts.Bin != "" {
		l = l.Bin(opts.Bin)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, nil, err
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, nil, err
	}

	stop := func() error {
		err := b.Close()
		l.Kill()
		return err
	}
	return b, stop, nil
}
