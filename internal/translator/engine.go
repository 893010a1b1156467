package translator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MimeLyc/rulebook-translator/internal/apperr"
	"github.com/MimeLyc/rulebook-translator/internal/glossary"
	"github.com/MimeLyc/rulebook-translator/pkg/log"
)

// Chunked implements Translator on top of a single-chunk Provider. A chunk
// that fails is replaced according to the fallback mode and the document
// carries on.
type Chunked struct {
	provider Provider
	fallback Fallback
	minDelay time.Duration
	timeout  time.Duration
	glossary glossary.Glossary

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	loadMu sync.Mutex
	loaded bool

	// mu serializes submissions so the interval holds across documents.
	mu          sync.Mutex
	nextAllowed time.Time
}

type Option func(*Chunked)

func WithFallback(f Fallback) Option {
	return func(c *Chunked) {
		if f != "" {
			c.fallback = f
		}
	}
}

// WithMinDelay raises the pause between submissions. It never lowers the
// provider's own interval.
func WithMinDelay(d time.Duration) Option {
	return func(c *Chunked) {
		c.minDelay = d
	}
}

// WithTimeout bounds each chunk submission.
func WithTimeout(d time.Duration) Option {
	return func(c *Chunked) {
		c.timeout = d
	}
}

func WithGlossary(g glossary.Glossary) Option {
	return func(c *Chunked) {
		c.glossary = g
	}
}

// WithClock replaces time.Now and the interruptible sleep.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Chunked) {
		if now != nil {
			c.now = now
		}
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

func NewChunked(p Provider, opts ...Option) *Chunked {
	c := &Chunked{
		provider: p,
		fallback: FallbackSource,
		timeout:  120 * time.Second,
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chunked) Name() string {
	return c.provider.Name()
}

// Model names the provider's model when the provider reports one.
func (c *Chunked) Model() string {
	if m, ok := c.provider.(interface{ Model() string }); ok {
		return m.Model()
	}
	return ""
}

// Interval is the pause enforced between two submissions.
func (c *Chunked) Interval() time.Duration {
	return max(c.provider.MinInterval(), c.minDelay)
}

func (c *Chunked) Load(ctx context.Context) error {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	if c.loaded {
		return nil
	}
	if err := c.provider.Load(ctx); err != nil {
		return apperr.Wrap(err, apperr.KindTranslation, "load provider").
			WithContext("provider", c.provider.Name())
	}
	c.loaded = true
	log.Info("Translation provider %s loaded (budget=%d chars, interval=%s)", c.provider.Name(), c.provider.Budget(), c.Interval())
	return nil
}

func (c *Chunked) Translate(ctx context.Context, text string) (string, error) {
	out, _, err := c.TranslateWithReport(ctx, text)
	return out, err
}

// TranslateWithReport translates text chunk by chunk. The returned text is
// always fully assembled. An error is returned only when the provider could
// not be loaded, the context ended, or every chunk failed.
func (c *Chunked) TranslateWithReport(ctx context.Context, text string) (string, Report, error) {
	if strings.TrimSpace(text) == "" {
		return "", Report{}, nil
	}
	if err := c.Load(ctx); err != nil {
		return "", Report{}, err
	}

	chunks, sep := Split(text, c.provider.Budget())
	report := Report{
		Separator: sep,
		Chunks:    make([]ChunkResult, len(chunks)),
	}
	checkpoints := checkpointsFromContext(ctx)
	subject := subjectFromContext(ctx)

	outputs := make([]string, len(chunks))
	for i, chunk := range chunks {
		res := ChunkResult{Index: i, Source: chunk}

		if strings.TrimSpace(chunk) == "" {
			res.Output = chunk
		} else if cached, ok := c.fromCheckpoint(checkpoints, i, chunk); ok {
			res.Output = cached
			res.Checkpoint = true
		} else {
			if err := ctx.Err(); err != nil {
				return "", report, apperr.Wrap(err, apperr.KindTranslation, "translation interrupted").
					WithContext("chunk", fmt.Sprintf("%d/%d", i+1, len(chunks)))
			}
			out, err := c.submit(ctx, ChunkRequest{
				Text:     chunk,
				Index:    i,
				Total:    len(chunks),
				Subject:  subject,
				Glossary: c.glossary.Match(chunk),
			})
			if err != nil {
				log.Warn("Chunk %d/%d via %s failed, using %s fallback: %v", i+1, len(chunks), c.provider.Name(), c.fallback, err)
				res.Err = err
				res.Output = c.substitute(chunk, i, len(chunks), err)
			} else {
				res.Output = out
				if checkpoints != nil {
					if err := checkpoints.Save(ctx, i, ChunkHash(chunk), out); err != nil {
						log.Warn("Failed to save checkpoint for chunk %d/%d: %v", i+1, len(chunks), err)
					}
				}
			}
		}

		outputs[i] = res.Output
		report.Chunks[i] = res
	}

	result := strings.Join(outputs, sep)
	if failed := report.Failed(); failed > 0 {
		log.Warn("%s translated %d/%d chunks, %d fell back", c.provider.Name(), len(chunks)-failed, len(chunks), failed)
		if failed == len(chunks) {
			return result, report, apperr.Wrap(report.Chunks[0].Err, apperr.KindTranslation, "every chunk failed").
				WithContext("provider", c.provider.Name()).
				WithContext("chunks", len(chunks))
		}
	}
	return result, report, nil
}

func (c *Chunked) fromCheckpoint(store CheckpointStore, index int, chunk string) (string, bool) {
	if store == nil {
		return "", false
	}
	out, ok := store.Load(index, ChunkHash(chunk))
	if ok && strings.TrimSpace(out) != "" {
		return out, true
	}
	return "", false
}

// submit waits for the rate interval and sends one chunk.
func (c *Chunked) submit(ctx context.Context, req ChunkRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if wait := c.nextAllowed.Sub(c.now()); wait > 0 {
		if err := c.sleep(ctx, wait); err != nil {
			return "", err
		}
	}
	defer func() {
		c.nextAllowed = c.now().Add(c.Interval())
	}()

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	out, err := c.provider.TranslateChunk(callCtx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("timed out after %s: %w", c.timeout, err)
		}
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", errEmptyTranslation
	}
	return out, nil
}

var errEmptyTranslation = errors.New("empty translation")

func (c *Chunked) substitute(chunk string, index, total int, err error) string {
	if c.fallback == FallbackMarker {
		return fmt.Sprintf("[[translation failed: chunk %d/%d: %s]]", index+1, total, oneLine(err.Error()))
	}
	return chunk
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 120 {
		s = string(r[:120]) + "..."
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
