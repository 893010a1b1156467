// Package translator translates English text to Vietnamese through one of
// several interchangeable providers, chunking long documents to fit each
// provider's input budget.
package translator

import (
	"context"
	"time"

	"github.com/MimeLyc/rulebook-translator/internal/glossary"
)

// Translator is the capability the orchestrator and rulebook pipeline use.
// Callers never see which provider sits behind it.
type Translator interface {
	// Load prepares the provider. It is idempotent.
	Load(ctx context.Context) error
	// Translate returns "" for blank input.
	Translate(ctx context.Context, text string) (string, error)
	Name() string
}

// Provider translates a single chunk that already fits its budget.
type Provider interface {
	Name() string
	// Budget is the maximum chunk size in characters.
	Budget() int
	// MinInterval is the mandatory pause between two submissions.
	MinInterval() time.Duration
	Load(ctx context.Context) error
	TranslateChunk(ctx context.Context, req ChunkRequest) (string, error)
}

type ChunkRequest struct {
	Text     string
	Index    int
	Total    int
	Subject  string
	Glossary []glossary.Entry
}

// Fallback decides what replaces a chunk the provider could not translate.
type Fallback string

const (
	// FallbackSource keeps the English chunk.
	FallbackSource Fallback = "source"
	// FallbackMarker inserts an inline failure marker.
	FallbackMarker Fallback = "marker"
)

// ChunkResult describes how one chunk was produced.
type ChunkResult struct {
	Index      int
	Source     string
	Output     string
	Err        error
	Checkpoint bool
}

type Report struct {
	Separator string
	Chunks    []ChunkResult
}

func (r Report) Failed() int {
	n := 0
	for _, c := range r.Chunks {
		if c.Err != nil {
			n++
		}
	}
	return n
}

type subjectKey struct{}

// WithSubject attaches the game name that prompts mention as context.
func WithSubject(ctx context.Context, subject string) context.Context {
	if subject == "" {
		return ctx
	}
	return context.WithValue(ctx, subjectKey{}, subject)
}

func subjectFromContext(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}
