package rulebook

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/rulebook-translator/internal/apperr"
	"github.com/MimeLyc/rulebook-translator/internal/artifact"
	"github.com/MimeLyc/rulebook-translator/internal/fetch"
	"github.com/MimeLyc/rulebook-translator/internal/persistence"
	"github.com/MimeLyc/rulebook-translator/internal/translator"
)

const referenceSheet = `Brass: Birmingham Reference Sheet

Each round every player takes two actions in turn order. Build an industry tile on a location in your network, paying its cost in money, coal and iron.

Page 1

Network actions place a canal or rail link between two adjacent locations. During the rail era each link needs coal delivered from a connected mine.

Page 1`

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	doc   *fetch.Document
	err   error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*fetch.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.doc, nil
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// prefixProvider "translates" by prefixing each chunk and fails the chunk
// indexes listed in failAt.
type prefixProvider struct {
	budget int
	failAt map[int]bool
}

func (p *prefixProvider) Name() string               { return "local" }
func (p *prefixProvider) Budget() int                { return p.budget }
func (p *prefixProvider) MinInterval() time.Duration { return 0 }
func (p *prefixProvider) Load(ctx context.Context) error {
	return nil
}

func (p *prefixProvider) TranslateChunk(ctx context.Context, req translator.ChunkRequest) (string, error) {
	if p.failAt[req.Index] {
		return "", errors.New("provider throttled")
	}
	return "VI: " + req.Text, nil
}

type fixture struct {
	store    *persistence.Store
	fetcher  *fakeFetcher
	pipeline *Pipeline
	game     Game
	ref      Ref
	dir      string
}

func newFixture(t *testing.T, doc *fetch.Document, provider translator.Provider) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := persistence.NewSQLiteStore(filepath.Join(dir, "boardgames.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	g := persistence.Game{ID: 1, ExternalRefID: 224517, Name: "Brass: Birmingham", Description: "An economic strategy game"}
	require.NoError(t, store.EnsureGame(ctx, &g))

	if provider == nil {
		provider = &prefixProvider{budget: 5000}
	}
	fetcher := &fakeFetcher{doc: doc}
	tr := translator.NewChunked(provider)
	p := New(store, fetcher, tr, artifact.NewLocalStore(filepath.Join(dir, "output")),
		WithDownloadDir(filepath.Join(dir, "downloads")))

	return &fixture{
		store:    store,
		fetcher:  fetcher,
		pipeline: p,
		game:     Game{ID: g.ID, BGGID: 224517, Name: "Brass: Birmingham"},
		ref:      Ref{ID: 5, Title: "Reference Sheet", URL: "https://boardgamegeek.com/filepage/5"},
		dir:      dir,
	}
}

func textDoc(body string) *fetch.Document {
	return &fetch.Document{Data: []byte(body), ContentType: "text/plain; charset=utf-8"}
}

func (f *fixture) rulebook(t *testing.T) persistence.Rulebook {
	t.Helper()
	rb, ok, err := f.store.GetRulebook(context.Background(), f.ref.ID)
	require.NoError(t, err)
	require.True(t, ok)
	return rb
}

func TestProcessCompletes(t *testing.T) {
	f := newFixture(t, textDoc(referenceSheet), nil)

	out := f.pipeline.Process(context.Background(), f.game, f.ref)
	require.NoError(t, out.Err)
	assert.True(t, out.Success())
	assert.False(t, out.CacheHit)
	assert.Equal(t, "en", out.Language)
	assert.Equal(t, 1, f.fetcher.Calls())

	rb := f.rulebook(t)
	assert.Equal(t, persistence.RulebookCompleted, rb.Status)
	assert.Equal(t, filepath.Join(f.dir, "downloads", "224517", "5_reference_sheet.txt"), rb.LocalFilePath)
	assert.Equal(t, out.MarkdownPath, rb.MarkdownPath)
	assert.Contains(t, rb.ContentVI, "VI: Brass: Birmingham Reference Sheet")

	md, err := os.ReadFile(rb.MarkdownPath)
	require.NoError(t, err)
	body := string(md)
	assert.Contains(t, body, "**BGG ID:** 224517")
	vi := strings.Index(body, "VI: Brass: Birmingham")
	assert.Greater(t, vi, strings.Index(body, "## Tiếng Việt"))
	assert.Less(t, vi, strings.Index(body, "## English (Original)"))
	// The repeated page footer survives once in the source section.
	english := body[strings.Index(body, "## English (Original)"):]
	assert.Equal(t, 1, strings.Count(english, "Page 1"))

	cps, err := f.store.LoadChunkCheckpoints(context.Background(), f.ref.ID)
	require.NoError(t, err)
	assert.Empty(t, cps)
}

func TestProcessRerunIsIdempotent(t *testing.T) {
	f := newFixture(t, textDoc(referenceSheet), nil)
	ctx := context.Background()

	first := f.pipeline.Process(ctx, f.game, f.ref)
	require.NoError(t, first.Err)
	original, err := os.ReadFile(first.MarkdownPath)
	require.NoError(t, err)

	second := f.pipeline.Process(ctx, f.game, f.ref)
	require.NoError(t, second.Err)
	assert.True(t, second.Skipped)
	assert.True(t, second.Success())
	assert.Equal(t, first.MarkdownPath, second.MarkdownPath)

	// A lost artifact is rebuilt from the cache, byte for byte.
	require.NoError(t, os.Remove(first.MarkdownPath))
	third := f.pipeline.Process(ctx, f.game, f.ref)
	require.NoError(t, third.Err)
	assert.True(t, third.CacheHit)
	rebuilt, err := os.ReadFile(third.MarkdownPath)
	require.NoError(t, err)
	assert.Equal(t, original, rebuilt)

	assert.Equal(t, 1, f.fetcher.Calls())
	assert.Equal(t, persistence.RulebookCompleted, f.rulebook(t).Status)
}

func TestProcessResumesFromCacheAfterCrash(t *testing.T) {
	f := newFixture(t, textDoc(referenceSheet), nil)
	ctx := context.Background()

	// A previous run downloaded the file and died before finishing.
	rb := persistence.Rulebook{ID: f.ref.ID, GameID: f.game.ID, Title: f.ref.Title, OriginalURL: f.ref.URL}
	require.NoError(t, f.store.EnsureRulebook(ctx, &rb))
	_, err := f.store.MarkRulebookProcessing(ctx, rb.ID)
	require.NoError(t, err)
	cached := filepath.Join(f.dir, "downloads", "224517", "5_reference_sheet.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(cached), 0o755))
	require.NoError(t, os.WriteFile(cached, []byte(referenceSheet), 0o644))
	require.NoError(t, f.store.SetRulebookCachePath(ctx, rb.ID, cached))

	out := f.pipeline.Process(ctx, f.game, f.ref)
	require.NoError(t, out.Err)
	assert.True(t, out.CacheHit)
	assert.Equal(t, 0, f.fetcher.Calls())
	assert.Equal(t, persistence.RulebookCompleted, f.rulebook(t).Status)
}

func TestProcessRejectsShortExtraction(t *testing.T) {
	f := newFixture(t, textDoc(strings.Repeat("x", 99)), nil)

	out := f.pipeline.Process(context.Background(), f.game, f.ref)
	require.Error(t, out.Err)
	assert.Equal(t, apperr.KindExtraction, out.Kind)
	assert.Equal(t, StageExtracting, out.FailedAt)
	assert.Equal(t, StageFailed, out.Stage)
	assert.Empty(t, out.MarkdownPath)

	rb := f.rulebook(t)
	assert.Equal(t, persistence.RulebookFailed, rb.Status)
	assert.Contains(t, rb.ErrorMessage, "ExtractionError")
	assert.NotEmpty(t, rb.LocalFilePath)
	assert.Empty(t, rb.MarkdownPath)

	entries, _ := os.ReadDir(filepath.Join(f.dir, "output"))
	assert.Empty(t, entries)
}

func TestProcessUnsupportedFormat(t *testing.T) {
	f := newFixture(t, &fetch.Document{Data: []byte{0x00, 0x01, 0x02, 0x03}, ContentType: "application/octet-stream"}, nil)

	out := f.pipeline.Process(context.Background(), f.game, f.ref)
	require.Error(t, out.Err)
	assert.Equal(t, apperr.KindExtraction, out.Kind)
	assert.Contains(t, out.Err.Error(), "unsupported format")
	assert.True(t, strings.HasSuffix(f.rulebook(t).LocalFilePath, ".bin"))
}

func TestProcessAcquisitionFailure(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.fetcher.err = apperr.New(apperr.KindAcquisition, "navigation timeout")

	out := f.pipeline.Process(context.Background(), f.game, f.ref)
	require.Error(t, out.Err)
	assert.Equal(t, apperr.KindAcquisition, out.Kind)
	assert.Equal(t, StageAcquiring, out.FailedAt)

	rb := f.rulebook(t)
	assert.Equal(t, persistence.RulebookFailed, rb.Status)
	assert.Empty(t, rb.LocalFilePath)

	// Failed is terminal until an administrative reset.
	again := f.pipeline.Process(context.Background(), f.game, f.ref)
	assert.True(t, again.Skipped)
	assert.Equal(t, apperr.KindValidation, again.Kind)
	assert.Equal(t, 1, f.fetcher.Calls())

	_, err := f.store.ResetStuck(context.Background(), persistence.ResetOptions{GameID: f.game.ID, IncludeFailed: true})
	require.NoError(t, err)
	f.fetcher.err = nil
	f.fetcher.doc = textDoc(referenceSheet)
	assert.True(t, f.pipeline.Process(context.Background(), f.game, f.ref).Success())
}

func TestProcessIsolatesChunkFailure(t *testing.T) {
	paragraphs := make([]string, 3)
	for i := range paragraphs {
		paragraphs[i] = fmt.Sprintf("Paragraph %d explains a rule in detail. ", i) + strings.Repeat("Players score victory points at the end. ", 3)
	}
	doc := textDoc(strings.Join(paragraphs, "\n\n"))
	f := newFixture(t, doc, &prefixProvider{budget: 200, failAt: map[int]bool{1: true}})

	out := f.pipeline.Process(context.Background(), f.game, f.ref)
	require.NoError(t, out.Err)
	assert.Equal(t, 1, out.FailedChunks)

	rb := f.rulebook(t)
	assert.Equal(t, persistence.RulebookCompleted, rb.Status)
	parts := strings.Split(rb.ContentVI, "\n\n")
	require.Len(t, parts, 3)
	assert.True(t, strings.HasPrefix(parts[0], "VI: Paragraph 0"))
	assert.True(t, strings.HasPrefix(parts[1], "Paragraph 1"))
	assert.True(t, strings.HasPrefix(parts[2], "VI: Paragraph 2"))
}

func TestProcessBatchRefWithoutID(t *testing.T) {
	f := newFixture(t, textDoc(referenceSheet), nil)
	ref := Ref{Title: "Rules", URL: "https://example.com/rules.txt"}

	out := f.pipeline.Process(context.Background(), f.game, ref)
	require.NoError(t, out.Err)
	assert.Positive(t, out.RulebookID)
	assert.Contains(t, filepath.Base(out.MarkdownPath), "_rules.md")
}

func TestCachePath(t *testing.T) {
	p := New(nil, nil, nil, nil, WithDownloadDir("/data/downloads"))
	got := p.cachePath(Game{BGGID: 224517}, persistence.Rulebook{ID: 5, Title: "Reference Sheet"}, "pdf")
	assert.Equal(t, "/data/downloads/224517/5_reference_sheet.pdf", got)

	got = p.cachePath(Game{BGGID: 1}, persistence.Rulebook{ID: 2, Title: "???"}, "")
	assert.Equal(t, "/data/downloads/1/2_rules.bin", got)
}

func TestPrefetchFillsCacheOnce(t *testing.T) {
	f := newFixture(t, textDoc(referenceSheet), nil)
	ctx := context.Background()
	rb := persistence.Rulebook{ID: f.ref.ID, GameID: f.game.ID, Title: f.ref.Title, OriginalURL: f.ref.URL}
	require.NoError(t, f.store.EnsureRulebook(ctx, &rb))

	path, err := f.pipeline.Prefetch(ctx, f.game, rb)
	require.NoError(t, err)
	assert.FileExists(t, path)
	stored := f.rulebook(t)
	assert.Equal(t, path, stored.LocalFilePath)
	assert.Equal(t, persistence.RulebookPending, stored.Status)

	again, err := f.pipeline.Prefetch(ctx, f.game, stored)
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.Equal(t, 1, f.fetcher.Calls())

	// The later translation reads the prefetched file.
	out := f.pipeline.Process(ctx, f.game, f.ref)
	require.NoError(t, out.Err)
	assert.True(t, out.CacheHit)
	assert.Equal(t, 1, f.fetcher.Calls())
}
