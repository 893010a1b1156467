package rulebook

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"

	"github.com/MimeLyc/rulebook-translator/internal/apperr"
	"github.com/MimeLyc/rulebook-translator/internal/artifact"
	"github.com/MimeLyc/rulebook-translator/internal/extract"
	"github.com/MimeLyc/rulebook-translator/internal/fetch"
	"github.com/MimeLyc/rulebook-translator/internal/persistence"
	"github.com/MimeLyc/rulebook-translator/internal/translator"
	"github.com/MimeLyc/rulebook-translator/pkg/file"
	"github.com/MimeLyc/rulebook-translator/pkg/log"
)

var tracer = otel.Tracer("github.com/MimeLyc/rulebook-translator/internal/rulebook")

type reporter interface {
	TranslateWithReport(ctx context.Context, text string) (string, translator.Report, error)
}

type Pipeline struct {
	store       Store
	fetcher     fetch.Fetcher
	extractor   *extract.Extractor
	translator  translator.Translator
	artifacts   Artifacts
	downloadDir string
}

type Option func(*Pipeline)

func WithExtractor(e *extract.Extractor) Option {
	return func(p *Pipeline) {
		if e != nil {
			p.extractor = e
		}
	}
}

// WithDownloadDir sets the root of the document cache.
func WithDownloadDir(dir string) Option {
	return func(p *Pipeline) {
		if strings.TrimSpace(dir) != "" {
			p.downloadDir = dir
		}
	}
}

func New(store Store, fetcher fetch.Fetcher, tr translator.Translator, artifacts Artifacts, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:       store,
		fetcher:     fetcher,
		extractor:   extract.New(),
		translator:  tr,
		artifacts:   artifacts,
		downloadDir: "./downloads",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// run carries the state of one Process call.
type run struct {
	game    Game
	rb      persistence.Rulebook
	outcome Outcome
	span    trace.Span
}

func (r *run) enter(stage Stage) {
	r.outcome.Stage = stage
	r.span.AddEvent("stage", trace.WithAttributes(attribute.String("stage", string(stage))))
	log.Debug("Rulebook %d (%s): %s", r.rb.ID, r.rb.Title, stage)
}

// Process drives one rulebook to completed or failed. Failures are recorded
// on the row and returned in the Outcome, never as a panic or a bare error.
func (p *Pipeline) Process(ctx context.Context, game Game, ref Ref) Outcome {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "rulebook.process", trace.WithAttributes(
		attribute.Int64("game.id", game.ID),
		attribute.Int64("game.bgg_id", game.BGGID),
		attribute.Int64("rulebook.id", ref.ID),
		attribute.String("rulebook.title", ref.Title),
	))
	defer span.End()

	r := &run{
		game:    game,
		outcome: Outcome{RulebookID: ref.ID, Title: ref.Title, Stage: StagePending},
		span:    span,
	}

	err := apperr.SafeExecute(func() error {
		return p.process(ctx, r, ref)
	})
	r.outcome.Duration = time.Since(start)
	if err != nil {
		r.outcome.Err = err
		r.outcome.Kind = apperr.KindOf(err)
		r.outcome.FailedAt = r.outcome.Stage
		span.RecordError(err)
		span.SetStatus(codes.Error, r.outcome.Kind.String())
		log.Error("Rulebook %d (%s) failed at %s: %v", r.outcome.RulebookID, r.outcome.Title, r.outcome.Stage, err)
		p.recordFailure(ctx, r, err)
		return r.outcome
	}

	span.SetStatus(codes.Ok, "")
	if !r.outcome.Skipped {
		log.Info("Rulebook %d (%s) completed in %s -> %s", r.outcome.RulebookID, r.outcome.Title, r.outcome.Duration.Round(time.Millisecond), r.outcome.MarkdownPath)
	}
	return r.outcome
}

func (p *Pipeline) process(ctx context.Context, r *run, ref Ref) error {
	rb, err := p.load(ctx, r.game, ref)
	if err != nil {
		return err
	}
	r.rb = rb
	r.outcome.RulebookID = rb.ID
	r.outcome.Title = rb.Title

	switch rb.Status {
	case persistence.RulebookCompleted:
		return p.revisit(ctx, r)
	case persistence.RulebookFailed:
		r.outcome.Stage = StageFailed
		r.outcome.Skipped = true
		return apperr.Newf(apperr.KindValidation, "rulebook previously failed (%s); reset it to retry", rb.ErrorMessage).
			WithContext("rulebook_id", rb.ID)
	}

	previous, err := p.store.MarkRulebookProcessing(ctx, rb.ID)
	if err != nil {
		return apperr.Wrap(err, apperr.KindPersistence, "mark processing")
	}
	if previous == persistence.RulebookProcessing {
		log.Warn("Rulebook %d was left in processing by an earlier run, resuming", rb.ID)
	}

	data, format, err := p.source(ctx, r)
	if err != nil {
		return err
	}

	r.enter(StageExtracting)
	english, lang, err := p.extractText(data, format)
	if err != nil {
		return err
	}
	r.outcome.Language = lang

	r.enter(StageTranslating)
	vietnamese, err := p.translate(ctx, r, english)
	if err != nil {
		return err
	}

	r.enter(StageAssembling)
	path, err := p.artifacts.Save(ctx, p.meta(r), vietnamese, english)
	if err != nil {
		return apperr.Wrap(err, apperr.KindPersistence, "write artifact")
	}
	r.outcome.MarkdownPath = path

	if err := p.store.CompleteRulebook(ctx, rb.ID, vietnamese, path); err != nil {
		return apperr.Wrap(err, apperr.KindPersistence, "mark completed")
	}
	if err := p.store.ClearChunkCheckpoints(ctx, rb.ID); err != nil {
		log.Warn("Failed to clear checkpoints of rulebook %d: %v", rb.ID, err)
	}
	r.enter(StageCompleted)
	return nil
}

// load seeds the row when needed and reads its current state.
func (p *Pipeline) load(ctx context.Context, game Game, ref Ref) (persistence.Rulebook, error) {
	seed := persistence.Rulebook{
		ID:          ref.ID,
		GameID:      game.ID,
		Title:       ref.Title,
		OriginalURL: ref.URL,
	}
	if err := p.store.EnsureRulebook(ctx, &seed); err != nil {
		return persistence.Rulebook{}, apperr.Wrap(err, apperr.KindPersistence, "ensure rulebook")
	}
	rb, ok, err := p.store.GetRulebook(ctx, seed.ID)
	if err != nil {
		return persistence.Rulebook{}, apperr.Wrap(err, apperr.KindPersistence, "load rulebook")
	}
	if !ok {
		return persistence.Rulebook{}, apperr.Newf(apperr.KindPersistence, "rulebook %d not found", seed.ID)
	}
	return rb, nil
}

// revisit handles a rerun of a completed rulebook. The artifact is rebuilt
// from the cache and the stored translation only when it went missing.
func (p *Pipeline) revisit(ctx context.Context, r *run) error {
	r.outcome.Skipped = true
	r.outcome.MarkdownPath = r.rb.MarkdownPath
	if r.rb.MarkdownPath != "" && file.Exists(r.rb.MarkdownPath) {
		log.Info("Rulebook %d already completed, skipping", r.rb.ID)
		r.outcome.Stage = StageCompleted
		return nil
	}
	if r.rb.LocalFilePath == "" || !file.Exists(r.rb.LocalFilePath) {
		return apperr.New(apperr.KindValidation, "completed rulebook lost its artifact and cache; reset it to retry").
			WithContext("rulebook_id", r.rb.ID)
	}

	log.Warn("Rulebook %d is completed but %q is missing, rebuilding it", r.rb.ID, r.rb.MarkdownPath)
	r.outcome.CacheHit = true
	data, err := os.ReadFile(r.rb.LocalFilePath)
	if err != nil {
		return apperr.Wrap(err, apperr.KindPersistence, "read cached document")
	}
	english, lang, err := p.extractText(data, extract.DetectFormat("", r.rb.LocalFilePath, data))
	if err != nil {
		return err
	}
	r.outcome.Language = lang

	r.enter(StageAssembling)
	path, err := p.artifacts.Save(ctx, p.meta(r), r.rb.ContentVI, english)
	if err != nil {
		return apperr.Wrap(err, apperr.KindPersistence, "write artifact")
	}
	r.outcome.MarkdownPath = path
	r.outcome.Stage = StageCompleted
	return nil
}

// source returns the document bytes, from the cache when the recorded file
// still exists and from the fetcher otherwise.
func (p *Pipeline) source(ctx context.Context, r *run) ([]byte, extract.Format, error) {
	if path := r.rb.LocalFilePath; path != "" && file.Exists(path) {
		r.enter(StageCacheHit)
		r.outcome.CacheHit = true
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, extract.FormatUnknown, apperr.Wrap(err, apperr.KindPersistence, "read cached document").
				WithContext("path", path)
		}
		log.Info("Rulebook %d: using cached %s (%s)", r.rb.ID, path, humanize.Bytes(uint64(len(data))))
		return data, extract.DetectFormat("", path, data), nil
	}

	r.enter(StageAcquiring)
	data, format, path, err := p.download(ctx, r.game, r.rb)
	if err != nil {
		return nil, format, err
	}
	r.rb.LocalFilePath = path
	return data, format, nil
}

// Prefetch downloads rb into the cache without translating it. Rulebooks
// that already have a cached file are left alone.
func (p *Pipeline) Prefetch(ctx context.Context, game Game, rb persistence.Rulebook) (string, error) {
	if rb.LocalFilePath != "" && file.Exists(rb.LocalFilePath) {
		return rb.LocalFilePath, nil
	}
	_, _, path, err := p.download(ctx, game, rb)
	return path, err
}

// download fetches the original document and records its cache path before
// anything else happens to it, so a crash from here on resumes from the cache.
func (p *Pipeline) download(ctx context.Context, game Game, rb persistence.Rulebook) ([]byte, extract.Format, string, error) {
	if strings.TrimSpace(rb.OriginalURL) == "" {
		return nil, extract.FormatUnknown, "", apperr.New(apperr.KindAcquisition, "rulebook has no source url")
	}
	doc, err := p.fetcher.Fetch(ctx, rb.OriginalURL)
	if err != nil {
		return nil, extract.FormatUnknown, "", apperr.Ensure(err, apperr.KindAcquisition, "download rulebook")
	}

	format := extract.DetectFormat(doc.ContentType, doc.FileName, doc.Data)
	path := p.cachePath(game, rb, format)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, format, "", apperr.Wrap(err, apperr.KindPersistence, "create cache dir")
	}
	if err := file.WriteAtomic(path, doc.Data, 0o644); err != nil {
		return nil, format, "", apperr.Wrap(err, apperr.KindPersistence, "write cache file")
	}
	if err := p.store.SetRulebookCachePath(ctx, rb.ID, path); err != nil {
		return nil, format, "", apperr.Wrap(err, apperr.KindPersistence, "record cache path")
	}
	return doc.Data, format, path, nil
}

func (p *Pipeline) cachePath(game Game, rb persistence.Rulebook, format extract.Format) string {
	title := file.SafeName(rb.Title, 50)
	if title == "" {
		title = "rules"
	}
	dir := filepath.Join(p.downloadDir, strconv.FormatInt(game.BGGID, 10))
	return filepath.Join(dir, fmt.Sprintf("%d_%s.%s", rb.ID, title, format.Ext()))
}

func (p *Pipeline) extractText(data []byte, format extract.Format) (string, string, error) {
	raw, err := p.extractor.Extract(data, format)
	if err != nil {
		return "", "", apperr.Wrap(err, apperr.KindExtraction, "extract text").
			WithContext("format", string(format))
	}
	text := extract.Normalize(raw)
	if err := p.extractor.CheckLength(text); err != nil {
		return "", "", apperr.Wrap(err, apperr.KindExtraction, "normalize text")
	}

	lang := extract.DetectLanguage(text)
	if lang == language.Und {
		return text, "", nil
	}
	return text, lang.String(), nil
}

func (p *Pipeline) translate(ctx context.Context, r *run, english string) (string, error) {
	cps, err := loadCheckpoints(ctx, p.store, r.rb.ID)
	if err != nil {
		log.Warn("Failed to load checkpoints of rulebook %d, translating from scratch: %v", r.rb.ID, err)
	} else {
		ctx = translator.WithCheckpoints(ctx, cps)
	}
	ctx = translator.WithSubject(ctx, r.game.Name)

	var vietnamese string
	if rep, ok := p.translator.(reporter); ok {
		var report translator.Report
		vietnamese, report, err = rep.TranslateWithReport(ctx, english)
		r.outcome.FailedChunks = report.Failed()
	} else {
		vietnamese, err = p.translator.Translate(ctx, english)
	}
	if err != nil {
		return "", apperr.Ensure(err, apperr.KindTranslation, "translate rulebook")
	}
	if strings.TrimSpace(vietnamese) == "" {
		return "", apperr.New(apperr.KindTranslation, "translator returned no text")
	}
	return vietnamese, nil
}

func (p *Pipeline) meta(r *run) artifact.Meta {
	return artifact.Meta{
		GameName:       r.game.Name,
		BGGID:          r.game.BGGID,
		RulebookID:     r.rb.ID,
		Title:          r.rb.Title,
		SourceURL:      r.rb.OriginalURL,
		Provider:       p.translator.Name(),
		Model:          modelOf(p.translator),
		SourceLanguage: r.outcome.Language,
	}
}

func modelOf(tr translator.Translator) string {
	if m, ok := tr.(interface{ Model() string }); ok {
		return m.Model()
	}
	return ""
}

// recordFailure moves the row to failed. Rows that never reached processing
// (skipped or not loaded) are left alone.
func (p *Pipeline) recordFailure(ctx context.Context, r *run, cause error) {
	r.outcome.Stage = StageFailed
	if r.outcome.Skipped || r.rb.ID == 0 {
		return
	}
	// The job context may be cancelled at this point; the failure must still land.
	ctx = context.WithoutCancel(ctx)
	if err := p.store.FailRulebook(ctx, r.rb.ID, failureMessage(cause)); err != nil && !errors.Is(err, persistence.ErrNotProcessing) {
		log.Error("Failed to record failure of rulebook %d: %v", r.rb.ID, err)
	}
}

func failureMessage(err error) string {
	msg := err.Error()
	if r := []rune(msg); len(r) > 1000 {
		msg = string(r[:1000])
	}
	return msg
}
