// Package service is the translation orchestrator: it runs one job through
// the game metadata translation and the rulebook pipeline, recording every
// step in the store as it happens.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MimeLyc/rulebook-translator/internal/apperr"
	"github.com/MimeLyc/rulebook-translator/internal/jobs"
	"github.com/MimeLyc/rulebook-translator/internal/persistence"
	"github.com/MimeLyc/rulebook-translator/internal/rulebook"
	"github.com/MimeLyc/rulebook-translator/internal/translator"
	"github.com/MimeLyc/rulebook-translator/pkg/log"
)

const (
	// PreserveProperNouns is the default naming policy. Game names are proper
	// nouns: they are never sent to the translator and name_vi repeats them.
	PreserveProperNouns = true

	DefaultDescriptionCap = 5000
)

var tracer = otel.Tracer("github.com/MimeLyc/rulebook-translator/internal/service")

type Store interface {
	EnsureGame(ctx context.Context, g *persistence.Game) error
	GetGame(ctx context.Context, id int64) (persistence.Game, bool, error)
	UpsertQueueStatus(ctx context.Context, gameID int64, status persistence.QueueStatus, errMsg string) error
	SaveGameTranslation(ctx context.Context, t persistence.GameTranslation) error
}

type RulebookProcessor interface {
	Process(ctx context.Context, game rulebook.Game, ref rulebook.Ref) rulebook.Outcome
}

type Service struct {
	store      Store
	translator translator.Translator
	rulebooks  RulebookProcessor

	preserveProperNouns bool
	descriptionCap      int
	maxRulebooks        int
	rulebookDelay       time.Duration
	sleep               func(ctx context.Context, d time.Duration) error
}

type Option func(*Service)

func WithPreserveProperNouns(preserve bool) Option {
	return func(s *Service) {
		s.preserveProperNouns = preserve
	}
}

// WithDescriptionCap sets how many characters of a description are sent
// for translation.
func WithDescriptionCap(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.descriptionCap = n
		}
	}
}

// WithMaxRulebooks caps the rulebooks processed per job; 0 means no cap.
func WithMaxRulebooks(n int) Option {
	return func(s *Service) {
		s.maxRulebooks = n
	}
}

// WithRulebookDelay pauses between two rulebooks of the same job.
func WithRulebookDelay(d time.Duration) Option {
	return func(s *Service) {
		s.rulebookDelay = d
	}
}

func New(store Store, tr translator.Translator, rulebooks RulebookProcessor, opts ...Option) *Service {
	s := &Service{
		store:               store,
		translator:          tr,
		rulebooks:           rulebooks,
		preserveProperNouns: PreserveProperNouns,
		descriptionCap:      DefaultDescriptionCap,
		sleep:               sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Warmup loads the translator ahead of the first job.
func (s *Service) Warmup(ctx context.Context) error {
	return s.translator.Load(ctx)
}

// Process runs one job. Every failure ends up in the returned Result, and
// Result.Recorded tells whether it reached the queue status row.
func (s *Service) Process(ctx context.Context, job jobs.TranslationJob) (res jobs.Result) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "job.process", trace.WithAttributes(
		attribute.Int64("game.id", job.GameID),
		attribute.Int64("game.bgg_id", job.BGGID),
		attribute.String("game.name", job.GameName),
		attribute.Bool("job.translate_info", job.TranslateInfo),
		attribute.Bool("job.translate_rulebooks", job.TranslateRulebooks),
		attribute.Int("job.rulebooks", len(job.Rulebooks)),
	))
	defer func() {
		res.Duration = time.Since(start)
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Kind.String())
		}
		span.End()
	}()

	res = jobs.Result{
		GameID:              job.GameID,
		BGGID:               job.BGGID,
		PreserveProperNouns: s.preserveProperNouns,
	}

	game, err := s.ensureGame(ctx, job)
	if err != nil {
		res.Err = err
		res.Kind = apperr.KindOf(err)
		return res
	}
	res.GameID = game.ID
	res.BGGID = game.ExternalRefID

	if err := s.store.UpsertQueueStatus(ctx, game.ID, persistence.QueueProcessing, ""); err != nil {
		res.Err = apperr.Wrap(err, apperr.KindPersistence, "mark queue processing")
		res.Kind = apperr.KindPersistence
		return res
	}

	err = apperr.SafeExecute(func() error {
		return s.run(ctx, job, game, &res)
	})
	// Status writes must land even if the caller's context is gone.
	recordCtx := context.WithoutCancel(ctx)
	if err != nil {
		res.Err = err
		res.Kind = apperr.KindOf(err)
		log.Error("Job for %s failed: %v", job, err)
		s.recordFailure(recordCtx, job, game.ID, err, &res)
		return res
	}

	if err := s.store.UpsertQueueStatus(recordCtx, game.ID, persistence.QueueCompleted, ""); err != nil {
		res.Err = apperr.Wrap(err, apperr.KindPersistence, "mark queue completed")
		res.Kind = apperr.KindPersistence
		return res
	}
	res.Success = true
	res.Recorded = true
	return res
}

// ensureGame seeds the games row so status writes have a parent. Batch jobs
// only carry the BGG id and are matched on it.
func (s *Service) ensureGame(ctx context.Context, job jobs.TranslationJob) (persistence.Game, error) {
	if err := job.Validate(); err != nil {
		return persistence.Game{}, err
	}
	g := persistence.Game{
		ID:            job.GameID,
		ExternalRefID: job.BGGID,
		Name:          job.GameName,
		Description:   job.Description,
	}
	if err := s.store.EnsureGame(ctx, &g); err != nil {
		if errors.Is(err, persistence.ErrGameConflict) {
			return persistence.Game{}, apperr.Wrap(err, apperr.KindValidation, "ensure game")
		}
		return persistence.Game{}, apperr.Wrap(err, apperr.KindPersistence, "ensure game")
	}

	stored, ok, err := s.store.GetGame(ctx, g.ID)
	if err != nil {
		return persistence.Game{}, apperr.Wrap(err, apperr.KindPersistence, "load game")
	}
	if !ok {
		return persistence.Game{}, apperr.Newf(apperr.KindPersistence, "game %d not found", g.ID)
	}
	if stored.ExternalRefID == 0 {
		stored.ExternalRefID = job.BGGID
	}
	if job.GameName != "" {
		stored.Name = job.GameName
	}
	return stored, nil
}

func (s *Service) run(ctx context.Context, job jobs.TranslationJob, game persistence.Game, res *jobs.Result) error {
	if job.TranslateInfo {
		if err := s.translateInfo(ctx, job, game, res); err != nil {
			return err
		}
	}
	if job.TranslateRulebooks {
		s.translateRulebooks(ctx, job, game, res)
	}
	return nil
}

func (s *Service) translateInfo(ctx context.Context, job jobs.TranslationJob, game persistence.Game, res *jobs.Result) error {
	ctx = translator.WithSubject(ctx, game.Name)

	nameVI := game.Name
	if !s.preserveProperNouns && strings.TrimSpace(game.Name) != "" {
		translated, err := s.translator.Translate(ctx, game.Name)
		if err != nil {
			return apperr.Ensure(err, apperr.KindTranslation, "translate name")
		}
		nameVI = translated
	} else if nameVI != "" {
		log.Info("Keeping original name: %s", nameVI)
	}

	var descVI string
	if desc := strings.TrimSpace(job.Description); desc != "" {
		desc = truncateRunes(desc, s.descriptionCap)
		log.Info("Translating description of %s (%d chars)", game.Name, utf8.RuneCountInString(desc))
		translated, err := s.translator.Translate(ctx, desc)
		if err != nil {
			return apperr.Ensure(err, apperr.KindTranslation, "translate description")
		}
		descVI = translated
	}

	if err := s.store.SaveGameTranslation(ctx, persistence.GameTranslation{
		GameID:        game.ID,
		NameVI:        nameVI,
		DescriptionVI: descVI,
		Status:        persistence.TranslationCompleted,
	}); err != nil {
		return apperr.Wrap(err, apperr.KindPersistence, "save game translation")
	}
	res.NameVI = nameVI
	res.DescriptionVI = descVI
	return nil
}

// translateRulebooks runs the pipeline for each rulebook up to the cap. A
// failed rulebook never stops its siblings.
func (s *Service) translateRulebooks(ctx context.Context, job jobs.TranslationJob, game persistence.Game, res *jobs.Result) {
	refs := job.Rulebooks
	if len(refs) == 0 {
		log.Warn("translate_rulebooks is set but %s lists no rulebooks", job)
		return
	}
	if s.maxRulebooks > 0 && len(refs) > s.maxRulebooks {
		log.Info("Processing %d of %d rulebooks for %s", s.maxRulebooks, len(refs), job)
		refs = refs[:s.maxRulebooks]
	}

	owner := rulebook.Game{ID: game.ID, BGGID: game.ExternalRefID, Name: game.Name}
	for i, ref := range refs {
		if i > 0 && s.rulebookDelay > 0 {
			_ = s.sleep(ctx, s.rulebookDelay)
		}
		out := s.rulebooks.Process(ctx, owner, rulebook.Ref{ID: ref.RulebookID, Title: ref.Title, URL: ref.URL})
		res.Rulebooks = append(res.Rulebooks, jobs.RulebookResult{
			RulebookID:   out.RulebookID,
			Title:        out.Title,
			URL:          ref.URL,
			Success:      out.Success(),
			Skipped:      out.Skipped,
			CacheHit:     out.CacheHit,
			MarkdownPath: out.MarkdownPath,
			Kind:         out.Kind,
			Err:          out.Err,
		})
	}
}

func (s *Service) recordFailure(ctx context.Context, job jobs.TranslationJob, gameID int64, cause error, res *jobs.Result) {
	msg := cause.Error()
	if job.TranslateInfo {
		if err := s.store.SaveGameTranslation(ctx, persistence.GameTranslation{
			GameID:       gameID,
			Status:       persistence.TranslationFailed,
			ErrorMessage: msg,
		}); err != nil {
			log.Error("Failed to record translation failure of game %d: %v", gameID, err)
		}
	}
	if err := s.store.UpsertQueueStatus(ctx, gameID, persistence.QueueFailed, msg); err != nil {
		log.Error("Failed to record queue failure of game %d: %v", gameID, err)
		return
	}
	res.Recorded = true
}

func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
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

func (s *Service) String() string {
	return fmt.Sprintf("service(provider=%s, preserve_proper_nouns=%t)", s.translator.Name(), s.preserveProperNouns)
}
