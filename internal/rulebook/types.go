// Package rulebook runs one rulebook through acquisition, extraction,
// translation and assembly, recording every transition in the store.
package rulebook

import (
	"context"
	"time"

	"github.com/MimeLyc/rulebook-translator/internal/apperr"
	"github.com/MimeLyc/rulebook-translator/internal/artifact"
	"github.com/MimeLyc/rulebook-translator/internal/persistence"
)

type Stage string

const (
	StagePending     Stage = "pending"
	StageCacheHit    Stage = "cache-hit"
	StageAcquiring   Stage = "acquiring"
	StageExtracting  Stage = "extracting"
	StageTranslating Stage = "translating"
	StageAssembling  Stage = "assembling"
	StageCompleted   Stage = "completed"
	StageFailed      Stage = "failed"
)

// Game identifies the owner of a rulebook.
type Game struct {
	ID    int64
	BGGID int64
	Name  string
}

// Ref describes one rulebook attached to a job. ID may be zero for batch
// records; the row is then matched on (game, url).
type Ref struct {
	ID    int64
	Title string
	URL   string
}

// Outcome is the typed result of processing one rulebook.
type Outcome struct {
	RulebookID   int64
	Title        string
	Stage        Stage
	CacheHit     bool
	MarkdownPath string
	Language     string
	FailedChunks int
	Duration     time.Duration

	// Skipped is set when the rulebook was already completed.
	Skipped bool

	// FailedAt is the stage that was running when Err occurred.
	FailedAt Stage
	Kind     apperr.Kind
	Err      error
}

func (o Outcome) Success() bool {
	return o.Err == nil && o.Stage == StageCompleted
}

// Store is the slice of persistence the pipeline needs.
type Store interface {
	EnsureRulebook(ctx context.Context, rb *persistence.Rulebook) error
	GetRulebook(ctx context.Context, id int64) (persistence.Rulebook, bool, error)
	MarkRulebookProcessing(ctx context.Context, id int64) (persistence.RulebookStatus, error)
	SetRulebookCachePath(ctx context.Context, id int64, path string) error
	CompleteRulebook(ctx context.Context, id int64, contentVI, markdownPath string) error
	FailRulebook(ctx context.Context, id int64, msg string) error

	SaveChunkCheckpoint(ctx context.Context, cp persistence.ChunkCheckpoint) error
	LoadChunkCheckpoints(ctx context.Context, rulebookID int64) ([]persistence.ChunkCheckpoint, error)
	ClearChunkCheckpoints(ctx context.Context, rulebookID int64) error
}

// Artifacts writes the bilingual markdown and returns its path.
type Artifacts interface {
	Save(ctx context.Context, meta artifact.Meta, vietnamese, english string) (string, error)
}
