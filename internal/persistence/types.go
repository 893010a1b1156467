package persistence

import "time"

type GameStatus string

const (
	GamePending GameStatus = "pending"
	GameActive  GameStatus = "active"
	GameFailed  GameStatus = "failed"
)

type RulebookStatus string

const (
	RulebookPending    RulebookStatus = "pending"
	RulebookProcessing RulebookStatus = "processing"
	RulebookCompleted  RulebookStatus = "completed"
	RulebookFailed     RulebookStatus = "failed"
)

type QueueStatus string

const (
	QueueQueued     QueueStatus = "queued"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

type TranslationStatus string

const (
	TranslationPending   TranslationStatus = "pending"
	TranslationCompleted TranslationStatus = "completed"
	TranslationFailed    TranslationStatus = "failed"
)

type Game struct {
	ID            int64
	ExternalRefID int64
	Name          string
	Description   string
	Status        GameStatus
	UpdatedAt     time.Time
}

type Rulebook struct {
	ID            int64
	GameID        int64
	Title         string
	OriginalURL   string
	LocalFilePath string
	ContentVI     string
	MarkdownPath  string
	Status        RulebookStatus
	ErrorMessage  string
	ProcessedAt   time.Time
	UpdatedAt     time.Time
}

type GameTranslation struct {
	GameID        int64
	NameVI        string
	DescriptionVI string
	Status        TranslationStatus
	ErrorMessage  string
	RequestedAt   time.Time
	CompletedAt   time.Time
}

type QueueRecord struct {
	GameID       int64
	Status       QueueStatus
	RequestedAt  time.Time
	StartedAt    time.Time
	CompletedAt  time.Time
	ErrorMessage string
}

type ChunkCheckpoint struct {
	RulebookID int64
	ChunkIndex int
	SourceHash string
	Translated string
	UpdatedAt  time.Time
}

// RulebookFilter narrows ListRulebooks. Zero values match everything.
type RulebookFilter struct {
	GameID       int64
	Status       RulebookStatus
	WithoutCache bool
	Limit        int
}

// StuckRow is a rulebook or queue row left in processing.
type StuckRow struct {
	Table  string    `json:"table"`
	ID     int64     `json:"id"`
	GameID int64     `json:"game_id"`
	Since  time.Time `json:"since"`
}

type ResetOptions struct {
	// GameID limits the reset to one game when non zero.
	GameID int64
	// StuckBefore only resets rows last touched before this instant.
	StuckBefore time.Time
	// IncludeFailed also returns failed rows to pending.
	IncludeFailed bool
	// Force resets every row of GameID regardless of status.
	Force bool
}

type ResetResult struct {
	Rulebooks    int64 `json:"rulebooks"`
	QueueRows    int64 `json:"queue_rows"`
	Translations int64 `json:"translations"`
}
