// Package jobs feeds translation jobs to the orchestrator one at a time,
// from a message queue or from a batch dataset.
package jobs

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MimeLyc/rulebook-translator/internal/apperr"
)

// RulebookRef is one rulebook attached to a job.
type RulebookRef struct {
	RulebookID int64  `json:"rulebook_id,omitempty"`
	Title      string `json:"title"`
	URL        string `json:"url"`
}

// TranslationJob is the request body on the queue.
type TranslationJob struct {
	GameID             int64         `json:"game_id"`
	BGGID              int64         `json:"bgg_id"`
	GameName           string        `json:"game_name"`
	Description        string        `json:"description"`
	TranslateInfo      bool          `json:"translate_info"`
	TranslateRulebooks bool          `json:"translate_rulebooks"`
	Rulebooks          []RulebookRef `json:"rulebooks"`

	// CorrelationID travels in message properties, not in the body.
	CorrelationID string `json:"-"`
}

// MaxRulebooksPerMessage bounds the rulebook list of a single request.
const MaxRulebooksPerMessage = 50

// DecodeJob parses a request body. Missing flags default the same way the
// producing service expects: translate_info on, translate_rulebooks off.
func DecodeJob(body []byte) (TranslationJob, error) {
	job := TranslationJob{TranslateInfo: true}
	if err := json.Unmarshal(body, &job); err != nil {
		return TranslationJob{}, apperr.Wrap(err, apperr.KindValidation, "decode job")
	}
	if err := job.Validate(); err != nil {
		return TranslationJob{}, err
	}
	return job, nil
}

func (j TranslationJob) Validate() error {
	if j.GameID <= 0 && j.BGGID <= 0 {
		return apperr.New(apperr.KindValidation, "job needs game_id or bgg_id")
	}
	if len(j.Rulebooks) > MaxRulebooksPerMessage {
		return apperr.Newf(apperr.KindValidation, "job lists %d rulebooks, limit is %d", len(j.Rulebooks), MaxRulebooksPerMessage)
	}
	for i, rb := range j.Rulebooks {
		if strings.TrimSpace(rb.URL) == "" {
			return apperr.Newf(apperr.KindValidation, "rulebook %d has no url", i)
		}
	}
	return nil
}

func (j TranslationJob) String() string {
	return fmt.Sprintf("game %d (bgg %d, %q)", j.GameID, j.BGGID, j.GameName)
}

// RulebookResult is the outcome of one rulebook of a job.
type RulebookResult struct {
	RulebookID   int64
	Title        string
	URL          string
	Success      bool
	Skipped      bool
	CacheHit     bool
	MarkdownPath string
	Kind         apperr.Kind
	Err          error
}

// Result is what the orchestrator reports for one job.
type Result struct {
	GameID        int64
	BGGID         int64
	Success       bool
	NameVI        string
	DescriptionVI string
	// PreserveProperNouns records that NameVI is the untranslated name.
	PreserveProperNouns bool
	Rulebooks           []RulebookResult
	Kind                apperr.Kind
	Err                 error
	// Recorded is set once the outcome is durably written to the queue
	// status row. Unrecorded failures are rejected instead of acknowledged.
	Recorded bool
	Duration time.Duration
}

// CompletionEvent is published after every settled job. name_vi carries the
// original name when preserve_proper_nouns is true.
type CompletionEvent struct {
	GameID              int64           `json:"game_id"`
	BGGID               int64           `json:"bgg_id,omitempty"`
	Success             bool            `json:"success"`
	NameVI              *string         `json:"name_vi"`
	DescriptionVI       *string         `json:"description_vi"`
	PreserveProperNouns bool            `json:"preserve_proper_nouns"`
	Rulebooks           []RulebookEvent `json:"rulebooks"`
	ErrorKind           string          `json:"error_kind,omitempty"`
	ErrorMessage        *string         `json:"error_message"`
}

type RulebookEvent struct {
	RulebookID   int64   `json:"rulebook_id"`
	Success      bool    `json:"success"`
	MarkdownPath *string `json:"markdown_path"`
	ErrorKind    string  `json:"error_kind,omitempty"`
	ErrorMessage *string `json:"error_message"`
}

func NewCompletionEvent(res Result) CompletionEvent {
	ev := CompletionEvent{
		GameID:              res.GameID,
		BGGID:               res.BGGID,
		Success:             res.Success,
		NameVI:              optional(res.NameVI),
		DescriptionVI:       optional(res.DescriptionVI),
		PreserveProperNouns: res.PreserveProperNouns,
		Rulebooks:           make([]RulebookEvent, 0, len(res.Rulebooks)),
	}
	if res.Err != nil {
		ev.ErrorKind = res.Kind.String()
		ev.ErrorMessage = optional(res.Err.Error())
	}
	for _, rb := range res.Rulebooks {
		e := RulebookEvent{
			RulebookID:   rb.RulebookID,
			Success:      rb.Success,
			MarkdownPath: optional(rb.MarkdownPath),
		}
		if rb.Err != nil {
			e.ErrorKind = rb.Kind.String()
			e.ErrorMessage = optional(rb.Err.Error())
		}
		ev.Rulebooks = append(ev.Rulebooks, e)
	}
	return ev
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
