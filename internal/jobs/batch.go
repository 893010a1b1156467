package jobs

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/MimeLyc/rulebook-translator/pkg/file"
	"github.com/MimeLyc/rulebook-translator/pkg/log"
)

// ResumeState is the on-disk record of finished batch work. Games are keyed
// by BGG id, once for the info phase and once for the rulebook phase, so a
// --games-only pass leaves the rulebooks of its games to a later pass.
// Rulebooks are keyed by "<bgg id>_<url>".
type ResumeState struct {
	path          string
	games         map[int64]struct{}
	rulebookGames map[int64]struct{}
	rulebooks     map[string]struct{}
}

type resumeFile struct {
	ProcessedGames         []int64  `json:"processed_games"`
	ProcessedRulebookGames []int64  `json:"processed_rulebook_games"`
	ProcessedRulebooks     []string `json:"processed_rulebooks"`
	LastUpdated            string   `json:"last_updated"`
}

// LoadResumeState reads path. A missing file is an empty state; an unreadable
// one is logged and also treated as empty.
func LoadResumeState(path string) *ResumeState {
	s := &ResumeState{
		path:          path,
		games:         make(map[int64]struct{}),
		rulebookGames: make(map[int64]struct{}),
		rulebooks:     make(map[string]struct{}),
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn("Could not read resume state %s: %v", path, err)
		}
		return s
	}
	var f resumeFile
	if err := json.Unmarshal(data, &f); err != nil {
		log.Warn("Could not parse resume state %s: %v", path, err)
		return s
	}
	for _, id := range f.ProcessedGames {
		s.games[id] = struct{}{}
	}
	for _, id := range f.ProcessedRulebookGames {
		s.rulebookGames[id] = struct{}{}
	}
	for _, key := range f.ProcessedRulebooks {
		s.rulebooks[key] = struct{}{}
	}
	log.Info("Loaded resume state: %d games, %d rulebooks", len(s.games), len(s.rulebooks))
	return s
}

func RulebookKey(bggID int64, url string) string {
	return strconv.FormatInt(bggID, 10) + "_" + url
}

// GameDone reports whether the game's name and description were translated.
func (s *ResumeState) GameDone(bggID int64) bool {
	_, ok := s.games[bggID]
	return ok
}

// RulebooksDone reports whether a rulebook pass finished for the game.
func (s *ResumeState) RulebooksDone(bggID int64) bool {
	_, ok := s.rulebookGames[bggID]
	return ok
}

func (s *ResumeState) RulebookDone(key string) bool {
	_, ok := s.rulebooks[key]
	return ok
}

func (s *ResumeState) MarkGame(bggID int64) {
	s.games[bggID] = struct{}{}
}

func (s *ResumeState) MarkRulebooks(bggID int64) {
	s.rulebookGames[bggID] = struct{}{}
}

func (s *ResumeState) MarkRulebook(key string) {
	s.rulebooks[key] = struct{}{}
}

// Save rewrites the state file atomically.
func (s *ResumeState) Save() error {
	f := resumeFile{
		ProcessedGames:         make([]int64, 0, len(s.games)),
		ProcessedRulebookGames: make([]int64, 0, len(s.rulebookGames)),
		ProcessedRulebooks:     make([]string, 0, len(s.rulebooks)),
		LastUpdated:            time.Now().UTC().Format(time.RFC3339),
	}
	for id := range s.games {
		f.ProcessedGames = append(f.ProcessedGames, id)
	}
	for id := range s.rulebookGames {
		f.ProcessedRulebookGames = append(f.ProcessedRulebookGames, id)
	}
	for key := range s.rulebooks {
		f.ProcessedRulebooks = append(f.ProcessedRulebooks, key)
	}
	slices.Sort(f.ProcessedGames)
	slices.Sort(f.ProcessedRulebookGames)
	slices.Sort(f.ProcessedRulebooks)

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return file.WriteAtomic(s.path, data, 0o644)
}

// BatchRecord is one line of the input dataset.
type BatchRecord struct {
	GameID       int64         `json:"game_id,omitempty"`
	BGGID        int64         `json:"bgg_id"`
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	RulebookURLs []RulebookRef `json:"rulebook_urls"`
}

type BatchOptions struct {
	TranslateInfo      bool
	TranslateRulebooks bool
	// MaxRulebooks caps the rulebooks taken from each record; 0 takes all.
	MaxRulebooks int
}

// BatchSource reads jobs from a JSONL dataset, skipping games whose requested
// phases the resume state already lists. Acknowledged jobs are appended to the output file
// and recorded in the resume state before the next job is read.
type BatchSource struct {
	opts    BatchOptions
	state   *ResumeState
	in      *os.File
	scanner *bufio.Scanner
	out     *os.File
	line    int
	current map[string]any
}

func NewBatchSource(inputPath, outputPath string, state *ResumeState, opts BatchOptions) (*BatchSource, error) {
	in, err := os.Open(inputPath)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		in.Close()
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		in.Close()
		return nil, fmt.Errorf("open output: %w", err)
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &BatchSource{
		opts:    opts,
		state:   state,
		in:      in,
		scanner: scanner,
		out:     out,
	}, nil
}

func (s *BatchSource) Next(ctx context.Context) (*Delivery, error) {
	for s.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.line++
		raw := s.scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}

		var rec BatchRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			log.Warn("Skipping line %d: %v", s.line, err)
			continue
		}
		if rec.BGGID <= 0 {
			log.Warn("Skipping line %d: no bgg_id", s.line)
			continue
		}
		job := s.toJob(rec)
		if !job.TranslateInfo && (!job.TranslateRulebooks || len(job.Rulebooks) == 0) {
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			fields = make(map[string]any)
		}

		return NewDelivery(job,
			func(ctx context.Context, res Result) error {
				return s.ack(rec, job, fields, res)
			},
			func(ctx context.Context, reason error) error {
				log.Error("Batch record %d (bgg %d) rejected: %v", s.line, rec.BGGID, reason)
				return nil
			},
		), nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return nil, ErrExhausted
}

func (s *BatchSource) toJob(rec BatchRecord) TranslationJob {
	job := TranslationJob{
		GameID:             rec.GameID,
		BGGID:              rec.BGGID,
		GameName:           rec.Name,
		Description:        rec.Description,
		TranslateInfo:      s.opts.TranslateInfo && !s.state.GameDone(rec.BGGID),
		TranslateRulebooks: s.opts.TranslateRulebooks && !s.state.RulebooksDone(rec.BGGID),
	}
	if !job.TranslateRulebooks {
		return job
	}

	refs := rec.RulebookURLs
	if s.opts.MaxRulebooks > 0 && len(refs) > s.opts.MaxRulebooks {
		refs = refs[:s.opts.MaxRulebooks]
	}
	for _, ref := range refs {
		if ref.URL == "" || s.state.RulebookDone(RulebookKey(rec.BGGID, ref.URL)) {
			continue
		}
		if ref.Title == "" {
			ref.Title = "Rules"
		}
		job.Rulebooks = append(job.Rulebooks, ref)
	}
	return job
}

type rulebookTranslation struct {
	RulebookID   int64  `json:"rulebook_id"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	MarkdownPath string `json:"output_file"`
}

// ack records successful rulebooks in the resume state. A successful job
// marks the phases it ran as done and, when it produced a translation, is
// appended to the output file. A failed one is left for the next run.
func (s *BatchSource) ack(rec BatchRecord, job TranslationJob, fields map[string]any, res Result) error {
	var translations []rulebookTranslation
	for _, rb := range res.Rulebooks {
		if !rb.Success {
			continue
		}
		translations = append(translations, rulebookTranslation{
			RulebookID:   rb.RulebookID,
			Title:        rb.Title,
			URL:          rb.URL,
			MarkdownPath: rb.MarkdownPath,
		})
		s.state.MarkRulebook(RulebookKey(rec.BGGID, rb.URL))
	}

	if res.Success && (job.TranslateInfo || len(translations) > 0) {
		if res.NameVI != "" {
			fields["name_vi"] = res.NameVI
		}
		if res.DescriptionVI != "" {
			fields["description_vi"] = res.DescriptionVI
		}
		if res.GameID > 0 {
			fields["game_id"] = res.GameID
		}
		if len(translations) > 0 {
			fields["rulebook_translations"] = translations
		}
		fields["translated_at"] = time.Now().UTC().Format(time.RFC3339)

		line, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("encode output record: %w", err)
		}
		if _, err := s.out.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("write output record: %w", err)
		}
	}
	if res.Success {
		if job.TranslateInfo {
			s.state.MarkGame(rec.BGGID)
		}
		if job.TranslateRulebooks {
			s.state.MarkRulebooks(rec.BGGID)
		}
	}

	if err := s.state.Save(); err != nil {
		return fmt.Errorf("save resume state: %w", err)
	}
	return nil
}

func (s *BatchSource) Close() error {
	return errors.Join(s.in.Close(), s.out.Close())
}
