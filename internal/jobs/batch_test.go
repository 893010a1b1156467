package jobs

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dataset = `{"bgg_id":224517,"name":"Brass: Birmingham","description":"An economic strategy game","rulebook_urls":[{"url":"https://example.com/a.pdf","title":"Rules"},{"url":"https://example.com/b.pdf"},{"url":"https://example.com/c.pdf"}],"year":2018}

not json
{"name":"missing id"}
{"bgg_id":13,"name":"Catan","description":"Trade and build","rulebook_urls":[]}
`

func writeDataset(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "bgg_with_rulebooks.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(dataset), 0o644))
	return path
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var ret []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		ret = append(ret, m)
	}
	return ret
}

func TestBatchSource_ReadsSkipsAndResumes(t *testing.T) {
	dir := t.TempDir()
	input := writeDataset(t, dir)
	output := filepath.Join(dir, "out", "bgg_translated.jsonl")
	statePath := filepath.Join(dir, "state", "translation_state.json")
	opts := BatchOptions{TranslateInfo: true, TranslateRulebooks: true, MaxRulebooks: 2}
	ctx := context.Background()

	src, err := NewBatchSource(input, output, LoadResumeState(statePath), opts)
	require.NoError(t, err)

	d, err := src.Next(ctx)
	require.NoError(t, err)
	job := d.Job
	assert.Equal(t, int64(224517), job.BGGID)
	assert.Equal(t, "Brass: Birmingham", job.GameName)
	require.Len(t, job.Rulebooks, 2)
	assert.Equal(t, "Rules", job.Rulebooks[1].Title)

	require.NoError(t, d.Ack(ctx, Result{
		GameID:        1,
		BGGID:         224517,
		Success:       true,
		NameVI:        "Brass: Birmingham",
		DescriptionVI: "Một trò chơi chiến lược kinh tế",
		Rulebooks: []RulebookResult{
			{RulebookID: 1, URL: "https://example.com/a.pdf", Success: true, MarkdownPath: "/out/a.md"},
			{RulebookID: 2, URL: "https://example.com/b.pdf", Err: assert.AnError},
		},
		Recorded: true,
	}))
	require.NoError(t, src.Close())

	lines := readLines(t, output)
	require.Len(t, lines, 1)
	assert.Equal(t, "Một trò chơi chiến lược kinh tế", lines[0]["description_vi"])
	assert.Equal(t, float64(2018), lines[0]["year"])
	assert.Len(t, lines[0]["rulebook_translations"], 1)

	state := LoadResumeState(statePath)
	assert.True(t, state.GameDone(224517))
	assert.True(t, state.RulebookDone(RulebookKey(224517, "https://example.com/a.pdf")))
	assert.False(t, state.RulebookDone(RulebookKey(224517, "https://example.com/b.pdf")))

	// A restarted run skips the finished game and the bad lines.
	src, err = NewBatchSource(input, output, state, opts)
	require.NoError(t, err)
	defer src.Close()
	d, err = src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(13), d.Job.BGGID)
	assert.Empty(t, d.Job.Rulebooks)
	require.NoError(t, d.Reject(ctx, assert.AnError))

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.False(t, state.GameDone(13))
}

func TestBatchSource_FailedJobIsRetried(t *testing.T) {
	dir := t.TempDir()
	input := writeDataset(t, dir)
	output := filepath.Join(dir, "bgg_translated.jsonl")
	statePath := filepath.Join(dir, "translation_state.json")
	ctx := context.Background()

	src, err := NewBatchSource(input, output, LoadResumeState(statePath), BatchOptions{TranslateRulebooks: true})
	require.NoError(t, err)
	d, err := src.Next(ctx)
	require.NoError(t, err)
	assert.False(t, d.Job.TranslateInfo)
	assert.Len(t, d.Job.Rulebooks, 3)

	require.NoError(t, d.Ack(ctx, Result{
		BGGID: 224517,
		Err:   assert.AnError,
		Rulebooks: []RulebookResult{
			{URL: "https://example.com/c.pdf", Success: true},
		},
		Recorded: true,
	}))
	require.NoError(t, src.Close())

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(string(data)))

	src, err = NewBatchSource(input, output, LoadResumeState(statePath), BatchOptions{TranslateRulebooks: true})
	require.NoError(t, err)
	defer src.Close()
	d, err = src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(224517), d.Job.BGGID)
	require.Len(t, d.Job.Rulebooks, 2)
	assert.Equal(t, "https://example.com/a.pdf", d.Job.Rulebooks[0].URL)
}

func TestResumeState_FileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := LoadResumeState(path)
	s.MarkGame(2)
	s.MarkGame(1)
	s.MarkRulebooks(2)
	s.MarkRulebook(RulebookKey(1, "u"))
	require.NoError(t, s.Save())

	var raw map[string]any
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, []any{float64(1), float64(2)}, raw["processed_games"])
	assert.Equal(t, []any{float64(2)}, raw["processed_rulebook_games"])
	assert.Equal(t, []any{"1_u"}, raw["processed_rulebooks"])
	reloaded := LoadResumeState(path)
	assert.True(t, reloaded.RulebooksDone(2))
	assert.False(t, reloaded.RulebooksDone(1))
	assert.NotEmpty(t, raw["last_updated"])

	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))
	assert.False(t, LoadResumeState(path).GameDone(1))
}
