package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/rulebook-translator/internal/config"
	"github.com/MimeLyc/rulebook-translator/internal/jobs"
	"github.com/MimeLyc/rulebook-translator/internal/persistence"
	"github.com/MimeLyc/rulebook-translator/internal/rulebook"
	"github.com/MimeLyc/rulebook-translator/pkg/log"
)

func newPrefetchCommand(getConfig func() *config.Config) *cobra.Command {
	var limit int
	var gameID int64
	cmd := &cobra.Command{
		Use:   "prefetch",
		Short: "Download rulebooks that have no cached file yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, getConfig())
			if err != nil {
				return err
			}
			defer a.Close()
			return prefetch(ctx, a, persistence.RulebookFilter{GameID: gameID, WithoutCache: true, Limit: limit})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "download at most this many rulebooks (0 for all)")
	cmd.Flags().Int64Var(&gameID, "game-id", 0, "only this game")
	return cmd
}

func prefetch(ctx context.Context, a *app, filter persistence.RulebookFilter) error {
	rbs, err := a.store.ListRulebooks(ctx, filter)
	if err != nil {
		return err
	}
	log.Info("Prefetching %d rulebooks", len(rbs))

	games := make(map[int64]rulebook.Game)
	var failed int
	for i, rb := range rbs {
		if err := ctx.Err(); err != nil {
			return err
		}
		g, ok := games[rb.GameID]
		if !ok {
			stored, found, err := a.store.GetGame(ctx, rb.GameID)
			if err != nil {
				return err
			}
			if !found {
				log.Warn("Rulebook %d belongs to unknown game %d, skipping", rb.ID, rb.GameID)
				continue
			}
			g = rulebook.Game{ID: stored.ID, BGGID: stored.ExternalRefID, Name: stored.Name}
			games[rb.GameID] = g
		}

		path, err := a.pipeline.Prefetch(ctx, g, rb)
		if err != nil {
			failed++
			log.Error("[%d/%d] Rulebook %d (%s): %v", i+1, len(rbs), rb.ID, rb.OriginalURL, err)
			continue
		}
		log.Info("[%d/%d] Rulebook %d cached at %s", i+1, len(rbs), rb.ID, path)
		if i < len(rbs)-1 && a.cfg.Batch.DownloadDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(a.cfg.Batch.DownloadDelay):
			}
		}
	}
	log.Info("Prefetch done: %d cached, %d failed", len(rbs)-failed, failed)
	return nil
}

type resetFlags struct {
	gameID        int64
	olderThan     time.Duration
	allStuck      bool
	includeFailed bool
	force         bool
}

func (f resetFlags) options(cfg *config.Config, now time.Time) (persistence.ResetOptions, error) {
	opts := persistence.ResetOptions{
		GameID:        f.gameID,
		IncludeFailed: f.includeFailed,
		Force:         f.force,
	}
	switch {
	case f.olderThan > 0:
		opts.StuckBefore = now.Add(-f.olderThan)
	case f.allStuck:
		opts.StuckBefore = now.Add(-cfg.Admin.StuckAfter)
	}
	if opts.GameID <= 0 && opts.StuckBefore.IsZero() {
		return opts, fmt.Errorf("one of --game-id, --older-than or --all-stuck is required")
	}
	if opts.Force && opts.GameID <= 0 {
		return opts, fmt.Errorf("--force requires --game-id")
	}
	return opts, nil
}

func newResetCommand(getConfig func() *config.Config) *cobra.Command {
	flags := resetFlags{}
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Return stuck or failed rows to pending so they are processed again",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getConfig()
			opts, err := flags.options(cfg, time.Now())
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := store.ResetStuck(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().Int64Var(&flags.gameID, "game-id", 0, "only rows of this game")
	cmd.Flags().DurationVar(&flags.olderThan, "older-than", 0, "only rows stuck for longer than this, e.g. 2h")
	cmd.Flags().BoolVar(&flags.allStuck, "all-stuck", false, "every row stuck longer than ADMIN_STUCK_AFTER")
	cmd.Flags().BoolVar(&flags.includeFailed, "include-failed", false, "also reset failed rows")
	cmd.Flags().BoolVar(&flags.force, "force", false, "reset every row of --game-id whatever its status")
	return cmd
}

type statusReport struct {
	Rulebooks map[persistence.RulebookStatus]int `json:"rulebooks"`
	Stuck     []persistence.StuckRow             `json:"stuck"`
}

func newStatusCommand(getConfig func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print rulebook counts by status and rows stuck in processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getConfig()
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			counts, err := store.CountRulebooksByStatus(cmd.Context())
			if err != nil {
				return err
			}
			stuck, err := store.ListStuck(cmd.Context(), time.Now().Add(-cfg.Admin.StuckAfter))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), statusReport{Rulebooks: counts, Stuck: stuck})
		},
	}
}

// requestPublisher is the part of jobs.Publisher enqueue needs.
type requestPublisher interface {
	PublishRequest(ctx context.Context, job jobs.TranslationJob) (string, error)
}

func newEnqueueCommand(getConfig func() *config.Config) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Publish translation requests read from a JSON or JSONL file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getConfig()
			var in io.Reader = cmd.InOrStdin()
			if path != "" && path != "-" {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			conn, err := jobs.DialAMQP(cmd.Context(), cfg.Queue)
			if err != nil {
				return err
			}
			defer conn.Close()
			ch, err := conn.Channel()
			if err != nil {
				return err
			}
			defer ch.Close()
			if err := jobs.DeclareTopology(ch, cfg.Queue); err != nil {
				return err
			}
			n, err := enqueue(cmd.Context(), jobs.NewPublisher(ch, cfg.Queue), in, cmd.OutOrStdout())
			log.Info("Published %d requests", n)
			return err
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "-", "requests, one JSON object per line or per document")
	return cmd
}

// enqueue publishes every request in r and prints one correlation id per
// line. Invalid requests stop the run before anything after them is sent.
func enqueue(ctx context.Context, pub requestPublisher, r io.Reader, w io.Writer) (int, error) {
	dec := json.NewDecoder(r)
	n := 0
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if err == io.EOF {
				return n, nil
			}
			return n, fmt.Errorf("request %d: %w", n+1, err)
		}
		job, err := jobs.DecodeJob(raw)
		if err != nil {
			return n, fmt.Errorf("request %d: %w", n+1, err)
		}
		id, err := pub.PublishRequest(ctx, job)
		if err != nil {
			return n, fmt.Errorf("publish request %d: %w", n+1, err)
		}
		fmt.Fprintf(w, "%s\t%s\n", id, job)
		n++
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
