package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/rulebook-translator/internal/config"
	"github.com/MimeLyc/rulebook-translator/internal/jobs"
	"github.com/MimeLyc/rulebook-translator/internal/service"
	"github.com/MimeLyc/rulebook-translator/pkg/icron"
	"github.com/MimeLyc/rulebook-translator/pkg/log"
)

type batchFlags struct {
	input         string
	output        string
	state         string
	gamesOnly     bool
	rulebooksOnly bool
	maxGames      int
	maxRulebooks  int
	schedule      string
}

func newBatchCommand(getConfig func() *config.Config) *cobra.Command {
	flags := &batchFlags{}
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Translate a JSONL dataset of games, resuming where the last run stopped",
		Long: `Translate a JSONL dataset of games, resuming where the last run stopped.

The resume state tracks the info phase and the rulebook phase of each game
separately, so a --games-only pass followed by a --rulebooks-only pass
translates everything once.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getConfig()
			flags.applyDefaults(cfg)
			if flags.gamesOnly && flags.rulebooksOnly {
				return fmt.Errorf("--games-only and --rulebooks-only are mutually exclusive")
			}
			return runBatch(cmd.Context(), cfg, flags)
		},
	}
	cmd.Flags().StringVar(&flags.input, "input", "", "input JSONL (default BATCH_INPUT_FILE)")
	cmd.Flags().StringVar(&flags.output, "output", "", "output JSONL (default BATCH_OUTPUT_FILE)")
	cmd.Flags().StringVar(&flags.state, "state", "", "resume state file (default BATCH_STATE_FILE)")
	cmd.Flags().BoolVar(&flags.gamesOnly, "games-only", false, "translate names and descriptions only")
	cmd.Flags().BoolVar(&flags.rulebooksOnly, "rulebooks-only", false, "translate rulebooks only")
	cmd.Flags().IntVar(&flags.maxGames, "max-games", 0, "stop after this many games (0 for all)")
	cmd.Flags().IntVar(&flags.maxRulebooks, "max-rulebooks", 0, "rulebooks per game (default TRANSLATION_MAX_RULEBOOKS)")
	cmd.Flags().StringVar(&flags.schedule, "schedule", "", "run on this cron expression instead of once (default BATCH_SCHEDULE)")
	return cmd
}

func (f *batchFlags) applyDefaults(cfg *config.Config) {
	if f.input == "" {
		f.input = cfg.Batch.InputFile
	}
	if f.output == "" {
		f.output = cfg.Batch.OutputFile
	}
	if f.state == "" {
		f.state = cfg.Batch.StateFile
	}
	if f.maxRulebooks <= 0 {
		f.maxRulebooks = cfg.Translate.MaxRulebooks
	}
	if f.schedule == "" {
		f.schedule = cfg.Batch.Schedule
	}
}

func (f *batchFlags) options() jobs.BatchOptions {
	return jobs.BatchOptions{
		TranslateInfo:      !f.rulebooksOnly,
		TranslateRulebooks: !f.gamesOnly,
		MaxRulebooks:       f.maxRulebooks,
	}
}

func runBatch(ctx context.Context, cfg *config.Config, flags *batchFlags) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	runOnce := func(ctx context.Context) error {
		return batchPass(ctx, a.service, flags)
	}
	if flags.schedule == "" {
		return runOnce(ctx)
	}

	c := icron.New()
	if _, err := service.Schedule(ctx, c, flags.schedule, "batch", runOnce); err != nil {
		return err
	}
	c.Start()
	log.Info("Batch scheduled at %q, waiting for triggers", flags.schedule)
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// batchPass runs one pass over the dataset. Games the resume state already
// lists are skipped by the source.
func batchPass(ctx context.Context, proc jobs.Processor, flags *batchFlags) error {
	state := jobs.LoadResumeState(flags.state)
	source, err := jobs.NewBatchSource(flags.input, flags.output, state, flags.options())
	if err != nil {
		return err
	}
	counted := &countingProcessor{next: proc}
	runner := jobs.NewRunner(source, counted, jobs.WithMaxJobs(flags.maxGames))
	if err := runner.Run(ctx); err != nil {
		return err
	}
	log.Info("Batch pass finished: %d games translated, %d failed", counted.ok, counted.failed)
	return nil
}

// countingProcessor tallies results for the end of pass summary. The runner
// calls it from a single goroutine.
type countingProcessor struct {
	next   jobs.Processor
	ok     int
	failed int
}

func (p *countingProcessor) Process(ctx context.Context, job jobs.TranslationJob) jobs.Result {
	res := p.next.Process(ctx, job)
	if res.Success {
		p.ok++
	} else {
		p.failed++
	}
	return res
}
