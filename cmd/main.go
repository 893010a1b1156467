package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/MimeLyc/rulebook-translator/internal/config"
	"github.com/MimeLyc/rulebook-translator/pkg/log"
)

type rootFlags struct {
	envFile  string
	logLevel string
	logFile  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	var cfg *config.Config
	var closeLog func() error

	root := &cobra.Command{
		Use:   "bgtranslate",
		Short: "Translate board game metadata and rulebooks into Vietnamese",
		Long: `bgtranslate consumes translation requests from RabbitMQ, or a JSONL
dataset in batch mode, and writes Vietnamese names, descriptions and
bilingual rulebook markdown to the board game database.

Configuration comes from the environment, optionally loaded from a .env file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(flags.envFile); err != nil && cmd.Flags().Changed("env-file") {
				return err
			}
			loaded, err := config.NewFromEnv()
			if err != nil {
				return err
			}
			cfg = loaded
			if flags.logLevel != "" {
				cfg.Log.Level = flags.logLevel
			}
			if flags.logFile != "" {
				cfg.Log.File = flags.logFile
			}
			closeLog, err = initLogging(cfg.Log)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if closeLog != nil {
				return closeLog()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn or error (overrides LOG_LEVEL)")
	root.PersistentFlags().StringVar(&flags.logFile, "log-file", "", "also append logs to this file (overrides LOG_FILE)")

	getConfig := func() *config.Config { return cfg }
	root.AddCommand(
		newWorkerCommand(getConfig),
		newBatchCommand(getConfig),
		newPrefetchCommand(getConfig),
		newResetCommand(getConfig),
		newStatusCommand(getConfig),
		newEnqueueCommand(getConfig),
	)
	return root
}

func initLogging(cfg config.LogConfig) (func() error, error) {
	level := log.ParseLevel(cfg.Level)
	if cfg.File == "" {
		log.InitLogger(level)
		return func() error { return nil }, nil
	}
	fl, err := log.InitFileLogger(cfg.File, level)
	if err != nil {
		return nil, err
	}
	return fl.Close, nil
}
