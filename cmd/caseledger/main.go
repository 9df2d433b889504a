/*
main.go - Batch entry point

PURPOSE:
  Runs one reconciliation pass: feeds in, ledger and timeseries documents out.

STARTUP SEQUENCE:
  1. Load .env.local, parse environment and flags
  2. Configure the slog logger
  3. Run the batch (registry, feeds, engine, export, persistence, metrics)
  4. Log the summary and exit non-zero on a fatal error

COMMAND-LINE FLAGS:
  -input      feed directory
  -output     document directory
  -db         SQLite database path, empty disables
  -metrics    prometheus textfile path, empty disables
  -ceiling    latest accepted date, YYYY-MM-DD
  -log-level  debug, info, warn or error

EXAMPLES:
  # Process the feeds in ./tmp into ./tmp/v4
  ./caseledger -input=./tmp -output=./tmp/v4

  # Keep a history of runs
  ./caseledger -db=./data/caseledger.db

ENVIRONMENT:
  See config/config.go. Flags override environment values.

SEE ALSO:
  - batch/run.go: the stages of one run
  - config/config.go: configuration sources
*/
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/warp/caseledger/batch"
	"github.com/warp/caseledger/config"
)

func main() {
	if err := config.LoadDotEnv(config.DotEnvFile); err != nil {
		config.Exitf("caseledger: %v", err)
	}
	cfg, err := config.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("caseledger: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("caseledger start",
		"input", cfg.InputDir, "output", cfg.OutputDir,
		"floor", cfg.Floor.String(), "gospel", cfg.Gospel.String(), "ceiling", cfg.Ceiling.String())

	sum, err := batch.NewRunner(cfg, batch.WithLogger(logger)).Run(ctx)
	if err != nil {
		logger.Error("run failed", "error", err)
		stop()
		os.Exit(1)
	}

	logger.Info("caseledger done",
		"dates", sum.Dates,
		"accepted", sum.Accepted,
		"rejected", sum.Rejected,
		"residuals", sum.Residuals,
		"discrepancies", sum.Discrepancies,
		"files", len(sum.Written),
		"missing_feeds", len(sum.MissingFeeds),
		"run_id", sum.RunID)
}
