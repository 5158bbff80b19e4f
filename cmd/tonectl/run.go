package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/tone-stabilizer/internal/affinity"
	"github.com/danielpatrickdp/tone-stabilizer/internal/bridge"
	"github.com/danielpatrickdp/tone-stabilizer/internal/codec"
	"github.com/danielpatrickdp/tone-stabilizer/internal/config"
	"github.com/danielpatrickdp/tone-stabilizer/internal/logging"
	"github.com/danielpatrickdp/tone-stabilizer/internal/pipeline"
	"github.com/danielpatrickdp/tone-stabilizer/internal/state"
	"github.com/danielpatrickdp/tone-stabilizer/internal/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process line-delimited JSON turns from stdin, one response per line on stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runBridge(ctx, cfg)
	},
}

// #region run
func runBridge(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
	}
	if rec, err := telemetry.DefaultRecorder(); err != nil {
		logger.Warn().Err(err).Msg("metrics disabled")
	} else {
		opts = append(opts, pipeline.WithRecorder(rec))
	}

	if cfg.Pipeline.AnchorWeight > 0 {
		var embedder affinity.Embedder = affinity.HashEmbedder{}
		if cfg.EmbedAddr != "" {
			client, err := codec.NewEmbedClient(cfg.EmbedAddr)
			if err != nil {
				return err
			}
			defer client.Close()
			embedder = client
		}
		scorer, err := affinity.NewScorer(ctx, embedder, cfg.Pipeline.AnchorText)
		if err != nil {
			return fmt.Errorf("init affinity scorer: %w", err)
		}
		opts = append(opts, pipeline.WithScorer(scorer))
	}

	p, err := pipeline.New(cfg.Pipeline, opts...)
	if err != nil {
		return err
	}

	runnerOpts := []pipeline.RunnerOption{
		pipeline.WithWorkers(cfg.Bridge.Workers),
		pipeline.WithRunnerLogger(logger),
	}
	journal, closeJournal, err := openJournal(cfg, store)
	if err != nil {
		return err
	}
	defer closeJournal()
	if journal != nil {
		runnerOpts = append(runnerOpts, pipeline.WithJournal(journal))
	}

	logger.Info().
		Str("store", string(cfg.Store.Type)).
		Int("batch_size", cfg.Bridge.BatchSize).
		Int("workers", cfg.Bridge.Workers).
		Bool("anchor", cfg.Pipeline.AnchorWeight > 0).
		Bool("journal", journal != nil).
		Msg("tone bridge starting")

	srv := bridge.NewServer(pipeline.NewRunner(p, store, runnerOpts...), cfg.Bridge.BatchSize, logger)
	return srv.Serve(ctx, os.Stdin, os.Stdout)
}

func openStore(sc config.StoreConfig) (state.Store, error) {
	var opts []state.StoreOption
	switch sc.Type {
	case state.StoreTypeSQLite:
		opts = append(opts, state.WithSQLitePath(sc.SQLitePath))
	case state.StoreTypeRedis:
		opts = append(opts,
			state.WithRedisClient(redis.NewClient(&redis.Options{Addr: sc.RedisAddr})),
			state.WithRedisTTL(sc.RedisTTL))
	}
	store, err := state.NewStore(sc.Type, opts...)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", sc.Type, err)
	}
	return store, nil
}

// openJournal uses journal.path when set, otherwise the sqlite store's own
// database. Other stores run without a journal.
func openJournal(cfg *config.Config, store state.Store) (pipeline.Journal, func(), error) {
	noop := func() {}
	if cfg.JournalPath != "" {
		db, err := sql.Open("sqlite", cfg.JournalPath)
		if err != nil {
			return nil, noop, fmt.Errorf("open journal: %w", err)
		}
		j, err := logging.NewSQLJournal(db)
		if err != nil {
			db.Close()
			return nil, noop, err
		}
		return j, func() { db.Close() }, nil
	}
	if s, ok := store.(*state.SQLiteStore); ok {
		j, err := logging.NewSQLJournal(s.DB())
		if err != nil {
			return nil, noop, err
		}
		return j, noop, nil
	}
	return nil, noop, nil
}

// #endregion run
