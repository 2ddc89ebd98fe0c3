package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/v0xg/digitwin/internal/ai"
	"github.com/v0xg/digitwin/internal/config"
	"github.com/v0xg/digitwin/internal/search"
	"github.com/v0xg/digitwin/internal/server"
)

func newServeCmd() *cobra.Command {
	var noPlanner bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve similarity search and the planning function over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), noPlanner)
		},
	}
	cmd.Flags().BoolVar(&noPlanner, "no-planner", false, "Do not serve /api/agent/plan")
	return cmd
}

func runServe(ctx context.Context, noPlanner bool) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	embedder, err := ai.NewOpenAIEmbedder(config.OpenAIKey(), cfg.Search.EmbeddingModel)
	if err != nil {
		return err
	}
	svc := search.NewService(store, embedder, cfg.Search.DefaultTopK, logger)

	var planner ai.Planner
	if !noPlanner {
		if cfg.Planner.Provider == config.ProviderRemote {
			logger.Warn("remote planner cannot back the plan endpoint; serving search only")
		} else if planner, err = ai.NewPlanner(cfg.Planner, logger); err != nil {
			logger.Warn("plan endpoint disabled", zap.Error(err))
			planner = nil
		}
	}

	srv, err := server.New(cfg.Server, svc, planner, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("→ Serving on %s (store: %s, planner: %t)\n", cfg.Server.Addr, cfg.Search.Store, planner != nil)
	if err := srv.Serve(ctx); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	fmt.Println("✓ Server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (search.Store, func(), error) {
	switch cfg.Search.Store {
	case "postgres":
		pool, err := search.OpenPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return nil, nil, err
		}
		store, err := search.NewPostgresStore(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	default:
		if cfg.Search.SeedFile == "" {
			logger.Warn("memory store has no seed file; every search will find an empty corpus")
			return search.NewMemoryStore(), func() {}, nil
		}
		store, err := search.LoadMemoryStore(cfg.Search.SeedFile)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("seeded memory store", zap.Int("chunks", store.Len()))
		return store, func() {}, nil
	}
}
