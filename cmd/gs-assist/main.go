// Command gs-assist runs the entity resolution server: an Ollama-backed
// embedding client, a persistent entity vector index, the resolution
// pipeline and the HTTP API on top.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Growth-System-ERP/gs-assist/internal/config"
	"github.com/Growth-System-ERP/gs-assist/internal/embedding"
	"github.com/Growth-System-ERP/gs-assist/internal/index"
	"github.com/Growth-System-ERP/gs-assist/internal/index/postgres"
	"github.com/Growth-System-ERP/gs-assist/internal/index/sqlitestore"
	"github.com/Growth-System-ERP/gs-assist/internal/resolver"
	"github.com/Growth-System-ERP/gs-assist/internal/schema"
	"github.com/Growth-System-ERP/gs-assist/internal/server"
	"github.com/Growth-System-ERP/gs-assist/internal/vocab"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gs-assist: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	embedder := embedding.NewOllamaClient(embedding.OllamaConfig{
		BaseURL:           cfg.Embedding.OllamaURL,
		Model:             cfg.Embedding.Model,
		Dimensions:        cfg.Embedding.Dimensions,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
	})

	var idx index.VectorIndex
	switch cfg.Index.Engine {
	case "postgres":
		idx, err = postgres.Open(cfg.Index.PostgresDSN, embedder, logger)
	default:
		if dir := filepath.Dir(cfg.Index.DataPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		idx, err = sqlitestore.Open(cfg.Index.DataPath, embedder, logger)
	}
	if err != nil {
		return fmt.Errorf("failed to open entity index: %w", err)
	}
	defer idx.Close()

	expander := vocab.NewExpander(logger)
	if cfg.Vocab.FilePath != "" {
		if err := expander.Watch(cfg.Vocab.FilePath); err != nil {
			return fmt.Errorf("failed to load vocabulary: %w", err)
		}
		defer expander.Close()
	}

	graph := schema.NewLinkGraph()
	snapshots, err := idx.Snapshots(context.Background())
	if err != nil {
		return fmt.Errorf("failed to load persisted entities: %w", err)
	}
	for _, snapshot := range snapshots {
		graph.Observe(snapshot)
	}
	logger.Info("schema graph seeded", zap.Int("entities", len(snapshots)))

	res := resolver.New(idx, expander, graph, logger)
	srv := server.NewServer(res, idx, graph, embedder, &cfg.Server, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(ctx)
}
