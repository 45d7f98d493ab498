package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trieve/retrieval-core/internal/analytics"
	"github.com/trieve/retrieval-core/internal/auth"
	"github.com/trieve/retrieval-core/internal/config"
	"github.com/trieve/retrieval-core/internal/embedder"
	"github.com/trieve/retrieval-core/internal/filter"
	"github.com/trieve/retrieval-core/internal/llm"
	"github.com/trieve/retrieval-core/internal/memory"
	"github.com/trieve/retrieval-core/internal/query"
	"github.com/trieve/retrieval-core/internal/rag"
	"github.com/trieve/retrieval-core/internal/reranker"
	"github.com/trieve/retrieval-core/internal/repository"
	"github.com/trieve/retrieval-core/internal/repository/postgres"
	"github.com/trieve/retrieval-core/internal/retrieval"
	"github.com/trieve/retrieval-core/internal/server"
	"github.com/trieve/retrieval-core/internal/vectorstore"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting retrieval service",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
	)

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	slog.Info("connected to PostgreSQL")

	datasetRepo := postgres.NewDatasetRepo(db)
	chunkRepo := postgres.NewChunkRepo(db)
	groupRepo := postgres.NewGroupRepo(db)
	messageRepo := postgres.NewMessageRepo(db)

	vectorStore, err := vectorstore.NewQdrantStore(cfg.QdrantGRPCURL)
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer vectorStore.Close()
	slog.Info("connected to Qdrant")

	denseEmbedder := embedder.NewOllamaEmbedder(embedder.OllamaConfig{
		BaseURL: cfg.OllamaURL,
	})
	slog.Info("initialized dense embedder", "base_url", cfg.OllamaURL)

	sparseEmbedder := embedder.NewBM25SparseEmbedder(1.2, 0.75, 256)

	llmClient := llm.NewOllamaClient(
		llm.WithBaseURL(cfg.OllamaURL),
	)
	slog.Info("initialized LLM client", "base_url", cfg.OllamaURL)

	crossEncoder := reranker.NewCrossEncoderReranker(cfg.RerankerURL, reranker.WithBatchSize(cfg.RerankBatchSize))
	slog.Info("initialized reranker", "base_url", cfg.RerankerURL)

	idResolver := repository.IDResolver{Chunks: chunkRepo, Groups: groupRepo}
	filterCompiler := filter.New(idResolver)
	vectorBuilder := query.NewBuilder(denseEmbedder, sparseEmbedder)
	planner := query.NewPlanner(vectorBuilder, filterCompiler, cfg.PrefetchLimit)
	executor := retrieval.NewExecutor(vectorStore, crossEncoder)
	hydrator := retrieval.NewHydrator(chunkRepo, groupRepo)
	pipeline := retrieval.NewPipeline(planner, executor, hydrator)

	memoryStore := memory.DefaultStore()

	analyticsEmitter := analytics.NewEmitter(analytics.NoopSink{}, cfg.AnalyticsQueueSize, false)

	orchestrator := &rag.Orchestrator{
		Retrieval:     pipeline,
		LLM:           llmClient,
		Messages:      messageRepo,
		Memory:        memoryStore,
		Analytics:     analyticsEmitter,
		StreamTimeout: cfg.RAGStreamTimeout,
	}

	jwtManager := auth.NewJWTManager(auth.DefaultJWTConfig(cfg.JWTSecret))

	httpServer, err := server.NewHTTPServer(server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		Logger:         slog.Default(),
		AllowedOrigins: []string{"*"}, // configure per deployment
		Datasets:       datasetRepo,
		Pipeline:       pipeline,
		RAG:            orchestrator,
		Analytics:      analyticsEmitter,
		JWTManager:     jwtManager,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	slog.Info("shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}
