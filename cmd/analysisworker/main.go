package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"git-context-agent/internal/ai"
	"git-context-agent/internal/config"
	"git-context-agent/internal/logger"
	"git-context-agent/internal/messaging"
	"git-context-agent/internal/vector"
	"git-context-agent/services"
	"git-context-agent/workers"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	publisher, err := messaging.NewPublisher(cfg)
	if err != nil {
		log.Fatal("Failed to connect to broker:", err)
	}
	defer publisher.Close()

	repositoryService := services.NewRepositoryService(cfg.DataBaseDir)
	analysisService := services.NewAnalysisService(repositoryService, services.DefaultFilterRules())
	chunker := services.NewChunkingService(cfg.MaxChunkSize, cfg.MinChunkSize, cfg.ChunkOverlap)

	embedder, err := ai.NewEmbeddingClient(cfg.GeminiAPIKey, cfg.EmbeddingsModel)
	if err != nil {
		log.Fatal("Failed to initialize embedding client:", err)
	}
	defer embedder.Close()

	vectorStore, err := vector.NewQdrantStore(cfg.QdrantHost, cfg.QdrantPort, embedder)
	if err != nil {
		log.Fatal("Failed to connect to vector store:", err)
	}
	defer vectorStore.Close()

	statusClient := services.NewStatusClient(cfg.GitAgentURL, cfg.CallbackMaxRetries, time.Duration(cfg.CallbackRetryMS)*time.Millisecond)

	worker, err := workers.NewAnalysisWorker(cfg, analysisService, chunker, vectorStore, statusClient, publisher)
	if err != nil {
		log.Fatal("Failed to create analysis worker:", err)
	}
	defer worker.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Analysis worker consuming messages")
	if err := worker.Start(ctx); err != nil {
		log.Fatal("Analysis worker failed:", err)
	}
}
