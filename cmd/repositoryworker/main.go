package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"git-context-agent/internal/config"
	"git-context-agent/internal/logger"
	"git-context-agent/internal/messaging"
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

	worker, err := workers.NewRepositoryWorker(cfg, repositoryService, publisher)
	if err != nil {
		log.Fatal("Failed to create repository worker:", err)
	}
	defer worker.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Repository worker consuming messages")
	if err := worker.Start(ctx); err != nil {
		log.Fatal("Repository worker failed:", err)
	}
}
