package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"git-context-agent/internal/ai"
	"git-context-agent/internal/config"
	"git-context-agent/internal/logger"
	"git-context-agent/internal/messaging"
	"git-context-agent/internal/telemetry"
	"git-context-agent/internal/vector"
	"git-context-agent/middleware"
	"git-context-agent/routes"
	"git-context-agent/services"
)

// unconfiguredAnswerer stands in for the answer-generation chain until one
// is wired in deployment.
type unconfiguredAnswerer struct{}

func (unconfiguredAnswerer) Answer(ctx context.Context, collectionID, conversationID, prompt string) (string, error) {
	return "", fmt.Errorf("answer generation is not configured")
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	shutdownTracer, err := telemetry.InitTracer("git-agent-api")
	if err != nil {
		logger.Warn("Tracing disabled", "error", err.Error())
	} else {
		defer shutdownTracer()
	}

	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer mongoClient.Disconnect(context.Background())

	metadataService := services.NewMetadataService(mongoClient.Database(cfg.DBName), cfg.MetadataCollection, cfg.HashKey)

	publisher, err := messaging.NewPublisher(cfg)
	if err != nil {
		log.Fatal("Failed to connect to broker:", err)
	}
	defer publisher.Close()

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

	chatHistory := services.NewChatHistoryClient(cfg.ChatHistoryURL)
	agent := services.NewGitAgent(metadataService, chatHistory, vectorStore, publisher, unconfiguredAnswerer{})

	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.CORSMiddleware(cfg.CORSOrigins))

	if rdb, err := config.NewRedisClient(cfg); err != nil {
		logger.Warn("Rate limiting disabled", "error", err.Error())
	} else {
		router.Use(middleware.RateLimitMiddleware(rdb, cfg))
	}

	router.GET("/health", routes.HandleHealth())
	git := router.Group("/git")
	{
		git.POST("", routes.HandleIngestRepository(agent))
		git.PUT("", routes.HandleUpdateRepositoryStatus(metadataService))
		git.DELETE("", routes.HandleDeleteRepository(agent))
		git.POST("/question", routes.HandleChat(agent))
	}

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("Starting API server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err.Error())
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", "error", err.Error())
	}
}
