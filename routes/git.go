package routes

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"git-context-agent/internal/logger"
	"git-context-agent/models"
	"git-context-agent/services"
	"git-context-agent/utils"
)

// IngestRequest identifies a repository context by its requesting user and url.
type IngestRequest struct {
	UserID string `json:"id" binding:"required"`
	URL    string `json:"url" binding:"required"`
}

// ChatRequest adds the prompt to the context identity.
type ChatRequest struct {
	UserID string `json:"id" binding:"required"`
	URL    string `json:"url" binding:"required"`
	Prompt string `json:"prompt" binding:"required"`
}

// StatusUpdateRequest is the worker callback payload. It idempotently
// overwrites the record's status.
type StatusUpdateRequest struct {
	RepositoryID string                  `json:"repository_id" binding:"required"`
	Status       models.ProcessingStatus `json:"status" binding:"required"`
}

// HandleIngestRepository accepts an ingest request and starts the saga.
func HandleIngestRepository(agent *services.GitAgent) gin.HandlerFunc {
	return func(c *gin.Context) {
		var request IngestRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			utils.RespondWithBadRequest(c, "Invalid ingest request", err.Error())
			return
		}

		metadata, err := agent.ProcessRepository(c.Request.Context(), request.UserID, request.URL)
		if err != nil {
			if errors.Is(err, services.ErrConflict) {
				utils.RespondWithConflict(c, "Repository is already being processed")
				return
			}
			logger.Error("Ingest failed", "error", err.Error())
			utils.RespondWithInternalError(c, "Failed to start repository ingestion", nil)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"data": metadata})
	}
}

// HandleUpdateRepositoryStatus is the PUT callback used by workers.
func HandleUpdateRepositoryStatus(metadataService *services.MetadataService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var request StatusUpdateRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			utils.RespondWithBadRequest(c, "Invalid status update", err.Error())
			return
		}
		if !request.Status.Valid() {
			utils.RespondWithBadRequest(c, "Unknown status value", string(request.Status))
			return
		}

		status := request.Status
		metadata, err := metadataService.Update(c.Request.Context(), request.RepositoryID, models.MetadataPatch{Status: &status})
		if err != nil {
			if errors.Is(err, services.ErrNotFound) {
				utils.RespondWithNotFound(c, "No record for repository")
				return
			}
			logger.Error("Status update failed", "error", err.Error())
			utils.RespondWithInternalError(c, "Failed to update status", nil)
			return
		}

		c.JSON(http.StatusOK, gin.H{"data": metadata})
	}
}

// HandleDeleteRepository accepts a delete-context request; the deletion runs
// in the background so the caller gets a fast 202.
func HandleDeleteRepository(agent *services.GitAgent) gin.HandlerFunc {
	return func(c *gin.Context) {
		var request IngestRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			utils.RespondWithBadRequest(c, "Invalid delete request", err.Error())
			return
		}

		go func() {
			ctx := context.Background()
			if err := agent.DeleteContext(ctx, request.UserID, request.URL); err != nil {
				logger.Error("Context deletion failed", "error", err.Error())
			}
		}()

		c.JSON(http.StatusAccepted, gin.H{})
	}
}

// ChatResponder answers a prompt against a repository context.
type ChatResponder interface {
	GenerateChatResponse(ctx context.Context, userID, url, prompt string) (string, error)
}

// HandleChat answers a prompt against a completed repository context. Only a
// context that is absent or still ingesting maps to 409; store failures are
// server errors.
func HandleChat(agent ChatResponder) gin.HandlerFunc {
	return func(c *gin.Context) {
		var request ChatRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			utils.RespondWithBadRequest(c, "Invalid chat request", err.Error())
			return
		}

		answer, err := agent.GenerateChatResponse(c.Request.Context(), request.UserID, request.URL, request.Prompt)
		if err != nil {
			if errors.Is(err, services.ErrContextNotReady) {
				utils.RespondWithError(c, http.StatusConflict, "context_not_ready", err.Error(), nil)
				return
			}
			logger.Error("Chat response failed", "error", err.Error())
			utils.RespondWithInternalError(c, "Failed to generate response", nil)
			return
		}

		c.JSON(http.StatusOK, gin.H{"data": gin.H{"response": answer}})
	}
}

// HandleHealth reports liveness.
func HandleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
