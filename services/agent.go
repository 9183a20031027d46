package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"git-context-agent/internal/logger"
	"git-context-agent/internal/messaging"
	"git-context-agent/models"
)

// ErrContextNotReady signals a chat request against a context that is absent
// or has not completed ingestion. Store failures are never wrapped in it.
var ErrContextNotReady = errors.New("repository context not ready")

// EventPublisher is the outbound side of the broker as the agent sees it.
type EventPublisher interface {
	PublishMessage(ctx context.Context, routingKey string, event *models.RepositoryEvent, correlationID string) error
}

// Answerer generates an answer for a prompt against a completed repository
// context. The retrieval/LLM chain behind it is an external collaborator.
type Answerer interface {
	Answer(ctx context.Context, collectionID, conversationID, prompt string) (string, error)
}

// GitAgent owns the ingest side of the saga: it deduplicates requests,
// creates the state record and the linked conversation, and publishes the
// event that starts the choreography.
type GitAgent struct {
	metadataService *MetadataService
	chatHistory     ChatHistoryClient
	vectorStore     VectorStore
	publisher       EventPublisher
	answerer        Answerer
}

func NewGitAgent(metadataService *MetadataService, chatHistory ChatHistoryClient, vectorStore VectorStore, publisher EventPublisher, answerer Answerer) *GitAgent {
	return &GitAgent{
		metadataService: metadataService,
		chatHistory:     chatHistory,
		vectorStore:     vectorStore,
		publisher:       publisher,
		answerer:        answerer,
	}
}

// ProcessRepository starts ingestion for a (user, url) pair. If a record
// already exists the request is a duplicate and no new saga starts. Otherwise
// the record is created SUBMITTED, moved to PROCESSING, and
// REPOSITORY_PROCESS is published with a fresh correlation id that every
// later event of this saga instance will carry.
func (a *GitAgent) ProcessRepository(ctx context.Context, userID, url string) (*models.Metadata, error) {
	fingerprint := a.metadataService.Fingerprint(userID, url)

	existing, err := a.metadataService.Get(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		logger.Info("Repository already ingested", "repository_id", fingerprint, "status", string(existing.Status))
		return existing, nil
	}

	logger.Info("Beginning repository ingestion", "repository_id", fingerprint)
	conversationID, err := a.chatHistory.ConversationCreate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %v", err)
	}

	collectionID, err := NewCollectionID()
	if err != nil {
		return nil, err
	}

	metadata, err := a.metadataService.Create(ctx, fingerprint, collectionID, conversationID)
	if err != nil {
		return nil, err
	}

	processing := models.StatusProcessing
	metadata, err = a.metadataService.Update(ctx, fingerprint, models.MetadataPatch{Status: &processing})
	if err != nil {
		return nil, err
	}

	eventID := uuid.NewString()
	event := &models.RepositoryEvent{
		EventID:       eventID,
		EventType:     models.EventRepositoryProcess,
		Timestamp:     time.Now().UTC(),
		CorrelationID: eventID,
		SourceService: "git_agent",
		RepositoryID:  metadata.ID,
		CollectionID:  metadata.CollectionID,
		URL:           url,
	}
	if err := a.publisher.PublishMessage(ctx, messaging.RouteRepositoryProcess, event, event.CorrelationID); err != nil {
		return nil, err
	}
	return metadata, nil
}

// GenerateChatResponse answers a prompt against the repository context. The
// context must have reached COMPLETED.
func (a *GitAgent) GenerateChatResponse(ctx context.Context, userID, url, prompt string) (string, error) {
	fingerprint := a.metadataService.Fingerprint(userID, url)
	metadata, err := a.metadataService.Get(ctx, fingerprint)
	if err != nil {
		return "", err
	}
	if metadata == nil {
		return "", fmt.Errorf("%w: context does not exist", ErrContextNotReady)
	}
	if metadata.Status != models.StatusCompleted {
		return "", fmt.Errorf("%w: current state is (%s)", ErrContextNotReady, metadata.Status)
	}
	return a.answerer.Answer(ctx, metadata.CollectionID, metadata.ConversationID, prompt)
}

// DeleteContext removes the vector collection, the metadata record and the
// linked conversation. Deleting an absent context is a no-op.
func (a *GitAgent) DeleteContext(ctx context.Context, userID, url string) error {
	fingerprint := a.metadataService.Fingerprint(userID, url)
	metadata, err := a.metadataService.Get(ctx, fingerprint)
	if err != nil {
		return err
	}
	if metadata == nil {
		return nil
	}

	if err := a.vectorStore.DeleteCollection(ctx, metadata.CollectionID); err != nil {
		return err
	}
	if err := a.metadataService.Delete(ctx, fingerprint); err != nil {
		return err
	}
	if err := a.chatHistory.ConversationDelete(ctx, metadata.ConversationID, userID); err != nil {
		return err
	}
	return nil
}
