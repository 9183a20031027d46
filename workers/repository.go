package workers

import (
	"context"
	"time"

	"github.com/google/uuid"

	"git-context-agent/internal/config"
	"git-context-agent/internal/logger"
	"git-context-agent/internal/messaging"
	"git-context-agent/models"
	"git-context-agent/services"
)

// Cloner is the version-control collaborator the repository worker drives.
type Cloner interface {
	Clone(ctx context.Context, url, repositoryID string) error
	Delete(repositoryID string) error
}

// cloneCommand and deleteCommand are internal value objects carrying typed
// parameters from an incoming event to the action it triggers. They are
// never serialized onto the wire.
type cloneCommand struct {
	commandID     string
	timestamp     time.Time
	correlationID string
	repositoryID  string
	collectionID  string
	url           string
}

type deleteCommand struct {
	commandID     string
	timestamp     time.Time
	correlationID string
	repositoryID  string
}

// RepositoryWorker runs the clone and delete consume loops of the saga,
// sharing one publisher.
type RepositoryWorker struct {
	repositoryService Cloner
	publisher         services.EventPublisher

	consumerClone  *messaging.Consumer
	consumerDelete *messaging.Consumer
}

func NewRepositoryWorker(cfg *config.Config, repositoryService Cloner, publisher services.EventPublisher) (*RepositoryWorker, error) {
	w := &RepositoryWorker{
		repositoryService: repositoryService,
		publisher:         publisher,
	}

	var err error
	w.consumerClone, err = messaging.NewConsumer(cfg, messaging.RouteRepositoryProcess, messaging.QueueRepositoryClone, w.HandleRepositoryClone)
	if err != nil {
		return nil, err
	}

	w.consumerDelete, err = messaging.NewConsumer(cfg, messaging.RouteRepositoryAnalyzed, messaging.QueueRepositoryDelete, w.HandleRepositoryDelete)
	if err != nil {
		w.consumerClone.Stop()
		return nil, err
	}
	return w, nil
}

// HandleRepositoryClone checks out the repository and reports the outcome as
// an event. Domain failures are absorbed here: the failure event is the
// report, so the transport retry machinery never sees them.
func (w *RepositoryWorker) HandleRepositoryClone(ctx context.Context, event *models.RepositoryEvent) error {
	command := cloneCommand{
		commandID:     uuid.NewString(),
		timestamp:     time.Now().UTC(),
		correlationID: event.CorrelationID,
		repositoryID:  event.RepositoryID,
		collectionID:  event.CollectionID,
		url:           event.URL,
	}

	if err := w.repositoryService.Clone(ctx, command.url, command.repositoryID); err != nil {
		logger.Error("Error handling repository clone event", "repository_id", command.repositoryID, "error", err.Error())

		failed := &models.RepositoryEvent{
			EventID:       uuid.NewString(),
			EventType:     models.EventRepositoryCloneFailed,
			Timestamp:     time.Now().UTC(),
			CorrelationID: command.correlationID,
			SourceService: "repository_worker",
			RepositoryID:  command.repositoryID,
			CollectionID:  command.collectionID,
			URL:           command.url,
			ErrorDetails:  err.Error(),
		}
		return w.publisher.PublishMessage(ctx, messaging.RouteRepositoryFailed, failed, command.correlationID)
	}

	cloned := &models.RepositoryEvent{
		EventID:       uuid.NewString(),
		EventType:     models.EventRepositoryCloned,
		Timestamp:     time.Now().UTC(),
		CorrelationID: command.correlationID,
		SourceService: "repository_worker",
		RepositoryID:  command.repositoryID,
		CollectionID:  command.collectionID,
		URL:           command.url,
	}
	return w.publisher.PublishMessage(ctx, messaging.RouteRepositoryCloned, cloned, command.correlationID)
}

// HandleRepositoryDelete removes the on-disk working copy once analysis has
// finished, with the same non-rethrow policy for domain failures.
func (w *RepositoryWorker) HandleRepositoryDelete(ctx context.Context, event *models.RepositoryEvent) error {
	command := deleteCommand{
		commandID:     uuid.NewString(),
		timestamp:     time.Now().UTC(),
		correlationID: event.CorrelationID,
		repositoryID:  event.RepositoryID,
	}

	if err := w.repositoryService.Delete(command.repositoryID); err != nil {
		logger.Error("Error handling repository delete event", "repository_id", command.repositoryID, "error", err.Error())

		failed := &models.RepositoryEvent{
			EventID:       uuid.NewString(),
			EventType:     models.EventRepositoryDeleteFailed,
			Timestamp:     time.Now().UTC(),
			CorrelationID: command.correlationID,
			SourceService: "repository_worker",
			RepositoryID:  command.repositoryID,
			ErrorDetails:  err.Error(),
		}
		return w.publisher.PublishMessage(ctx, messaging.RouteRepositoryFailed, failed, command.correlationID)
	}

	deleted := &models.RepositoryEvent{
		EventID:       uuid.NewString(),
		EventType:     models.EventRepositoryDeleted,
		Timestamp:     time.Now().UTC(),
		CorrelationID: command.correlationID,
		SourceService: "repository_worker",
		RepositoryID:  command.repositoryID,
	}
	return w.publisher.PublishMessage(ctx, messaging.RouteRepositoryDeleted, deleted, command.correlationID)
}

// Start runs both consume loops until the context is canceled or one loop
// fails.
func (w *RepositoryWorker) Start(ctx context.Context) error {
	errs := make(chan error, 2)
	go func() { errs <- w.consumerClone.StartConsuming(ctx) }()
	go func() { errs <- w.consumerDelete.StartConsuming(ctx) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errs:
		return err
	}
}

func (w *RepositoryWorker) Stop() {
	w.consumerClone.Stop()
	w.consumerDelete.Stop()
}
