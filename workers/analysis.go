package workers

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"git-context-agent/internal/config"
	"git-context-agent/internal/logger"
	"git-context-agent/internal/messaging"
	"git-context-agent/models"
	"git-context-agent/services"
)

// ContentExtractor produces the filtered file contents of a cloned repository.
type ContentExtractor interface {
	ExtractRepositoryContent(repositoryID string) (map[string]string, error)
}

// Chunker splits one file into bounded-size chunks.
type Chunker interface {
	ChunkDocument(filePath, content string) []services.Chunk
}

// StatusReporter is the callback that drives the metadata record to its
// terminal status.
type StatusReporter interface {
	StatusUpdate(ctx context.Context, repositoryID string, status models.ProcessingStatus) error
}

type analyzeCommand struct {
	commandID     string
	timestamp     time.Time
	correlationID string
	repositoryID  string
	collectionID  string
}

// AnalysisWorker consumes REPOSITORY_CLONED events, loads the repository's
// content into a vector collection and reports terminal status.
type AnalysisWorker struct {
	analysisService ContentExtractor
	chunker         Chunker
	vectorStore     services.VectorStore
	statusClient    StatusReporter
	publisher       services.EventPublisher

	consumer *messaging.Consumer
}

func NewAnalysisWorker(cfg *config.Config, analysisService ContentExtractor, chunker Chunker, vectorStore services.VectorStore, statusClient StatusReporter, publisher services.EventPublisher) (*AnalysisWorker, error) {
	w := &AnalysisWorker{
		analysisService: analysisService,
		chunker:         chunker,
		vectorStore:     vectorStore,
		statusClient:    statusClient,
		publisher:       publisher,
	}

	var err error
	w.consumer, err = messaging.NewConsumer(cfg, messaging.RouteRepositoryCloned, messaging.QueueAnalysis, w.HandleRepositoryCloned)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// HandleRepositoryCloned extracts, chunks and embeds the repository content.
// Extraction and loading failures are domain failures: they are reported
// once as REPOSITORY_ANALYSIS_FAILED and absorbed. The status callback runs
// after that boundary, so its failure propagates to the consumer retry path.
func (w *AnalysisWorker) HandleRepositoryCloned(ctx context.Context, event *models.RepositoryEvent) error {
	command := analyzeCommand{
		commandID:     uuid.NewString(),
		timestamp:     time.Now().UTC(),
		correlationID: event.CorrelationID,
		repositoryID:  event.RepositoryID,
		collectionID:  event.CollectionID,
	}

	if err := w.buildContext(ctx, command); err != nil {
		logger.Error("Error handling repository cloned event", "repository_id", command.repositoryID, "error", err.Error())

		failed := &models.RepositoryEvent{
			EventID:       uuid.NewString(),
			EventType:     models.EventRepositoryAnalysisFailed,
			Timestamp:     time.Now().UTC(),
			CorrelationID: command.correlationID,
			SourceService: "analysis_worker",
			RepositoryID:  command.repositoryID,
			CollectionID:  command.collectionID,
			ErrorDetails:  err.Error(),
		}
		return w.publisher.PublishMessage(ctx, messaging.RouteRepositoryFailed, failed, command.correlationID)
	}

	analyzed := &models.RepositoryEvent{
		EventID:       uuid.NewString(),
		EventType:     models.EventRepositoryAnalyzed,
		Timestamp:     time.Now().UTC(),
		CorrelationID: command.correlationID,
		SourceService: "analysis_worker",
		RepositoryID:  command.repositoryID,
		CollectionID:  command.collectionID,
	}
	if err := w.publisher.PublishMessage(ctx, messaging.RouteRepositoryAnalyzed, analyzed, command.correlationID); err != nil {
		return err
	}

	return w.statusClient.StatusUpdate(ctx, command.repositoryID, models.StatusCompleted)
}

// buildContext creates the vector collection and loads every chunk of every
// extracted file into it.
func (w *AnalysisWorker) buildContext(ctx context.Context, command analyzeCommand) error {
	content, err := w.analysisService.ExtractRepositoryContent(command.repositoryID)
	if err != nil {
		return err
	}

	logger.Info("Loading content into vector collection", "repository_id", command.repositoryID, "files", len(content))
	if err := w.vectorStore.CreateCollection(ctx, command.collectionID); err != nil {
		return err
	}

	paths := make([]string, 0, len(content))
	for filePath := range content {
		paths = append(paths, filePath)
	}
	sort.Strings(paths)

	for _, filePath := range paths {
		chunks := w.chunker.ChunkDocument(filePath, content[filePath])
		if len(chunks) == 0 {
			continue
		}
		if err := w.vectorStore.AddChunks(ctx, command.collectionID, chunks); err != nil {
			return err
		}
	}
	return nil
}

func (w *AnalysisWorker) Start(ctx context.Context) error {
	return w.consumer.StartConsuming(ctx)
}

func (w *AnalysisWorker) Stop() {
	w.consumer.Stop()
}
