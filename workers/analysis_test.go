package workers

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"git-context-agent/internal/messaging"
	"git-context-agent/models"
	"git-context-agent/services"
)

type fakeExtractor struct {
	content map[string]string
	err     error
}

func (e *fakeExtractor) ExtractRepositoryContent(repositoryID string) (map[string]string, error) {
	return e.content, e.err
}

type fakeVectorStore struct {
	createdCollections []string
	addedChunks        map[string][]services.Chunk
	addErr             error
}

func (s *fakeVectorStore) CreateCollection(ctx context.Context, name string) error {
	s.createdCollections = append(s.createdCollections, name)
	return nil
}

func (s *fakeVectorStore) AddChunks(ctx context.Context, collectionName string, chunks []services.Chunk) error {
	if s.addErr != nil {
		return s.addErr
	}
	if s.addedChunks == nil {
		s.addedChunks = make(map[string][]services.Chunk)
	}
	s.addedChunks[collectionName] = append(s.addedChunks[collectionName], chunks...)
	return nil
}

func (s *fakeVectorStore) DeleteCollection(ctx context.Context, name string) error {
	return nil
}

type fakeStatusReporter struct {
	calls    []models.ProcessingStatus
	reported string
	err      error
}

func (r *fakeStatusReporter) StatusUpdate(ctx context.Context, repositoryID string, status models.ProcessingStatus) error {
	r.calls = append(r.calls, status)
	r.reported = repositoryID
	return r.err
}

func clonedEvent() *models.RepositoryEvent {
	return &models.RepositoryEvent{
		EventID:       "evt-2",
		EventType:     models.EventRepositoryCloned,
		Timestamp:     time.Now().UTC(),
		CorrelationID: "c1",
		SourceService: "repository_worker",
		RepositoryID:  "repo-1",
		CollectionID:  "col-1",
	}
}

func newAnalysisWorkerForTest(extractor ContentExtractor, store services.VectorStore, reporter StatusReporter, publisher services.EventPublisher) *AnalysisWorker {
	return &AnalysisWorker{
		analysisService: extractor,
		chunker:         services.NewChunkingService(1000, 50, 0),
		vectorStore:     store,
		statusClient:    reporter,
		publisher:       publisher,
	}
}

func TestHandleRepositoryClonedSuccess(t *testing.T) {
	publisher := &recordingPublisher{}
	store := &fakeVectorStore{}
	reporter := &fakeStatusReporter{}
	extractor := &fakeExtractor{content: map[string]string{
		"cmd/main.go": "package main\n\nfunc main() {}\n",
	}}
	worker := newAnalysisWorkerForTest(extractor, store, reporter, publisher)

	if err := worker.HandleRepositoryCloned(context.Background(), clonedEvent()); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	if len(store.createdCollections) != 1 || store.createdCollections[0] != "col-1" {
		t.Fatalf("collections created: %v", store.createdCollections)
	}
	chunks := store.addedChunks["col-1"]
	if len(chunks) == 0 {
		t.Fatal("no chunks loaded")
	}
	if chunks[0].ID != "cmd/main.go-0" {
		t.Fatalf("chunk id = %q", chunks[0].ID)
	}
	if !strings.Contains(chunks[0].Text, "<source>cmd/main.go</source>") {
		t.Fatalf("chunk text missing source label: %q", chunks[0].Text)
	}

	if len(publisher.events) != 1 {
		t.Fatalf("published %d events, want 1", len(publisher.events))
	}
	event := publisher.events[0]
	if event.EventType != models.EventRepositoryAnalyzed {
		t.Fatalf("event type = %s", event.EventType)
	}
	if event.CorrelationID != "c1" || publisher.correlationIDs[0] != "c1" {
		t.Fatal("correlation id not propagated")
	}
	if publisher.routingKeys[0] != messaging.RouteRepositoryAnalyzed {
		t.Fatalf("routing key = %s", publisher.routingKeys[0])
	}

	if len(reporter.calls) != 1 || reporter.calls[0] != models.StatusCompleted {
		t.Fatalf("status calls = %v", reporter.calls)
	}
	if reporter.reported != "repo-1" {
		t.Fatalf("status reported for %q", reporter.reported)
	}
}

func TestHandleRepositoryClonedExtractionFailure(t *testing.T) {
	publisher := &recordingPublisher{}
	reporter := &fakeStatusReporter{}
	extractor := &fakeExtractor{err: errors.New("working copy missing")}
	worker := newAnalysisWorkerForTest(extractor, &fakeVectorStore{}, reporter, publisher)

	if err := worker.HandleRepositoryCloned(context.Background(), clonedEvent()); err != nil {
		t.Fatalf("domain failure must not propagate, got %v", err)
	}

	if len(publisher.events) != 1 {
		t.Fatalf("published %d events, want exactly 1", len(publisher.events))
	}
	event := publisher.events[0]
	if event.EventType != models.EventRepositoryAnalysisFailed {
		t.Fatalf("event type = %s", event.EventType)
	}
	if event.ErrorDetails == "" {
		t.Fatal("error details empty")
	}
	if publisher.routingKeys[0] != messaging.RouteRepositoryFailed {
		t.Fatalf("routing key = %s", publisher.routingKeys[0])
	}
	if len(reporter.calls) != 0 {
		t.Fatalf("status reported after failed analysis: %v", reporter.calls)
	}
}

func TestHandleRepositoryClonedLoadFailure(t *testing.T) {
	publisher := &recordingPublisher{}
	store := &fakeVectorStore{addErr: errors.New("collection write rejected")}
	extractor := &fakeExtractor{content: map[string]string{"a.go": "package a\n"}}
	worker := newAnalysisWorkerForTest(extractor, store, &fakeStatusReporter{}, publisher)

	if err := worker.HandleRepositoryCloned(context.Background(), clonedEvent()); err != nil {
		t.Fatalf("domain failure must not propagate, got %v", err)
	}
	if publisher.events[0].EventType != models.EventRepositoryAnalysisFailed {
		t.Fatalf("event type = %s", publisher.events[0].EventType)
	}
}

func TestHandleRepositoryClonedStatusCallbackFailure(t *testing.T) {
	publisher := &recordingPublisher{}
	reporter := &fakeStatusReporter{err: errors.New("callback unavailable")}
	extractor := &fakeExtractor{content: map[string]string{"a.go": "package a\n"}}
	worker := newAnalysisWorkerForTest(extractor, &fakeVectorStore{}, reporter, publisher)

	// The callback runs after the domain boundary, so its error goes back to
	// the consumer and the delivery is retried.
	err := worker.HandleRepositoryCloned(context.Background(), clonedEvent())
	if err == nil {
		t.Fatal("status callback failure must propagate")
	}

	// The success event was already out before the callback failed.
	if len(publisher.events) != 1 || publisher.events[0].EventType != models.EventRepositoryAnalyzed {
		t.Fatalf("events = %+v", publisher.events)
	}
}
