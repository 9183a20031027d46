package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Repository lifecycle event types. The enumeration is closed: decoding an
// envelope with any other event_type fails before a handler ever runs.
const (
	EventRepositoryProcess        = "REPOSITORY_PROCESS"
	EventRepositoryCloned         = "REPOSITORY_CLONED"
	EventRepositoryDeleted        = "REPOSITORY_DELETED"
	EventRepositoryCloneFailed    = "REPOSITORY_CLONE_FAILED"
	EventRepositoryAnalyzed       = "REPOSITORY_ANALYZED"
	EventRepositoryAnalysisFailed = "REPOSITORY_ANALYSIS_FAILED"
	EventRepositoryDeleteFailed   = "REPOSITORY_DELETE_FAILED"
)

var repositoryEventTypes = map[string]bool{
	EventRepositoryProcess:        true,
	EventRepositoryCloned:         true,
	EventRepositoryDeleted:        true,
	EventRepositoryCloneFailed:    true,
	EventRepositoryAnalyzed:       true,
	EventRepositoryAnalysisFailed: true,
	EventRepositoryDeleteFailed:   true,
}

// RepositoryEvent is the envelope exchanged over the broker. Every event
// belonging to one saga instance carries the same CorrelationID, set once at
// the saga's origin. EventID is unique per event and used only for tracing.
type RepositoryEvent struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	SourceService string    `json:"source_service"`
	RepositoryID  string    `json:"repository_id"`
	CollectionID  string    `json:"collection_id,omitempty"`
	URL           string    `json:"url,omitempty"`
	ErrorDetails  string    `json:"error_details,omitempty"`
}

// Validate checks the envelope's required fields and event type membership.
func (e *RepositoryEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event validation: missing event_id")
	}
	if e.CorrelationID == "" {
		return fmt.Errorf("event validation: missing correlation_id")
	}
	if e.RepositoryID == "" {
		return fmt.Errorf("event validation: missing repository_id")
	}
	if !repositoryEventTypes[e.EventType] {
		return fmt.Errorf("event validation: unknown event_type %q", e.EventType)
	}
	return nil
}

// DecodeRepositoryEvent unmarshals and validates an envelope body.
func DecodeRepositoryEvent(body []byte) (*RepositoryEvent, error) {
	var event RepositoryEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("failed to decode event: %v", err)
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return &event, nil
}
