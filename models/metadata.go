package models

// ProcessingStatus tracks how far a repository has moved through ingestion.
type ProcessingStatus string

const (
	StatusSubmitted  ProcessingStatus = "submitted"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// Valid reports whether s is a member of the status enumeration.
func (s ProcessingStatus) Valid() bool {
	switch s {
	case StatusSubmitted, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Metadata is the persisted processing-state record for one repository.
// ID is the fingerprint; ID, CollectionID and ConversationID are immutable
// after creation.
type Metadata struct {
	ID             string           `json:"id" bson:"id"`
	CollectionID   string           `json:"collection_id" bson:"collection_id"`
	ConversationID string           `json:"conversation_id" bson:"conversation_id"`
	Status         ProcessingStatus `json:"status" bson:"status"`
}

// MetadataPatch is a partial update to a metadata record. Only the fields
// listed here are mutable; identity fields cannot be expressed in a patch.
type MetadataPatch struct {
	Status *ProcessingStatus `json:"status,omitempty"`
}

// Apply merges the patch into a copy of the stored record. Identity fields
// are always taken from the stored record, never from the caller.
func (p MetadataPatch) Apply(existing Metadata) Metadata {
	updated := existing
	if p.Status != nil {
		updated.Status = *p.Status
	}
	updated.ID = existing.ID
	updated.CollectionID = existing.CollectionID
	updated.ConversationID = existing.ConversationID
	return updated
}
