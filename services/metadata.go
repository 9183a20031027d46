package services

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"git-context-agent/models"
)

var (
	// ErrConflict signals a create for a fingerprint that already has a record.
	ErrConflict = errors.New("metadata record already exists")
	// ErrNotFound signals an update against a fingerprint with no record.
	ErrNotFound = errors.New("metadata record not found")
)

// MetadataService derives repository fingerprints and owns the persisted
// processing-state record, one per fingerprint.
type MetadataService struct {
	collection *mongo.Collection
	hashKey    []byte
}

func NewMetadataService(db *mongo.Database, collectionName, hashKey string) *MetadataService {
	return &MetadataService{
		collection: db.Collection(collectionName),
		hashKey:    []byte(hashKey),
	}
}

// Fingerprint derives the stable repository identity: HMAC-SHA256 over the
// (user id, repository url) pair, hex encoded. The same pair always yields
// the same fingerprint, and the fingerprint does not leak its inputs.
func Fingerprint(key []byte, userID, url string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(userID + ":" + url))
	return hex.EncodeToString(mac.Sum(nil))
}

// Fingerprint derives the identity for a request using the service's key.
func (s *MetadataService) Fingerprint(userID, url string) string {
	return Fingerprint(s.hashKey, userID, url)
}

// NewCollectionID generates an opaque identifier for a vector collection.
func NewCollectionID() (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyz"
	bytes := make([]byte, 32)

	_, err := rand.Read(bytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate collection id: %v", err)
	}

	for i, b := range bytes {
		bytes[i] = charset[b%byte(len(charset))]
	}
	return string(bytes), nil
}

// Create inserts the record for a fingerprint. A second create for the same
// fingerprint fails with ErrConflict and leaves the first record untouched.
func (s *MetadataService) Create(ctx context.Context, fingerprint, collectionID, conversationID string) (*models.Metadata, error) {
	metadata := models.Metadata{
		ID:             fingerprint,
		CollectionID:   collectionID,
		ConversationID: conversationID,
		Status:         models.StatusSubmitted,
	}

	_, err := s.collection.InsertOne(ctx, metadata)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: %s", ErrConflict, fingerprint)
		}
		return nil, fmt.Errorf("failed to insert metadata: %v", err)
	}
	return &metadata, nil
}

// Get returns the record for a fingerprint, or nil when absent.
func (s *MetadataService) Get(ctx context.Context, fingerprint string) (*models.Metadata, error) {
	var metadata models.Metadata
	err := s.collection.FindOne(ctx, bson.M{"id": fingerprint}).Decode(&metadata)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read metadata: %v", err)
	}
	return &metadata, nil
}

// Update applies a typed patch to the stored record. The patch only exposes
// mutable fields; identity fields are re-asserted from the stored record by
// the patch applier.
func (s *MetadataService) Update(ctx context.Context, fingerprint string, patch models.MetadataPatch) (*models.Metadata, error) {
	existing, err := s.Get(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, fingerprint)
	}

	updated := patch.Apply(*existing)
	_, err = s.collection.ReplaceOne(ctx, bson.M{"id": fingerprint}, updated)
	if err != nil {
		return nil, fmt.Errorf("failed to update metadata: %v", err)
	}
	return &updated, nil
}

// Delete removes the record for a fingerprint. Deleting an absent record is
// not an error.
func (s *MetadataService) Delete(ctx context.Context, fingerprint string) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"id": fingerprint})
	if err != nil {
		return fmt.Errorf("failed to delete metadata: %v", err)
	}
	return nil
}
