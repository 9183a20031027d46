package services

import "context"

// VectorStore is the contract the analysis pipeline has with the vector
// database: it only ever creates a collection, loads chunks into it, and
// drops it when the context is deleted.
type VectorStore interface {
	CreateCollection(ctx context.Context, name string) error
	AddChunks(ctx context.Context, collectionName string, chunks []Chunk) error
	DeleteCollection(ctx context.Context, name string) error
}
