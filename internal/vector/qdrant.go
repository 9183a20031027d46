package vector

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"git-context-agent/services"
)

// Embedder turns text into a vector. Satisfied by the ai.EmbeddingClient.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// QdrantStore implements services.VectorStore against a Qdrant instance.
// Chunk ids are not UUIDs, so each point gets a deterministic UUIDv5 derived
// from the chunk id; the original id travels in the payload.
type QdrantStore struct {
	client   *qdrant.Client
	embedder Embedder
}

func NewQdrantStore(host string, port int, embedder Embedder) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %v", err)
	}
	return &QdrantStore{client: client, embedder: embedder}, nil
}

func (s *QdrantStore) CreateCollection(ctx context.Context, name string) error {
	// Probe the embedder once to size the collection's vectors.
	probe, err := s.embedder.Embed(ctx, "dimension probe")
	if err != nil {
		return fmt.Errorf("failed to determine embedding dimension: %v", err)
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(len(probe)),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %v", name, err)
	}
	return nil
}

func (s *QdrantStore) AddChunks(ctx context.Context, collectionName string, chunks []services.Chunk) error {
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, chunk := range chunks {
		embedding, err := s.embedder.Embed(ctx, chunk.Text)
		if err != nil {
			return fmt.Errorf("failed to embed chunk %s: %v", chunk.ID, err)
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(PointID(chunk.ID)),
			Vectors: qdrant.NewVectors(embedding...),
			Payload: qdrant.NewValueMap(map[string]interface{}{
				"chunk_id": chunk.ID,
				"order":    chunk.Order,
				"text":     chunk.Text,
			}),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collectionName,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert chunks into %s: %v", collectionName, err)
	}
	return nil
}

func (s *QdrantStore) DeleteCollection(ctx context.Context, name string) error {
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("failed to delete collection %s: %v", name, err)
	}
	return nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// PointID maps a deterministic chunk id to a stable UUID, so re-adding the
// same chunk overwrites rather than duplicates.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}
