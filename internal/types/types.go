package types

import (
	"context"

	"github.com/substrat/ragpipe/internal/models"
)

// Core interfaces
type Chunker interface {
	Chunk(text string, chunkSize, chunkOverlap int, contentType models.ContentType) []string
	DetectContentType(text string) models.ContentType
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one entry per input text, in input order.
	// Entries whose embedding could not be produced are nil.
	EmbedBatch(ctx context.Context, texts []string) [][]float32
}

type VectorStore interface {
	Exists(ctx context.Context, collection, content string, contentType models.ContentType) (bool, error)
	FilterNew(ctx context.Context, collection string, chunks []models.Chunk) ([]models.Chunk, error)
	Store(ctx context.Context, record models.VectorRecord) (string, error)
	CommitBatch(ctx context.Context, collection string, chunks []models.Chunk, embeddings [][]float32, docMetadata map[string]interface{}, chunkCount int) ([]models.VectorRecord, error)
	NearestNeighbors(ctx context.Context, collection string, embedding []float32, k int, metric DistanceMetric) ([]models.SearchResult, error)
	DeleteCollection(ctx context.Context, collection string) error
	TruncateAll(ctx context.Context) error
	Close()
}

// ChatModel is the chat-completion capability consumed by the RAG path.
// It is an external collaborator; only this narrow surface is depended on.
type ChatModel interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// PinStrategy is an optional performance hint applied to chunking
// workers. The default implementation does nothing.
type PinStrategy interface {
	Pin(workerID int)
}

// NoopPin is the default PinStrategy.
type NoopPin struct{}

func (NoopPin) Pin(int) {}

// DistanceMetric selects the vector distance used by nearest-neighbor
// queries.
type DistanceMetric string

const (
	DistanceCosine       DistanceMetric = "cosine"
	DistanceL2           DistanceMetric = "l2"
	DistanceInnerProduct DistanceMetric = "inner_product"
)
