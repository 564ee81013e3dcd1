package store_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/substrat/ragpipe/internal/models"
	"github.com/substrat/ragpipe/internal/types"
	"github.com/substrat/ragpipe/pkg/store"
)

// These tests need a Postgres instance with the pgvector extension.
// Point TEST_DATABASE_URL at one to run them.
func getTestStore(t *testing.T) *store.VectorStore {
	t.Helper()
	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	s, err := store.NewWithConfig(store.VectorStoreConfig{
		ConnString: connString,
		TableName:  "test_vector_records",
		VectorDim:  4,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		s.TruncateAll(context.Background())
		s.Close()
	})
	return s
}

func testVector(a, b, c, d float32) []float32 {
	return []float32{a, b, c, d}
}

func TestStoreAndExists(t *testing.T) {
	s := getTestStore(t)
	ctx := context.Background()

	id, err := s.Store(ctx, models.VectorRecord{
		Collection:  "docs",
		Content:     "stored once",
		ContentType: string(models.ContentTypeText),
		Embedding:   testVector(1, 0, 0, 0),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	exists, err := s.Exists(ctx, "docs", "stored once", "")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.Exists(ctx, "docs", "never stored", "")
	require.NoError(t, err)
	assert.False(t, exists)

	// Other collections are a separate namespace.
	exists, err = s.Exists(ctx, "other", "stored once", "")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFilterNew(t *testing.T) {
	s := getTestStore(t)
	ctx := context.Background()

	_, err := s.Store(ctx, models.VectorRecord{
		Collection: "docs",
		Content:    "already here",
		Embedding:  testVector(1, 0, 0, 0),
	})
	require.NoError(t, err)

	fresh, err := s.FilterNew(ctx, "docs", []models.Chunk{
		{Content: "already here", Index: 0},
		{Content: "brand new", Index: 1},
	})
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "brand new", fresh[0].Content)
}

func TestCommitBatchSkipsNilEmbeddings(t *testing.T) {
	s := getTestStore(t)
	ctx := context.Background()

	chunks := []models.Chunk{
		{Content: "chunk zero", Index: 0, ContentType: models.ContentTypeText},
		{Content: "chunk one", Index: 1, ContentType: models.ContentTypeText},
		{Content: "chunk two", Index: 2, ContentType: models.ContentTypeText},
	}
	embeddings := [][]float32{
		testVector(1, 0, 0, 0),
		nil,
		testVector(0, 1, 0, 0),
	}

	records, err := s.CommitBatch(ctx, "docs", chunks, embeddings,
		map[string]interface{}{"source_url": "https://example.com"}, 3)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "chunk zero", records[0].Content)
	assert.Equal(t, "chunk two", records[1].Content)
	assert.Equal(t, 0, records[0].Metadata["chunk_index"])
	assert.Equal(t, 2, records[1].Metadata["chunk_index"])
	assert.Equal(t, 3, records[0].Metadata["chunk_count"])
	assert.Equal(t, "https://example.com", records[0].SourceURL)
}

func TestNearestNeighborsReturnsIdenticalVectorFirst(t *testing.T) {
	s := getTestStore(t)
	ctx := context.Background()

	target := testVector(0, 1, 0, 0)
	_, err := s.Store(ctx, models.VectorRecord{
		Collection: "docs", Content: "far away", Embedding: testVector(1, 0, 0, 0),
	})
	require.NoError(t, err)
	_, err = s.Store(ctx, models.VectorRecord{
		Collection: "docs", Content: "exact match", Embedding: target,
	})
	require.NoError(t, err)

	results, err := s.NearestNeighbors(ctx, "docs", target, 1, types.DistanceCosine)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "exact match", results[0].Record.Content)
	assert.InDelta(t, 0, results[0].Distance, 1e-6)
}

func TestNearestNeighborsFallsBackOnBadQueryVector(t *testing.T) {
	s := getTestStore(t)
	ctx := context.Background()

	_, err := s.Store(ctx, models.VectorRecord{
		Collection: "docs", Content: "first", Embedding: testVector(1, 0, 0, 0),
	})
	require.NoError(t, err)
	_, err = s.Store(ctx, models.VectorRecord{
		Collection: "docs", Content: "second", Embedding: testVector(0, 1, 0, 0),
	})
	require.NoError(t, err)

	// A query vector of the wrong dimensionality fails the distance
	// query; the store should still return up to k records from the
	// collection instead of surfacing the error.
	results, err := s.NearestNeighbors(ctx, "docs", []float32{1, 0, 0}, 1, types.DistanceCosine)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, []string{"first", "second"}, results[0].Record.Content)
}

func TestDeleteCollection(t *testing.T) {
	s := getTestStore(t)
	ctx := context.Background()

	_, err := s.Store(ctx, models.VectorRecord{
		Collection: "doomed", Content: "gone soon", Embedding: testVector(1, 0, 0, 0),
	})
	require.NoError(t, err)
	_, err = s.Store(ctx, models.VectorRecord{
		Collection: "kept", Content: "still here", Embedding: testVector(0, 1, 0, 0),
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteCollection(ctx, "doomed"))

	exists, err := s.Exists(ctx, "doomed", "gone soon", "")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = s.Exists(ctx, "kept", "still here", "")
	require.NoError(t, err)
	assert.True(t, exists)
}
