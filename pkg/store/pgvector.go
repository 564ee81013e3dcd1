package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/substrat/ragpipe/internal/models"
	"github.com/substrat/ragpipe/internal/types"
)

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	// FilterBatch bounds the size of each existence query issued by
	// FilterNew.
	FilterBatch int
}

// VectorStore persists chunk+embedding pairs in Postgres with the
// pgvector extension, partitioned by collection.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewWithConfig(config VectorStoreConfig) (*VectorStore, error) {
	if config.ConnString == "" {
		return nil, fmt.Errorf("store: connection string is required")
	}
	if config.TableName == "" {
		config.TableName = "vector_records"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 1024
	}
	if config.FilterBatch == 0 {
		config.FilterBatch = 1000
	}

	pool, err := pgxpool.New(context.Background(), config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
		logger: slog.Default().With("component", "store"),
	}

	if err := vs.initialize(); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize() error {
	ctx := context.Background()

	if _, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			collection TEXT NOT NULL,
			content TEXT NOT NULL,
			content_type TEXT,
			source_url TEXT,
			source_title TEXT,
			metadata JSONB,
			embedding vector(%d),
			task_id TEXT,
			project_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, vs.config.TableName, vs.config.VectorDim)
	if _, err := vs.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createVectorIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		vs.config.TableName, vs.config.TableName)
	if _, err := vs.pool.Exec(ctx, createVectorIndex); err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}

	createCollectionIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_collection_idx
		ON %s (collection)`,
		vs.config.TableName, vs.config.TableName)
	if _, err := vs.pool.Exec(ctx, createCollectionIndex); err != nil {
		return fmt.Errorf("failed to create collection index: %w", err)
	}

	return nil
}

// Exists reports whether a record with identical content is already
// stored in the collection.
func (vs *VectorStore) Exists(ctx context.Context, collection, content string, contentType models.ContentType) (bool, error) {
	query := fmt.Sprintf(
		"SELECT EXISTS (SELECT 1 FROM %s WHERE collection = $1 AND content = $2)",
		vs.config.TableName)
	args := []interface{}{collection, sanitizeUTF8(content)}
	if contentType != "" {
		query = fmt.Sprintf(
			"SELECT EXISTS (SELECT 1 FROM %s WHERE collection = $1 AND content = $2 AND content_type = $3)",
			vs.config.TableName)
		args = append(args, string(contentType))
	}

	var exists bool
	if err := vs.pool.QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("existence check failed: %w", err)
	}
	return exists, nil
}

// FilterNew returns the chunks whose content is not yet stored in the
// collection. Large inputs are checked in bounded batches rather than
// one unbounded query.
func (vs *VectorStore) FilterNew(ctx context.Context, collection string, chunks []models.Chunk) ([]models.Chunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	existing := make(map[string]struct{})
	query := fmt.Sprintf(
		"SELECT content FROM %s WHERE collection = $1 AND content = ANY($2)",
		vs.config.TableName)

	for start := 0; start < len(chunks); start += vs.config.FilterBatch {
		end := start + vs.config.FilterBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		contents := make([]string, 0, end-start)
		for _, chunk := range chunks[start:end] {
			contents = append(contents, sanitizeUTF8(chunk.Content))
		}

		rows, err := vs.pool.Query(ctx, query, collection, contents)
		if err != nil {
			return nil, fmt.Errorf("dedup query failed: %w", err)
		}
		for rows.Next() {
			var content string
			if err := rows.Scan(&content); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan dedup row: %w", err)
			}
			existing[content] = struct{}{}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("dedup query failed: %w", err)
		}
	}

	var fresh []models.Chunk
	for _, chunk := range chunks {
		if _, found := existing[sanitizeUTF8(chunk.Content)]; !found {
			fresh = append(fresh, chunk)
		}
	}
	return fresh, nil
}

// Store inserts a single record and returns its id.
func (vs *VectorStore) Store(ctx context.Context, record models.VectorRecord) (string, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, collection, content, content_type, source_url, source_title, metadata, embedding, task_id, project_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		vs.config.TableName)

	_, err := vs.pool.Exec(ctx, stmt,
		record.ID,
		record.Collection,
		sanitizeUTF8(record.Content),
		record.ContentType,
		record.SourceURL,
		sanitizeUTF8(record.SourceTitle),
		record.Metadata,
		pgvector.NewVector(record.Embedding),
		record.TaskID,
		record.ProjectID,
		record.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert record: %w", err)
	}
	return record.ID, nil
}

// CommitBatch bulk-inserts chunk+embedding pairs in one transaction.
// Entries with a nil embedding are skipped. Each record's metadata is
// the shared document metadata plus chunk_index and chunk_count.
func (vs *VectorStore) CommitBatch(ctx context.Context, collection string, chunks []models.Chunk, embeddings [][]float32, docMetadata map[string]interface{}, chunkCount int) ([]models.VectorRecord, error) {
	if len(chunks) != len(embeddings) {
		return nil, fmt.Errorf("chunk/embedding count mismatch: %d vs %d", len(chunks), len(embeddings))
	}

	var records []models.VectorRecord
	now := time.Now().UTC()
	for i, chunk := range chunks {
		if embeddings[i] == nil {
			continue
		}

		metadata := make(map[string]interface{}, len(docMetadata)+2)
		for k, v := range docMetadata {
			metadata[k] = v
		}
		metadata["chunk_index"] = chunk.Index
		metadata["chunk_count"] = chunkCount

		record := models.VectorRecord{
			ID:          uuid.NewString(),
			Collection:  collection,
			Content:     sanitizeUTF8(chunk.Content),
			ContentType: string(chunk.ContentType),
			Metadata:    metadata,
			Embedding:   embeddings[i],
			CreatedAt:   now,
		}
		if v, ok := docMetadata["source_url"].(string); ok {
			record.SourceURL = v
		}
		if v, ok := docMetadata["source_title"].(string); ok {
			record.SourceTitle = v
		}
		if v, ok := docMetadata["task_id"].(string); ok {
			record.TaskID = v
		}
		if v, ok := docMetadata["project_id"].(string); ok {
			record.ProjectID = v
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return nil, nil
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, collection, content, content_type, source_url, source_title, metadata, embedding, task_id, project_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		vs.config.TableName)

	batch := &pgx.Batch{}
	for _, record := range records {
		batch.Queue(stmt,
			record.ID,
			record.Collection,
			record.Content,
			record.ContentType,
			record.SourceURL,
			record.SourceTitle,
			record.Metadata,
			pgvector.NewVector(record.Embedding),
			record.TaskID,
			record.ProjectID,
			record.CreatedAt,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for range records {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return nil, fmt.Errorf("bulk insert failed: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return nil, fmt.Errorf("bulk insert failed: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return records, nil
}

// NearestNeighbors returns up to k records ordered by ascending
// distance to the query embedding. If the vector query fails, it
// degrades to returning up to k arbitrary records from the collection
// instead of failing the caller.
func (vs *VectorStore) NearestNeighbors(ctx context.Context, collection string, embedding []float32, k int, metric types.DistanceMetric) ([]models.SearchResult, error) {
	if k <= 0 {
		k = 5
	}

	operator := "<=>"
	switch metric {
	case types.DistanceL2:
		operator = "<->"
	case types.DistanceInnerProduct:
		operator = "<#>"
	}

	query := fmt.Sprintf(`
		SELECT id, collection, content, content_type, source_url, source_title, metadata, embedding, task_id, project_id, created_at,
			embedding %s $2 AS distance
		FROM %s
		WHERE collection = $1
		ORDER BY distance
		LIMIT $3`,
		operator, vs.config.TableName)

	rows, err := vs.pool.Query(ctx, query, collection, pgvector.NewVector(embedding), k)
	if err != nil {
		vs.logger.Warn("vector query failed, falling back to unranked records",
			"collection", collection, "err", err)
		return vs.fallbackRecords(ctx, collection, k)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		result, err := scanResult(rows, true)
		if err != nil {
			vs.logger.Warn("vector query scan failed, falling back to unranked records",
				"collection", collection, "err", err)
			return vs.fallbackRecords(ctx, collection, k)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		vs.logger.Warn("vector query failed, falling back to unranked records",
			"collection", collection, "err", err)
		return vs.fallbackRecords(ctx, collection, k)
	}
	return results, nil
}

func (vs *VectorStore) fallbackRecords(ctx context.Context, collection string, k int) ([]models.SearchResult, error) {
	query := fmt.Sprintf(`
		SELECT id, collection, content, content_type, source_url, source_title, metadata, embedding, task_id, project_id, created_at
		FROM %s
		WHERE collection = $1
		LIMIT $2`,
		vs.config.TableName)

	rows, err := vs.pool.Query(ctx, query, collection, k)
	if err != nil {
		return nil, fmt.Errorf("fallback query failed: %w", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		result, err := scanResult(rows, false)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fallback row: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fallback query failed: %w", err)
	}
	return results, nil
}

func scanResult(rows pgx.Rows, withDistance bool) (models.SearchResult, error) {
	var result models.SearchResult
	var embedding pgvector.Vector
	dest := []interface{}{
		&result.Record.ID,
		&result.Record.Collection,
		&result.Record.Content,
		&result.Record.ContentType,
		&result.Record.SourceURL,
		&result.Record.SourceTitle,
		&result.Record.Metadata,
		&embedding,
		&result.Record.TaskID,
		&result.Record.ProjectID,
		&result.Record.CreatedAt,
	}
	if withDistance {
		dest = append(dest, &result.Distance)
	}
	if err := rows.Scan(dest...); err != nil {
		return models.SearchResult{}, err
	}
	result.Record.Embedding = embedding.Slice()
	return result, nil
}

// DeleteCollection removes every record in the collection.
func (vs *VectorStore) DeleteCollection(ctx context.Context, collection string) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE collection = $1", vs.config.TableName)
	if _, err := vs.pool.Exec(ctx, stmt, collection); err != nil {
		return fmt.Errorf("failed to delete collection %q: %w", collection, err)
	}
	return nil
}

// TruncateAll removes every record in every collection.
func (vs *VectorStore) TruncateAll(ctx context.Context) error {
	stmt := fmt.Sprintf("TRUNCATE TABLE %s", vs.config.TableName)
	if _, err := vs.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to truncate store: %w", err)
	}
	return nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	v := make([]rune, 0, len(s))
	for i, r := range s {
		if r == utf8.RuneError {
			if _, size := utf8.DecodeRuneInString(s[i:]); size == 1 {
				continue
			}
		}
		v = append(v, r)
	}
	return string(v)
}
