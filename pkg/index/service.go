package index

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/substrat/ragpipe/internal/models"
	"github.com/substrat/ragpipe/internal/types"
)

// EmbeddingDimensions is the canonical vector length. Every persisted
// embedding has exactly this many entries; shorter vectors are
// zero-padded and longer ones truncated.
const EmbeddingDimensions = 1024

const defaultSystemPrompt = "You are a helpful assistant with access to the following documentation. Answer questions based on this context."

type IndexerConfig struct {
	// Collection defaults to one derived from ProjectID, or "default".
	Collection string
	TaskID     string
	ProjectID  string

	ChunkSize    int
	ChunkOverlap int

	// APIBatchSize is the number of chunks embedded per API batch.
	APIBatchSize int
	// CommitFrequency is the number of API batches buffered between
	// bulk commits to the store.
	CommitFrequency int

	EmbeddingDimensions int
	SystemPrompt        string
}

// Service orchestrates Chunker -> dedup filter -> Embedder -> store for
// document ingestion and serves similarity-search and RAG queries.
type Service struct {
	config   IndexerConfig
	chunker  types.Chunker
	embedder types.Embedder
	store    types.VectorStore
	chat     types.ChatModel
	logger   *slog.Logger
}

// NewWithConfig wires the pipeline. chat may be nil when Ask is not
// used.
func NewWithConfig(config IndexerConfig, chunker types.Chunker, embedder types.Embedder, store types.VectorStore, chat types.ChatModel) *Service {
	if config.Collection == "" {
		if config.ProjectID != "" {
			config.Collection = "project_" + config.ProjectID
		} else {
			config.Collection = "default"
		}
	}
	if config.ChunkSize == 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = 200
	}
	if config.APIBatchSize == 0 {
		config.APIBatchSize = 32
	}
	if config.CommitFrequency == 0 {
		config.CommitFrequency = 5
	}
	if config.EmbeddingDimensions == 0 {
		config.EmbeddingDimensions = EmbeddingDimensions
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = defaultSystemPrompt
	}

	return &Service{
		config:   config,
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		chat:     chat,
		logger:   slog.Default().With("component", "index"),
	}
}

// TextOptions carries per-call ingestion parameters.
type TextOptions struct {
	ContentType models.ContentType
	SourceURL   string
	SourceTitle string
	Metadata    map[string]interface{}
	// Force writes even when identical content is already stored.
	Force bool
}

// DocumentOptions extends TextOptions with per-call chunking sizes.
type DocumentOptions struct {
	TextOptions
	ChunkSize    int
	ChunkOverlap int
}

// AddText embeds and stores a single text as one record. Unless Force
// is set, a text whose (collection, content) pair already exists is
// skipped and nil is returned.
func (s *Service) AddText(ctx context.Context, text string, opts TextOptions) (*models.VectorRecord, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	if !opts.Force {
		exists, err := s.store.Exists(ctx, s.config.Collection, text, opts.ContentType)
		if err != nil {
			return nil, fmt.Errorf("existence check: %w", err)
		}
		if exists {
			return nil, nil
		}
	}

	embedding, err := s.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}

	record := models.VectorRecord{
		Collection:  s.config.Collection,
		Content:     text,
		ContentType: string(opts.ContentType),
		SourceURL:   opts.SourceURL,
		SourceTitle: opts.SourceTitle,
		Metadata:    opts.Metadata,
		Embedding:   embedding,
		TaskID:      s.config.TaskID,
		ProjectID:   s.config.ProjectID,
	}
	id, err := s.store.Store(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("storing record: %w", err)
	}
	record.ID = id
	return &record, nil
}

// AddTexts de-duplicates the input list, then stores each text.
// Per-item failures are logged and skipped.
func (s *Service) AddTexts(ctx context.Context, texts []string, opts TextOptions) ([]models.VectorRecord, error) {
	seen := make(map[string]struct{}, len(texts))
	var records []models.VectorRecord

	for _, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}

		record, err := s.AddText(ctx, text, opts)
		if err != nil {
			s.logger.Warn("skipping text after store failure", "err", err)
			continue
		}
		if record != nil {
			records = append(records, *record)
		}
	}
	return records, nil
}

// AddDocument chunks a document, filters out already-stored chunks,
// embeds the remainder in API batches, and bulk-commits the buffered
// results every CommitFrequency batches and at the end. A failed batch
// is logged and skipped; the rest of the document still goes through.
func (s *Service) AddDocument(ctx context.Context, text string, opts DocumentOptions) ([]models.VectorRecord, error) {
	chunkSize := opts.ChunkSize
	if chunkSize == 0 {
		chunkSize = s.config.ChunkSize
	}
	chunkOverlap := opts.ChunkOverlap
	if chunkOverlap == 0 {
		chunkOverlap = s.config.ChunkOverlap
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = s.chunker.DetectContentType(text)
	}

	pieces := s.chunker.Chunk(text, chunkSize, chunkOverlap, contentType)
	if len(pieces) == 0 {
		return nil, nil
	}
	chunkCount := len(pieces)

	chunks := make([]models.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = models.Chunk{Content: piece, Index: i, ContentType: contentType}
	}

	if !opts.Force {
		fresh, err := s.store.FilterNew(ctx, s.config.Collection, chunks)
		if err != nil {
			return nil, fmt.Errorf("dedup filter: %w", err)
		}
		chunks = fresh
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	docMetadata := s.documentMetadata(opts.TextOptions)

	var committed []models.VectorRecord
	var pendingChunks []models.Chunk
	var pendingEmbeddings [][]float32
	batches := 0

	flush := func() {
		if len(pendingChunks) == 0 {
			return
		}
		records, err := s.store.CommitBatch(ctx, s.config.Collection, pendingChunks, pendingEmbeddings, docMetadata, chunkCount)
		if err != nil {
			s.logger.Warn("bulk insert failed, dropping buffered records",
				"chunks", len(pendingChunks), "err", err)
		} else {
			committed = append(committed, records...)
		}
		pendingChunks = pendingChunks[:0]
		pendingEmbeddings = pendingEmbeddings[:0]
	}

	for start := 0; start < len(chunks); start += s.config.APIBatchSize {
		end := start + s.config.APIBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Content
		}

		embeddings := s.embedder.EmbedBatch(ctx, texts)
		failed := 0
		for i := range embeddings {
			if embeddings[i] == nil {
				failed++
				continue
			}
			embeddings[i] = normalizeDimensions(embeddings[i], s.config.EmbeddingDimensions)
		}
		if failed == len(batch) {
			s.logger.Warn("embedding batch failed entirely, skipping",
				"start", start, "size", len(batch))
		} else if failed > 0 {
			s.logger.Warn("embedding batch partially failed",
				"start", start, "size", len(batch), "failed", failed)
		}

		pendingChunks = append(pendingChunks, batch...)
		pendingEmbeddings = append(pendingEmbeddings, embeddings...)

		batches++
		if batches%s.config.CommitFrequency == 0 {
			flush()
		}
	}
	flush()

	return committed, nil
}

// SimilaritySearch embeds the query and returns the k nearest stored
// records. A query-embedding failure propagates: no meaningful search
// can proceed without a query vector.
func (s *Service) SimilaritySearch(ctx context.Context, query string, k int, metric types.DistanceMetric) ([]models.SearchResult, error) {
	embedding, err := s.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return s.store.NearestNeighbors(ctx, s.config.Collection, embedding, k, metric)
}

// Ask answers a question by retrieving the k most relevant chunks and
// feeding them as context to the chat-completion capability.
func (s *Service) Ask(ctx context.Context, question string, k int) (*models.Answer, error) {
	if s.chat == nil {
		return nil, fmt.Errorf("no chat model configured")
	}

	results, err := s.SimilaritySearch(ctx, question, k, types.DistanceCosine)
	if err != nil {
		return nil, err
	}

	var contextBlock strings.Builder
	sources := make([]models.VectorRecord, 0, len(results))
	for _, result := range results {
		contextBlock.WriteString(result.Record.Content)
		contextBlock.WriteString("\n\n")
		sources = append(sources, result.Record)
	}

	user := fmt.Sprintf("\nRelevant documentation:\n%s\nQuestion: %s", contextBlock.String(), question)
	text, err := s.chat.Complete(ctx, s.config.SystemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}

	return &models.Answer{Text: text, Sources: sources}, nil
}

// GenerateEmbedding embeds a text and normalizes the vector to the
// configured dimensionality.
func (s *Service) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return normalizeDimensions(embedding, s.config.EmbeddingDimensions), nil
}

func (s *Service) documentMetadata(opts TextOptions) map[string]interface{} {
	metadata := make(map[string]interface{}, len(opts.Metadata)+4)
	for k, v := range opts.Metadata {
		metadata[k] = v
	}
	if opts.SourceURL != "" {
		metadata["source_url"] = opts.SourceURL
	}
	if opts.SourceTitle != "" {
		metadata["source_title"] = opts.SourceTitle
	}
	if s.config.TaskID != "" {
		metadata["task_id"] = s.config.TaskID
	}
	if s.config.ProjectID != "" {
		metadata["project_id"] = s.config.ProjectID
	}
	return metadata
}

func normalizeDimensions(embedding []float32, dimensions int) []float32 {
	if len(embedding) == dimensions {
		return embedding
	}
	if len(embedding) > dimensions {
		return embedding[:dimensions]
	}
	padded := make([]float32, dimensions)
	copy(padded, embedding)
	return padded
}
