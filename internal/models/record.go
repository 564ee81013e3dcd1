package models

import "time"

// ContentType classifies a chunk's content for breakpoint selection.
type ContentType string

const (
	ContentTypeCode ContentType = "code"
	ContentTypeText ContentType = "text"
)

// Chunk is a bounded substring of a document, transient within one
// ingestion call. Index is meaningful only within that call.
type Chunk struct {
	Content     string
	Index       int
	ContentType ContentType
}

// VectorRecord is a persisted chunk with its embedding. Records are
// created once by bulk insert and never updated in place.
type VectorRecord struct {
	ID          string
	Collection  string
	Content     string
	ContentType string
	SourceURL   string
	SourceTitle string
	Metadata    map[string]interface{}
	Embedding   []float32
	TaskID      string
	ProjectID   string
	CreatedAt   time.Time
}

// SearchResult pairs a record with its distance to the query vector.
type SearchResult struct {
	Record   VectorRecord
	Distance float64
}

// Answer is the result of a retrieval-augmented question.
type Answer struct {
	Text    string
	Sources []VectorRecord
}
