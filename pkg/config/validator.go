package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	if c.Embeddings.EndpointURL == "" {
		errors = append(errors, ValidationError{
			Field:   "embeddings.endpoint_url",
			Message: "embedding endpoint URL is required",
		})
	} else if _, err := url.Parse(c.Embeddings.EndpointURL); err != nil {
		errors = append(errors, ValidationError{
			Field:   "embeddings.endpoint_url",
			Message: "invalid embedding endpoint URL",
		})
	}

	if c.Embeddings.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "embeddings.batch_size",
			Message: "batch_size must be positive",
		})
	}

	if c.Embeddings.MaxConcurrent < 1 {
		errors = append(errors, ValidationError{
			Field:   "embeddings.max_concurrent",
			Message: "max_concurrent must be positive",
		})
	}

	if c.Embeddings.MaxRetries < 1 {
		errors = append(errors, ValidationError{
			Field:   "embeddings.max_retries",
			Message: "max_retries must be positive",
		})
	}

	if c.Embeddings.Dimensions < 1 {
		errors = append(errors, ValidationError{
			Field:   "embeddings.dimensions",
			Message: "dimensions must be positive",
		})
	}

	if c.Database.URL != "" {
		if _, err := url.Parse(c.Database.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Database.VectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.vector_dim",
			Message: "vector_dim must be positive",
		})
	}

	if c.Database.FilterBatch < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.filter_batch",
			Message: "filter_batch must be positive",
		})
	}

	if c.Chunker.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "chunker.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	if c.Chunker.ChunkOverlap < 0 || c.Chunker.ChunkOverlap >= c.Chunker.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "chunker.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_size",
		})
	}

	if c.Indexer.CommitFrequency < 1 {
		errors = append(errors, ValidationError{
			Field:   "indexer.commit_frequency",
			Message: "commit_frequency must be positive",
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 4096 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 4096",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 1",
		})
	}

	if _, err := url.Parse(c.LLM.BaseURL); err != nil {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "invalid Ollama base URL",
		})
	}

	if c.Loader.MaxDepth < 1 {
		errors = append(errors, ValidationError{
			Field:   "loader.max_depth",
			Message: "max_depth must be positive",
		})
	}

	if c.Loader.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "loader.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	return errors
}
