package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

type ClientConfig struct {
	EndpointURL string
	APIKey      string

	// BatchSize caps the number of inputs per API request.
	BatchSize int
	// MaxConcurrent bounds in-flight requests; kept small on purpose
	// to respect upstream rate limits.
	MaxConcurrent int
	// MaxBatchChars is the safety threshold above which a batch is
	// recursively split before dispatch.
	MaxBatchChars int

	Backoff        Backoff
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// Client talks to one external embedding endpoint speaking the
// {"inputs": ..., "normalize": true} wire contract.
type Client struct {
	config ClientConfig
	client *http.Client
	logger *slog.Logger
}

func NewWithConfig(config ClientConfig) (*Client, error) {
	if config.EndpointURL == "" {
		return nil, ErrMissingEndpoint
	}
	if config.BatchSize == 0 {
		config.BatchSize = 32
	}
	if config.MaxConcurrent == 0 {
		config.MaxConcurrent = 4
	}
	if config.MaxBatchChars == 0 {
		config.MaxBatchChars = 40_000
	}
	if config.Backoff.MaxAttempts == 0 {
		config.Backoff = DefaultBackoff()
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 60 * time.Second
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: config.ConnectTimeout,
		}).DialContext,
	}

	return &Client{
		config: config,
		client: &http.Client{
			Timeout:   config.RequestTimeout,
			Transport: transport,
		},
		logger: slog.Default().With("component", "embedder"),
	}, nil
}

// Embed returns the embedding vector for a single text. Failures
// propagate to the caller after retries are exhausted.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.embedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, ErrBadResponse
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in API-sized request batches dispatched on a
// bounded worker pool. The result always has one entry per input, in
// input order; entries whose batch ultimately failed are nil, never
// dropped.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	results := make([][]float32, len(texts))
	if len(texts) == 0 {
		return results
	}

	var mu sync.Mutex

	pool, err := ants.NewPool(c.config.MaxConcurrent)
	if err != nil {
		c.logger.Warn("dispatch pool unavailable, embedding serially", "err", err)
		for start := 0; start < len(texts); start += c.config.BatchSize {
			end := start + c.config.BatchSize
			if end > len(texts) {
				end = len(texts)
			}
			c.embedRange(ctx, texts[start:end], start, results, &mu)
		}
		return results
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for start := 0; start < len(texts); start += c.config.BatchSize {
		end := start + c.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end
		wg.Add(1)
		task := func() {
			defer wg.Done()
			c.embedRange(ctx, texts[start:end], start, results, &mu)
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			c.embedRange(ctx, texts[start:end], start, results, &mu)
		}
	}
	wg.Wait()

	return results
}

// embedRange embeds one request batch into results[base:]. Batches over
// the character threshold, and batches the endpoint rejects with 413,
// are split in half and retried down to per-item calls. Terminal
// failures leave nil placeholders.
func (c *Client) embedRange(ctx context.Context, batch []string, base int, results [][]float32, mu *sync.Mutex) {
	if len(batch) == 0 {
		return
	}

	var chars int
	for _, t := range batch {
		chars += len(t)
	}
	if chars > c.config.MaxBatchChars && len(batch) > 1 {
		mid := len(batch) / 2
		c.embedRange(ctx, batch[:mid], base, results, mu)
		c.embedRange(ctx, batch[mid:], base+mid, results, mu)
		return
	}

	vectors, err := c.embedWithRetry(ctx, batch)
	if err != nil {
		if IsPayloadTooLarge(err) && len(batch) > 1 {
			mid := len(batch) / 2
			c.embedRange(ctx, batch[:mid], base, results, mu)
			c.embedRange(ctx, batch[mid:], base+mid, results, mu)
			return
		}
		c.logger.Warn("embedding batch failed, keeping null placeholders",
			"base", base, "size", len(batch), "err", err)
		return
	}
	if len(vectors) != len(batch) {
		c.logger.Warn("embedding count mismatch, keeping null placeholders",
			"base", base, "want", len(batch), "got", len(vectors))
		return
	}

	mu.Lock()
	copy(results[base:base+len(batch)], vectors)
	mu.Unlock()
}

func (c *Client) embedWithRetry(ctx context.Context, batch []string) ([][]float32, error) {
	var vectors [][]float32
	err := c.config.Backoff.Retry(ctx, func() error {
		v, err := c.request(ctx, batch)
		if err != nil {
			return err
		}
		vectors = v
		return nil
	}, IsTransient)
	return vectors, err
}

func (c *Client) request(ctx context.Context, inputs []string) ([][]float32, error) {
	payload := struct {
		Inputs    interface{} `json:"inputs"`
		Normalize bool        `json:"normalize"`
	}{Normalize: true}
	if len(inputs) == 1 {
		payload.Inputs = inputs[0]
	} else {
		payload.Inputs = inputs
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.EndpointURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	return parseVectors(data)
}

// parseVectors decodes the endpoint's 200 body. Batch calls return
// [][]float, single-item calls may carry one extra nesting level,
// which is unwrapped here.
func parseVectors(data []byte) ([][]float32, error) {
	var flat [][]float32
	if err := json.Unmarshal(data, &flat); err == nil && len(flat) > 0 {
		return flat, nil
	}
	var nested [][][]float32
	if err := json.Unmarshal(data, &nested); err == nil && len(nested) > 0 {
		return nested[0], nil
	}
	return nil, ErrBadResponse
}
