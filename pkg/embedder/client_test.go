package embedder_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/substrat/ragpipe/pkg/embedder"
)

// decodeInputs reads the {"inputs": ..., "normalize": true} wire body,
// where inputs is a bare string for single-item calls.
func decodeInputs(t *testing.T, r *http.Request) []string {
	t.Helper()
	var payload struct {
		Inputs    json.RawMessage `json:"inputs"`
		Normalize bool            `json:"normalize"`
	}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
	assert.True(t, payload.Normalize)

	var single string
	if err := json.Unmarshal(payload.Inputs, &single); err == nil {
		return []string{single}
	}
	var many []string
	require.NoError(t, json.Unmarshal(payload.Inputs, &many))
	return many
}

// lengthVectors answers each input with [len(input), 1] so tests can
// check ordering across batches.
func lengthVectors(inputs []string) [][]float32 {
	out := make([][]float32, len(inputs))
	for i, input := range inputs {
		out[i] = []float32{float32(len(input)), 1}
	}
	return out
}

func newTestClient(t *testing.T, endpoint string, mutate func(*embedder.ClientConfig)) *embedder.Client {
	t.Helper()
	config := embedder.ClientConfig{
		EndpointURL:   endpoint,
		BatchSize:     3,
		MaxConcurrent: 2,
		MaxBatchChars: 40_000,
		Backoff: embedder.Backoff{
			MaxAttempts: 2,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
		},
	}
	if mutate != nil {
		mutate(&config)
	}
	client, err := embedder.NewWithConfig(config)
	require.NoError(t, err)
	return client
}

func TestNewWithConfig_RequiresEndpoint(t *testing.T) {
	_, err := embedder.NewWithConfig(embedder.ClientConfig{})
	assert.ErrorIs(t, err, embedder.ErrMissingEndpoint)
}

func TestEmbed_SingleVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inputs := decodeInputs(t, r)
		require.Len(t, inputs, 1)
		json.NewEncoder(w).Encode([][]float32{{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	vector, err := newTestClient(t, srv.URL, nil).Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vector)
}

func TestEmbed_UnwrapsExtraNesting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([][][]float32{{{0.5, 0.6}}})
	}))
	defer srv.Close()

	vector, err := newTestClient(t, srv.URL, nil).Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.6}, vector)
}

func TestEmbed_BadResponseShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": "wrong model"}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, nil).Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, embedder.ErrBadResponse)
}

func TestEmbed_SurfacesEndpointMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "input validation failed", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, nil).Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input validation failed")
	assert.False(t, embedder.IsTransient(err))
}

func TestEmbed_RetriesOn429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode([][]float32{{1}})
	}))
	defer srv.Close()

	vector, err := newTestClient(t, srv.URL, nil).Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, vector)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmbedBatch_PreservesOrderAcrossBatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(lengthVectors(decodeInputs(t, r)))
	}))
	defer srv.Close()

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = fmt.Sprintf("%0*d", i+1, 0) // length i+1
	}

	results := newTestClient(t, srv.URL, nil).EmbedBatch(context.Background(), texts)
	require.Len(t, results, len(texts))
	for i, vector := range results {
		require.NotNil(t, vector, "index %d", i)
		assert.Equal(t, float32(len(texts[i])), vector[0], "index %d", i)
	}
}

func TestEmbedBatch_AllFailuresKeepPlaceholders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	texts := []string{"one", "two", "three", "four", "five"}
	results := newTestClient(t, srv.URL, nil).EmbedBatch(context.Background(), texts)

	require.Len(t, results, len(texts))
	for i, vector := range results {
		assert.Nil(t, vector, "index %d", i)
	}
}

func TestEmbedBatch_413SplitsDownToSingles(t *testing.T) {
	var mu sync.Mutex
	maxSeen := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inputs := decodeInputs(t, r)
		mu.Lock()
		if len(inputs) > maxSeen {
			maxSeen = len(inputs)
		}
		mu.Unlock()
		if len(inputs) > 1 {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		json.NewEncoder(w).Encode(lengthVectors(inputs))
	}))
	defer srv.Close()

	texts := []string{"aa", "bbb", "cccc"}
	results := newTestClient(t, srv.URL, nil).EmbedBatch(context.Background(), texts)

	require.Len(t, results, len(texts))
	for i, vector := range results {
		require.NotNil(t, vector, "index %d", i)
		assert.Equal(t, float32(len(texts[i])), vector[0], "index %d", i)
	}
}

func TestEmbedBatch_CharThresholdSplitsBeforeDispatch(t *testing.T) {
	var mu sync.Mutex
	maxSeen := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inputs := decodeInputs(t, r)
		mu.Lock()
		if len(inputs) > maxSeen {
			maxSeen = len(inputs)
		}
		mu.Unlock()
		json.NewEncoder(w).Encode(lengthVectors(inputs))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, func(config *embedder.ClientConfig) {
		config.MaxBatchChars = 5
	})

	texts := []string{"aaaa", "bbbb", "cccc"}
	results := client.EmbedBatch(context.Background(), texts)

	require.Len(t, results, len(texts))
	for _, vector := range results {
		require.NotNil(t, vector)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxSeen, "oversized batches should be split before dispatch")
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	client := newTestClient(t, "http://localhost:0", nil)
	assert.Empty(t, client.EmbedBatch(context.Background(), nil))
}
