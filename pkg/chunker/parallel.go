package chunker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/substrat/ragpipe/internal/models"
)

// poolShutdownWait bounds how long chunkParallel waits for workers.
// Work still running after the deadline is abandoned and the partial
// results collected so far are returned.
const poolShutdownWait = 60 * time.Second

// chunkParallel splits the text into roughly 2x-parallelism coarse
// segments, chunks each independently on a worker pool, and
// concatenates the results in segment order. Adjacent segments overlap
// by one chunk size so boundary content is not lost; the duplicate
// chunks that overlap produces are removed afterwards.
func (c *Chunker) chunkParallel(text string, chunkSize, chunkOverlap int, contentType models.ContentType) []string {
	segCount := c.config.Workers * 2
	segSize := (len(text) + segCount - 1) / segCount
	if segSize < chunkSize*4 {
		return c.chunkSegment(text, chunkSize, chunkOverlap, contentType)
	}

	type segment struct {
		start, end int
	}
	var segments []segment
	for start := 0; start < len(text); start += segSize {
		end := start + segSize + chunkSize // overlap into the next segment
		if end > len(text) {
			end = len(text)
		}
		segments = append(segments, segment{start, end})
		if end == len(text) {
			break
		}
	}

	pool, err := ants.NewPool(c.config.Workers)
	if err != nil {
		slog.Warn("chunker pool unavailable, falling back to sequential", "err", err)
		return c.chunkSegment(text, chunkSize, chunkOverlap, contentType)
	}
	defer pool.Release()

	var mu sync.Mutex
	results := make([][]string, len(segments))
	var wg sync.WaitGroup

	for i, seg := range segments {
		i, seg := i, seg
		wg.Add(1)
		task := func() {
			defer wg.Done()
			c.config.Pin.Pin(i)
			chunks := c.chunkSegment(text[seg.start:seg.end], chunkSize, chunkOverlap, contentType)
			mu.Lock()
			results[i] = chunks
			mu.Unlock()
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			chunks := c.chunkSegment(text[seg.start:seg.end], chunkSize, chunkOverlap, contentType)
			mu.Lock()
			results[i] = chunks
			mu.Unlock()
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(poolShutdownWait):
		slog.Warn("chunker pool shutdown timed out, returning partial results",
			"segments", len(segments))
	}

	mu.Lock()
	defer mu.Unlock()
	seen := make(map[string]struct{})
	var merged []string
	for _, segChunks := range results {
		for _, chunk := range segChunks {
			if _, dup := seen[chunk]; dup {
				continue
			}
			seen[chunk] = struct{}{}
			merged = append(merged, chunk)
		}
	}
	return merged
}
