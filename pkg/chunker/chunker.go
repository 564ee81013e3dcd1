package chunker

import (
	"runtime"
	"strings"

	"github.com/substrat/ragpipe/internal/models"
	"github.com/substrat/ragpipe/internal/types"
)

const (
	// minChunkSize is the floor for the effective chunk size after
	// content-type adjustment.
	minChunkSize = 100

	// codeSizeFactor shrinks chunks of code content to respect
	// downstream token limits.
	codeSizeFactor = 0.9

	// tokenEstimateCap bounds the effective chunk size at roughly
	// 2000 tokens (~4 chars per token).
	tokenEstimateCap = 8000

	// minForwardStep is the minimum cursor advance per iteration.
	minForwardStep = 16

	// cursorHistory is the oscillation-guard window: if the last
	// cursorHistory raw cut positions collapse into two or fewer
	// distinct values, the cursor is forced forward by chunkSize/2.
	cursorHistory = 5
)

type ChunkerConfig struct {
	// ParallelThreshold is the text length above which chunking is
	// split across segments on a worker pool.
	ParallelThreshold int
	Workers           int
	Pin               types.PinStrategy
}

type Chunker struct {
	config ChunkerConfig
}

func NewWithConfig(config ChunkerConfig) *Chunker {
	if config.ParallelThreshold == 0 {
		config.ParallelThreshold = 1_000_000
	}
	if config.Workers < 1 {
		config.Workers = runtime.NumCPU()
	}
	if config.Pin == nil {
		config.Pin = types.NoopPin{}
	}
	return &Chunker{config: config}
}

func New() *Chunker {
	return NewWithConfig(ChunkerConfig{})
}

// Chunk splits text into bounded, content-aware segments. It never
// returns empty-string entries and always terminates. For texts above
// the parallel threshold, segments are chunked concurrently and the
// result is segment-order concatenation, which may differ from the
// strictly sequential order at segment boundaries.
func (c *Chunker) Chunk(text string, chunkSize, chunkOverlap int, contentType models.ContentType) []string {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize - 1
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if len(text) <= chunkSize {
		return []string{trimmed}
	}

	if contentType == "" {
		contentType = c.DetectContentType(text)
	}

	if len(text) < c.config.ParallelThreshold {
		return c.chunkSegment(text, chunkSize, chunkOverlap, contentType)
	}
	return c.chunkParallel(text, chunkSize, chunkOverlap, contentType)
}

// chunkSegment runs the sequential cursor algorithm over one segment.
func (c *Chunker) chunkSegment(text string, chunkSize, chunkOverlap int, contentType models.ContentType) []string {
	size := effectiveChunkSize(chunkSize, contentType)
	if chunkOverlap >= size {
		chunkOverlap = size - 1
	}
	table := breakpointsFor(contentType)

	var chunks []string
	history := make([]int, 0, cursorHistory)
	cursor := 0

	for cursor < len(text) {
		end := cursor + size
		if end >= len(text) {
			end = len(text)
		} else if cut := findBreakpoint(text, cursor, end, table); cut > cursor {
			end = cut
		}

		if piece := strings.TrimSpace(text[cursor:end]); piece != "" {
			chunks = append(chunks, piece)
		}
		if end >= len(text) {
			break
		}

		// Track the raw cut position, not the clamped cursor: a sticky
		// breakpoint keeps producing the same cut while the clamp still
		// moves the cursor, and only the raw value exposes that.
		rawNext := end - chunkOverlap
		next := rawNext
		if next < cursor+minForwardStep {
			next = cursor + minForwardStep
		}

		history = append(history, rawNext)
		if len(history) > cursorHistory {
			history = history[1:]
		}
		if len(history) == cursorHistory && distinct(history) <= 2 {
			jump := size / 2
			if jump < minForwardStep {
				jump = minForwardStep
			}
			next = cursor + jump
			history = history[:0]
		}
		cursor = next
	}

	return chunks
}

// findBreakpoint scans a bounded trailing window before the naive cut
// for the highest-priority pattern and returns the position just after
// it, or -1 when no pattern lands in the window.
func findBreakpoint(text string, start, naiveEnd int, table []breakpoint) int {
	window := (naiveEnd - start) / 3
	if window < minForwardStep {
		window = minForwardStep
	}
	windowStart := naiveEnd - window
	if windowStart <= start {
		windowStart = start + 1
	}

	region := text[windowStart:naiveEnd]
	for _, bp := range table {
		if idx := strings.LastIndex(region, bp.pattern); idx >= 0 {
			cut := windowStart + idx + len(bp.pattern)
			if cut > start {
				return cut
			}
		}
	}
	return -1
}

func effectiveChunkSize(chunkSize int, contentType models.ContentType) int {
	size := chunkSize
	if contentType == models.ContentTypeCode {
		size = int(float64(size) * codeSizeFactor)
	}
	if size < minChunkSize {
		size = minChunkSize
	}
	if size > tokenEstimateCap {
		size = tokenEstimateCap
	}
	return size
}

func distinct(values []int) int {
	seen := make(map[int]struct{}, len(values))
	for _, v := range values {
		seen[v] = struct{}{}
	}
	return len(seen)
}
