package index

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/coder/hnsw"
)

const embedBatchSize = 32

// SnippetIndex embeds chunks of synced buffer text into an HNSW graph so
// completions can cite semantically related code from elsewhere in the
// project. All operations are safe for concurrent use.
type SnippetIndex struct {
	embedder   *Embedder
	chunkLines int

	mu       sync.RWMutex
	graph    *hnsw.Graph[string] // keyed by chunk content hash
	snippets map[string]string   // hash -> chunk text
}

// NewSnippetIndex creates a snippet index. chunkLines is the window size
// buffers are split into; windows overlap by half.
func NewSnippetIndex(embedder *Embedder, chunkLines int) *SnippetIndex {
	if chunkLines <= 0 {
		chunkLines = 12
	}
	return &SnippetIndex{
		embedder:   embedder,
		chunkLines: chunkLines,
		graph:      hnsw.NewGraph[string](),
		snippets:   make(map[string]string),
	}
}

// IndexBuffer chunks the buffer content and embeds any chunks not already
// indexed. Chunks are keyed by content hash, so re-syncing an unchanged
// buffer is cheap.
func (idx *SnippetIndex) IndexBuffer(ctx context.Context, name string, lines []string) error {
	if idx.embedder == nil {
		return nil
	}

	chunks := chunkBuffer(lines, idx.chunkLines)
	if len(chunks) == 0 {
		return nil
	}

	// Collect new chunks that need embedding
	idx.mu.RLock()
	var toEmbed []struct {
		hash string
		text string
	}
	for _, chunk := range chunks {
		hash := hashSnippet(chunk)
		if _, exists := idx.graph.Lookup(hash); !exists {
			toEmbed = append(toEmbed, struct {
				hash string
				text string
			}{hash, chunk})
		}
	}
	idx.mu.RUnlock()

	if len(toEmbed) == 0 {
		return nil
	}

	// Embed in batches via API, accumulating results locally
	var allNodes []hnsw.Node[string]
	allSnippets := make(map[string]string, len(toEmbed))

	for i := 0; i < len(toEmbed); i += embedBatchSize {
		end := i + embedBatchSize
		if end > len(toEmbed) {
			end = len(toEmbed)
		}
		batch := toEmbed[i:end]

		texts := make([]string, len(batch))
		for j, b := range batch {
			texts[j] = b.text
		}

		vectors, err := idx.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			slog.Error("batch embed error", "buffer", name, "error", err)
			continue
		}
		if len(vectors) != len(batch) {
			slog.Error("batch embed returned wrong vector count", "buffer", name, "want", len(batch), "got", len(vectors))
			continue
		}

		for j, b := range batch {
			allNodes = append(allNodes, hnsw.MakeNode(b.hash, vectors[j]))
			allSnippets[b.hash] = b.text
		}
	}

	// Single graph insertion under one write lock
	if len(allNodes) > 0 {
		idx.mu.Lock()
		idx.graph.Add(allNodes...)
		for k, v := range allSnippets {
			idx.snippets[k] = v
		}
		idx.mu.Unlock()
	}

	return nil
}

// SearchRelevant embeds the query and returns the topK most similar
// snippets.
func (idx *SnippetIndex) SearchRelevant(ctx context.Context, query string, topK int) ([]string, error) {
	if idx.embedder == nil {
		return nil, nil
	}

	queryVec, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.graph.Len() == 0 || topK <= 0 {
		return nil, nil
	}

	neighbors := idx.graph.Search(queryVec, topK)
	snippets := make([]string, len(neighbors))
	for i, n := range neighbors {
		snippets[i] = idx.snippets[n.Key]
	}
	return snippets, nil
}

// Len returns the number of indexed chunks.
func (idx *SnippetIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.graph.Len()
}

// Close releases resources held by the index.
func (idx *SnippetIndex) Close() {
	if idx.embedder != nil {
		idx.embedder.Close()
	}
}

// chunkBuffer splits buffer lines into overlapping windows of size lines,
// stepping by half a window. Blank-only windows are dropped.
func chunkBuffer(lines []string, size int) []string {
	step := size / 2
	if step < 1 {
		step = 1
	}

	var chunks []string
	for start := 0; start < len(lines); start += step {
		end := start + size
		if end > len(lines) {
			end = len(lines)
		}
		chunk := strings.TrimSpace(strings.Join(lines[start:end], "\n"))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(lines) {
			break
		}
	}
	return chunks
}

func hashSnippet(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h)
}
