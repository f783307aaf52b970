package index

import (
	"encoding/json"
	"log/slog"
	"os"

	"github.com/coder/hnsw"
)

// The disk cache is one JSON file holding every indexed chunk and its
// vector, tagged with the embedding model that produced them. Vectors from
// one model are meaningless to another, so a mismatched file is ignored
// rather than migrated.
type cacheFile struct {
	Model   string       `json:"model"`
	Entries []cacheEntry `json:"entries"`
}

type cacheEntry struct {
	Hash      string    `json:"hash"`
	Snippet   string    `json:"snippet"`
	Embedding []float32 `json:"embedding"`
}

// EmbeddingModel returns the embedder's model name, or empty when the index
// has no embedder.
func (idx *SnippetIndex) EmbeddingModel() string {
	if idx.embedder == nil {
		return ""
	}
	return idx.embedder.Model()
}

// SaveCache persists the indexed chunks and their vectors to path.
func (idx *SnippetIndex) SaveCache(path string, model string) error {
	cf := cacheFile{Model: model}

	idx.mu.RLock()
	for hash, snippet := range idx.snippets {
		vec, ok := idx.graph.Lookup(hash)
		if !ok {
			continue
		}
		cf.Entries = append(cf.Entries, cacheEntry{
			Hash:      hash,
			Snippet:   snippet,
			Embedding: vec,
		})
	}
	idx.mu.RUnlock()

	data, err := json.Marshal(cf)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadCache restores a saved index from path. A cache written by a
// different embedding model is skipped without error.
func (idx *SnippetIndex) LoadCache(path string, model string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var cf cacheFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return err
	}
	if cf.Model != model {
		slog.Debug("embedding cache model mismatch, ignoring", "cached", cf.Model, "want", model)
		return nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	nodes := make([]hnsw.Node[string], 0, len(cf.Entries))
	for _, e := range cf.Entries {
		nodes = append(nodes, hnsw.MakeNode(e.Hash, e.Embedding))
		idx.snippets[e.Hash] = e.Snippet
	}
	if len(nodes) > 0 {
		idx.graph.Add(nodes...)
	}
	return nil
}
