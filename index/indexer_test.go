package index

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// fakeEmbedAPI serves deterministic embeddings and counts how many texts
// were embedded.
type fakeEmbedAPI struct {
	mu       sync.Mutex
	requests int
	texts    int
}

func (f *fakeEmbedAPI) handler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Input any    `json:"input"`
		Model string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var texts []string
	switch in := req.Input.(type) {
	case string:
		texts = []string{in}
	case []any:
		for _, v := range in {
			texts = append(texts, v.(string))
		}
	}

	f.mu.Lock()
	f.requests++
	f.texts += len(texts)
	f.mu.Unlock()

	type item struct {
		Embedding []float32 `json:"embedding"`
	}
	var data []item
	for _, text := range texts {
		data = append(data, item{Embedding: []float32{float32(len(text)), 1, 0}})
	}
	json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func (f *fakeEmbedAPI) Texts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.texts
}

func newTestIndex(t *testing.T) (*SnippetIndex, *fakeEmbedAPI) {
	t.Helper()
	api := &fakeEmbedAPI{}
	ts := httptest.NewServer(http.HandlerFunc(api.handler))
	t.Cleanup(ts.Close)

	embedder := NewEmbedder(ts.URL, "test-key", "test-embed-model")
	idx := NewSnippetIndex(embedder, 4)
	t.Cleanup(idx.Close)
	return idx, api
}

func numberedLines(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i)
	}
	return lines
}

func TestChunkBufferOverlappingWindows(t *testing.T) {
	chunks := chunkBuffer(numberedLines(8), 4)

	// Windows of 4 lines stepping by 2: [0:4] [2:6] [4:8].
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %v", len(chunks), chunks)
	}
	if !strings.HasPrefix(chunks[0], "line 0") || !strings.HasPrefix(chunks[1], "line 2") {
		t.Errorf("unexpected chunk starts: %v", chunks)
	}
}

func TestChunkBufferDropsBlankWindows(t *testing.T) {
	chunks := chunkBuffer([]string{"", "  ", "", ""}, 4)
	if len(chunks) != 0 {
		t.Errorf("expected no chunks from blank lines, got %v", chunks)
	}
}

func TestChunkBufferShortBuffer(t *testing.T) {
	chunks := chunkBuffer([]string{"only line"}, 12)
	if len(chunks) != 1 || chunks[0] != "only line" {
		t.Errorf("expected single chunk, got %v", chunks)
	}
}

func TestIndexBufferDeduplicatesByContent(t *testing.T) {
	idx, api := newTestIndex(t)

	lines := numberedLines(8)
	if err := idx.IndexBuffer(context.Background(), "a.go", lines); err != nil {
		t.Fatal(err)
	}
	first := api.Texts()
	if first == 0 {
		t.Fatal("expected chunks to be embedded")
	}
	if idx.Len() == 0 {
		t.Fatal("expected indexed chunks")
	}

	// Re-syncing unchanged content embeds nothing new.
	if err := idx.IndexBuffer(context.Background(), "a.go", lines); err != nil {
		t.Fatal(err)
	}
	if got := api.Texts(); got != first {
		t.Errorf("expected no new embeddings on re-sync, got %d (was %d)", got, first)
	}
}

func TestSearchRelevantReturnsSnippet(t *testing.T) {
	idx, _ := newTestIndex(t)

	lines := []string{"func helper() {", "\treturn", "}"}
	if err := idx.IndexBuffer(context.Background(), "util.go", lines); err != nil {
		t.Fatal(err)
	}

	got, err := idx.SearchRelevant(context.Background(), "helper", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !strings.Contains(got[0], "func helper()") {
		t.Errorf("unexpected search result: %v", got)
	}
}

func TestSearchRelevantEmptyIndex(t *testing.T) {
	idx, _ := newTestIndex(t)

	got, err := idx.SearchRelevant(context.Background(), "anything", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected no results from empty index, got %v", got)
	}
}

func TestCacheRoundTrip(t *testing.T) {
	idx, _ := newTestIndex(t)

	if err := idx.IndexBuffer(context.Background(), "a.go", numberedLines(8)); err != nil {
		t.Fatal(err)
	}
	want := idx.Len()

	path := filepath.Join(t.TempDir(), "embeddings.json")
	if err := idx.SaveCache(path, "test-embed-model"); err != nil {
		t.Fatal(err)
	}

	loaded := NewSnippetIndex(nil, 4)
	if err := loaded.LoadCache(path, "test-embed-model"); err != nil {
		t.Fatal(err)
	}
	if got := loaded.Len(); got != want {
		t.Errorf("expected %d chunks after load, got %d", want, got)
	}
}

func TestCacheModelMismatchSkipped(t *testing.T) {
	idx, _ := newTestIndex(t)

	if err := idx.IndexBuffer(context.Background(), "a.go", numberedLines(8)); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "embeddings.json")
	if err := idx.SaveCache(path, "test-embed-model"); err != nil {
		t.Fatal(err)
	}

	loaded := NewSnippetIndex(nil, 4)
	if err := loaded.LoadCache(path, "some-other-model"); err != nil {
		t.Fatal(err)
	}
	if got := loaded.Len(); got != 0 {
		t.Errorf("expected mismatched cache to be skipped, got %d chunks", got)
	}
}

func TestIndexBufferShortEmbedResponse(t *testing.T) {
	// API answers 200 but with a single vector regardless of batch size.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{1, 0, 0}}},
		})
	}))
	t.Cleanup(ts.Close)

	idx := NewSnippetIndex(NewEmbedder(ts.URL, "test-key", "test-embed-model"), 4)
	defer idx.Close()

	// The truncated batch must be dropped, not indexed or panicked on.
	if err := idx.IndexBuffer(context.Background(), "a.go", numberedLines(8)); err != nil {
		t.Fatal(err)
	}
	if got := idx.Len(); got != 0 {
		t.Errorf("expected truncated batch skipped, got %d chunks", got)
	}
}

func TestIndexBufferWithoutEmbedder(t *testing.T) {
	idx := NewSnippetIndex(nil, 4)
	defer idx.Close()

	if err := idx.IndexBuffer(context.Background(), "a.go", numberedLines(8)); err != nil {
		t.Fatal(err)
	}
	if got := idx.Len(); got != 0 {
		t.Errorf("expected no-op without embedder, got %d chunks", got)
	}
}
