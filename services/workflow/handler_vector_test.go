package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSearcher struct {
	lastCollection string
	lastQuery      string
	lastTopK       int
	hits           []SearchResult
	err            error
}

func (s *stubSearcher) Search(_ context.Context, collection, query string, topK int) ([]SearchResult, error) {
	s.lastCollection = collection
	s.lastQuery = query
	s.lastTopK = topK
	return s.hits, s.err
}

func TestVectorSearchValidateConfig(t *testing.T) {
	h := &VectorSearchHandler{}

	tests := []struct {
		name    string
		config  map[string]any
		wantErr bool
	}{
		{"valid", map[string]any{"collection": "docs", "query": "q"}, false},
		{"missing collection", map[string]any{"query": "q"}, true},
		{"missing query", map[string]any{"collection": "docs"}, true},
		{"top_k zero", map[string]any{"collection": "docs", "query": "q", "top_k": 0}, true},
		{"top_k negative", map[string]any{"collection": "docs", "query": "q", "top_k": -1}, true},
		{"top_k valid", map[string]any{"collection": "docs", "query": "q", "top_k": 3}, false},
		{"threshold above one", map[string]any{"collection": "docs", "query": "q", "score_threshold": 1.5}, true},
		{"threshold valid", map[string]any{"collection": "docs", "query": "q", "score_threshold": 0.5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.ValidateConfig(tt.config)
			if tt.wantErr {
				var herr *HandlerError
				require.ErrorAs(t, err, &herr)
				assert.Equal(t, "vector_search", herr.Handler)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVectorSearchExecute(t *testing.T) {
	searcher := &stubSearcher{hits: []SearchResult{
		{Text: "go routines", Score: 0.92, Metadata: map[string]any{"lang": "go"}},
		{Text: "threads", Score: 0.40, Metadata: map[string]any{"lang": "java"}},
	}}
	h := &VectorSearchHandler{searcher: searcher}

	out, err := h.Execute(context.Background(), map[string]any{
		"collection": "docs",
		"query":      "about {topic}",
		"top_k":      2,
	}, Inputs{WorkflowInput: map[string]any{"topic": "concurrency"}, UserID: "alice"})
	require.NoError(t, err)

	assert.Equal(t, "alice_docs", searcher.lastCollection)
	assert.Equal(t, "about concurrency", searcher.lastQuery)
	assert.Equal(t, 2, searcher.lastTopK)

	results, ok := out["results"].([]any)
	require.True(t, ok)
	assert.Len(t, results, 2)
	assert.Equal(t, 2, out["total_results"])
	assert.Equal(t, "docs", out["collection"])
	assert.Equal(t, "about concurrency", out["query"])
}

func TestVectorSearchScoreThreshold(t *testing.T) {
	searcher := &stubSearcher{hits: []SearchResult{
		{Text: "strong", Score: 0.9},
		{Text: "weak", Score: 0.2},
	}}
	h := &VectorSearchHandler{searcher: searcher}

	out, err := h.Execute(context.Background(), map[string]any{
		"collection":      "docs",
		"query":           "q",
		"score_threshold": 0.5,
	}, Inputs{})
	require.NoError(t, err)

	results := out["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "strong", results[0].(map[string]any)["text"])
	assert.Equal(t, 0.5, out["score_threshold"])
}

func TestVectorSearchMetadataFilter(t *testing.T) {
	searcher := &stubSearcher{hits: []SearchResult{
		{Text: "keep", Score: 0.9, Metadata: map[string]any{"lang": "go"}},
		{Text: "drop", Score: 0.8, Metadata: map[string]any{"lang": "java"}},
		{Text: "no metadata", Score: 0.7},
	}}
	h := &VectorSearchHandler{searcher: searcher}

	out, err := h.Execute(context.Background(), map[string]any{
		"collection":      "docs",
		"query":           "q",
		"metadata_filter": map[string]any{"lang": "go"},
	}, Inputs{})
	require.NoError(t, err)

	results := out["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "keep", results[0].(map[string]any)["text"])
}

func TestVectorSearchUnscopedWithoutUser(t *testing.T) {
	searcher := &stubSearcher{}
	h := &VectorSearchHandler{searcher: searcher}

	_, err := h.Execute(context.Background(), map[string]any{
		"collection": "docs",
		"query":      "q",
	}, Inputs{})
	require.NoError(t, err)
	assert.Equal(t, "docs", searcher.lastCollection)
}

func TestVectorSearchDefaultTopK(t *testing.T) {
	searcher := &stubSearcher{}
	h := &VectorSearchHandler{searcher: searcher}

	_, err := h.Execute(context.Background(), map[string]any{
		"collection": "docs",
		"query":      "q",
	}, Inputs{})
	require.NoError(t, err)
	assert.Equal(t, defaultTopK, searcher.lastTopK)
}

func TestVectorSearchBackendError(t *testing.T) {
	cause := errors.New("store offline")
	h := &VectorSearchHandler{searcher: &stubSearcher{err: cause}}

	_, err := h.Execute(context.Background(), map[string]any{
		"collection": "docs",
		"query":      "q",
	}, Inputs{})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
}
