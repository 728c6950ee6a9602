package workflow

import (
	"context"
	"fmt"
	"log/slog"
)

const defaultTopK = 5

// SearchResult is one ranked hit from the vector store.
type SearchResult struct {
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// VectorSearcher is the similarity-search collaborator. Collection names are
// already user-scoped when they reach it.
type VectorSearcher interface {
	Search(ctx context.Context, collection, query string, topK int) ([]SearchResult, error)
}

// VectorSearchHandler renders a query template and runs a similarity search
// against a user-scoped collection, applying the score threshold and
// metadata-equality filter after retrieval.
//
// Config:
//
//	collection       collection name (required)
//	query            search query (required, templated)
//	top_k            positive int (default 5)
//	score_threshold  0.0-1.0 (optional)
//	metadata_filter  equality map applied to result metadata (optional)
type VectorSearchHandler struct {
	searcher VectorSearcher
}

func (h *VectorSearchHandler) ValidateConfig(config map[string]any) error {
	if _, ok := stringConfig(config, "collection"); !ok {
		return handlerErrf("vector_search", "missing or invalid required config field %q", "collection")
	}
	if _, ok := stringConfig(config, "query"); !ok {
		return handlerErrf("vector_search", "missing or invalid required config field %q", "query")
	}
	if raw, ok := config["top_k"]; ok {
		topK, numeric := toInt(raw)
		if !numeric || topK <= 0 {
			return handlerErrf("vector_search", "invalid top_k %v: must be a positive integer", raw)
		}
	}
	if raw, ok := config["score_threshold"]; ok {
		threshold, numeric := toFloat64(raw)
		if !numeric || threshold < 0 || threshold > 1 {
			return handlerErrf("vector_search", "invalid score_threshold %v: must be between 0.0 and 1.0", raw)
		}
	}
	return nil
}

func (h *VectorSearchHandler) Execute(ctx context.Context, config map[string]any, inputs Inputs) (map[string]any, error) {
	if err := h.ValidateConfig(config); err != nil {
		return nil, err
	}

	collection, _ := stringConfig(config, "collection")
	queryTemplate, _ := stringConfig(config, "query")

	topK := defaultTopK
	if raw, ok := config["top_k"]; ok {
		topK, _ = toInt(raw)
	}
	var threshold *float64
	if raw, ok := config["score_threshold"]; ok {
		t, _ := toFloat64(raw)
		threshold = &t
	}
	filter := mapConfig(config, "metadata_filter")

	query := RenderTemplate(queryTemplate, inputs.Context())

	// Collections are stored per user as {userID}_{collection}.
	scoped := collection
	if inputs.UserID != "" {
		scoped = fmt.Sprintf("%s_%s", inputs.UserID, collection)
	}

	slog.Info("executing vector search", "collection", scoped, "topK", topK)

	hits, err := h.searcher.Search(ctx, scoped, query, topK)
	if err != nil {
		return nil, handlerWrap("vector_search", err, "search in collection %q failed: %v", collection, err)
	}

	results := make([]any, 0, len(hits))
	for _, hit := range hits {
		if threshold != nil && hit.Score < *threshold {
			continue
		}
		if !metadataMatches(hit.Metadata, filter) {
			continue
		}
		results = append(results, map[string]any{
			"text":     hit.Text,
			"score":    hit.Score,
			"metadata": hit.Metadata,
		})
	}

	out := map[string]any{
		"results":       results,
		"query":         query,
		"collection":    collection,
		"total_results": len(results),
		"top_k":         topK,
	}
	if threshold != nil {
		out["score_threshold"] = *threshold
	}
	return out, nil
}

// metadataMatches applies an equality filter; an empty filter matches all.
func metadataMatches(metadata, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := metadata[k]
		if !ok || fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}
