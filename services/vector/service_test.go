package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// axisEmbedder maps each known text to a fixed axis-aligned vector so cosine
// scores in tests are exact.
type axisEmbedder struct {
	vectors map[string][]float32
}

func (e *axisEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func newTestService(t *testing.T) (*Service, *axisEmbedder) {
	t.Helper()
	embedder := &axisEmbedder{vectors: map[string][]float32{
		"go concurrency":  {1, 0, 0},
		"goroutines":      {0.9, 0.1, 0},
		"cooking pasta":   {0, 1, 0},
		"opposite":        {-1, 0, 0},
		"find goroutines": {1, 0, 0},
	}}
	svc, err := NewService(t.TempDir(), embedder)
	require.NoError(t, err)
	return svc, embedder
}

func TestCreateAndSearch(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	count, err := svc.CreateCollection(ctx, "docs", []Document{
		{Text: "go concurrency", Metadata: map[string]any{"topic": "go"}},
		{Text: "goroutines"},
		{Text: "cooking pasta"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	results, err := svc.Search(ctx, "docs", "find goroutines", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "go concurrency", results[0].Text)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Equal(t, "goroutines", results[1].Text)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.Equal(t, map[string]any{"topic": "go"}, results[0].Metadata)
}

func TestSearchClampsNegativeScores(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateCollection(ctx, "docs", []Document{{Text: "opposite"}})
	require.NoError(t, err)

	results, err := svc.Search(ctx, "docs", "find goroutines", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0.0, results[0].Score)
}

func TestSearchUnknownCollection(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Search(context.Background(), "missing", "anything", 3)
	assert.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestAddDocuments(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateCollection(ctx, "docs", []Document{{Text: "go concurrency"}})
	require.NoError(t, err)

	total, err := svc.AddDocuments(ctx, "docs", []Document{{Text: "cooking pasta"}})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	results, err := svc.Search(ctx, "docs", "find goroutines", 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestPersistenceSurvivesCacheLoss(t *testing.T) {
	embedder := &axisEmbedder{vectors: map[string][]float32{
		"go concurrency":  {1, 0, 0},
		"find goroutines": {1, 0, 0},
	}}
	dir := t.TempDir()

	svc, err := NewService(dir, embedder)
	require.NoError(t, err)
	_, err = svc.CreateCollection(context.Background(), "docs", []Document{{Text: "go concurrency"}})
	require.NoError(t, err)

	// New service instance reads the collection back from disk.
	reopened, err := NewService(dir, embedder)
	require.NoError(t, err)
	results, err := reopened.Search(context.Background(), "docs", "find goroutines", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "go concurrency", results[0].Text)
}

func TestDeleteCollection(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateCollection(ctx, "docs", []Document{{Text: "go concurrency"}})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteCollection("docs"))
	_, err = svc.Search(ctx, "docs", "anything", 1)
	assert.ErrorIs(t, err, ErrCollectionNotFound)

	assert.ErrorIs(t, svc.DeleteCollection("docs"), ErrCollectionNotFound)
}

func TestListCollections(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateCollection(ctx, "alpha", []Document{{Text: "go concurrency"}, {Text: "goroutines"}})
	require.NoError(t, err)
	_, err = svc.CreateCollection(ctx, "beta", []Document{{Text: "cooking pasta"}})
	require.NoError(t, err)

	infos, err := svc.ListCollections()
	require.NoError(t, err)
	require.Len(t, infos, 2)

	byName := map[string]int{}
	for _, info := range infos {
		byName[info.Name] = info.DocumentCount
	}
	assert.Equal(t, 2, byName["alpha"])
	assert.Equal(t, 1, byName["beta"])
}

func TestInvalidCollectionName(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateCollection(context.Background(), "../escape", nil)
	assert.Error(t, err)
}
