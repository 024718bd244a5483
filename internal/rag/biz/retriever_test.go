package biz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/internal/rag/store"
)

func seedIndex(t *testing.T) store.VectorIndex {
	t.Helper()
	idx := store.NewMemoryIndex(3)
	now := time.Now()
	entries := []store.IndexEntry{
		{ChunkID: "a1", TenantID: "A", Embedding: []float32{1, 0, 0}, IndexedAt: now},
		{ChunkID: "a2", TenantID: "A", Embedding: []float32{0.9, 0.1, 0}, IndexedAt: now},
		{ChunkID: "a3", TenantID: "A", Embedding: []float32{0.7, 0.7, 0}, IndexedAt: now},
		{ChunkID: "a4", TenantID: "A", Embedding: []float32{0.5, 0.8, 0}, IndexedAt: now},
		{ChunkID: "a5", TenantID: "A", Embedding: []float32{0, 0, 1}, IndexedAt: now},
		{ChunkID: "b1", TenantID: "B", Embedding: []float32{1, 0, 0}, IndexedAt: now},
	}
	require.NoError(t, idx.Upsert(context.Background(), entries))
	return idx
}

func TestSearchTenantIsolationAndThreshold(t *testing.T) {
	r := NewRetriever(seedIndex(t), nil, nil)

	results, err := r.Search(context.Background(), []float32{1, 0, 0}, "A", 3, 0.2)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, res := range results {
		assert.Equal(t, "A", res.TenantID)
		assert.GreaterOrEqual(t, res.Similarity, 0.2)
		if i > 0 {
			assert.GreaterOrEqual(t, results[i-1].Similarity, res.Similarity)
		}
	}
	assert.Equal(t, "a1", results[0].ChunkID)
}

func TestSearchEmptyIsNotError(t *testing.T) {
	r := NewRetriever(seedIndex(t), nil, nil)

	results, err := r.Search(context.Background(), []float32{1, 0, 0}, "C", 5, 0)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = r.Search(context.Background(), []float32{0, 1, 0}, "A", 5, 0.99)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchValidation(t *testing.T) {
	r := NewRetriever(seedIndex(t), nil, nil)
	ctx := context.Background()

	_, err := r.Search(ctx, []float32{1, 0, 0}, "", 3, 0)
	assert.True(t, IsValidation(err))
	_, err = r.Search(ctx, []float32{1, 0, 0}, "A", 21, 0)
	assert.True(t, IsValidation(err))
	_, err = r.Search(ctx, []float32{1, 0, 0}, "A", 3, 1.5)
	assert.True(t, IsValidation(err))

	results, err := r.Search(ctx, []float32{1, 0, 0}, "A", 0, 0)
	require.NoError(t, err)
	assert.Len(t, results, 5)
}

func TestSearchDimensionMismatchIsFatal(t *testing.T) {
	r := NewRetriever(seedIndex(t), nil, nil)
	_, err := r.Search(context.Background(), []float32{1, 0}, "A", 3, 0)
	var fe *FatalError
	require.ErrorAs(t, err, &fe)
	assert.ErrorIs(t, err, store.ErrDimensionMismatch)
}

func TestSearchTieBreaksByRecency(t *testing.T) {
	idx := store.NewMemoryIndex(3)
	now := time.Now()
	vec := []float32{0.6, 0.8, 0}
	require.NoError(t, idx.Upsert(context.Background(), []store.IndexEntry{
		{ChunkID: "c-older", TenantID: "A", Embedding: vec, IndexedAt: now.Add(-time.Hour)},
		{ChunkID: "a-newest", TenantID: "A", Embedding: vec, IndexedAt: now},
		{ChunkID: "b-middle", TenantID: "A", Embedding: vec, IndexedAt: now.Add(-time.Minute)},
	}))

	results, err := NewRetriever(idx, nil, nil).Search(context.Background(), vec, "A", 3, 0)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "a-newest", results[0].ChunkID)
	assert.Equal(t, "b-middle", results[1].ChunkID)
	assert.Equal(t, "c-older", results[2].ChunkID)
}
