package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storeopts "github.com/kart-io/sentinel-rag/pkg/options/store"
)

var baseTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func entry(id, tenant string, vec []float32, age time.Duration) IndexEntry {
	return IndexEntry{
		ChunkID:    id,
		DocumentID: "doc-" + tenant,
		TenantID:   tenant,
		Content:    "content of " + id,
		Embedding:  vec,
		IndexedAt:  baseTime.Add(-age),
		Metadata:   map[string]string{"email_subject": "subject " + id},
	}
}

func seed(t *testing.T, idx VectorIndex) {
	t.Helper()
	require.NoError(t, idx.Upsert(context.Background(), []IndexEntry{
		entry("a1", "A", []float32{1, 0, 0}, 0),
		entry("a2", "A", []float32{0.9, 0.1, 0}, time.Minute),
		entry("a3", "A", []float32{0.5, 0.5, 0}, 2*time.Minute),
		entry("a4", "A", []float32{0, 1, 0}, 3*time.Minute),
		entry("a5", "A", []float32{0.1, 0.1, 0.9}, 4*time.Minute),
		entry("b1", "B", []float32{1, 0, 0}, 0),
		entry("b2", "B", []float32{0.95, 0.05, 0}, 0),
	}))
}

// runIndexContract 对所有 VectorIndex 实现执行相同的行为检查。
func runIndexContract(t *testing.T, newIndex func(t *testing.T) VectorIndex) {
	ctx := context.Background()

	t.Run("租户隔离与阈值", func(t *testing.T) {
		idx := newIndex(t)
		seed(t, idx)

		res, err := idx.Query(ctx, QueryParams{Embedding: []float32{1, 0, 0}, TenantID: "A", TopK: 3, Threshold: 0.2})
		require.NoError(t, err)
		require.Len(t, res, 3)

		ids := make([]string, len(res))
		for i, r := range res {
			ids[i] = r.ChunkID
			assert.Equal(t, "A", r.TenantID)
			assert.GreaterOrEqual(t, r.Similarity, 0.2)
			assert.LessOrEqual(t, r.Similarity, 1.0+1e-6)
			if i > 0 {
				assert.GreaterOrEqual(t, res[i-1].Similarity, r.Similarity)
			}
		}
		assert.Equal(t, []string{"a1", "a2", "a3"}, ids)
		assert.Equal(t, "subject a1", res[0].Metadata["email_subject"])
		assert.Equal(t, "content of a1", res[0].Content)
	})

	t.Run("阈值过滤掉全部结果不是错误", func(t *testing.T) {
		idx := newIndex(t)
		seed(t, idx)

		res, err := idx.Query(ctx, QueryParams{Embedding: []float32{0, 0, 1}, TenantID: "B", TopK: 5, Threshold: 0.5})
		require.NoError(t, err)
		assert.Empty(t, res)
	})

	t.Run("未知租户返回空", func(t *testing.T) {
		idx := newIndex(t)
		seed(t, idx)

		res, err := idx.Query(ctx, QueryParams{Embedding: []float32{1, 0, 0}, TenantID: "C", TopK: 5})
		require.NoError(t, err)
		assert.Empty(t, res)
	})

	t.Run("相同相似度按索引时间倒序", func(t *testing.T) {
		idx := newIndex(t)
		require.NoError(t, idx.Upsert(ctx, []IndexEntry{
			entry("old", "T", []float32{0, 1, 0}, time.Hour),
			entry("new", "T", []float32{0, 1, 0}, 0),
		}))

		res, err := idx.Query(ctx, QueryParams{Embedding: []float32{0, 1, 0}, TenantID: "T", TopK: 2})
		require.NoError(t, err)
		require.Len(t, res, 2)
		assert.Equal(t, "new", res[0].ChunkID)
		assert.Equal(t, "old", res[1].ChunkID)
	})

	t.Run("Upsert 覆盖同一分块", func(t *testing.T) {
		idx := newIndex(t)
		seed(t, idx)

		updated := entry("a4", "A", []float32{1, 0, 0}, 0)
		updated.Content = "rewritten"
		require.NoError(t, idx.Upsert(ctx, []IndexEntry{updated}))

		n, err := idx.Count(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 5, n)

		res, err := idx.Query(ctx, QueryParams{Embedding: []float32{1, 0, 0}, TenantID: "A", TopK: 1})
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, "a4", res[0].ChunkID)
		assert.Equal(t, "rewritten", res[0].Content)
	})

	t.Run("删除只作用于指定租户", func(t *testing.T) {
		idx := newIndex(t)
		seed(t, idx)

		require.NoError(t, idx.Delete(ctx, "A", []string{"a1", "a2"}))
		nA, err := idx.Count(ctx, "A")
		require.NoError(t, err)
		nB, err := idx.Count(ctx, "B")
		require.NoError(t, err)
		assert.Equal(t, 3, nA)
		assert.Equal(t, 2, nB)
	})

	t.Run("维度不匹配", func(t *testing.T) {
		idx := newIndex(t)
		err := idx.Upsert(ctx, []IndexEntry{entry("x", "A", []float32{1, 0}, 0)})
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})
}

func TestMemoryIndex(t *testing.T) {
	runIndexContract(t, func(t *testing.T) VectorIndex {
		return NewMemoryIndex(3)
	})
}

func TestChromemIndex(t *testing.T) {
	runIndexContract(t, func(t *testing.T) VectorIndex {
		idx, err := NewChromemIndex(&storeopts.ChromemOptions{Collection: "test"}, 3)
		require.NoError(t, err)
		return idx
	})
}

func TestChromemIndexPersistent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	opts := &storeopts.ChromemOptions{Path: dir, Collection: "test"}

	idx, err := NewChromemIndex(opts, 3)
	require.NoError(t, err)
	seed(t, idx)

	reopened, err := NewChromemIndex(opts, 3)
	require.NoError(t, err)
	n, err := reopened.Count(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestRank(t *testing.T) {
	in := []ScoredChunk{
		{IndexEntry: IndexEntry{ChunkID: "x", TenantID: "A"}, Similarity: 0.5},
		{IndexEntry: IndexEntry{ChunkID: "y", TenantID: "B"}, Similarity: 0.9},
		{IndexEntry: IndexEntry{ChunkID: "z", TenantID: "A"}, Similarity: 0.5},
		{IndexEntry: IndexEntry{ChunkID: "w", TenantID: "A"}, Similarity: 0.1},
		{IndexEntry: IndexEntry{ChunkID: "v", TenantID: "A"}, Similarity: 0.8},
	}

	out := Rank(in, "A", 2, 0.2)
	require.Len(t, out, 2)
	assert.Equal(t, "v", out[0].ChunkID)
	// 时间相同时按 ID 倒序
	assert.Equal(t, "z", out[1].ChunkID)

	assert.Len(t, Rank(in, "A", 0, 0), 4)
}

func TestRankPrefersRecentOnEqualSimilarity(t *testing.T) {
	now := time.Now()
	in := []ScoredChunk{
		{IndexEntry: IndexEntry{ChunkID: "old", TenantID: "A", IndexedAt: now.Add(-2 * time.Hour)}, Similarity: 0.7},
		{IndexEntry: IndexEntry{ChunkID: "new", TenantID: "A", IndexedAt: now}, Similarity: 0.7},
		{IndexEntry: IndexEntry{ChunkID: "mid", TenantID: "A", IndexedAt: now.Add(-time.Hour)}, Similarity: 0.7},
		{IndexEntry: IndexEntry{ChunkID: "top", TenantID: "A", IndexedAt: now.Add(-3 * time.Hour)}, Similarity: 0.9},
	}

	out := Rank(in, "A", 0, 0)
	require.Len(t, out, 4)
	ids := make([]string, len(out))
	for i, c := range out {
		ids[i] = c.ChunkID
	}
	// 相似度优先，其次越新越靠前；"old" 的 ID 排序最大，确认不是按 ID 决定
	assert.Equal(t, []string{"top", "new", "mid", "old"}, ids)
}

func TestNewFactory(t *testing.T) {
	ctx := context.Background()

	idx, err := New(ctx, &storeopts.Options{Type: storeopts.TypeMemory}, nil, 3)
	require.NoError(t, err)
	assert.IsType(t, &MemoryIndex{}, idx)

	idx, err = New(ctx, &storeopts.Options{
		Type:    storeopts.TypeChromem,
		Chromem: &storeopts.ChromemOptions{Collection: "c"},
	}, nil, 3)
	require.NoError(t, err)
	assert.IsType(t, &ChromemIndex{}, idx)

	_, err = New(ctx, &storeopts.Options{Type: "faiss"}, nil, 3)
	assert.Error(t, err)
}
