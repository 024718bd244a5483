package store

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrDimensionMismatch 向量维度与索引配置不一致。
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// IndexEntry 是写入索引的一个分块向量。
type IndexEntry struct {
	ChunkID    string
	DocumentID string
	TenantID   string
	Ordinal    int
	Content    string
	Embedding  []float32
	IndexedAt  time.Time
	Metadata   map[string]string
}

// QueryParams 描述一次相似度检索。
type QueryParams struct {
	Embedding []float32
	TenantID  string
	TopK      int
	// Threshold 为最低相似度，低于该值的结果被丢弃。
	Threshold float64
}

// ScoredChunk 是带相似度的检索结果，Embedding 不回传。
type ScoredChunk struct {
	IndexEntry
	Similarity float64
}

// VectorIndex 定义向量索引接口。
// 所有读写都限定在单个租户内，Upsert 按 ChunkID 覆盖。
type VectorIndex interface {
	// Upsert 批量写入或覆盖分块向量。
	Upsert(ctx context.Context, entries []IndexEntry) error

	// Query 返回按相似度降序排列的结果，最多 TopK 条。
	Query(ctx context.Context, params QueryParams) ([]ScoredChunk, error)

	// Delete 删除租户下的指定分块。
	Delete(ctx context.Context, tenantID string, chunkIDs []string) error

	// Count 返回租户下的分块数量。
	Count(ctx context.Context, tenantID string) (int, error)

	// Close 释放底层连接。
	Close(ctx context.Context) error
}

// Rank filters by tenant and threshold, then sorts by similarity descending.
// Equal similarities put the more recently indexed chunk first, then the
// larger chunk id, so output is deterministic. At most topK results are kept.
func Rank(results []ScoredChunk, tenantID string, topK int, threshold float64) []ScoredChunk {
	out := make([]ScoredChunk, 0, len(results))
	for _, r := range results {
		if r.TenantID != tenantID || r.Similarity < threshold {
			continue
		}
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if !a.IndexedAt.Equal(b.IndexedAt) {
			return a.IndexedAt.After(b.IndexedAt)
		}
		return a.ChunkID > b.ChunkID
	})

	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// clampSimilarity 把余弦相似度限制在 [0, 1]。
func clampSimilarity(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}

func checkDimension(dim int, vec []float32) error {
	if dim > 0 && len(vec) != dim {
		return ErrDimensionMismatch
	}
	return nil
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
