package biz

import (
	"context"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	ragopts "github.com/kart-io/sentinel-rag/pkg/options/rag"
	errs "github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

// MaxTopK 是单次检索允许的最大结果数。
const MaxTopK = 20

// Retriever 在向量索引上执行租户隔离的相似度检索。
type Retriever struct {
	index   store.VectorIndex
	opts    *ragopts.RetrievalOptions
	metrics *metrics.RAGMetrics
}

// NewRetriever creates a retriever over index.
func NewRetriever(index store.VectorIndex, opts *ragopts.RetrievalOptions, m *metrics.RAGMetrics) *Retriever {
	if opts == nil {
		opts = ragopts.NewOptions().Retrieval
	}
	if m == nil {
		m = metrics.New()
	}
	return &Retriever{index: index, opts: opts, metrics: m}
}

// Search 返回 tenantID 下相似度不低于 threshold 的前 topK 个分块，按相似度降序。
// topK <= 0 时使用默认值。空结果不是错误。
func (r *Retriever) Search(ctx context.Context, vec []float32, tenantID string, topK int, threshold float64) ([]store.ScoredChunk, error) {
	if tenantID == "" {
		return nil, newValidationError("app_id", -1, errs.ErrRAGInvalidRequest, "app_id is required")
	}
	if topK <= 0 {
		topK = r.opts.TopK
	}
	if topK > MaxTopK {
		return nil, newValidationError("top_k", -1, errs.ErrRAGInvalidRequest, "top_k must be between 1 and %d", MaxTopK)
	}
	if threshold < 0 || threshold > 1 {
		return nil, newValidationError("similarity_threshold", -1, errs.ErrRAGInvalidRequest, "similarity_threshold must be between 0 and 1")
	}

	start := time.Now()
	results, err := r.index.Query(ctx, store.QueryParams{
		Embedding: vec,
		TenantID:  tenantID,
		TopK:      topK,
		Threshold: threshold,
	})
	r.metrics.RecordRetrieval(time.Since(start), err)
	if err != nil {
		return nil, fatal(OpRetrieve, err)
	}

	// 后端已过滤，这里再按统一规则排序截断，保证各后端输出一致
	ranked := store.Rank(results, tenantID, topK, threshold)
	logger.Debugw("retrieval finished",
		"app_id", tenantID,
		"top_k", topK,
		"threshold", threshold,
		"results", len(ranked),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return ranked, nil
}
