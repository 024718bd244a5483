package biz

import (
	"context"
	"fmt"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/internal/pkg/rag/textutil"
	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/pkg/infra/pool"
	"github.com/kart-io/sentinel-rag/pkg/llm"
	"github.com/kart-io/sentinel-rag/pkg/llm/resilience"
	ragopts "github.com/kart-io/sentinel-rag/pkg/options/rag"
	errs "github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

// BatchResult 是一个子批次的结果，覆盖 texts[Start:End]。
type BatchResult struct {
	Start   int
	End     int
	Vectors [][]float32
	Err     error
}

// Embedder 是嵌入批处理客户端。
// 熔断器只保护全有或全无的 Embed/EmbedQuery；批处理入口的每个子批次独立重试，
// 其它子批次的失败不会让它提前被拒绝。
type Embedder struct {
	provider llm.EmbeddingProvider
	opts     *ragopts.EmbeddingOptions
	workers  *pool.Pool
	breaker  *resilience.CircuitBreaker
	metrics  *metrics.RAGMetrics
}

// NewEmbedder creates an embedding batch client. workers may be nil, in which
// case sub-batches run one after another.
func NewEmbedder(provider llm.EmbeddingProvider, opts *ragopts.EmbeddingOptions, workers *pool.Pool, m *metrics.RAGMetrics) *Embedder {
	if opts == nil {
		opts = ragopts.NewOptions().Embedding
	}
	if m == nil {
		m = metrics.New()
	}
	return &Embedder{
		provider: provider,
		opts:     opts,
		workers:  workers,
		breaker:  resilience.NewCircuitBreaker("embedding:"+provider.Name(), nil),
		metrics:  m,
	}
}

// Validate 检查每段文本非空且不超过最大长度。
func (e *Embedder) Validate(texts []string) error {
	for i, text := range texts {
		if textutil.IsBlank(text) {
			return newValidationError("texts", i, errs.ErrRAGInvalidRequest, "Text at index %d is empty", i)
		}
		if e.opts.MaxTextLength > 0 && textutil.RuneLen(text) > e.opts.MaxTextLength {
			return newValidationError("texts", i, errs.ErrRAGTextTooLong,
				"Text at index %d is too long (max %d characters)", i, e.opts.MaxTextLength)
		}
	}
	return nil
}

// Embed 返回与 texts 一一对应的向量，任一子批次失败即返回错误。
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	results, err := e.embedAll(ctx, texts, e.opts.MaxBatchSize, e.breaker)
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(texts))
	for _, r := range results {
		if r.Err != nil {
			return nil, r.Err
		}
		copy(vectors[r.Start:r.End], r.Vectors)
	}
	return vectors, nil
}

// EmbedQuery embeds a single query text.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatches 校验后按 MaxBatchSize 切分子批次并发调用供应商。
// 子批次之间互不影响，失败只体现在对应 BatchResult.Err 上。
func (e *Embedder) EmbedBatches(ctx context.Context, texts []string) ([]BatchResult, error) {
	return e.EmbedInBatches(ctx, texts, e.opts.MaxBatchSize)
}

// EmbedInBatches 同 EmbedBatches，子批次大小取 size 与 MaxBatchSize 中较小者。
func (e *Embedder) EmbedInBatches(ctx context.Context, texts []string, size int) ([]BatchResult, error) {
	return e.embedAll(ctx, texts, size, nil)
}

// embedAll 切分并调度子批次，cb 为 nil 时不经过熔断器。
func (e *Embedder) embedAll(ctx context.Context, texts []string, size int, cb *resilience.CircuitBreaker) ([]BatchResult, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := e.Validate(texts); err != nil {
		return nil, err
	}

	if e.opts.MaxBatchSize > 0 && (size <= 0 || size > e.opts.MaxBatchSize) {
		size = e.opts.MaxBatchSize
	}
	if size <= 0 {
		size = len(texts)
	}

	var results []BatchResult
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		results = append(results, BatchResult{Start: start, End: end})
	}

	jobs := make([]func(ctx context.Context) error, len(results))
	for i := range results {
		r := &results[i]
		jobs[i] = func(ctx context.Context) error {
			r.Vectors, r.Err = e.embedBatch(ctx, texts[r.Start:r.End], cb)
			return r.Err
		}
	}

	if e.workers != nil {
		for i, err := range e.workers.Run(ctx, jobs) {
			// 池拒绝或 ctx 取消时 job 没有执行
			if err != nil && results[i].Err == nil {
				results[i].Err = fatal(OpEmbed, err)
			}
		}
		return results, nil
	}

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			break
		}
		_ = job(ctx)
	}
	for i := range results {
		if results[i].Vectors == nil && results[i].Err == nil {
			results[i].Err = fatal(OpEmbed, ctx.Err())
		}
	}
	return results, nil
}

func (e *Embedder) embedBatch(ctx context.Context, batch []string, cb *resilience.CircuitBreaker) ([][]float32, error) {
	var vectors [][]float32
	cfg := &resilience.RetryConfig{
		MaxAttempts:  e.opts.MaxAttempts,
		InitialDelay: e.opts.MinBackoff,
		MaxDelay:     e.opts.MaxBackoff,
		Multiplier:   2.0,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			e.metrics.RecordEmbeddingRetry()
			logger.Warnw("embedding call failed, retrying",
				"provider", e.provider.Name(),
				"attempt", attempt,
				"batch_size", len(batch),
				"delay", delay.String(),
				"error", err.Error(),
			)
		},
	}

	err := resilience.RetryWithCircuitBreaker(ctx, cfg, cb, func(ctx context.Context) error {
		out, err := e.provider.Embed(ctx, batch)
		if err != nil {
			return err
		}
		vectors = out
		return nil
	})
	e.metrics.RecordEmbedding(len(batch), err)
	if err != nil {
		return nil, fatal(OpEmbed, err)
	}

	if len(vectors) != len(batch) {
		return nil, fatal(OpEmbed, fmt.Errorf("%w: %d vectors for %d texts", llm.ErrMalformedResponse, len(vectors), len(batch)))
	}
	if e.opts.Dimension > 0 {
		for i, v := range vectors {
			if len(v) != e.opts.Dimension {
				return nil, fatal(OpEmbed, fmt.Errorf("%w: vector %d has dimension %d, want %d",
					llm.ErrMalformedResponse, i, len(v), e.opts.Dimension))
			}
		}
	}
	return vectors, nil
}
