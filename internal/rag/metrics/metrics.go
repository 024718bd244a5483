// Package metrics 提供 RAG 服务的业务指标收集。
package metrics

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// RAGMetrics RAG 服务业务指标。
type RAGMetrics struct {
	// 查询指标
	queriesTotal       atomic.Uint64
	queriesCompleted   atomic.Uint64
	queriesNoResults   atomic.Uint64
	queriesFailed      atomic.Uint64
	queriesCacheHits   atomic.Uint64
	queriesCacheMisses atomic.Uint64

	// 检索指标
	retrievalTotal  atomic.Uint64
	retrievalErrors atomic.Uint64

	// 嵌入指标
	embeddingCalls   atomic.Uint64
	embeddingErrors  atomic.Uint64
	embeddingRetries atomic.Uint64
	embeddingTexts   atomic.Uint64

	// LLM 调用指标
	llmCallsTotal       atomic.Uint64
	llmCallsErrors      atomic.Uint64
	llmCallsRetries     atomic.Uint64
	llmTokensPrompt     atomic.Uint64
	llmTokensCompletion atomic.Uint64

	// 索引指标
	documentsIngested   atomic.Uint64
	documentsDuplicated atomic.Uint64
	chunksCompleted     atomic.Uint64
	chunksFailed        atomic.Uint64
	indexRuns           atomic.Uint64

	// 浮点累计值
	mu                sync.Mutex
	retrievalDuration float64
	llmCallsDuration  float64
	llmCostUSD        float64

	startTime time.Time
}

// New creates an empty metrics set.
func New() *RAGMetrics {
	return &RAGMetrics{startTime: time.Now()}
}

// QueryOutcome 查询的终态。
type QueryOutcome string

const (
	OutcomeCompleted QueryOutcome = "completed"
	OutcomeNoResults QueryOutcome = "no_results"
	OutcomeFailed    QueryOutcome = "failed"
)

// RecordQuery 记录一次查询及其终态。
func (m *RAGMetrics) RecordQuery(outcome QueryOutcome) {
	m.queriesTotal.Add(1)
	switch outcome {
	case OutcomeCompleted:
		m.queriesCompleted.Add(1)
	case OutcomeNoResults:
		m.queriesNoResults.Add(1)
	default:
		m.queriesFailed.Add(1)
	}
}

// RecordCache 记录答案缓存命中或未命中。
func (m *RAGMetrics) RecordCache(hit bool) {
	if hit {
		m.queriesCacheHits.Add(1)
		return
	}
	m.queriesCacheMisses.Add(1)
}

// RecordRetrieval 记录检索操作。
func (m *RAGMetrics) RecordRetrieval(duration time.Duration, err error) {
	m.retrievalTotal.Add(1)
	if err != nil {
		m.retrievalErrors.Add(1)
		return
	}
	m.mu.Lock()
	m.retrievalDuration += duration.Seconds()
	m.mu.Unlock()
}

// RecordEmbedding 记录一次嵌入子批次调用。
func (m *RAGMetrics) RecordEmbedding(texts int, err error) {
	m.embeddingCalls.Add(1)
	if err != nil {
		m.embeddingErrors.Add(1)
		return
	}
	m.embeddingTexts.Add(uint64(texts))
}

// RecordEmbeddingRetry 记录嵌入重试。
func (m *RAGMetrics) RecordEmbeddingRetry() {
	m.embeddingRetries.Add(1)
}

// RecordLLMCall 记录 LLM 调用。
func (m *RAGMetrics) RecordLLMCall(duration time.Duration, promptTokens, completionTokens int, costUSD float64, err error) {
	m.llmCallsTotal.Add(1)
	if err != nil {
		m.llmCallsErrors.Add(1)
		return
	}
	if promptTokens > 0 {
		m.llmTokensPrompt.Add(uint64(promptTokens))
	}
	if completionTokens > 0 {
		m.llmTokensCompletion.Add(uint64(completionTokens))
	}

	m.mu.Lock()
	m.llmCallsDuration += duration.Seconds()
	m.llmCostUSD += costUSD
	m.mu.Unlock()
}

// RecordLLMRetry 记录 LLM 重试。
func (m *RAGMetrics) RecordLLMRetry() {
	m.llmCallsRetries.Add(1)
}

// RecordIngest 记录文档写入，duplicate 表示命中幂等记录。
func (m *RAGMetrics) RecordIngest(duplicate bool) {
	if duplicate {
		m.documentsDuplicated.Add(1)
		return
	}
	m.documentsIngested.Add(1)
}

// RecordIndexing 记录一次待处理分块的索引。
func (m *RAGMetrics) RecordIndexing(completed, failed int) {
	m.indexRuns.Add(1)
	m.chunksCompleted.Add(uint64(completed))
	m.chunksFailed.Add(uint64(failed))
}

type sample struct {
	name  string
	help  string
	kind  string
	value string
}

func (m *RAGMetrics) samples() []sample {
	m.mu.Lock()
	retrievalDuration := m.retrievalDuration
	llmDuration := m.llmCallsDuration
	cost := m.llmCostUSD
	m.mu.Unlock()

	hits := m.queriesCacheHits.Load()
	misses := m.queriesCacheMisses.Load()
	hitRate := 0.0
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}

	counter := func(name, help string, v uint64) sample {
		return sample{name: name, help: help, kind: "counter", value: fmt.Sprintf("%d", v)}
	}

	return []sample{
		counter("queries_total", "Total number of RAG queries.", m.queriesTotal.Load()),
		counter("queries_completed_total", "Queries answered from retrieved context.", m.queriesCompleted.Load()),
		counter("queries_no_results_total", "Queries with no chunk above the threshold.", m.queriesNoResults.Load()),
		counter("queries_failed_total", "Queries that ended in an error.", m.queriesFailed.Load()),
		counter("queries_cache_hits_total", "Number of answer cache hits.", hits),
		counter("queries_cache_misses_total", "Number of answer cache misses.", misses),
		{name: "cache_hit_rate", help: "Answer cache hit rate (0-1).", kind: "gauge", value: fmt.Sprintf("%.4f", hitRate)},
		counter("retrieval_total", "Total number of retrievals.", m.retrievalTotal.Load()),
		counter("retrieval_errors_total", "Number of retrieval errors.", m.retrievalErrors.Load()),
		{name: "retrieval_duration_seconds_total", help: "Total retrieval duration.", kind: "counter", value: fmt.Sprintf("%.6f", retrievalDuration)},
		counter("embedding_calls_total", "Embedding sub-batch calls.", m.embeddingCalls.Load()),
		counter("embedding_errors_total", "Embedding sub-batches that failed.", m.embeddingErrors.Load()),
		counter("embedding_retries_total", "Embedding call retries.", m.embeddingRetries.Load()),
		counter("embedding_texts_total", "Texts embedded.", m.embeddingTexts.Load()),
		counter("llm_calls_total", "Total number of LLM calls.", m.llmCallsTotal.Load()),
		counter("llm_calls_errors_total", "Number of LLM call errors.", m.llmCallsErrors.Load()),
		counter("llm_calls_retries_total", "Number of LLM call retries.", m.llmCallsRetries.Load()),
		{name: "llm_calls_duration_seconds_total", help: "Total LLM call duration.", kind: "counter", value: fmt.Sprintf("%.6f", llmDuration)},
		counter("llm_tokens_prompt_total", "Total prompt tokens.", m.llmTokensPrompt.Load()),
		counter("llm_tokens_completion_total", "Total completion tokens.", m.llmTokensCompletion.Load()),
		{name: "llm_cost_usd_total", help: "Estimated LLM cost in USD.", kind: "counter", value: fmt.Sprintf("%.6f", cost)},
		counter("documents_ingested_total", "Documents chunked and stored.", m.documentsIngested.Load()),
		counter("documents_duplicate_total", "Ingest requests resolved by an idempotency record.", m.documentsDuplicated.Load()),
		counter("index_runs_total", "Pending-chunk indexing passes.", m.indexRuns.Load()),
		counter("chunks_completed_total", "Chunks embedded and indexed.", m.chunksCompleted.Load()),
		counter("chunks_failed_total", "Chunks marked failed.", m.chunksFailed.Load()),
		{name: "uptime_seconds", help: "Seconds since the metrics were created.", kind: "gauge", value: fmt.Sprintf("%.0f", time.Since(m.startTime).Seconds())},
	}
}

// Export 导出 Prometheus 格式指标。
func (m *RAGMetrics) Export(namespace, subsystem string) string {
	prefix := namespace
	if subsystem != "" {
		prefix = prefix + "_" + subsystem
	}

	var sb strings.Builder
	for _, s := range m.samples() {
		name := prefix + "_" + s.name
		fmt.Fprintf(&sb, "# HELP %s %s\n", name, s.help)
		fmt.Fprintf(&sb, "# TYPE %s %s\n", name, s.kind)
		fmt.Fprintf(&sb, "%s %s\n\n", name, s.value)
	}
	return sb.String()
}

// Stats 返回指标快照，用于 JSON 接口。
func (m *RAGMetrics) Stats() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	return map[string]any{
		"queries": map[string]uint64{
			"total":        m.queriesTotal.Load(),
			"completed":    m.queriesCompleted.Load(),
			"no_results":   m.queriesNoResults.Load(),
			"failed":       m.queriesFailed.Load(),
			"cache_hits":   m.queriesCacheHits.Load(),
			"cache_misses": m.queriesCacheMisses.Load(),
		},
		"embedding": map[string]uint64{
			"calls":   m.embeddingCalls.Load(),
			"errors":  m.embeddingErrors.Load(),
			"retries": m.embeddingRetries.Load(),
			"texts":   m.embeddingTexts.Load(),
		},
		"llm": map[string]any{
			"calls":             m.llmCallsTotal.Load(),
			"errors":            m.llmCallsErrors.Load(),
			"retries":           m.llmCallsRetries.Load(),
			"prompt_tokens":     m.llmTokensPrompt.Load(),
			"completion_tokens": m.llmTokensCompletion.Load(),
			"cost_usd":          m.llmCostUSD,
		},
		"indexing": map[string]uint64{
			"documents":  m.documentsIngested.Load(),
			"duplicates": m.documentsDuplicated.Load(),
			"completed":  m.chunksCompleted.Load(),
			"failed":     m.chunksFailed.Load(),
		},
		"uptime_seconds": time.Since(m.startTime).Seconds(),
	}
}
