// Package rag provides RAG (Retrieval-Augmented Generation) pipeline options.
package rag

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// History backends.
const (
	HistoryMemory = "memory"
	HistoryRedis  = "redis"
	HistoryDB     = "db"
)

// Options contains RAG pipeline configuration.
type Options struct {
	Chunking   *ChunkingOptions   `json:"chunking" mapstructure:"chunking"`
	Embedding  *EmbeddingOptions  `json:"embedding" mapstructure:"embedding"`
	Retrieval  *RetrievalOptions  `json:"retrieval" mapstructure:"retrieval"`
	Generation *GenerationOptions `json:"generation" mapstructure:"generation"`
	Citation   *CitationOptions   `json:"citation" mapstructure:"citation"`
	History    *HistoryOptions    `json:"history" mapstructure:"history"`
	Cache      *CacheOptions      `json:"cache" mapstructure:"cache"`

	// QueryTimeout bounds one query end to end.
	QueryTimeout time.Duration `json:"query-timeout" mapstructure:"query-timeout"`
}

// ChunkingOptions 分块配置，单位均为估算 token。
type ChunkingOptions struct {
	ChunkSize          int  `json:"chunk-size" mapstructure:"chunk-size"`
	ChunkOverlap       int  `json:"chunk-overlap" mapstructure:"chunk-overlap"`
	PreserveSentences  bool `json:"preserve-sentences" mapstructure:"preserve-sentences"`
	PreserveParagraphs bool `json:"preserve-paragraphs" mapstructure:"preserve-paragraphs"`
}

// EmbeddingOptions configures the embedding batch client.
type EmbeddingOptions struct {
	Dimension      int           `json:"dimension" mapstructure:"dimension"`
	MaxBatchSize   int           `json:"max-batch-size" mapstructure:"max-batch-size"`
	MaxTextLength  int           `json:"max-text-length" mapstructure:"max-text-length"`
	IndexBatchSize int           `json:"index-batch-size" mapstructure:"index-batch-size"`
	Concurrency    int           `json:"concurrency" mapstructure:"concurrency"`
	MaxAttempts    int           `json:"max-attempts" mapstructure:"max-attempts"`
	MinBackoff     time.Duration `json:"min-backoff" mapstructure:"min-backoff"`
	MaxBackoff     time.Duration `json:"max-backoff" mapstructure:"max-backoff"`
}

// RetrievalOptions 检索默认值，请求可覆盖。
type RetrievalOptions struct {
	TopK                int     `json:"top-k" mapstructure:"top-k"`
	SimilarityThreshold float64 `json:"similarity-threshold" mapstructure:"similarity-threshold"`
}

// GenerationOptions configures prompt composition and the answer generator.
type GenerationOptions struct {
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max-tokens" mapstructure:"max-tokens"`
	// InputTokenBudget 是 prompt 的估算 token 上限。
	InputTokenBudget int           `json:"input-token-budget" mapstructure:"input-token-budget"`
	HistoryTurns     int           `json:"history-turns" mapstructure:"history-turns"`
	MaxAttempts      int           `json:"max-attempts" mapstructure:"max-attempts"`
	MinBackoff       time.Duration `json:"min-backoff" mapstructure:"min-backoff"`
	MaxBackoff       time.Duration `json:"max-backoff" mapstructure:"max-backoff"`
}

// CitationOptions configures citation links.
type CitationOptions struct {
	BaseURL string `json:"base-url" mapstructure:"base-url"`
}

// HistoryOptions selects the conversation history backend.
type HistoryOptions struct {
	Backend  string        `json:"backend" mapstructure:"backend"`
	MaxTurns int           `json:"max-turns" mapstructure:"max-turns"`
	TTL      time.Duration `json:"ttl" mapstructure:"ttl"`
}

// CacheOptions configures the redis answer and embedding caches.
type CacheOptions struct {
	AnswerEnabled    bool          `json:"answer-enabled" mapstructure:"answer-enabled"`
	AnswerTTL        time.Duration `json:"answer-ttl" mapstructure:"answer-ttl"`
	EmbeddingEnabled bool          `json:"embedding-enabled" mapstructure:"embedding-enabled"`
	EmbeddingTTL     time.Duration `json:"embedding-ttl" mapstructure:"embedding-ttl"`
	KeyPrefix        string        `json:"key-prefix" mapstructure:"key-prefix"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Chunking: &ChunkingOptions{
			ChunkSize:         800,
			ChunkOverlap:      200,
			PreserveSentences: true,
		},
		Embedding: &EmbeddingOptions{
			Dimension:      1536,
			MaxBatchSize:   2048,
			MaxTextLength:  8000,
			IndexBatchSize: 100,
			Concurrency:    4,
			MaxAttempts:    3,
			MinBackoff:     2 * time.Second,
			MaxBackoff:     10 * time.Second,
		},
		Retrieval: &RetrievalOptions{
			TopK:                5,
			SimilarityThreshold: 0,
		},
		Generation: &GenerationOptions{
			Temperature:      0.7,
			MaxTokens:        1000,
			InputTokenBudget: 6000,
			HistoryTurns:     3,
			MaxAttempts:      3,
			MinBackoff:       2 * time.Second,
			MaxBackoff:       10 * time.Second,
		},
		Citation: &CitationOptions{
			BaseURL: "https://localhost:3000",
		},
		History: &HistoryOptions{
			Backend:  HistoryMemory,
			MaxTurns: 50,
			TTL:      7 * 24 * time.Hour,
		},
		Cache: &CacheOptions{
			AnswerEnabled:    false,
			AnswerTTL:        10 * time.Minute,
			EmbeddingEnabled: false,
			EmbeddingTTL:     24 * time.Hour,
			KeyPrefix:        "rag:",
		},
		QueryTimeout: 90 * time.Second,
	}
}

// AddFlags adds flags for RAG options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	_ = o.Complete()
	p := options.Join(prefixes...)

	fs.IntVar(&o.Chunking.ChunkSize, p+"chunking.chunk-size", o.Chunking.ChunkSize, "Target chunk size in estimated tokens.")
	fs.IntVar(&o.Chunking.ChunkOverlap, p+"chunking.chunk-overlap", o.Chunking.ChunkOverlap, "Overlap carried into the next chunk, in estimated tokens.")
	fs.BoolVar(&o.Chunking.PreserveSentences, p+"chunking.preserve-sentences", o.Chunking.PreserveSentences, "Split on sentence boundaries.")
	fs.BoolVar(&o.Chunking.PreserveParagraphs, p+"chunking.preserve-paragraphs", o.Chunking.PreserveParagraphs, "Split on blank-line paragraph boundaries first.")

	fs.IntVar(&o.Embedding.Dimension, p+"embedding.dimension", o.Embedding.Dimension, "Embedding vector dimension.")
	fs.IntVar(&o.Embedding.MaxBatchSize, p+"embedding.max-batch-size", o.Embedding.MaxBatchSize, "Maximum texts per provider call.")
	fs.IntVar(&o.Embedding.MaxTextLength, p+"embedding.max-text-length", o.Embedding.MaxTextLength, "Maximum characters per text.")
	fs.IntVar(&o.Embedding.IndexBatchSize, p+"embedding.index-batch-size", o.Embedding.IndexBatchSize, "Pending chunks embedded per sub-batch during indexing.")
	fs.IntVar(&o.Embedding.Concurrency, p+"embedding.concurrency", o.Embedding.Concurrency, "Sub-batches in flight at once.")
	fs.IntVar(&o.Embedding.MaxAttempts, p+"embedding.max-attempts", o.Embedding.MaxAttempts, "Attempts per sub-batch on transient errors.")
	fs.DurationVar(&o.Embedding.MinBackoff, p+"embedding.min-backoff", o.Embedding.MinBackoff, "Initial retry backoff.")
	fs.DurationVar(&o.Embedding.MaxBackoff, p+"embedding.max-backoff", o.Embedding.MaxBackoff, "Maximum retry backoff.")

	fs.IntVar(&o.Retrieval.TopK, p+"retrieval.top-k", o.Retrieval.TopK, "Default number of chunks retrieved.")
	fs.Float64Var(&o.Retrieval.SimilarityThreshold, p+"retrieval.similarity-threshold", o.Retrieval.SimilarityThreshold, "Default minimum similarity.")

	fs.Float64Var(&o.Generation.Temperature, p+"generation.temperature", o.Generation.Temperature, "Sampling temperature.")
	fs.IntVar(&o.Generation.MaxTokens, p+"generation.max-tokens", o.Generation.MaxTokens, "Maximum output tokens.")
	fs.IntVar(&o.Generation.InputTokenBudget, p+"generation.input-token-budget", o.Generation.InputTokenBudget, "Prompt budget in estimated tokens.")
	fs.IntVar(&o.Generation.HistoryTurns, p+"generation.history-turns", o.Generation.HistoryTurns, "Conversation turns included in the prompt.")
	fs.IntVar(&o.Generation.MaxAttempts, p+"generation.max-attempts", o.Generation.MaxAttempts, "Attempts per chat call on transient errors.")
	fs.DurationVar(&o.Generation.MinBackoff, p+"generation.min-backoff", o.Generation.MinBackoff, "Initial retry backoff.")
	fs.DurationVar(&o.Generation.MaxBackoff, p+"generation.max-backoff", o.Generation.MaxBackoff, "Maximum retry backoff.")

	fs.StringVar(&o.Citation.BaseURL, p+"citation.base-url", o.Citation.BaseURL, "Dashboard base URL for citation links.")

	fs.StringVar(&o.History.Backend, p+"history.backend", o.History.Backend, "Conversation history store (memory, redis, db).")
	fs.IntVar(&o.History.MaxTurns, p+"history.max-turns", o.History.MaxTurns, "Turns retained per thread by the redis store.")
	fs.DurationVar(&o.History.TTL, p+"history.ttl", o.History.TTL, "Thread expiry for the redis store.")

	fs.BoolVar(&o.Cache.AnswerEnabled, p+"cache.answer-enabled", o.Cache.AnswerEnabled, "Cache answers of thread-less queries in redis.")
	fs.DurationVar(&o.Cache.AnswerTTL, p+"cache.answer-ttl", o.Cache.AnswerTTL, "Answer cache TTL.")
	fs.BoolVar(&o.Cache.EmbeddingEnabled, p+"cache.embedding-enabled", o.Cache.EmbeddingEnabled, "Cache embeddings in redis.")
	fs.DurationVar(&o.Cache.EmbeddingTTL, p+"cache.embedding-ttl", o.Cache.EmbeddingTTL, "Embedding cache TTL.")
	fs.StringVar(&o.Cache.KeyPrefix, p+"cache.key-prefix", o.Cache.KeyPrefix, "Redis key prefix.")

	fs.DurationVar(&o.QueryTimeout, p+"query-timeout", o.QueryTimeout, "Overall timeout of one query.")
}

// Validate validates the RAG options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}
	_ = o.Complete()

	var errs []error
	c := o.Chunking
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("rag.chunking.chunk-size must be positive"))
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		errs = append(errs, fmt.Errorf("rag.chunking.chunk-overlap must be within [0, chunk-size)"))
	}

	e := o.Embedding
	if e.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("rag.embedding.dimension must be positive"))
	}
	if e.MaxBatchSize <= 0 || e.IndexBatchSize <= 0 || e.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("rag.embedding batch sizes and concurrency must be positive"))
	}
	if e.MaxTextLength <= 0 {
		errs = append(errs, fmt.Errorf("rag.embedding.max-text-length must be positive"))
	}
	errs = append(errs, validateRetry("rag.embedding", e.MaxAttempts, e.MinBackoff, e.MaxBackoff)...)

	r := o.Retrieval
	if r.TopK < 1 || r.TopK > 20 {
		errs = append(errs, fmt.Errorf("rag.retrieval.top-k must be within 1..20"))
	}
	if r.SimilarityThreshold < 0 || r.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("rag.retrieval.similarity-threshold must be within 0..1"))
	}

	g := o.Generation
	if g.Temperature < 0 || g.Temperature > 2 {
		errs = append(errs, fmt.Errorf("rag.generation.temperature must be within 0..2"))
	}
	if g.MaxTokens <= 0 || g.InputTokenBudget <= 0 {
		errs = append(errs, fmt.Errorf("rag.generation token limits must be positive"))
	}
	if g.HistoryTurns < 0 {
		errs = append(errs, fmt.Errorf("rag.generation.history-turns must not be negative"))
	}
	errs = append(errs, validateRetry("rag.generation", g.MaxAttempts, g.MinBackoff, g.MaxBackoff)...)

	switch o.History.Backend {
	case HistoryMemory, HistoryRedis, HistoryDB:
	default:
		errs = append(errs, fmt.Errorf("unknown rag.history.backend %q", o.History.Backend))
	}
	if o.QueryTimeout <= 0 {
		errs = append(errs, fmt.Errorf("rag.query-timeout must be positive"))
	}
	return errs
}

func validateRetry(prefix string, attempts int, minBackoff, maxBackoff time.Duration) []error {
	var errs []error
	if attempts < 1 {
		errs = append(errs, fmt.Errorf("%s.max-attempts must be at least 1", prefix))
	}
	if minBackoff < 0 || maxBackoff < minBackoff {
		errs = append(errs, fmt.Errorf("%s backoff must satisfy 0 <= min-backoff <= max-backoff", prefix))
	}
	return errs
}

// Complete fills nil sections with defaults.
func (o *Options) Complete() error {
	def := NewOptions()
	if o.Chunking == nil {
		o.Chunking = def.Chunking
	}
	if o.Embedding == nil {
		o.Embedding = def.Embedding
	}
	if o.Retrieval == nil {
		o.Retrieval = def.Retrieval
	}
	if o.Generation == nil {
		o.Generation = def.Generation
	}
	if o.Citation == nil {
		o.Citation = def.Citation
	}
	if o.History == nil {
		o.History = def.History
	}
	if o.Cache == nil {
		o.Cache = def.Cache
	}
	if o.QueryTimeout == 0 {
		o.QueryTimeout = def.QueryTimeout
	}
	return nil
}
