// Package options contains flags and options for initializing the RAG server.
package options

import (
	"fmt"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	ragsvc "github.com/kart-io/sentinel-rag/internal/rag"
	cliflag "github.com/kart-io/sentinel-rag/pkg/app/cliflag"
	dbopts "github.com/kart-io/sentinel-rag/pkg/options/db"
	httpopts "github.com/kart-io/sentinel-rag/pkg/options/http"
	llmopts "github.com/kart-io/sentinel-rag/pkg/options/llm"
	logopts "github.com/kart-io/sentinel-rag/pkg/options/logger"
	milvusopts "github.com/kart-io/sentinel-rag/pkg/options/milvus"
	ragopts "github.com/kart-io/sentinel-rag/pkg/options/rag"
	redisopts "github.com/kart-io/sentinel-rag/pkg/options/redis"
	storeopts "github.com/kart-io/sentinel-rag/pkg/options/store"
)

// ServerOptions contains the configuration options for the server.
type ServerOptions struct {
	// HTTPOptions contains HTTP server configuration.
	HTTPOptions *httpopts.Options `json:"http" mapstructure:"http"`

	// LogOptions contains logger configuration.
	LogOptions *logopts.Options `json:"log" mapstructure:"log"`

	// DBOptions 查询、分块和幂等记录所在的关系库。
	DBOptions *dbopts.Options `json:"db" mapstructure:"db"`

	// RedisOptions 用于答案缓存、嵌入缓存和 redis 历史存储。
	RedisOptions *redisopts.Options `json:"redis" mapstructure:"redis"`

	// StoreOptions selects the vector index backend.
	StoreOptions *storeopts.Options `json:"store" mapstructure:"store"`

	// MilvusOptions contains Milvus database configuration.
	MilvusOptions *milvusopts.Options `json:"milvus" mapstructure:"milvus"`

	// EmbeddingOptions contains embedding provider configuration.
	EmbeddingOptions *llmopts.ProviderOptions `json:"embedding" mapstructure:"embedding"`

	// ChatOptions contains chat provider configuration.
	ChatOptions *llmopts.ProviderOptions `json:"chat" mapstructure:"chat"`

	// RAGOptions contains pipeline configuration.
	RAGOptions *ragopts.Options `json:"rag" mapstructure:"rag"`

	// ShutdownTimeout is the timeout for graceful shutdown.
	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`
}

// NewServerOptions creates a ServerOptions instance with default values.
func NewServerOptions() *ServerOptions {
	httpOpts := httpopts.NewOptions()
	httpOpts.Addr = ":8082"

	return &ServerOptions{
		HTTPOptions:      httpOpts,
		LogOptions:       logopts.NewOptions(),
		DBOptions:        dbopts.NewOptions(),
		RedisOptions:     redisopts.NewOptions(),
		StoreOptions:     storeopts.NewOptions(),
		MilvusOptions:    milvusopts.NewOptions(),
		EmbeddingOptions: llmopts.NewEmbeddingOptions(),
		ChatOptions:      llmopts.NewChatOptions(),
		RAGOptions:       ragopts.NewOptions(),
		ShutdownTimeout:  30 * time.Second,
	}
}

// Flags returns flags for a specific server by section name.
func (o *ServerOptions) Flags() (fss cliflag.NamedFlagSets) {
	o.HTTPOptions.AddFlags(fss.FlagSet("http"), "http")
	o.LogOptions.AddFlags(fss.FlagSet("log"), "log")
	o.DBOptions.AddFlags(fss.FlagSet("db"), "db")
	o.RedisOptions.AddFlags(fss.FlagSet("redis"), "redis")
	o.StoreOptions.AddFlags(fss.FlagSet("store"), "store")
	o.MilvusOptions.AddFlags(fss.FlagSet("milvus"), "milvus")
	o.EmbeddingOptions.AddFlags(fss.FlagSet("embedding"), "embedding")
	o.ChatOptions.AddFlags(fss.FlagSet("chat"), "chat")
	o.RAGOptions.AddFlags(fss.FlagSet("rag"), "rag")

	// misc flags
	fs := fss.FlagSet("misc")
	fs.DurationVar(&o.ShutdownTimeout, "shutdown-timeout", o.ShutdownTimeout, "Graceful shutdown timeout")

	return fss
}

// Complete completes all the required options.
func (o *ServerOptions) Complete() error {
	if err := o.HTTPOptions.Complete(); err != nil {
		return fmt.Errorf("http: %w", err)
	}
	if err := o.DBOptions.Complete(); err != nil {
		return fmt.Errorf("db: %w", err)
	}
	if err := o.RedisOptions.Complete(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if err := o.StoreOptions.Complete(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := o.EmbeddingOptions.Complete(); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if err := o.ChatOptions.Complete(); err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	if err := o.RAGOptions.Complete(); err != nil {
		return fmt.Errorf("rag: %w", err)
	}

	// 向量维度以 rag 配置为准，供应商未指定时跟随
	if o.EmbeddingOptions.Dimensions == 0 {
		o.EmbeddingOptions.Dimensions = o.RAGOptions.Embedding.Dimension
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 30 * time.Second
	}
	return nil
}

// Validate checks whether the options in ServerOptions are valid.
func (o *ServerOptions) Validate() error {
	errs := []error{}

	errs = append(errs, o.HTTPOptions.Validate()...)
	errs = append(errs, o.LogOptions.Validate()...)
	errs = append(errs, o.DBOptions.Validate()...)
	errs = append(errs, o.RedisOptions.Validate()...)
	errs = append(errs, o.StoreOptions.Validate()...)
	if o.StoreOptions.Type == storeopts.TypeMilvus {
		errs = append(errs, o.MilvusOptions.Validate()...)
	}
	errs = append(errs, o.EmbeddingOptions.Validate()...)
	errs = append(errs, o.ChatOptions.Validate()...)
	errs = append(errs, o.RAGOptions.Validate()...)

	if d := o.EmbeddingOptions.Dimensions; d != 0 && d != o.RAGOptions.Embedding.Dimension {
		errs = append(errs, fmt.Errorf("embedding.dimensions (%d) must equal rag.embedding.dimension (%d)",
			d, o.RAGOptions.Embedding.Dimension))
	}

	return utilerrors.NewAggregate(errs)
}

// Config builds a ragsvc.Config based on ServerOptions.
func (o *ServerOptions) Config() (*ragsvc.Config, error) {
	return &ragsvc.Config{
		HTTPOptions:      o.HTTPOptions,
		LogOptions:       o.LogOptions,
		DBOptions:        o.DBOptions,
		RedisOptions:     o.RedisOptions,
		StoreOptions:     o.StoreOptions,
		MilvusOptions:    o.MilvusOptions,
		EmbeddingOptions: o.EmbeddingOptions,
		ChatOptions:      o.ChatOptions,
		RAGOptions:       o.RAGOptions,
		ShutdownTimeout:  o.ShutdownTimeout,
	}, nil
}
