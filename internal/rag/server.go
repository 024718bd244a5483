// Package ragsvc wires the RAG pipeline into an HTTP server.
package ragsvc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/sentinel-rag/internal/rag/biz"
	"github.com/kart-io/sentinel-rag/internal/rag/handler"
	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/internal/rag/repo"
	"github.com/kart-io/sentinel-rag/internal/rag/router"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/component/database"
	rediscomp "github.com/kart-io/sentinel-rag/pkg/component/redis"
	"github.com/kart-io/sentinel-rag/pkg/infra/app"
	"github.com/kart-io/sentinel-rag/pkg/infra/pool"
	"github.com/kart-io/sentinel-rag/pkg/llm"
	// 导入 LLM 供应商以自动注册
	_ "github.com/kart-io/sentinel-rag/pkg/llm/langchain"
	_ "github.com/kart-io/sentinel-rag/pkg/llm/ollama"
	_ "github.com/kart-io/sentinel-rag/pkg/llm/openai"
	dbopts "github.com/kart-io/sentinel-rag/pkg/options/db"
	httpopts "github.com/kart-io/sentinel-rag/pkg/options/http"
	llmopts "github.com/kart-io/sentinel-rag/pkg/options/llm"
	logopts "github.com/kart-io/sentinel-rag/pkg/options/logger"
	milvusopts "github.com/kart-io/sentinel-rag/pkg/options/milvus"
	ragopts "github.com/kart-io/sentinel-rag/pkg/options/rag"
	redisopts "github.com/kart-io/sentinel-rag/pkg/options/redis"
	storeopts "github.com/kart-io/sentinel-rag/pkg/options/store"
)

// Name is the name of the application.
const Name = "sentinel-rag"

// Config contains application-related configurations.
type Config struct {
	HTTPOptions      *httpopts.Options
	LogOptions       *logopts.Options
	DBOptions        *dbopts.Options
	RedisOptions     *redisopts.Options
	StoreOptions     *storeopts.Options
	MilvusOptions    *milvusopts.Options
	EmbeddingOptions *llmopts.ProviderOptions
	ChatOptions      *llmopts.ProviderOptions
	RAGOptions       *ragopts.Options
	ShutdownTimeout  time.Duration
}

// Server represents the RAG server.
type Server struct {
	http            *http.Server
	shutdownTimeout time.Duration
	closers         []func(ctx context.Context) error
}

// NewServer initializes and returns a new Server instance.
// 任一步骤失败时已创建的资源会被释放。
func (cfg *Config) NewServer(ctx context.Context) (_ *Server, err error) {
	printBanner(cfg)

	// 1. 初始化日志
	cfg.LogOptions.AddInitialField("service.name", Name)
	cfg.LogOptions.AddInitialField("service.version", app.GetVersion())
	if err := cfg.LogOptions.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("Starting RAG service...")

	s := &Server{shutdownTimeout: cfg.ShutdownTimeout}
	defer func() {
		if err != nil {
			s.close(context.Background())
		}
	}()

	// 2. 初始化关系库
	dbClient, err := database.New(ctx, cfg.DBOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	s.closers = append(s.closers, func(context.Context) error { return dbClient.Close() })
	factory := repo.NewFactory(dbClient.DB())
	if cfg.DBOptions.AutoMigrate {
		if err := factory.AutoMigrate(); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	logger.Infow("Database initialized", "driver", cfg.DBOptions.Driver)
	checkers := []handler.Checker{dbClient}

	// 3. 初始化 Redis（缓存与 redis 历史存储）
	var redisClient goredis.Cmdable
	if cfg.RedisOptions.Enabled {
		rc, err := rediscomp.New(ctx, cfg.RedisOptions)
		if err != nil {
			logger.Warnw("failed to connect to redis, cache will be disabled", "error", err.Error())
		} else {
			redisClient = rc.Client()
			s.closers = append(s.closers, func(context.Context) error { return rc.Close() })
			checkers = append(checkers, rc)
			logger.Infow("Redis initialized", "addr", cfg.RedisOptions.Addr())
		}
	} else {
		logger.Info("Redis is disabled")
	}

	// 4. 初始化 LLM 供应商
	embedProvider, err := llm.NewEmbeddingProvider(cfg.EmbeddingOptions.Provider, cfg.EmbeddingOptions.ToConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	if redisClient != nil && cfg.RAGOptions.Cache.EmbeddingEnabled {
		embedProvider = llm.NewCachedEmbeddingProvider(embedProvider, redisClient, &llm.EmbeddingCacheConfig{
			TTL:       cfg.RAGOptions.Cache.EmbeddingTTL,
			KeyPrefix: cfg.RAGOptions.Cache.KeyPrefix + "emb:",
		})
	}
	logger.Infow("Embedding provider initialized",
		"provider", cfg.EmbeddingOptions.Provider,
		"model", cfg.EmbeddingOptions.Model,
	)

	chatProvider, err := llm.NewChatProvider(cfg.ChatOptions.Provider, cfg.ChatOptions.ToConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat provider: %w", err)
	}
	logger.Infow("Chat provider initialized",
		"provider", cfg.ChatOptions.Provider,
		"model", cfg.ChatOptions.Model,
	)

	// 5. 初始化向量索引
	index, err := store.New(ctx, cfg.StoreOptions, cfg.MilvusOptions, cfg.RAGOptions.Embedding.Dimension)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	s.closers = append(s.closers, index.Close)

	// 6. 初始化嵌入调度池
	workers, err := pool.NewPool("embedding", pool.EmbeddingPoolConfig(cfg.RAGOptions.Embedding.Concurrency))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding pool: %w", err)
	}
	s.closers = append(s.closers, func(context.Context) error { return workers.ReleaseTimeout(5 * time.Second) })

	// 7. 初始化 Biz 层
	m := metrics.New()
	rag := cfg.RAGOptions
	embedder := biz.NewEmbedder(embedProvider, rag.Embedding, workers, m)
	indexer := biz.NewIndexer(factory, index, biz.NewChunker(rag.Chunking), embedder, rag.Embedding, m)

	var cache *biz.AnswerCache
	if redisClient != nil && rag.Cache.AnswerEnabled {
		cache = biz.NewAnswerCache(redisClient, &biz.AnswerCacheConfig{
			Enabled:   true,
			TTL:       rag.Cache.AnswerTTL,
			KeyPrefix: rag.Cache.KeyPrefix,
		})
	}

	service := biz.NewQueryService(&biz.QueryDeps{
		Factory:   factory,
		Index:     index,
		Embedder:  embedder,
		Retriever: biz.NewRetriever(index, rag.Retrieval, m),
		Generator: biz.NewGenerator(chatProvider, rag.Generation, cfg.ChatOptions.Model, m),
		Formatter: biz.NewCitationFormatter(rag.Citation.BaseURL),
		History:   newHistory(rag.History, factory, redisClient, rag.Cache.KeyPrefix),
		Cache:     cache,
		Metrics:   m,
	}, rag)
	logger.Infow("RAG service initialized",
		"store", cfg.StoreOptions.Type,
		"history", rag.History.Backend,
		"answer_cache", cache != nil,
	)

	// 8. 初始化 HTTP
	h := handler.NewRAGHandler(indexer, service, m, checkers...)
	engine := router.New(cfg.HTTPOptions.Mode, h, cfg.HTTPOptions.EnableMetrics)
	s.http = &http.Server{
		Addr:         cfg.HTTPOptions.Addr,
		Handler:      engine,
		ReadTimeout:  cfg.HTTPOptions.ReadTimeout,
		WriteTimeout: cfg.HTTPOptions.WriteTimeout,
		IdleTimeout:  cfg.HTTPOptions.IdleTimeout,
	}

	logger.Info("RAG service is ready")
	return s, nil
}

// newHistory 按配置选择历史存储，redis 不可用时退回内存。
func newHistory(opts *ragopts.HistoryOptions, factory repo.Factory, redisClient goredis.Cmdable, keyPrefix string) biz.HistoryStore {
	switch opts.Backend {
	case ragopts.HistoryDB:
		return factory.Turns()
	case ragopts.HistoryRedis:
		if redisClient != nil {
			return biz.NewRedisHistory(redisClient, keyPrefix, opts.MaxTurns, opts.TTL)
		}
		logger.Warn("history backend is redis but redis is unavailable, using memory")
	}
	return biz.NewMemoryHistory(opts.MaxTurns)
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Infow("HTTP server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down RAG service...")
	case err, ok := <-errCh:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("HTTP server shutdown failed", "error", err.Error())
	}
	s.close(shutdownCtx)
	logger.Info("RAG service stopped")
	return runErr
}

// close 逆序释放资源。
func (s *Server) close(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			logger.Warnw("failed to release resource", "error", err.Error())
		}
	}
	s.closers = nil
}

func printBanner(cfg *Config) {
	fmt.Printf("Starting %s...\n", Name)
	fmt.Printf("  Embedding: %s (%s)\n", cfg.EmbeddingOptions.Provider, cfg.EmbeddingOptions.Model)
	fmt.Printf("  Chat: %s (%s)\n", cfg.ChatOptions.Provider, cfg.ChatOptions.Model)
	fmt.Printf("  Vector index: %s\n", cfg.StoreOptions.Type)
}
