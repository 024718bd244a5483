package biz

import (
	"context"
	"errors"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/pkg/rag/textutil"
	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/internal/rag/repo"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	ragopts "github.com/kart-io/sentinel-rag/pkg/options/rag"
	errs "github.com/kart-io/sentinel-rag/pkg/utils/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/id"
)

// MaxQueryLength 问题的最大字符数。
const MaxQueryLength = 1000

// NoResultsAnswer 检索为空时返回的固定回答。
const NoResultsAnswer = "I couldn't find any relevant information to answer your question. " +
	"Please try rephrasing your query or check if documents have been indexed."

// QueryRequest 是一次问答请求。
type QueryRequest struct {
	AppID               string       `json:"app_id" validate:"required,max=64"`
	Query               string       `json:"query" validate:"notblank,max=1000"`
	TopK                int          `json:"top_k" validate:"gte=0,lte=20"`
	SimilarityThreshold *float64     `json:"similarity_threshold" validate:"omitnil,gte=0,lte=1"`
	ConversationID      string       `json:"conversation_id" validate:"max=64"`
	IncludeSources      *bool        `json:"include_sources"`
	ResponseFormat      OutputFormat `json:"response_format" validate:"omitempty,oneof=text html plain"`
}

// QueryResult 是问答结果。
type QueryResult struct {
	QueryID          string           `json:"query_id"`
	Answer           string           `json:"answer"`
	Sources          []SourceRef      `json:"sources"`
	Status           string           `json:"status"`
	TokenUsage       model.TokenUsage `json:"token_usage"`
	ProcessingTimeMS int64            `json:"processing_time_ms"`
	Metadata         map[string]any   `json:"metadata"`
}

// QueryService 串联嵌入、检索、生成和引用格式化。
type QueryService struct {
	queries   repo.QueryStore
	chunks    repo.ChunkStore
	index     store.VectorIndex
	embedder  *Embedder
	retriever *Retriever
	generator *Generator
	formatter *CitationFormatter
	history   HistoryStore
	cache     *AnswerCache
	metrics   *metrics.RAGMetrics

	historyTurns int
	threshold    float64
	timeout      time.Duration
}

// QueryDeps 汇总 QueryService 的依赖，History 和 Cache 可以为 nil。
type QueryDeps struct {
	Factory   repo.Factory
	Index     store.VectorIndex
	Embedder  *Embedder
	Retriever *Retriever
	Generator *Generator
	Formatter *CitationFormatter
	History   HistoryStore
	Cache     *AnswerCache
	Metrics   *metrics.RAGMetrics
}

// NewQueryService creates the query service.
func NewQueryService(deps *QueryDeps, opts *ragopts.Options) *QueryService {
	if opts == nil {
		opts = ragopts.NewOptions()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &QueryService{
		queries:      deps.Factory.Queries(),
		chunks:       deps.Factory.Chunks(),
		index:        deps.Index,
		embedder:     deps.Embedder,
		retriever:    deps.Retriever,
		generator:    deps.Generator,
		formatter:    deps.Formatter,
		history:      deps.History,
		cache:        deps.Cache,
		metrics:      m,
		historyTurns: opts.Generation.HistoryTurns,
		threshold:    opts.Retrieval.SimilarityThreshold,
		timeout:      opts.QueryTimeout,
	}
}

func (s *QueryService) validate(req *QueryRequest) error {
	if req.AppID == "" {
		return newValidationError("app_id", -1, errs.ErrRAGInvalidRequest, "app_id is required")
	}
	if textutil.IsBlank(req.Query) {
		return newValidationError("query", -1, errs.ErrRAGInvalidRequest, "Query cannot be empty")
	}
	if textutil.RuneLen(req.Query) > MaxQueryLength {
		return newValidationError("query", -1, errs.ErrRAGInvalidRequest,
			"Query is too long (max %d characters)", MaxQueryLength)
	}
	if req.TopK > MaxTopK {
		return newValidationError("top_k", -1, errs.ErrRAGInvalidRequest, "top_k must be between 1 and %d", MaxTopK)
	}
	if t := req.SimilarityThreshold; t != nil && (*t < 0 || *t > 1) {
		return newValidationError("similarity_threshold", -1, errs.ErrRAGInvalidRequest, "similarity_threshold must be between 0 and 1")
	}
	switch req.ResponseFormat {
	case "", FormatText, FormatHTML, FormatPlain:
	default:
		return newValidationError("response_format", -1, errs.ErrRAGInvalidRequest,
			"unsupported response_format %q", req.ResponseFormat)
	}
	return nil
}

// Query 回答一个问题。
//
// 每次调用都会写入一条 Query 记录：先以 pending 创建，结束时更新为
// completed、no_results 或 failed。带 conversation_id 的请求不走缓存。
func (s *QueryService) Query(ctx context.Context, req *QueryRequest) (*QueryResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	start := time.Now()

	format := req.ResponseFormat
	if format == "" {
		format = FormatText
	}
	includeSources := req.IncludeSources == nil || *req.IncludeSources
	threshold := s.threshold
	if req.SimilarityThreshold != nil {
		threshold = *req.SimilarityThreshold
	}

	var cacheKey string
	if req.ConversationID == "" && s.cache.enabled() {
		cacheKey = s.cache.Key(req.AppID, req.Query, req.TopK, threshold, format, includeSources)
		if cached := s.cache.Get(ctx, cacheKey); cached != nil {
			s.metrics.RecordCache(true)
			logger.Debugw("answer cache hit", "app_id", req.AppID, "query_id", cached.QueryID)
			return cached, nil
		}
		s.metrics.RecordCache(false)
	}

	rec := &model.Query{
		ID:             id.NewUUID(),
		AppID:          req.AppID,
		ConversationID: req.ConversationID,
		QueryText:      req.Query,
		Status:         model.QueryPending,
	}
	if err := s.queries.Create(ctx, rec); err != nil {
		return nil, fatal(OpStore, err)
	}

	result, inline, err := s.run(ctx, req, rec, threshold, format, includeSources)
	rec.ProcessingTimeMS = time.Since(start).Milliseconds()
	// 超时或取消后仍要落盘最终状态
	saveCtx := context.WithoutCancel(ctx)

	if err != nil {
		rec.Status = model.QueryFailed
		rec.Error = err.Error()
		if uerr := s.queries.Update(saveCtx, rec); uerr != nil {
			logger.Errorw("failed to mark query failed", "query_id", rec.ID, "error", uerr.Error())
		}
		s.metrics.RecordQuery(metrics.OutcomeFailed)
		logger.Errorw("query failed", "query_id", rec.ID, "app_id", req.AppID, "error", err.Error())
		return nil, err
	}

	result.ProcessingTimeMS = rec.ProcessingTimeMS
	result.Metadata["processing_time_ms"] = rec.ProcessingTimeMS
	if err := s.queries.Update(saveCtx, rec); err != nil {
		logger.Errorw("failed to save query", "query_id", rec.ID, "error", err.Error())
	}

	if rec.Status == model.QueryNoResults {
		s.metrics.RecordQuery(metrics.OutcomeNoResults)
		return result, nil
	}
	s.metrics.RecordQuery(metrics.OutcomeCompleted)

	if s.history != nil && req.ConversationID != "" {
		turn := &model.ConversationTurn{
			ConversationID: req.ConversationID,
			AppID:          req.AppID,
			QueryID:        rec.ID,
			Question:       req.Query,
			Answer:         inline,
		}
		if err := s.history.Append(saveCtx, turn); err != nil {
			logger.Warnw("failed to append conversation turn", "conversation_id", req.ConversationID, "error", err.Error())
		}
	}
	if cacheKey != "" {
		_ = s.cache.Set(saveCtx, cacheKey, result)
	}

	logger.Infow("query completed",
		"query_id", rec.ID,
		"app_id", req.AppID,
		"sources", len(result.Sources),
		"total_tokens", result.TokenUsage.TotalTokens,
		"processing_time_ms", result.ProcessingTimeMS,
	)
	return result, nil
}

// run 执行流水线并把结果写回 rec，rec 的持久化由调用方负责。
// 第二个返回值是引用改写为 [N] 的纯文本回答，写入对话历史。
func (s *QueryService) run(ctx context.Context, req *QueryRequest, rec *model.Query, threshold float64, format OutputFormat, includeSources bool) (*QueryResult, string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	vec, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, "", err
	}
	chunks, err := s.retriever.Search(ctx, vec, req.AppID, req.TopK, threshold)
	if err != nil {
		return nil, "", err
	}

	if len(chunks) == 0 {
		rec.Status = model.QueryNoResults
		rec.Answer = NoResultsAnswer
		return &QueryResult{
			QueryID: rec.ID,
			Answer:  NoResultsAnswer,
			Sources: []SourceRef{},
			Status:  string(model.QueryNoResults),
			Metadata: map[string]any{
				"chunks_retrieved": 0,
				"app_id":           req.AppID,
				"status":           "no_results",
			},
		}, "", nil
	}

	var history []model.ConversationTurn
	if s.history != nil && req.ConversationID != "" && s.historyTurns > 0 {
		history, err = s.history.Recent(ctx, req.AppID, req.ConversationID, s.historyTurns)
		if err != nil {
			logger.Warnw("failed to load conversation history", "conversation_id", req.ConversationID, "error", err.Error())
			history = nil
		}
	}

	answer, err := s.generator.Generate(ctx, req.Query, chunks, history)
	if err != nil {
		return nil, "", err
	}

	refs := s.formatter.BuildSourceList(answer.Sources, req.AppID)
	text := s.formatter.Format(answer.Text, answer.Sources, format, req.AppID)

	rec.Status = model.QueryCompleted
	rec.Answer = answer.Text
	rec.Model = answer.Model
	rec.Usage = answer.Usage
	rec.SourceChunkIDs = make([]string, len(answer.Sources))
	for i, c := range answer.Sources {
		rec.SourceChunkIDs[i] = c.ChunkID
	}

	sources := []SourceRef{}
	if includeSources {
		sources = refs
	}
	return &QueryResult{
		QueryID:    rec.ID,
		Answer:     text,
		Sources:    sources,
		Status:     string(model.QueryCompleted),
		TokenUsage: answer.Usage,
		Metadata: map[string]any{
			"chunks_retrieved": len(chunks),
			"app_id":           req.AppID,
			"provider":         s.generator.Provider(),
			"model":            answer.Model,
			"response_format":  string(format),
			"source_links":     SourceLinks(refs),
		},
	}, s.formatter.Inline(answer.Text, answer.Sources), nil
}

// GetQuery 读取租户下的一条查询记录。
func (s *QueryService) GetQuery(ctx context.Context, appID, queryID string) (*model.Query, error) {
	if textutil.IsBlank(appID) {
		return nil, newValidationError("app_id", -1, errs.ErrRAGInvalidRequest, "app_id is required")
	}
	q, err := s.queries.Get(ctx, queryID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errs.ErrRAGQueryNotFound
		}
		return nil, fatal(OpStore, err)
	}
	if q.AppID != appID {
		return nil, errs.ErrRAGQueryNotFound
	}
	return q, nil
}

// Stats 返回租户的分块状态统计、索引条数和进程内指标。
func (s *QueryService) Stats(ctx context.Context, appID string) (map[string]any, error) {
	counts, err := s.chunks.CountByStatus(ctx, appID)
	if err != nil {
		return nil, fatal(OpStore, err)
	}
	chunks := make(map[string]int64, len(counts))
	for status, n := range counts {
		chunks[string(status)] = n
	}

	out := map[string]any{
		"app_id":  appID,
		"chunks":  chunks,
		"metrics": s.metrics.Stats(),
	}
	if appID != "" && s.index != nil {
		n, err := s.index.Count(ctx, appID)
		if err != nil {
			return nil, fatal(OpRetrieve, err)
		}
		out["indexed"] = n
	}
	return out, nil
}
