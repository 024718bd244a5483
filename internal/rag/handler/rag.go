// Package handler provides HTTP handlers for the RAG service.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/internal/pkg/httputils"
	"github.com/kart-io/sentinel-rag/internal/rag/biz"
	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	errs "github.com/kart-io/sentinel-rag/pkg/utils/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/validator"
)

// Checker 是 /healthz 探测的依赖。
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// RAGHandler handles RAG HTTP requests.
type RAGHandler struct {
	indexer  *biz.Indexer
	service  *biz.QueryService
	metrics  *metrics.RAGMetrics
	checkers []Checker
	validate *validator.Validator
}

// NewRAGHandler creates a new RAGHandler.
func NewRAGHandler(indexer *biz.Indexer, service *biz.QueryService, m *metrics.RAGMetrics, checkers ...Checker) *RAGHandler {
	return &RAGHandler{
		indexer:  indexer,
		service:  service,
		metrics:  m,
		checkers: checkers,
		validate: validator.Global(),
	}
}

// bind 解析 JSON 并按 validate 标签校验，失败时已写出响应。
func (h *RAGHandler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httputils.WriteResponse(c, errs.ErrRAGInvalidRequest.WithMessage(err.Error()), nil)
		return false
	}
	if err := h.validate.StructLang(req, lang(c)); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			httputils.WriteError(c, errs.ErrRAGInvalidRequest.WithMessage(verrs.Error()), verrs)
			return false
		}
		httputils.WriteResponse(c, errs.ErrRAGInvalidRequest.WithMessage(err.Error()), nil)
		return false
	}
	return true
}

func lang(c *gin.Context) string {
	if al := c.GetHeader("Accept-Language"); len(al) >= 2 && al[:2] == validator.LangZH {
		return validator.LangZH
	}
	return validator.LangEN
}

func writeResult(c *gin.Context, err error, data any) {
	if err != nil {
		httputils.WriteResponse(c, biz.ToErrno(err), nil)
		return
	}
	httputils.WriteResponse(c, nil, data)
}

// Ingest 写入一份文档，分块以 pending 状态等待索引。
func (h *RAGHandler) Ingest(c *gin.Context) {
	var req biz.IngestRequest
	if !h.bind(c, &req) {
		return
	}

	res, err := h.indexer.Ingest(c.Request.Context(), &req)
	writeResult(c, err, res)
}

// Index 嵌入并索引所有 pending 分块。
func (h *RAGHandler) Index(c *gin.Context) {
	res, err := h.indexer.ProcessPending(c.Request.Context())
	if err != nil {
		logger.Errorw("index pending chunks failed", "error", err.Error())
	}
	writeResult(c, err, res)
}

// Query performs a RAG query.
func (h *RAGHandler) Query(c *gin.Context) {
	var req biz.QueryRequest
	if !h.bind(c, &req) {
		return
	}

	res, err := h.service.Query(c.Request.Context(), &req)
	writeResult(c, err, res)
}

// GetQuery returns a stored query record.
func (h *RAGHandler) GetQuery(c *gin.Context) {
	q, err := h.service.GetQuery(c.Request.Context(), c.Query("app_id"), c.Param("id"))
	writeResult(c, err, q)
}

// Stats returns chunk and pipeline statistics.
func (h *RAGHandler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context(), c.Query("app_id"))
	writeResult(c, err, stats)
}

// Metrics 以 Prometheus 文本格式输出指标。
func (h *RAGHandler) Metrics(c *gin.Context) {
	c.Data(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(h.metrics.Export("sentinel", "rag")))
}

// Healthz 依次探测各依赖，任一失败返回 503。
func (h *RAGHandler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.checkers))
	for _, ck := range h.checkers {
		if err := ck.Check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			checks[ck.Name()] = err.Error()
			continue
		}
		checks[ck.Name()] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "unavailable"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}
