// Package router provides RAG service routing.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/internal/rag/handler"
)

// Register registers the RAG service routes.
func Register(engine *gin.Engine, h *handler.RAGHandler, enableMetrics bool) {
	logger.Info("Registering RAG routes...")

	engine.GET("/healthz", h.Healthz)
	if enableMetrics {
		engine.GET("/metrics", h.Metrics)
	}

	v1 := engine.Group("/v1")
	{
		rag := v1.Group("/rag")
		{
			rag.Handle(http.MethodPost, "/documents", h.Ingest)
			rag.Handle(http.MethodPost, "/index", h.Index)
			rag.Handle(http.MethodPost, "/query", h.Query)
			rag.Handle(http.MethodGet, "/queries/:id", h.GetQuery)
			rag.Handle(http.MethodGet, "/stats", h.Stats)
		}
	}

	logger.Info("HTTP routes registered")
}

// New 创建带中间件的 gin 引擎并注册路由。
func New(mode string, h *handler.RAGHandler, enableMetrics bool) *gin.Engine {
	gin.SetMode(mode)
	engine := gin.New()
	engine.Use(RequestID(), Logger(), Recovery())
	Register(engine, h, enableMetrics)
	return engine
}
