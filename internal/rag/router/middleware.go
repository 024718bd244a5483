package router

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/internal/pkg/httputils"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/id"
)

// ContextKeyRequestID 请求 ID 在 gin.Context 中的键。
const ContextKeyRequestID = "request_id"

var skipLogPaths = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

// RequestID 沿用请求头中的 X-Request-ID，没有则生成一个。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(httputils.HeaderRequestID)
		if rid == "" {
			rid = id.NewUUID()
			c.Request.Header.Set(httputils.HeaderRequestID, rid)
		}
		c.Header(httputils.HeaderRequestID, rid)
		c.Set(ContextKeyRequestID, rid)
		c.Next()
	}
}

// Logger logs one line per request.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if skipLogPaths[path] {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		fields := []any{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
			"request_id", c.GetString(ContextKeyRequestID),
		}
		switch status := c.Writer.Status(); {
		case status >= 500:
			logger.Errorw("HTTP request", fields...)
		case status >= 400:
			logger.Warnw("HTTP request", fields...)
		default:
			logger.Infow("HTTP request", fields...)
		}
	}
}

// Recovery converts panics to ErrPanic responses.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("panic recovered",
					"panic", fmt.Sprint(r),
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)
				httputils.WriteError(c, errors.ErrPanic.WithMessage(fmt.Sprintf("panic: %v", r)), nil)
			}
		}()
		c.Next()
	}
}
