package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/internal/pkg/httputils"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/id"
	"github.com/kart-io/sentinel-rag/pkg/utils/json"
)

func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(RequestID(), Logger(), Recovery())
	engine.GET("/ok", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextKeyRequestID))
	})
	engine.GET("/panic", func(*gin.Context) {
		panic("boom")
	})
	return engine
}

func TestRequestIDGenerated(t *testing.T) {
	w := httptest.NewRecorder()
	newEngine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))

	rid := w.Header().Get(httputils.HeaderRequestID)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, id.IsUUID(rid))
	assert.Equal(t, rid, w.Body.String())
}

func TestRequestIDPropagated(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(httputils.HeaderRequestID, "req-123")
	w := httptest.NewRecorder()
	newEngine().ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get(httputils.HeaderRequestID))
	assert.Equal(t, "req-123", w.Body.String())
}

func TestRecoveryWritesPanicEnvelope(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set(httputils.HeaderRequestID, "req-panic")
	w := httptest.NewRecorder()
	newEngine().ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var body struct {
		Code      int    `json:"code"`
		RequestID string `json:"request_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, errors.ErrPanic.Code, body.Code)
	assert.Equal(t, "req-panic", body.RequestID)
}
