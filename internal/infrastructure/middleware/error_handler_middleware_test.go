package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	apperrors "camstream/pkg/errors"
	"camstream/pkg/logger"
)

func TestRequestLoggingMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)

	router := gin.New()
	router.Use(
		RequestIDMiddleware(),
		RequestLoggingMiddleware(logger.NewContextLogger(zap.New(core)), "sess-1"),
	)
	router.GET("/health", func(c *gin.Context) {
		assert.Equal(t, "sess-1", logger.SessionID(c.Request.Context()))
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-1")
	assert.Equal(t, http.StatusOK, serve(router, req))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "sess-1", fields["session_id"])
	assert.Equal(t, "req-1", fields["trace_id"])
	assert.Equal(t, "/health", fields["path"])
	assert.EqualValues(t, http.StatusOK, fields["status_code"])
}

func TestErrorHandlerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	router.GET("/app", func(c *gin.Context) {
		_ = c.Error(apperrors.NewServiceUnavailableError("session stopped"))
	})
	router.GET("/plain", func(c *gin.Context) {
		_ = c.Error(assert.AnError)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), string(apperrors.ErrCodeServiceUnavailable))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/plain", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RecoveryMiddleware(zap.NewNop().Sugar()))
	router.GET("/boom", func(c *gin.Context) {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, serve(router, req))
}
