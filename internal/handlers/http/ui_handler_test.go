package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"camstream/internal/core/services"
	"camstream/internal/infrastructure/monitoring"
)

func newUIRouter(t *testing.T, sessionCtx *services.SessionContext) (*gin.Engine, *UIHandler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ui := NewUIHandler(sessionCtx, zap.NewNop().Sugar())
	status := NewStatusHandler("session-1", &fakeController{}, &fakeSession{}, &fakeControl{},
		services.NewMetricsService(nil), monitoring.NewHealthChecker(zap.NewNop().Sugar()))
	router := NewRouter(status, nil, ui, RouterOptions{APIToken: "s3cret"}, zap.NewNop().Sugar())
	return router, ui
}

func doUI(router *gin.Engine, method, body string) (int, map[string]interface{}) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, "/ui", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, "/ui", nil)
	}
	req.Header.Set("Authorization", "Bearer s3cret")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w.Code, resp
}

func TestUIHandler_RegistersAsListener(t *testing.T) {
	sessionCtx := services.NewSessionContext("session-1")
	_, ui := newUIRouter(t, sessionCtx)

	assert.Same(t, ui, sessionCtx.UIListener())
}

func TestUIHandler_SetActive(t *testing.T) {
	sessionCtx := services.NewSessionContext("session-1")
	router, _ := newUIRouter(t, sessionCtx)

	code, resp := doUI(router, http.MethodPost, `{"active": true}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, resp["active"])
	assert.True(t, sessionCtx.UIActive())

	code, _ = doUI(router, http.MethodPost, `{"active": false}`)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, sessionCtx.UIActive())
}

func TestUIHandler_SetActiveRejectsBadBody(t *testing.T) {
	sessionCtx := services.NewSessionContext("session-1")
	router, _ := newUIRouter(t, sessionCtx)

	code, _ := doUI(router, http.MethodPost, `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, sessionCtx.UIActive())
}

func TestUIHandler_SetActiveIsGuarded(t *testing.T) {
	sessionCtx := services.NewSessionContext("session-1")
	router, _ := newUIRouter(t, sessionCtx)

	req := httptest.NewRequest(http.MethodPost, "/ui", strings.NewReader(`{"active": true}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, sessionCtx.UIActive())
}

func TestUIHandler_PromptDismissedWhenCameraOpens(t *testing.T) {
	sessionCtx := services.NewSessionContext("session-1")
	router, ui := newUIRouter(t, sessionCtx)
	sessionCtx.SetUIActive(true)

	require.NoError(t, ui.BringToForeground(context.Background()))
	code, resp := doUI(router, http.MethodGet, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, resp["prompt_pending"])
	assert.Contains(t, resp, "prompted_at")
	assert.NotContains(t, resp, "dismissed_at")

	sessionCtx.UIListener().CameraOpened()

	_, resp = doUI(router, http.MethodGet, "")
	assert.Equal(t, false, resp["prompt_pending"])
	assert.Equal(t, false, resp["active"])
	assert.Contains(t, resp, "dismissed_at")
	assert.False(t, sessionCtx.UIActive())
}
