package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"camstream/internal/core/domain"
	"camstream/internal/core/services"
	"camstream/internal/infrastructure/monitoring"
)

type fakeController struct {
	mu       sync.Mutex
	phase    domain.SessionPhase
	restarts int
	applied  []domain.CameraConfig
	applyErr error
}

func (f *fakeController) Phase() domain.SessionPhase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phase
}

func (f *fakeController) RestartConnection() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
}

func (f *fakeController) ApplyLocal(_ context.Context, cfg domain.CameraConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, cfg)
	return nil
}

type fakeSession struct{ state domain.SessionState }

func (f *fakeSession) Snapshot() domain.SessionState { return f.state }

type fakeControl struct{ state domain.ControlState }

func (f *fakeControl) State() domain.ControlState { return f.state }

type fixture struct {
	router     *gin.Engine
	controller *fakeController
	health     *monitoring.HealthChecker
	healthy    bool
}

func newFixture(t *testing.T, opts RouterOptions) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := domain.DefaultCameraConfig()
	session := &fakeSession{state: domain.SessionState{
		CurrentConfig:  &cfg,
		IsCameraOpen:   true,
		IsPublishing:   true,
		StreamKey:      "live_abcdef123456",
		DestinationURL: "rtmp://ingest.local/live/live_abcdef123456",
		Generation:     3,
	}}

	f := &fixture{
		controller: &fakeController{phase: domain.PhaseActive},
		health:     monitoring.NewHealthChecker(zap.NewNop().Sugar()),
		healthy:    true,
	}
	f.health.AddPublishCheck(func() bool { return f.healthy })

	metrics := services.NewMetricsService(nil)
	metrics.RecordConfigApplied(services.SourceServer)

	status := NewStatusHandler("session-1", f.controller, session,
		&fakeControl{state: domain.ControlConnected}, metrics, f.health)
	f.router = NewRouter(status, nil, nil, opts, zap.NewNop().Sugar())
	return f
}

func (f *fixture) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestStatusHandler_Health(t *testing.T) {
	f := newFixture(t, RouterOptions{})

	w := f.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	f.healthy = false
	w = f.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body monitoring.HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "not publishing", body.Checks["publish"])
}

func TestStatusHandler_Status(t *testing.T) {
	f := newFixture(t, RouterOptions{})

	w := f.do(http.MethodGet, "/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		SessionID    string                   `json:"session_id"`
		Phase        domain.SessionPhase      `json:"phase"`
		ControlState domain.ControlState      `json:"control_state"`
		Session      domain.SessionState      `json:"session"`
		Metrics      services.MetricsSnapshot `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	assert.Equal(t, "session-1", body.SessionID)
	assert.Equal(t, domain.PhaseActive, body.Phase)
	assert.Equal(t, domain.ControlConnected, body.ControlState)
	assert.True(t, body.Session.IsPublishing)
	assert.Equal(t, "*************3456", body.Session.StreamKey)
	assert.Equal(t, "rtmp://ingest.local/live/*************3456", body.Session.DestinationURL)
	assert.NotContains(t, w.Body.String(), "abcdef")
	assert.Equal(t, 1, body.Metrics.ConfigsApplied[services.SourceServer])
}

func TestStatusHandler_Restart(t *testing.T) {
	f := newFixture(t, RouterOptions{})

	w := f.do(http.MethodPost, "/session/restart", "", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, f.controller.restarts)

	f.controller.phase = domain.PhaseStopped
	w = f.do(http.MethodPost, "/session/restart", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, 1, f.controller.restarts)
}

func TestStatusHandler_UpdateConfig(t *testing.T) {
	f := newFixture(t, RouterOptions{})

	w := f.do(http.MethodPut, "/config", `{"fps": 25, "iso_percent": 180, "resolution": {"width": 1280, "height": 720}}`, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	require.Len(t, f.controller.applied, 1)
	got := f.controller.applied[0]
	assert.Equal(t, 25, got.FPS)
	assert.Equal(t, domain.Resolution{Width: 1280, Height: 720}, got.Resolution)
	assert.Equal(t, domain.DefaultCameraConfig().BitrateBps, got.BitrateBps)

	var body struct {
		Config domain.CameraConfig `json:"config"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 100, body.Config.ISOPercent)
}

func TestStatusHandler_UpdateConfigRejected(t *testing.T) {
	cases := []struct {
		name string
		body string
		want int
	}{
		{name: "malformed", body: `{"fps": "fast"}`, want: http.StatusBadRequest},
		{name: "zero fps", body: `{"fps": 0}`, want: http.StatusBadRequest},
		{name: "odd width", body: `{"resolution": {"width": 721, "height": 1080}}`, want: http.StatusBadRequest},
		{name: "unknown shutter", body: `{"shutter_speed": "1/3"}`, want: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, RouterOptions{})
			w := f.do(http.MethodPut, "/config", tc.body, nil)
			assert.Equal(t, tc.want, w.Code)
			assert.Empty(t, f.controller.applied)
		})
	}
}

func TestStatusHandler_UpdateConfigWithoutStreamKey(t *testing.T) {
	f := newFixture(t, RouterOptions{})
	f.controller.applyErr = domain.ErrNoStreamKey

	w := f.do(http.MethodPut, "/config", `{"fps": 30}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRouter_GuardedRoutes(t *testing.T) {
	f := newFixture(t, RouterOptions{APIToken: "s3cret"})

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/status", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/session/restart", "", nil).Code)

	w := f.do(http.MethodPost, "/session/restart", "", map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestRouter_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := monitoring.NewPrometheusCollector(reg)
	collector.RecordHardRestart("encoder")

	f := newFixture(t, RouterOptions{Gatherer: reg})
	w := f.do(http.MethodGet, "/metrics", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `camstream_hard_restarts_total{reason="encoder"} 1`)

	f = newFixture(t, RouterOptions{})
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/metrics", "", nil).Code)
}
