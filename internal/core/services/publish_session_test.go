package services

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"camstream/internal/core/domain"
)

const (
	testSettle  = 20 * time.Millisecond
	testObserve = 80 * time.Millisecond
	testRecover = 30 * time.Millisecond

	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type sessionFixture struct {
	session  *PublishSession
	factory  *fakeFactory
	control  *recordingControl
	metrics  *MetricsService
	listener *publishingListener
}

func newSessionFixture(t *testing.T, autoConnect bool) *sessionFixture {
	t.Helper()

	f := &sessionFixture{
		factory:  &fakeFactory{autoConnect: autoConnect},
		control:  &recordingControl{},
		metrics:  NewMetricsService(nil),
		listener: &publishingListener{},
	}
	f.session = NewPublishSession(PublishSessionConfig{
		RTMPBaseURL:        "rtmp://ingest.local/live",
		SettleDelay:        testSettle,
		CameraObserveDelay: testObserve,
		RecoveryDelay:      testRecover,
	}, f.factory, f.control.factory(), f.metrics, zap.NewNop().Sugar())
	f.session.SetListener(f.listener)

	t.Cleanup(func() {
		f.session.Stop()
		f.factory.Wait()
	})
	return f
}

// startPublishing runs a fresh Start and waits until the pipeline is up.
func (f *sessionFixture) startPublishing(t *testing.T, cfg domain.CameraConfig) {
	t.Helper()
	f.session.Start(cfg, "abc", nil)
	require.Eventually(t, func() bool { return f.session.Snapshot().IsPublishing }, waitFor, tick)
	f.factory.Wait()
}

func TestPublishSession_FreshStart(t *testing.T) {
	f := newSessionFixture(t, true)

	cfg := domain.DefaultCameraConfig()
	var cameraResult atomic.Value
	f.session.Start(cfg, "abc", func(open bool) { cameraResult.Store(open) })

	assert.Zero(t, f.factory.Count(), "pipeline waits for the settle delay")
	require.Eventually(t, func() bool { return f.session.Snapshot().IsPublishing }, waitFor, tick)
	require.Eventually(t, func() bool { return cameraResult.Load() != nil }, waitFor, tick)

	assert.Equal(t, true, cameraResult.Load())
	require.Equal(t, 1, f.factory.Count())

	p := f.factory.Pipeline(0)
	assert.Equal(t, "rtmp://ingest.local/live/abc", p.URL())
	assert.Equal(t, 30, p.settings.FPS)
	assert.Equal(t, 2_500_000, p.settings.BitrateBps)
	assert.Equal(t, 720, p.settings.Width)
	assert.Equal(t, 1080, p.settings.Height)

	state := f.session.Snapshot()
	require.NotNil(t, state.CurrentConfig)
	assert.Equal(t, cfg, *state.CurrentConfig)
	assert.True(t, state.IsCameraOpen)
	assert.Equal(t, "rtmp://ingest.local/live/abc", state.DestinationURL)

	// the fresh capture session gets the full config once
	calls := f.control.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, cfg, calls[0].cfg)
	assert.False(t, calls[0].exposureChanged)

	snap := f.metrics.Snapshot()
	assert.Equal(t, 1, snap.TotalHardRestarts())
	assert.Equal(t, 1, snap.HardRestarts[RestartNotPublishing])
	assert.Equal(t, []bool{true}, f.listener.Events())
}

func TestPublishSession_InPlaceUpdateForCameraControls(t *testing.T) {
	f := newSessionFixture(t, true)

	base := domain.DefaultCameraConfig()
	f.startPublishing(t, base)

	variants := []func(*domain.CameraConfig){
		func(c *domain.CameraConfig) { c.ZoomLevel = 4 },
		func(c *domain.CameraConfig) { c.ISOPercent = 70 },
		func(c *domain.CameraConfig) { c.ShutterSpeed = domain.Shutter1_250 },
		func(c *domain.CameraConfig) { c.WhiteBalance = domain.WhiteBalance{Red: 2, Green: 1, Blue: 1.5} },
		func(c *domain.CameraConfig) { c.Focus = domain.Focus{Percent: 30} },
		func(c *domain.CameraConfig) { c.FlashEnabled = true },
		func(c *domain.CameraConfig) { c.Gamma, c.Contrast = 2.2, 1.3 },
	}

	for i, mutate := range variants {
		next := base
		mutate(&next)
		f.session.Start(next, "abc", nil)

		snap := f.metrics.Snapshot()
		assert.Equal(t, 1, snap.TotalHardRestarts(), "variant %d", i)
		assert.Equal(t, i+1, snap.InPlaceUpdates, "variant %d", i)
		assert.Equal(t, next, *f.session.Snapshot().CurrentConfig)
		base = next
	}

	assert.Equal(t, 1, f.factory.Count())
	assert.False(t, f.factory.Pipeline(0).Closed())
	assert.True(t, f.session.Snapshot().IsPublishing)
}

func TestPublishSession_ZoomScenario(t *testing.T) {
	f := newSessionFixture(t, true)

	cfg := domain.DefaultCameraConfig()
	f.startPublishing(t, cfg)

	zoomed := cfg
	zoomed.ZoomLevel = 4
	f.session.Start(zoomed, "abc", nil)

	calls := f.control.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, 4.0, calls[1].cfg.ZoomLevel)
	assert.False(t, calls[1].exposureChanged)
	assert.Equal(t, 4.0, f.session.Snapshot().CurrentConfig.ZoomLevel)
	assert.Equal(t, 1, f.factory.Count(), "no stop/start pair")
}

func TestPublishSession_ExposureCompensationPath(t *testing.T) {
	f := newSessionFixture(t, true)

	cfg := domain.DefaultCameraConfig()
	f.startPublishing(t, cfg)

	brighter := cfg
	brighter.ExposureCompensationPercent = 40
	f.session.Start(brighter, "abc", nil)

	sameExposure := brighter
	sameExposure.ISOPercent = 60
	f.session.Start(sameExposure, "abc", nil)

	calls := f.control.Calls()
	require.Len(t, calls, 3)
	assert.True(t, calls[1].exposureChanged)
	assert.False(t, calls[2].exposureChanged)
}

func TestPublishSession_EncoderChangeRestarts(t *testing.T) {
	changes := map[string]func(*domain.CameraConfig){
		"fps":        func(c *domain.CameraConfig) { c.FPS = 24 },
		"bitrate":    func(c *domain.CameraConfig) { c.BitrateBps = 4_000_000 },
		"resolution": func(c *domain.CameraConfig) { c.Resolution = domain.Resolution{Width: 1280, Height: 720} },
	}

	for name, mutate := range changes {
		t.Run(name, func(t *testing.T) {
			f := newSessionFixture(t, true)
			cfg := domain.DefaultCameraConfig()
			f.startPublishing(t, cfg)

			next := cfg
			mutate(&next)
			f.session.Start(next, "abc", nil)

			assert.True(t, f.factory.Pipeline(0).Closed(), "old pipeline stopped at once")
			assert.False(t, f.session.Snapshot().IsPublishing)
			assert.Equal(t, 1, f.factory.Count(), "new pipeline waits for the settle delay")

			require.Eventually(t, func() bool { return f.session.Snapshot().IsPublishing }, waitFor, tick)
			require.Equal(t, 2, f.factory.Count())
			assert.Equal(t, next.EncoderSettings(), f.factory.Pipeline(1).settings)
			assert.Equal(t, 2, f.metrics.Snapshot().HardRestarts[RestartNotPublishing]+
				f.metrics.Snapshot().HardRestarts[RestartEncoderChanged])
			assert.Equal(t, 1, f.metrics.Snapshot().HardRestarts[RestartEncoderChanged])
		})
	}
}

func TestPublishSession_FPSScenarioUsesNewRate(t *testing.T) {
	f := newSessionFixture(t, true)

	cfg := domain.DefaultCameraConfig()
	f.startPublishing(t, cfg)

	slower := cfg
	slower.FPS = 24
	f.session.Start(slower, "abc", nil)

	require.Eventually(t, func() bool { return f.factory.Count() == 2 }, waitFor, tick)
	assert.Equal(t, 24, f.factory.Pipeline(1).settings.FPS)
	assert.True(t, f.factory.Pipeline(0).Closed())
}

func TestPublishSession_IdenticalConfigIsIdempotent(t *testing.T) {
	f := newSessionFixture(t, true)

	cfg := domain.DefaultCameraConfig()
	f.startPublishing(t, cfg)
	f.session.Start(cfg, "abc", nil)

	snap := f.metrics.Snapshot()
	assert.Equal(t, 1, snap.TotalHardRestarts())
	assert.Equal(t, 1, snap.InPlaceUpdates)
	assert.Equal(t, 1, f.factory.Count())
}

func TestPublishSession_RestartsCoalesce(t *testing.T) {
	f := newSessionFixture(t, true)

	first := domain.DefaultCameraConfig()
	second := first
	second.FPS = 24
	third := first
	third.FPS = 20

	f.session.Start(first, "abc", nil)
	f.session.Start(second, "abc", nil)
	f.session.Start(third, "abc", nil)

	require.Eventually(t, func() bool { return f.session.Snapshot().IsPublishing }, waitFor, tick)
	time.Sleep(3 * testSettle)

	require.Equal(t, 1, f.factory.Count(), "only one restart in flight")
	assert.Equal(t, 20, f.factory.Pipeline(0).settings.FPS, "last requested config wins")

	snap := f.metrics.Snapshot()
	assert.Equal(t, 1, snap.TotalHardRestarts())
	assert.Equal(t, 2, snap.CoalescedRestarts)
}

func TestPublishSession_RecoversAfterConnectionLoss(t *testing.T) {
	f := newSessionFixture(t, true)

	cfg := domain.DefaultCameraConfig()
	cfg.ZoomLevel = 2
	f.startPublishing(t, cfg)

	f.factory.Pipeline(0).events.OnStatus(domain.StatusConnectClosed)
	assert.False(t, f.session.Snapshot().IsPublishing)
	assert.True(t, f.session.Snapshot().RestartPending)

	require.Eventually(t, func() bool { return f.session.Snapshot().IsPublishing }, waitFor, tick)
	time.Sleep(3 * testRecover)

	require.Equal(t, 2, f.factory.Count(), "exactly one automatic restart")
	p := f.factory.Pipeline(1)
	assert.Equal(t, "rtmp://ingest.local/live/abc", p.URL())
	assert.Equal(t, cfg.EncoderSettings(), p.settings)
	assert.True(t, f.factory.Pipeline(0).Closed())

	snap := f.metrics.Snapshot()
	assert.Equal(t, 1, snap.Recoveries)
	assert.Equal(t, 1, snap.HardRestarts[RestartRecovery])
	assert.Equal(t, []bool{true, false, true}, f.listener.Events())
}

func TestPublishSession_FailedAndRejectedCountAsLoss(t *testing.T) {

	for _, code := range []string{domain.StatusConnectFailed, domain.StatusConnectRejected} {
		t.Run(code, func(t *testing.T) {
			f := newSessionFixture(t, true)
			f.startPublishing(t, domain.DefaultCameraConfig())

			f.factory.Pipeline(0).events.OnStatus(code)
			require.Eventually(t, func() bool { return f.factory.Count() == 2 }, waitFor, tick)
		})
	}
}

func TestPublishSession_LossDuringPendingRestartIsIgnored(t *testing.T) {
	f := newSessionFixture(t, false)

	f.session.Start(domain.DefaultCameraConfig(), "abc", nil)
	require.Eventually(t, func() bool { return f.factory.Count() == 1 }, waitFor, tick)

	// connect succeeds, then an encoder change schedules a restart
	p := f.factory.Pipeline(0)
	p.events.OnStatus(domain.StatusConnectSuccess)
	next := domain.DefaultCameraConfig()
	next.FPS = 24
	f.session.Start(next, "abc", nil)

	// the torn-down pipeline reports its close late
	p.events.OnStatus(domain.StatusConnectClosed)

	require.Eventually(t, func() bool { return f.factory.Count() == 2 }, waitFor, tick)
	time.Sleep(3 * testRecover)
	assert.Equal(t, 2, f.factory.Count())
	assert.Zero(t, f.metrics.Snapshot().Recoveries)
}

func TestPublishSession_StaleEventsAreIgnored(t *testing.T) {
	f := newSessionFixture(t, false)

	f.session.Start(domain.DefaultCameraConfig(), "abc", nil)
	require.Eventually(t, func() bool { return f.factory.Count() == 1 }, waitFor, tick)
	old := f.factory.Pipeline(0)
	old.events.OnStatus(domain.StatusConnectSuccess)

	f.session.RestartConnection()
	require.Eventually(t, func() bool { return f.factory.Count() == 2 }, waitFor, tick)

	old.events.OnStatus(domain.StatusConnectSuccess)
	old.events.OnCaptureSessionReady(fakeCapture{})

	state := f.session.Snapshot()
	assert.False(t, state.IsPublishing)
	assert.False(t, state.IsCameraOpen)
	assert.Zero(t, f.control.Built(), "no controller for a torn-down capture session")

	fresh := f.factory.Pipeline(1)
	fresh.events.OnCaptureSessionReady(fakeCapture{})
	fresh.events.OnStatus(domain.StatusConnectSuccess)
	assert.True(t, f.session.Snapshot().IsPublishing)
	assert.Equal(t, 1, f.control.Built())
}

func TestPublishSession_StopCancelsPendingRestart(t *testing.T) {
	f := newSessionFixture(t, true)

	var observed atomic.Bool
	f.session.Start(domain.DefaultCameraConfig(), "abc", func(bool) { observed.Store(true) })
	f.session.Stop()

	time.Sleep(testObserve + 2*testSettle)
	assert.Zero(t, f.factory.Count(), "restart scheduled before stop must not run")
	assert.False(t, observed.Load(), "camera observation cancelled")
	assert.False(t, f.session.Snapshot().RestartPending)
}

func TestPublishSession_StopTearsDownAndIsIdempotent(t *testing.T) {
	f := newSessionFixture(t, true)
	f.startPublishing(t, domain.DefaultCameraConfig())

	f.session.Stop()
	f.session.Stop()

	assert.True(t, f.factory.Pipeline(0).Closed())
	state := f.session.Snapshot()
	assert.False(t, state.IsPublishing)
	assert.False(t, state.IsCameraOpen)

	// a status arriving after stop does not resurrect anything
	f.factory.Pipeline(0).events.OnStatus(domain.StatusConnectClosed)
	time.Sleep(3 * testRecover)
	assert.Equal(t, 1, f.factory.Count())
}

func TestPublishSession_CameraErrorDoesNotRestart(t *testing.T) {
	f := newSessionFixture(t, false)

	var result atomic.Value
	f.session.Start(domain.DefaultCameraConfig(), "abc", func(open bool) { result.Store(open) })
	require.Eventually(t, func() bool { return f.factory.Count() == 1 }, waitFor, tick)

	p := f.factory.Pipeline(0)
	p.events.OnStatus(domain.StatusConnectSuccess)
	p.events.OnCaptureSessionReady(fakeCapture{})
	require.True(t, f.session.Snapshot().IsCameraOpen)

	p.events.OnCameraError(errors.New("camera in use"))
	assert.False(t, f.session.Snapshot().IsCameraOpen)

	require.Eventually(t, func() bool { return result.Load() != nil }, waitFor, tick)
	assert.Equal(t, false, result.Load())

	// an in-place update with no live controller is only recorded
	zoomed := domain.DefaultCameraConfig()
	zoomed.ZoomLevel = 3
	f.session.Start(zoomed, "abc", nil)

	assert.Equal(t, 1, f.factory.Count())
	assert.Len(t, f.control.Calls(), 1)
	assert.Equal(t, 3.0, f.session.Snapshot().CurrentConfig.ZoomLevel)
}

func TestPublishSession_StartFailureSchedulesRecovery(t *testing.T) {
	f := newSessionFixture(t, false)
	f.factory.startErr = errors.New("bad url")

	f.session.Start(domain.DefaultCameraConfig(), "abc", nil)
	require.Eventually(t, func() bool { return f.factory.Count() >= 2 }, waitFor, tick)

	assert.True(t, f.factory.Pipeline(0).Closed())
	assert.GreaterOrEqual(t, f.metrics.Snapshot().Recoveries, 1)
}

func TestPublishSession_RestartConnectionWithoutConfig(t *testing.T) {
	f := newSessionFixture(t, true)

	f.session.RestartConnection()
	time.Sleep(2 * testSettle)
	assert.Zero(t, f.factory.Count())
}
