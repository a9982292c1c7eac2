package services

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
)

// Hard restart reasons reported to metrics.
const (
	RestartEncoderChanged = "encoder_changed"
	RestartNotPublishing  = "not_publishing"
	RestartRecovery       = "recovery"
	RestartRequested      = "requested"
)

// PublishSessionConfig holds the settle windows of a session.
type PublishSessionConfig struct {
	RTMPBaseURL        string
	SettleDelay        time.Duration // teardown to new pipeline
	CameraObserveDelay time.Duration // Start to camera-open callback
	RecoveryDelay      time.Duration // connection loss to restart
}

// SessionListener is told when the publish connection comes up or drops.
// Calls are made without the session lock held.
type SessionListener interface {
	OnPublishingChanged(publishing bool)
}

// PublishSession converges one RTMP publish pipeline toward the most
// recently requested CameraConfig.
//
// Every pipeline is tagged with the session generation it was built for.
// Tearing a pipeline down bumps the generation, so late events from it are
// dropped, and at most one restart timer is pending at a time.
type PublishSession struct {
	cfg        PublishSessionConfig
	factory    ports.PipelineFactory
	newControl ports.CameraControlFactory
	metrics    ports.MetricsRecorder
	logger     *zap.SugaredLogger

	mu           sync.Mutex
	current      *domain.CameraConfig
	isCameraOpen bool
	isPublishing bool
	streamKey    string
	url          string
	stopped      bool
	generation   uint64
	updatedAt    time.Time

	pipeline ports.Pipeline
	control  ports.CameraControl

	pendingRestart *time.Timer
	pendingConfig  domain.CameraConfig
	pendingURL     string

	observers map[*time.Timer]struct{}
	listener  SessionListener
}

func NewPublishSession(
	cfg PublishSessionConfig,
	factory ports.PipelineFactory,
	newControl ports.CameraControlFactory,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *PublishSession {
	return &PublishSession{
		cfg:        cfg,
		factory:    factory,
		newControl: newControl,
		metrics:    metrics,
		logger:     logger,
		stopped:    true,
		observers:  make(map[*time.Timer]struct{}),
	}
}

// SetListener registers the publishing-state listener. nil detaches it.
func (s *PublishSession) SetListener(l SessionListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

// Start converges the session toward cfg. Encoder changes, or a session that
// is not publishing, get a hard restart; anything else is pushed onto the live
// capture session. onCameraOpenResult, when set, receives the camera state
// after the observation delay.
func (s *PublishSession) Start(cfg domain.CameraConfig, streamKey string, onCameraOpenResult func(bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = false
	s.streamKey = streamKey
	s.url = domain.DestinationURL(s.cfg.RTMPBaseURL, streamKey)

	prev := cfg
	if s.current != nil {
		prev = *s.current
	}

	switch {
	case cfg.RequiresRestart(prev):
		s.scheduleRestartLocked(cfg, RestartEncoderChanged, s.cfg.SettleDelay)
	case !s.isPublishing:
		s.scheduleRestartLocked(cfg, RestartNotPublishing, s.cfg.SettleDelay)
	default:
		s.applyInPlaceLocked(cfg, prev.ExposureCompensationPercent != cfg.ExposureCompensationPercent)
	}

	applied := cfg
	s.current = &applied
	s.updatedAt = time.Now()

	if onCameraOpenResult != nil {
		s.observeCameraLocked(onCameraOpenResult)
	}
}

// RestartConnection forces a hard restart with the current config. It does
// nothing before the first Start or after Stop.
func (s *PublishSession) RestartConnection() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.current == nil {
		return
	}
	s.scheduleRestartLocked(*s.current, RestartRequested, s.cfg.SettleDelay)
}

// Stop tears the pipeline down and cancels pending restarts and camera
// observations. Calling it on a stopped session does nothing.
func (s *PublishSession) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}

	s.stopped = true
	if s.pendingRestart != nil {
		s.pendingRestart.Stop()
		s.pendingRestart = nil
	}
	for t := range s.observers {
		t.Stop()
	}
	clear(s.observers)

	wasPublishing := s.isPublishing
	s.teardownLocked()
	listener := s.listener
	s.mu.Unlock()

	s.logger.Infow("Publish session stopped")
	if wasPublishing && listener != nil {
		listener.OnPublishingChanged(false)
	}
}

// Snapshot returns a copy of the session state.
func (s *PublishSession) Snapshot() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := domain.SessionState{
		IsCameraOpen:   s.isCameraOpen,
		IsPublishing:   s.isPublishing,
		StreamKey:      s.streamKey,
		DestinationURL: s.url,
		Generation:     s.generation,
		RestartPending: s.pendingRestart != nil,
		UpdatedAt:      s.updatedAt,
	}
	if s.current != nil {
		cfg := *s.current
		state.CurrentConfig = &cfg
	}
	return state
}

// scheduleRestartLocked tears the current pipeline down and builds a new one
// for cfg after delay. A restart that is already pending only takes over cfg.
func (s *PublishSession) scheduleRestartLocked(cfg domain.CameraConfig, reason string, delay time.Duration) {
	s.pendingConfig = cfg
	s.pendingURL = s.url

	if s.pendingRestart != nil {
		s.metrics.RecordCoalescedRestart()
		s.logger.Debugw("Restart already pending, config replaced", "reason", reason)
		return
	}

	s.teardownLocked()
	s.metrics.RecordHardRestart(reason)
	s.logger.Infow("Hard restart scheduled",
		"reason", reason,
		"delay", delay,
		"config", cfg.String(),
	)

	gen := s.generation
	s.pendingRestart = time.AfterFunc(delay, func() { s.runRestart(gen) })
}

func (s *PublishSession) runRestart(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || gen != s.generation {
		return
	}
	s.pendingRestart = nil

	cfg := s.pendingConfig
	url := s.pendingURL
	events := &pipelineEvents{session: s, generation: gen}

	pipeline, err := s.factory.NewPipeline(cfg.EncoderSettings(), events)
	if err != nil {
		s.logger.Warnw("Failed to build publish pipeline", "error", err)
		s.scheduleRecoveryLocked()
		return
	}
	// Start only validates and spawns the connection; failures to connect
	// arrive later as status events.
	if err := pipeline.Start(url); err != nil {
		s.logger.Warnw("Failed to start publish pipeline", "url", url, "error", err)
		if cerr := pipeline.Close(); cerr != nil {
			s.logger.Debugw("Close after failed start", "error", cerr)
		}
		s.scheduleRecoveryLocked()
		return
	}

	s.pipeline = pipeline
	s.logger.Infow("Publish pipeline started",
		"generation", gen,
		"encoder", cfg.EncoderSettings().String(),
	)
}

// teardownLocked closes the current pipeline and drops everything derived
// from it. Bumping the generation invalidates its in-flight events.
func (s *PublishSession) teardownLocked() {
	s.generation++

	if s.pipeline != nil {
		if err := s.pipeline.Close(); err != nil {
			s.logger.Debugw("Pipeline close failed", "error", err)
		}
		s.pipeline = nil
	}
	s.control = nil
	s.isPublishing = false
	s.isCameraOpen = false
	s.metrics.SetPublishing(false)
	s.metrics.SetCameraOpen(false)
}

func (s *PublishSession) scheduleRecoveryLocked() {
	if s.stopped || s.pendingRestart != nil || s.current == nil {
		return
	}
	s.metrics.RecordRecovery()
	s.scheduleRestartLocked(*s.current, RestartRecovery, s.cfg.RecoveryDelay)
}

func (s *PublishSession) applyInPlaceLocked(cfg domain.CameraConfig, exposureChanged bool) {
	s.metrics.RecordInPlaceUpdate()

	if s.control == nil {
		s.logger.Debugw("No capture session yet, config applied on open")
		return
	}
	if err := s.control.Apply(cfg, exposureChanged); err != nil {
		s.logger.Warnw("In-place camera update failed", "error", err)
	}
}

func (s *PublishSession) observeCameraLocked(fn func(bool)) {
	var t *time.Timer
	t = time.AfterFunc(s.cfg.CameraObserveDelay, func() {
		s.mu.Lock()
		if _, ok := s.observers[t]; !ok {
			s.mu.Unlock()
			return
		}
		delete(s.observers, t)
		open := s.isCameraOpen
		s.mu.Unlock()

		fn(open)
	})
	s.observers[t] = struct{}{}
}

func (s *PublishSession) handleStatus(gen uint64, code string) {
	s.mu.Lock()
	if s.stopped || gen != s.generation {
		s.mu.Unlock()
		return
	}

	var changed, publishing bool
	switch {
	case domain.IsConnectSuccess(code):
		changed = !s.isPublishing
		s.isPublishing = true
		publishing = true
		s.metrics.SetPublishing(true)
		s.logger.Infow("Publishing", "url", s.url, "status", code)
	case domain.IsConnectLost(code):
		changed = true
		s.isPublishing = false
		s.metrics.SetPublishing(false)
		s.logger.Warnw("Publish connection lost", "status", code)
		s.scheduleRecoveryLocked()
	default:
		s.logger.Debugw("RTMP status", "status", code)
	}
	listener := s.listener
	s.mu.Unlock()

	if changed && listener != nil {
		listener.OnPublishingChanged(publishing)
	}
}

func (s *PublishSession) handleCaptureSessionReady(gen uint64, session ports.CaptureSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || gen != s.generation || s.current == nil {
		return
	}

	s.control = s.newControl(session)
	s.isCameraOpen = true
	s.metrics.SetCameraOpen(true)

	cfg := *s.current
	if err := s.control.Apply(cfg, cfg.ExposureCompensationPercent != 0); err != nil {
		s.logger.Warnw("Initial camera update failed", "error", err)
	}
	s.logger.Infow("Camera opened", "generation", gen)
}

func (s *PublishSession) handleCameraError(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || gen != s.generation {
		return
	}

	s.isCameraOpen = false
	s.control = nil
	s.metrics.SetCameraOpen(false)
	s.logger.Warnw("Camera error", "error", err)
}

// pipelineEvents routes the callbacks of one pipeline back to the session,
// stamped with the generation the pipeline was built for.
type pipelineEvents struct {
	session    *PublishSession
	generation uint64
}

func (e *pipelineEvents) OnStatus(code string) {
	e.session.handleStatus(e.generation, code)
}

func (e *pipelineEvents) OnCaptureSessionReady(session ports.CaptureSession) {
	e.session.handleCaptureSessionReady(e.generation, session)
}

func (e *pipelineEvents) OnCameraError(err error) {
	e.session.handleCameraError(e.generation, err)
}
