package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
	apperrors "camstream/pkg/errors"
	"camstream/pkg/tracing"
)

// Config sources reported to metrics.
const (
	SourceServer  = "server"
	SourceCache   = "cache"
	SourceDefault = "default"
	SourceLocal   = "local"
)

// Fetch triggers, recorded on the fetch-and-apply span.
const (
	TriggerStartup          = "startup"
	TriggerControlConnected = "control_connected"
	TriggerControlMessage   = "control_message"
)

type OrchestratorConfig struct {
	RTMPBaseURL       string
	FallbackDelay     time.Duration
	CameraRetryDelay  time.Duration
	LivenessInterval  time.Duration
	RestartMessage    string
	MessagesPerSecond float64
	Burst             int
}

// Orchestrator drives one streaming session: it resolves the stream key,
// listens to the control channel, fetches and applies camera configs, and
// watches the server liveness check.
type Orchestrator struct {
	cfg        OrchestratorConfig
	api        ports.CameraAPI
	store      ports.StateStore
	control    ports.ControlChannel
	session    *PublishSession
	sessionCtx *SessionContext
	launcher   ports.ForegroundLauncher
	auth       ports.AuthListener
	metrics    ports.MetricsRecorder
	logger     *zap.SugaredLogger

	limiter *rate.Limiter
	fetches   singleflight.Group
	wg        sync.WaitGroup
	fatal     chan error
	signedOut atomic.Bool

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	running     bool
	stopped     bool
	streamKey   string
	applied     uint64
	cameraRetry *time.Timer
}

func NewOrchestrator(
	cfg OrchestratorConfig,
	api ports.CameraAPI,
	store ports.StateStore,
	control ports.ControlChannel,
	session *PublishSession,
	sessionCtx *SessionContext,
	launcher ports.ForegroundLauncher,
	auth ports.AuthListener,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *Orchestrator {
	limit := rate.Inf
	if cfg.MessagesPerSecond > 0 {
		limit = rate.Limit(cfg.MessagesPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &Orchestrator{
		cfg:        cfg,
		api:        api,
		store:      store,
		control:    control,
		session:    session,
		sessionCtx: sessionCtx,
		launcher:   launcher,
		auth:       auth,
		metrics:    metrics,
		logger:     logger,
		limiter:    rate.NewLimiter(limit, burst),
		fatal:      make(chan error, 1),
	}
}

// Run blocks until ctx is done, the server asks the agent to shut down, or
// the stored credentials are rejected. The session is stopped on return.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	if o.running || o.stopped {
		o.mu.Unlock()
		return domain.ErrSessionStopped
	}
	ctx, cancel := context.WithCancel(ctx)
	o.ctx, o.cancel = ctx, cancel
	o.running = true
	o.mu.Unlock()
	defer o.Stop()

	o.sessionCtx.setPhase(domain.PhaseStarting)

	key, err := o.resolveStreamKey(ctx)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.streamKey = key
	o.mu.Unlock()
	o.sessionCtx.SetURL(domain.DestinationURL(o.cfg.RTMPBaseURL, key))
	o.logger.Infow("Stream key resolved", "url", o.sessionCtx.URL())

	o.session.SetListener(o)
	o.control.Initialize(o)
	o.spawnFetch(TriggerStartup)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return o.livenessLoop(gctx)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-o.fatal:
			return err
		}
	})

	err = g.Wait()
	if err != nil {
		o.logger.Warnw("Session ended", "error", err)
	}
	return err
}

// Stop tears the session down. Safe to call more than once and before Run.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	if o.cancel != nil {
		o.cancel()
	}
	if o.cameraRetry != nil {
		o.cameraRetry.Stop()
		o.cameraRetry = nil
	}
	o.mu.Unlock()

	o.control.Unregister()
	if err := o.control.Close(); err != nil {
		o.logger.Debugw("Control channel close failed", "error", err)
	}
	o.session.Stop()
	o.session.SetListener(nil)
	o.wg.Wait()

	o.sessionCtx.SetUIListener(nil)
	o.sessionCtx.setPhase(domain.PhaseStopped)
	o.logger.Infow("Session stopped")
}

// Phase returns the current lifecycle phase.
func (o *Orchestrator) Phase() domain.SessionPhase {
	return o.sessionCtx.Phase()
}

// RestartConnection forces the publish connection to reconnect.
func (o *Orchestrator) RestartConnection() {
	o.logger.Infow("Connection restart requested")
	o.session.RestartConnection()
}

// ApplyLocal persists a locally supplied config and applies it.
func (o *Orchestrator) ApplyLocal(ctx context.Context, cfg domain.CameraConfig) error {
	o.mu.Lock()
	stopped, key := o.stopped, o.streamKey
	o.mu.Unlock()
	if stopped {
		return domain.ErrSessionStopped
	}
	if key == "" {
		return domain.ErrNoStreamKey
	}
	cfg = cfg.Clamp()
	if err := o.store.SetCameraConfig(ctx, cfg); err != nil {
		return fmt.Errorf("persist local config: %w", err)
	}
	o.apply(cfg, SourceLocal)
	return nil
}

func (o *Orchestrator) resolveStreamKey(ctx context.Context) (string, error) {
	info, err := o.api.StreamKey(ctx)
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrCodeUnauthorized) {
			o.signOut(ctx)
		}
		return "", fmt.Errorf("resolve stream key: %w", err)
	}
	if info == nil || info.StreamKey == "" {
		return "", domain.ErrNoStreamKey
	}
	return info.StreamKey, nil
}

// OnConnectionStateChanged implements ports.ControlListener.
func (o *Orchestrator) OnConnectionStateChanged(state domain.ControlState) {
	o.metrics.RecordControlState(state)
	o.logger.Infow("Control channel state changed", "state", state)

	if state == domain.ControlConnected {
		o.spawnFetch(TriggerControlConnected)
	}
}

// OnMessage implements ports.ControlListener.
func (o *Orchestrator) OnMessage(message string) {
	if o.cfg.RestartMessage != "" && strings.Contains(message, o.cfg.RestartMessage) {
		o.RestartConnection()
		return
	}
	o.logger.Debugw("Control message received", "message", message)
	o.spawnFetch(TriggerControlMessage)
}

// OnPublishingChanged implements SessionListener.
func (o *Orchestrator) OnPublishingChanged(publishing bool) {
	if publishing {
		o.sessionCtx.setPhase(domain.PhaseActive)
		return
	}
	if !o.isStopped() {
		o.sessionCtx.setPhase(domain.PhaseRecovering)
	}
}

func (o *Orchestrator) spawnFetch(trigger string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped || o.ctx == nil {
		return
	}

	ctx := o.ctx
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.limiter.Wait(ctx); err != nil {
			return
		}
		if err := o.fetchAndApply(ctx, trigger); err != nil && ctx.Err() == nil {
			o.logger.Debugw("Fetch and apply failed", "trigger", trigger, "error", err)
		}
	}()
}

// fetchAndApply loads the camera config from the server and applies it. When
// the control channel is down or the fetch fails it falls back to the cached
// config after FallbackDelay, unless another config was applied meanwhile.
// Concurrent server fetches share one request.
func (o *Orchestrator) fetchAndApply(ctx context.Context, trigger string) error {
	ctx, span := tracing.TraceConfigApply(ctx, trigger)
	defer span.End()

	seq := o.appliedSeq()

	if o.control.State() == domain.ControlConnected {
		v, err, _ := o.fetches.Do("camera-config", func() (any, error) {
			return o.api.CameraConfig(ctx)
		})
		switch {
		case err == nil:
			cfg := v.(domain.CameraConfig).Clamp()
			if err := o.store.SetCameraConfig(ctx, cfg); err != nil {
				o.logger.Warnw("Failed to cache camera config", "error", err)
			}
			tracing.AddSpanAttributes(ctx, tracing.ConfigSourceKey.String(SourceServer))
			o.apply(cfg, SourceServer)
			return nil
		case apperrors.IsCode(err, apperrors.ErrCodeUnauthorized):
			tracing.RecordError(ctx, err)
			o.signOut(ctx)
			o.fail(err)
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			tracing.RecordError(ctx, err)
			o.logger.Warnw("Camera config fetch failed, using cached config", "error", err)
		}
	}

	t := time.NewTimer(o.cfg.FallbackDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}

	if o.appliedSeq() != seq {
		o.logger.Debugw("Newer config applied during fallback delay", "trigger", trigger)
		return nil
	}

	source := SourceCache
	cfg, err := o.store.CameraConfig(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrConfigNotFound) {
			o.logger.Warnw("Failed to read cached camera config", "error", err)
		}
		cfg = domain.DefaultCameraConfig()
		source = SourceDefault
	}
	tracing.AddSpanAttributes(ctx, tracing.ConfigSourceKey.String(source))
	o.apply(cfg, source)
	return nil
}

// apply hands cfg to the publish session. The lock is held across Start so
// that a concurrent Stop cannot be overtaken by a late apply.
func (o *Orchestrator) apply(cfg domain.CameraConfig, source string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return
	}
	key := o.streamKey
	o.applied++

	o.metrics.RecordConfigApplied(source)
	o.logger.Infow("Applying camera config", "source", source, "config", cfg.String())
	o.session.Start(cfg, key, func(open bool) {
		o.onCameraOpenResult(cfg, open)
	})
}

// onCameraOpenResult handles the delayed camera observation of a Start call.
// A closed camera is retried with the same config after CameraRetryDelay.
func (o *Orchestrator) onCameraOpenResult(cfg domain.CameraConfig, open bool) {
	if o.isStopped() {
		return
	}

	if open {
		if ui := o.sessionCtx.UIListener(); ui != nil {
			ui.CameraOpened()
		}
		if o.session.Snapshot().IsPublishing {
			o.sessionCtx.setPhase(domain.PhaseActive)
		}
		return
	}

	o.sessionCtx.setPhase(domain.PhaseRecovering)
	o.logger.Warnw("Camera not open, retrying", "delay", o.cfg.CameraRetryDelay)

	if !o.sessionCtx.UIActive() && o.launcher != nil {
		o.mu.Lock()
		ctx := o.ctx
		o.mu.Unlock()
		if err := o.launcher.BringToForeground(ctx); err != nil {
			o.logger.Warnw("Failed to bring UI to foreground", "error", err)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return
	}
	if o.cameraRetry != nil {
		o.cameraRetry.Stop()
	}
	o.cameraRetry = time.AfterFunc(o.cfg.CameraRetryDelay, func() {
		o.retryCamera(cfg)
	})
}

func (o *Orchestrator) retryCamera(cfg domain.CameraConfig) {
	o.mu.Lock()
	o.cameraRetry = nil
	o.mu.Unlock()

	// A live connection without a camera does not reopen on an in-place update.
	if snap := o.session.Snapshot(); snap.IsPublishing && !snap.IsCameraOpen {
		o.session.RestartConnection()
	}
	o.apply(cfg, SourceCache)
}

func (o *Orchestrator) livenessLoop(ctx context.Context) error {
	if o.cfg.LivenessInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(o.cfg.LivenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		code, err := o.api.Status(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if apperrors.IsCode(err, apperrors.ErrCodeUnauthorized) {
				o.signOut(ctx)
				return err
			}
			o.logger.Debugw("Liveness check failed", "error", err)
			continue
		}
		if code == http.StatusCreated {
			o.logger.Infow("Server requested shutdown")
			return domain.ErrServerRequestedShutdown
		}
	}
}

// signOut drops the rejected token and tells the auth listener, once.
func (o *Orchestrator) signOut(ctx context.Context) {
	if !o.signedOut.CompareAndSwap(false, true) {
		return
	}
	o.logger.Warnw("Credentials rejected, signing out")
	if err := o.store.ClearToken(context.WithoutCancel(ctx)); err != nil {
		o.logger.Warnw("Failed to clear token", "error", err)
	}
	if o.auth != nil {
		o.auth.SignedOut()
	}
}

func (o *Orchestrator) fail(err error) {
	select {
	case o.fatal <- err:
	default:
	}
}

func (o *Orchestrator) appliedSeq() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.applied
}

func (o *Orchestrator) isStopped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopped
}
