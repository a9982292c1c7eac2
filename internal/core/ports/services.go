package ports

import (
	"context"
	"time"

	"camstream/internal/core/domain"
)

// CaptureSession is an open camera pipeline whose per-frame controls can be
// changed while it runs. It is only valid until its owning pipeline is torn
// down.
type CaptureSession interface {
	Characteristics() domain.CameraCharacteristics
	Submit(req domain.CaptureRequest) error
}

// PipelineEvents receives the asynchronous callbacks of one publish pipeline.
// Implementations of Pipeline must never invoke these synchronously from
// Start or Close, and Close must not wait for their delivery.
type PipelineEvents interface {
	// OnStatus receives RTMP NetConnection/NetStream status codes.
	OnStatus(code string)
	// OnCaptureSessionReady hands over the capture session once the camera
	// is open and producing frames.
	OnCaptureSessionReady(session CaptureSession)
	// OnCameraError reports a hardware acquisition or runtime failure.
	OnCameraError(err error)
}

// VideoCamera is an open capture device producing encoded H.264 access
// units. Run blocks, calling emit once per frame at the camera frame rate,
// until ctx is done, the source ends or emit fails.
type VideoCamera interface {
	CaptureSession
	Run(ctx context.Context, emit func(frame []byte, pts time.Duration) error) error
}

// VideoSource opens a camera for the given encoder settings.
type VideoSource interface {
	Open(settings domain.EncoderSettings) (VideoCamera, error)
}

// Pipeline is one RTMP connection plus its video source.
type Pipeline interface {
	Start(url string) error
	Close() error
}

type PipelineFactory interface {
	NewPipeline(settings domain.EncoderSettings, events PipelineEvents) (Pipeline, error)
}

// CameraControl pushes a configuration onto a live capture session.
type CameraControl interface {
	Apply(cfg domain.CameraConfig, exposureChanged bool) error
}

// CameraControlFactory builds a CameraControl bound to one capture session.
type CameraControlFactory func(session CaptureSession) CameraControl

type ControlListener interface {
	OnConnectionStateChanged(state domain.ControlState)
	OnMessage(message string)
}

// ControlChannel is the server push channel for configuration changes.
type ControlChannel interface {
	Initialize(listener ControlListener)
	State() domain.ControlState
	Unregister()
	Close() error
}

// CameraAPI is the backend REST API.
type CameraAPI interface {
	Login(ctx context.Context, username, password string) (string, error)
	StreamKey(ctx context.Context) (*domain.StreamKeyInfo, error)
	CameraConfig(ctx context.Context) (domain.CameraConfig, error)
	Status(ctx context.Context) (int, error)
}

// ForegroundLauncher brings the user-facing surface to the foreground so a
// camera permission prompt can be answered.
type ForegroundLauncher interface {
	BringToForeground(ctx context.Context) error
}

// UIListener is notified when the camera opened and the prompt surface can
// dismiss itself.
type UIListener interface {
	CameraOpened()
}

// AuthListener is notified when the stored credentials were rejected.
type AuthListener interface {
	SignedOut()
}

// MetricsRecorder receives session and control-channel events.
type MetricsRecorder interface {
	RecordHardRestart(reason string)
	RecordInPlaceUpdate()
	RecordRecovery()
	RecordCoalescedRestart()
	SetPublishing(publishing bool)
	SetCameraOpen(open bool)
	RecordControlState(state domain.ControlState)
	RecordControlReconnect()
	RecordConfigApplied(source string)
}
