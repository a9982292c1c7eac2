package domain

import (
	"strings"
	"time"
)

// StreamKeyInfo is what the backend returns for the signed-in streamer.
type StreamKeyInfo struct {
	IsStreaming    bool   `json:"isStreaming"`
	StreamKey      string `json:"streamKey"`
	StreamerUserID string `json:"streamerUserId"`
}

// DestinationURL joins the RTMP application base (rtmp://host/live) and the
// stream key.
func DestinationURL(base, streamKey string) string {
	return strings.TrimRight(base, "/") + "/" + streamKey
}

// SessionPhase is the orchestrator-level lifecycle of a streaming session.
type SessionPhase string

const (
	PhaseIdle       SessionPhase = "idle"
	PhaseStarting   SessionPhase = "starting"
	PhaseActive     SessionPhase = "active"
	PhaseRecovering SessionPhase = "recovering"
	PhaseStopped    SessionPhase = "stopped"
)

// SessionState is a copy of the publish session's observed state.
type SessionState struct {
	CurrentConfig  *CameraConfig `json:"current_config,omitempty"`
	IsCameraOpen   bool          `json:"is_camera_open"`
	IsPublishing   bool          `json:"is_publishing"`
	StreamKey      string        `json:"stream_key"`
	DestinationURL string        `json:"destination_url"`
	Generation     uint64        `json:"generation"`
	RestartPending bool          `json:"restart_pending"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// ControlState is the connection state of the control channel.
type ControlState string

const (
	ControlConnecting ControlState = "connecting"
	ControlConnected  ControlState = "connected"
)

// RTMP NetConnection status codes reported by the publish connection.
const (
	StatusConnectSuccess  = "NetConnection.Connect.Success"
	StatusConnectClosed   = "NetConnection.Connect.Closed"
	StatusConnectFailed   = "NetConnection.Connect.Failed"
	StatusConnectRejected = "NetConnection.Connect.Rejected"
)

// IsConnectSuccess reports whether a status event means the publish
// connection is up.
func IsConnectSuccess(status string) bool {
	return strings.Contains(status, StatusConnectSuccess)
}

// IsConnectLost reports whether a status event means the publish connection
// went away.
func IsConnectLost(status string) bool {
	return strings.Contains(status, StatusConnectClosed) ||
		strings.Contains(status, StatusConnectFailed) ||
		strings.Contains(status, StatusConnectRejected)
}
