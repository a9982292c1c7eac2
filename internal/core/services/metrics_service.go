package services

import (
	"sync"
	"time"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
)

// MetricsSnapshot is a point-in-time copy of the session counters.
type MetricsSnapshot struct {
	HardRestarts      map[string]int      `json:"hard_restarts"`
	InPlaceUpdates    int                 `json:"in_place_updates"`
	Recoveries        int                 `json:"recoveries"`
	CoalescedRestarts int                 `json:"coalesced_restarts"`
	ControlReconnects int                 `json:"control_reconnects"`
	ConfigsApplied    map[string]int      `json:"configs_applied"`
	Publishing        bool                `json:"publishing"`
	CameraOpen        bool                `json:"camera_open"`
	ControlState      domain.ControlState `json:"control_state"`
	LastRestartAt     time.Time           `json:"last_restart_at"`
}

// TotalHardRestarts sums hard restarts over all reasons.
func (s MetricsSnapshot) TotalHardRestarts() int {
	total := 0
	for _, n := range s.HardRestarts {
		total += n
	}
	return total
}

// MetricsService keeps in-process counters of session events and forwards
// every event to an optional exporter.
type MetricsService struct {
	mu sync.RWMutex

	hardRestarts      map[string]int
	inPlaceUpdates    int
	recoveries        int
	coalescedRestarts int
	controlReconnects int
	configsApplied    map[string]int
	publishing        bool
	cameraOpen        bool
	controlState      domain.ControlState
	lastRestartAt     time.Time

	exporter ports.MetricsRecorder
}

// NewMetricsService creates the counters. exporter may be nil.
func NewMetricsService(exporter ports.MetricsRecorder) *MetricsService {
	return &MetricsService{
		hardRestarts:   make(map[string]int),
		configsApplied: make(map[string]int),
		controlState:   domain.ControlConnecting,
		exporter:       exporter,
	}
}

func (m *MetricsService) RecordHardRestart(reason string) {
	m.mu.Lock()
	m.hardRestarts[reason]++
	m.lastRestartAt = time.Now()
	m.mu.Unlock()

	if m.exporter != nil {
		m.exporter.RecordHardRestart(reason)
	}
}

func (m *MetricsService) RecordInPlaceUpdate() {
	m.mu.Lock()
	m.inPlaceUpdates++
	m.mu.Unlock()

	if m.exporter != nil {
		m.exporter.RecordInPlaceUpdate()
	}
}

func (m *MetricsService) RecordRecovery() {
	m.mu.Lock()
	m.recoveries++
	m.mu.Unlock()

	if m.exporter != nil {
		m.exporter.RecordRecovery()
	}
}

func (m *MetricsService) RecordCoalescedRestart() {
	m.mu.Lock()
	m.coalescedRestarts++
	m.mu.Unlock()

	if m.exporter != nil {
		m.exporter.RecordCoalescedRestart()
	}
}

func (m *MetricsService) SetPublishing(publishing bool) {
	m.mu.Lock()
	m.publishing = publishing
	m.mu.Unlock()

	if m.exporter != nil {
		m.exporter.SetPublishing(publishing)
	}
}

func (m *MetricsService) SetCameraOpen(open bool) {
	m.mu.Lock()
	m.cameraOpen = open
	m.mu.Unlock()

	if m.exporter != nil {
		m.exporter.SetCameraOpen(open)
	}
}

func (m *MetricsService) RecordControlState(state domain.ControlState) {
	m.mu.Lock()
	m.controlState = state
	m.mu.Unlock()

	if m.exporter != nil {
		m.exporter.RecordControlState(state)
	}
}

func (m *MetricsService) RecordControlReconnect() {
	m.mu.Lock()
	m.controlReconnects++
	m.mu.Unlock()

	if m.exporter != nil {
		m.exporter.RecordControlReconnect()
	}
}

func (m *MetricsService) RecordConfigApplied(source string) {
	m.mu.Lock()
	m.configsApplied[source]++
	m.mu.Unlock()

	if m.exporter != nil {
		m.exporter.RecordConfigApplied(source)
	}
}

func (m *MetricsService) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		HardRestarts:      make(map[string]int, len(m.hardRestarts)),
		InPlaceUpdates:    m.inPlaceUpdates,
		Recoveries:        m.recoveries,
		CoalescedRestarts: m.coalescedRestarts,
		ControlReconnects: m.controlReconnects,
		ConfigsApplied:    make(map[string]int, len(m.configsApplied)),
		Publishing:        m.publishing,
		CameraOpen:        m.cameraOpen,
		ControlState:      m.controlState,
		LastRestartAt:     m.lastRestartAt,
	}
	for k, v := range m.hardRestarts {
		snap.HardRestarts[k] = v
	}
	for k, v := range m.configsApplied {
		snap.ConfigsApplied[k] = v
	}
	return snap
}
