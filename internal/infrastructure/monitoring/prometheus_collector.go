package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
)

// PrometheusCollector exports session and control channel events.
type PrometheusCollector struct {
	hardRestarts      *prometheus.CounterVec
	inPlaceUpdates    prometheus.Counter
	recoveries        prometheus.Counter
	coalescedRestarts prometheus.Counter
	controlReconnects prometheus.Counter
	configsApplied    *prometheus.CounterVec

	publishing   prometheus.Gauge
	cameraOpen   prometheus.Gauge
	controlState *prometheus.GaugeVec
}

func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		hardRestarts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camstream_hard_restarts_total",
			Help: "Publish pipeline teardowns followed by a rebuild",
		}, []string{"reason"}),

		inPlaceUpdates: factory.NewCounter(prometheus.CounterOpts{
			Name: "camstream_in_place_updates_total",
			Help: "Camera parameter updates applied to a live capture session",
		}),

		recoveries: factory.NewCounter(prometheus.CounterOpts{
			Name: "camstream_recoveries_total",
			Help: "Automatic restarts after the publish connection was lost",
		}),

		coalescedRestarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "camstream_coalesced_restarts_total",
			Help: "Restart requests folded into one already pending",
		}),

		controlReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "camstream_control_reconnects_total",
			Help: "Control channel reconnect attempts",
		}),

		configsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camstream_configs_applied_total",
			Help: "Camera configurations applied by source",
		}, []string{"source"}),

		publishing: factory.NewGauge(prometheus.GaugeOpts{
			Name: "camstream_publishing",
			Help: "1 while the RTMP connection is publishing",
		}),

		cameraOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "camstream_camera_open",
			Help: "1 while the capture session is open",
		}),

		controlState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "camstream_control_state",
			Help: "Control channel state, 1 for the current state",
		}, []string{"state"}),
	}
}

var _ ports.MetricsRecorder = (*PrometheusCollector)(nil)

func (p *PrometheusCollector) RecordHardRestart(reason string) {
	p.hardRestarts.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) RecordInPlaceUpdate() {
	p.inPlaceUpdates.Inc()
}

func (p *PrometheusCollector) RecordRecovery() {
	p.recoveries.Inc()
}

func (p *PrometheusCollector) RecordCoalescedRestart() {
	p.coalescedRestarts.Inc()
}

func (p *PrometheusCollector) SetPublishing(publishing bool) {
	p.publishing.Set(boolGauge(publishing))
}

func (p *PrometheusCollector) SetCameraOpen(open bool) {
	p.cameraOpen.Set(boolGauge(open))
}

func (p *PrometheusCollector) RecordControlState(state domain.ControlState) {
	for _, s := range []domain.ControlState{domain.ControlConnecting, domain.ControlConnected} {
		p.controlState.WithLabelValues(string(s)).Set(boolGauge(s == state))
	}
}

func (p *PrometheusCollector) RecordControlReconnect() {
	p.controlReconnects.Inc()
}

func (p *PrometheusCollector) RecordConfigApplied(source string) {
	p.configsApplied.WithLabelValues(source).Inc()
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
