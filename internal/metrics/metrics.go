package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry creates a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// LinkMetrics counts traffic on the gimbal serial link.
type LinkMetrics struct {
	FramesSent      *prometheus.CounterVec // labels: family, mode
	EncodeErrors    *prometheus.CounterVec // labels: family
	TransportErrors *prometheus.CounterVec // labels: op=transmit|receive
	ShortReads      *prometheus.CounterVec // labels: path=query|control
	ReplyBytes      prometheus.Histogram
}

// NewLinkMetrics registers and returns the link metrics.
func NewLinkMetrics(reg prometheus.Registerer) *LinkMetrics {
	m := &LinkMetrics{
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gimbal_frames_sent_total",
			Help: "Frames written to the gimbal.",
		}, []string{"family", "mode"}),
		EncodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gimbal_encode_errors_total",
			Help: "Commands rejected before transmission.",
		}, []string{"family"}),
		TransportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gimbal_transport_errors_total",
			Help: "Serial transmit and receive failures.",
		}, []string{"op"}),
		ShortReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gimbal_short_reads_total",
			Help: "Replies shorter than the expected length.",
		}, []string{"path"}),
		ReplyBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gimbal_reply_bytes",
			Help:    "Bytes read back after each frame.",
			Buckets: []float64{0, 2, 4, 8, 16, 32},
		}),
	}
	reg.MustRegister(m.FramesSent, m.EncodeErrors, m.TransportErrors, m.ShortReads, m.ReplyBytes)
	return m
}

// ServerMetrics covers the remote control server.
type ServerMetrics struct {
	Clients        prometheus.Gauge
	Messages       *prometheus.CounterVec // labels: type
	DroppedUpdates prometheus.Counter
}

// NewServerMetrics registers and returns the server metrics.
func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	m := &ServerMetrics{
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_clients",
			Help: "Connected WebSocket clients.",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ws_messages_total",
			Help: "WebSocket messages received by type.",
		}, []string{"type"}),
		DroppedUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ptz_updates_dropped_total",
			Help: "Joystick updates dropped by the rate limiter.",
		}),
	}
	reg.MustRegister(m.Clients, m.Messages, m.DroppedUpdates)
	return m
}
