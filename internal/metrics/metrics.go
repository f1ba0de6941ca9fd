// Package metrics exports canvas and protocol counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/loomwm/loom/pkg/domain"
)

type Metrics struct {
	Nodes            prometheus.Gauge
	Connections      prometheus.Gauge
	Subscriptions    prometheus.Gauge
	Clients          prometheus.Gauge
	EventsPublished  *prometheus.CounterVec
	EventDeliveries  prometheus.Counter
	EventsDropped    prometheus.Counter
	Requests         *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	FrameDuration    prometheus.Histogram
	FrameStutters    prometheus.Counter
	SnapshotFailures prometheus.Counter
}

// New registers every collector on reg. Pass prometheus.NewRegistry() in tests
// to keep registrations isolated.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Nodes: f.NewGauge(prometheus.GaugeOpts{
			Name: "loom_canvas_nodes",
			Help: "Current number of live nodes",
		}),
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "loom_canvas_connections",
			Help: "Current number of live connections",
		}),
		Subscriptions: f.NewGauge(prometheus.GaugeOpts{
			Name: "loom_event_subscriptions",
			Help: "Current number of event subscriptions",
		}),
		Clients: f.NewGauge(prometheus.GaugeOpts{
			Name: "loom_protocol_clients",
			Help: "Current number of connected protocol clients",
		}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_events_published_total",
			Help: "Total number of canvas events published, by kind",
		}, []string{"kind"}),
		EventDeliveries: f.NewCounter(prometheus.CounterOpts{
			Name: "loom_event_deliveries_total",
			Help: "Total number of events queued to subscribers",
		}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "loom_events_dropped_total",
			Help: "Total number of events dropped from full subscriber queues",
		}),
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_protocol_requests_total",
			Help: "Total number of protocol requests, by operation and result code",
		}, []string{"op", "code"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loom_protocol_request_duration_seconds",
			Help:    "Time spent executing protocol requests on the canvas loop",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
		}, []string{"op"}),
		FrameDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "loom_frame_duration_seconds",
			Help:    "Duration of render frame preparation",
			Buckets: []float64{.001, .002, .004, .008, .016, .033, .066},
		}),
		FrameStutters: f.NewCounter(prometheus.CounterOpts{
			Name: "loom_frame_stutters_total",
			Help: "Total number of frames over twice the frame budget",
		}),
		SnapshotFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "loom_snapshot_failures_total",
			Help: "Total number of snapshot saves that failed",
		}),
	}
}

// EventPublished implements events.Observer.
func (m *Metrics) EventPublished(kind domain.EventKind, deliveries int) {
	m.EventsPublished.WithLabelValues(string(kind)).Inc()
	m.EventDeliveries.Add(float64(deliveries))
}

// QueueOverflow implements events.Observer.
func (m *Metrics) QueueOverflow(n int) {
	m.EventsDropped.Add(float64(n))
}

// RequestHandled implements protocol.Observer.
func (m *Metrics) RequestHandled(op, code string, d time.Duration) {
	m.Requests.WithLabelValues(op, code).Inc()
	m.RequestDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveFrame records one frame.
func (m *Metrics) ObserveFrame(d time.Duration, stutter bool) {
	m.FrameDuration.Observe(d.Seconds())
	if stutter {
		m.FrameStutters.Inc()
	}
}

// SetCanvas updates the size gauges.
func (m *Metrics) SetCanvas(nodes, connections, subscriptions, clients int) {
	m.Nodes.Set(float64(nodes))
	m.Connections.Set(float64(connections))
	m.Subscriptions.Set(float64(subscriptions))
	m.Clients.Set(float64(clients))
}
