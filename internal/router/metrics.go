package router

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Outcome labels for settled requests.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeTimeout = "timeout"
	outcomeSend    = "send_error"
	outcomeClosed  = "closed"
)

type metrics struct {
	dispatched *prometheus.CounterVec
	settled    *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	pending    prometheus.Gauge
	latency    *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "multimodal",
			Subsystem: "router",
			Name:      "requests_dispatched_total",
			Help:      "Requests handed to the transport, by action type.",
		}, []string{"action"}),
		settled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "multimodal",
			Subsystem: "router",
			Name:      "requests_settled_total",
			Help:      "Settled requests, by action type and outcome.",
		}, []string{"action", "outcome"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "multimodal",
			Subsystem: "router",
			Name:      "inbound_dropped_total",
			Help:      "Inbound messages that settled nothing, by reason.",
		}, []string{"reason"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "multimodal",
			Subsystem: "router",
			Name:      "requests_pending",
			Help:      "Requests awaiting a response.",
		}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "multimodal",
			Subsystem: "router",
			Name:      "request_duration_seconds",
			Help:      "Time from dispatch to settlement.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"action", "outcome"}),
	}

	if reg == nil {
		return m
	}
	for _, c := range []prometheus.Collector{m.dispatched, m.settled, m.dropped, m.pending, m.latency} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("router: register metrics")
		}
	}
	return m
}

func (m *metrics) observe(action, outcome string, started time.Time) {
	m.settled.WithLabelValues(action, outcome).Inc()
	m.latency.WithLabelValues(action, outcome).Observe(time.Since(started).Seconds())
	m.pending.Dec()
}
