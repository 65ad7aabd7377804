package host

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

type metrics struct {
	productions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	sessions    prometheus.Gauge
	requests    *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		productions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "multimodal",
			Subsystem: "host",
			Name:      "productions_total",
			Help:      "Artifact productions, by modality and outcome.",
		}, []string{"modality", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "multimodal",
			Subsystem: "host",
			Name:      "production_duration_seconds",
			Help:      "Time spent producing an artifact.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"modality"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "multimodal",
			Subsystem: "host",
			Name:      "sessions",
			Help:      "Live widget sessions.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "multimodal",
			Subsystem: "host",
			Name:      "requests_total",
			Help:      "Request envelopes handled, by action and success.",
		}, []string{"action", "success"}),
	}

	if reg == nil {
		return m
	}
	for _, c := range []prometheus.Collector{m.productions, m.duration, m.sessions, m.requests} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("host: register metrics")
		}
	}
	return m
}
