package cps

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/status"
)

// Metrics collects publish counters for one pool. A nil *Metrics records nothing.
type Metrics struct {
	published  *prometheus.CounterVec
	duration   prometheus.Histogram
	inflight   prometheus.Gauge
	selections *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		published: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cps_publish_total",
				Help: "Publish calls by gRPC outcome code.",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cps_publish_duration_seconds",
				Help:    "Latency of publish RPCs.",
				Buckets: prometheus.DefBuckets,
			},
		),
		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cps_publish_inflight",
				Help: "Publish RPCs currently awaiting a response.",
			},
		),
		selections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cps_roundrobin_selections_total",
				Help: "Publish calls routed to each pool index.",
			},
			[]string{"index"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.published, m.duration, m.inflight, m.selections)
	}
	return m
}

func (m *Metrics) publishStarted() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

func (m *Metrics) publishFinished(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inflight.Dec()
	m.duration.Observe(elapsed.Seconds())
	m.published.WithLabelValues(status.Code(err).String()).Inc()
}

func (m *Metrics) selected(index int) {
	if m == nil {
		return
	}
	m.selections.WithLabelValues(strconv.Itoa(index)).Inc()
}
