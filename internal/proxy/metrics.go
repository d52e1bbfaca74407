package proxy

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated by the router.
type Metrics struct {
	Requests       *prometheus.CounterVec
	UpstreamErrors *prometheus.CounterVec
	Duration       *prometheus.HistogramVec
}

// NewMetrics creates the router collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devproxy_requests_total",
				Help: "Total number of requests forwarded upstream, by rule and response code",
			},
			[]string{"rule", "code"},
		),
		UpstreamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devproxy_upstream_errors_total",
				Help: "Total number of failed upstream calls, by rule and failure kind",
			},
			[]string{"rule", "kind"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "devproxy_upstream_duration_seconds",
				Help:    "Time until upstream response headers, by rule",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"rule"},
		),
	}
	reg.MustRegister(m.Requests, m.UpstreamErrors, m.Duration)
	return m
}

func (m *Metrics) observe(rule string, code int, start time.Time) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(rule, strconv.Itoa(code)).Inc()
	m.Duration.WithLabelValues(rule).Observe(time.Since(start).Seconds())
}

func (m *Metrics) failed(rule string, kind failureKind, code int) {
	if m == nil {
		return
	}
	m.UpstreamErrors.WithLabelValues(rule, string(kind)).Inc()
	m.Requests.WithLabelValues(rule, strconv.Itoa(code)).Inc()
}
