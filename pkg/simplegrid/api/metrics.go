package api

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gateway's Prometheus collectors
type Metrics struct {
	requests *prometheus.CounterVec
	duration prometheus.Histogram
	bytes    prometheus.Counter
}

// NewMetrics creates the gateway collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "simplegrid",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Blob requests by response status code.",
		}, []string{"code"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "simplegrid",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Time to serve a blob request, including the body copy.",
			Buckets:   prometheus.DefBuckets,
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "simplegrid",
			Subsystem: "gateway",
			Name:      "response_bytes_total",
			Help:      "Blob bytes written to clients.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration, m.bytes)
	}
	return m
}

func (m *Metrics) observe(status int, written int64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(strconv.Itoa(status)).Inc()
	m.duration.Observe(elapsed.Seconds())
	if written > 0 {
		m.bytes.Add(float64(written))
	}
}
