package transport

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	transporterrors "github.com/nczempin/sockettransport/errors"
)

const metricsNamespace = "sockettransport"

// Metrics collects transport counters. A nil *Metrics records nothing.
type Metrics struct {
	opens           *prometheus.CounterVec
	connectDuration prometheus.Histogram
	bytesRead       prometheus.Counter
	bytesWritten    prometheus.Counter
	errors          *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		opens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "opens_total",
			Help:      "Connection attempts by result.",
		}, []string{"result"}),
		connectDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "connect_duration_seconds",
			Help:      "Time spent establishing connections.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "read_bytes_total",
			Help:      "Bytes received.",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "written_bytes_total",
			Help:      "Bytes sent.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "errors_total",
			Help:      "Transport errors by operation and kind.",
		}, []string{"op", "kind"}),
	}

	for _, c := range []prometheus.Collector{m.opens, m.connectDuration, m.bytesRead, m.bytesWritten, m.errors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeOpen(start time.Time, err error) {
	if m == nil {
		return
	}
	m.connectDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.opens.WithLabelValues("failure").Inc()
		m.observeError("open", err)
		return
	}
	m.opens.WithLabelValues("success").Inc()
}

func (m *Metrics) addRead(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesRead.Add(float64(n))
}

func (m *Metrics) addWritten(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesWritten.Add(float64(n))
}

func (m *Metrics) observeError(op string, err error) {
	if m == nil || err == nil {
		return
	}
	kind := "misuse"
	if k, ok := transporterrors.KindOf(err); ok {
		kind = k.String()
	}
	m.errors.WithLabelValues(op, kind).Inc()
}
