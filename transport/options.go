package transport

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Option configures a Socket.
type Option func(*Socket)

// WithTimeout bounds every Open, Read and Write by d. Zero or a negative
// value selects blocking mode.
func WithTimeout(d time.Duration) Option {
	return func(s *Socket) {
		s.timeout = normalizeTimeout(d)
	}
}

// WithPoller replaces the poll(2) readiness backend. The Socket does not
// close p.
func WithPoller(p Poller) Option {
	return func(s *Socket) {
		if p != nil {
			s.poller = p
		}
	}
}

// WithLogger sets the logger; the endpoint field is added to it.
func WithLogger(l *logrus.Entry) Option {
	return func(s *Socket) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics records socket activity in m.
func WithMetrics(m *Metrics) Option {
	return func(s *Socket) {
		s.metrics = m
	}
}

func normalizeTimeout(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
