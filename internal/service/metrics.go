package service

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
)

const metricsNamespace = "approvals"

// Metrics collects engine metrics.
type Metrics struct {
	transitions          *prometheus.CounterVec
	duration             *prometheus.HistogramVec
	notificationFailures prometheus.Counter
}

// NewMetrics registers the engine collectors with reg. A nil reg creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "transitions_total",
				Help:      "Engine operations by operation, action and outcome",
			},
			[]string{"operation", "action", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "operation_duration_seconds",
				Help:      "Engine operation latency including lock wait",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		notificationFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "notification_failures_total",
				Help:      "Approver notifications that could not be delivered",
			},
		),
	}
}

func (m *Metrics) observe(operation, action string, err error, start time.Time) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = strings.ToLower(string(errors.CodeOf(err)))
	}
	m.transitions.WithLabelValues(operation, action, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) notificationFailed() {
	if m == nil {
		return
	}
	m.notificationFailures.Inc()
}
