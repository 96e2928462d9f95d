package keys

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for key manager operations.
type Metrics struct {
	validationTotal    *prometheus.CounterVec
	validationDuration *prometheus.HistogramVec
	creationsTotal     *prometheus.CounterVec
	invalidationsTotal prometheus.Counter
}

var (
	sharedMetrics     *Metrics
	sharedMetricsOnce sync.Once
)

// GetSharedMetrics returns the singleton Metrics instance.
func GetSharedMetrics() *Metrics {
	sharedMetricsOnce.Do(func() {
		sharedMetrics = NewMetrics("keywarden")
	})
	return sharedMetrics
}

// Init pre-initializes common label combinations with zero values so
// that metrics appear in /metrics output immediately after startup.
// Idempotent and safe to call multiple times.
func (m *Metrics) Init() {
	for _, tier := range []string{"local", "distributed", "store", "negative", "none"} {
		for _, result := range []string{"valid", "invalid"} {
			m.validationTotal.WithLabelValues(result, tier)
			m.validationDuration.WithLabelValues(result, tier)
		}
	}
	for _, outcome := range []string{"created", "exists", "error"} {
		m.creationsTotal.WithLabelValues(outcome)
	}
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "keywarden"
	}

	m := &Metrics{}

	m.validationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "apikey",
			Name:      "validation_total",
			Help:      "Total number of API key validation attempts",
		},
		[]string{"result", "tier"},
	)

	m.validationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "apikey",
			Name:      "validation_duration_seconds",
			Help:      "API key validation duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"result", "tier"},
	)

	m.creationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "apikey",
			Name:      "creations_total",
			Help:      "Total number of API key creation attempts",
		},
		[]string{"outcome"},
	)

	m.invalidationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "apikey",
			Name:      "invalidations_total",
			Help:      "Total number of invalidation messages processed",
		},
	)

	return m
}

// RecordValidation records a validation attempt. tier names the tier
// that resolved the lookup.
func (m *Metrics) RecordValidation(result, tier string, duration time.Duration) {
	m.validationTotal.WithLabelValues(result, tier).Inc()
	m.validationDuration.WithLabelValues(result, tier).Observe(duration.Seconds())
}

// RecordCreation records a creation attempt outcome.
func (m *Metrics) RecordCreation(outcome string) {
	m.creationsTotal.WithLabelValues(outcome).Inc()
}

// RecordInvalidation records a processed invalidation message.
func (m *Metrics) RecordInvalidation() {
	m.invalidationsTotal.Inc()
}

// MustRegister registers the metrics with the given registry. It uses
// Register (not MustRegister) to gracefully handle duplicate
// registration when managers are recreated; AlreadyRegisteredError is
// silently ignored.
func (m *Metrics) MustRegister(registry *prometheus.Registry) {
	for _, c := range []prometheus.Collector{
		m.validationTotal,
		m.validationDuration,
		m.creationsTotal,
		m.invalidationsTotal,
	} {
		if err := registry.Register(c); err != nil {
			if !isAlreadyRegistered(err) {
				panic(err)
			}
		}
	}
}

// isAlreadyRegistered returns true if the error indicates the collector
// was already registered with the registry.
func isAlreadyRegistered(err error) bool {
	var are prometheus.AlreadyRegisteredError
	return errors.As(err, &are)
}
