package migrate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for migration runs. A nil *Metrics
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	migrations      *prometheus.CounterVec
	tenantSteps     *prometheus.CounterVec
	tenantDuration  *prometheus.HistogramVec
	deferredWrapped prometheus.Counter
}

// NewMetrics creates the collectors on their own registry
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		migrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrations_total",
			Help:      "Migrations applied or unapplied, by direction and kind.",
		}, []string{"direction", "kind"}),
		tenantSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_steps_total",
			Help:      "Per tenant replays of tenant migrations.",
		}, []string{"direction"}),
		tenantDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tenant_step_duration_seconds",
			Help:      "Duration of one per tenant replay.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"direction"}),
		deferredWrapped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deferred_statements_wrapped_total",
			Help:      "Deferred statements wrapped in a tenant schema switch.",
		}),
	}

	m.registry.MustRegister(m.migrations, m.tenantSteps, m.tenantDuration, m.deferredWrapped)
	return m
}

// Registry returns the registry holding the collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) observeTenantStep(direction string, d time.Duration, deferred int) {
	if m == nil {
		return
	}
	m.tenantSteps.WithLabelValues(direction).Inc()
	m.tenantDuration.WithLabelValues(direction).Observe(d.Seconds())
	if deferred > 0 {
		m.deferredWrapped.Add(float64(deferred))
	}
}

func (m *Metrics) observeMigration(direction string, tenant bool) {
	if m == nil {
		return
	}
	kind := "shared"
	if tenant {
		kind = "tenant"
	}
	m.migrations.WithLabelValues(direction, kind).Inc()
}
