package metric

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yndnr/authpersist/internal/core/domain"
)

const namespace = "authpersist"

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Registry holds all application metrics.
//
// Every method is safe on a nil *Registry, so components can take an
// optional registry without guarding each call.
type Registry struct {
	registry *prometheus.Registry

	StorageOps      *prometheus.CounterVec
	StorageDuration *prometheus.HistogramVec
	Notifications   *prometheus.CounterVec
	Messages        *prometheus.CounterVec
	Migrations      prometheus.Counter
	ActiveBackend   *prometheus.GaugeVec

	watched *Collector
}

// NewRegistry creates a registry with Go runtime and process collectors.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		StorageOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "operations_total",
			Help:      "Backend operations by backend kind, operation and result.",
		}, []string{"backend", "op", "result"}),
		StorageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "operation_duration_seconds",
			Help:      "Backend operation latency.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"backend", "op"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "notifications_total",
			Help:      "Changes delivered to listeners by backend kind and detection source.",
		}, []string{"backend", "source"}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "requests_total",
			Help:      "Sender requests by event type and outcome code.",
		}, []string{"event", "result"}),
		Migrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "migrations_total",
			Help:      "User records copied into a newly selected backend.",
		}),
		ActiveBackend: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active_backend",
			Help:      "Number of managers whose active backend has the given kind.",
		}, []string{"kind"}),
		watched: NewCollector(),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.StorageOps,
		r.StorageDuration,
		r.Notifications,
		r.Messages,
		r.Migrations,
		r.ActiveBackend,
		r.watched,
	)
	return r
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns the process-wide registry.
func Global() *Registry {
	globalOnce.Do(func() {
		global = NewRegistry()
	})
	return global
}

// Prometheus returns the underlying registry.
func (r *Registry) Prometheus() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler returns an HTTP handler serving r in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Handler returns the handler of the global registry.
func Handler() http.Handler {
	return Global().Handler()
}

// ObserveStorage records one backend operation started at start.
func (r *Registry) ObserveStorage(kind domain.Kind, op string, start time.Time, err error) {
	if r == nil {
		return
	}
	r.StorageOps.WithLabelValues(string(kind), op, resultOf(err)).Inc()
	r.StorageDuration.WithLabelValues(string(kind), op).Observe(time.Since(start).Seconds())
}

// ObserveNotification records a change delivered from source ("event",
// "poll", "message" or "rescan").
func (r *Registry) ObserveNotification(kind domain.Kind, source string) {
	if r == nil {
		return
	}
	r.Notifications.WithLabelValues(string(kind), source).Inc()
}

// ObserveMessage records the outcome of a Sender request.
func (r *Registry) ObserveMessage(eventType string, err error) {
	if r == nil {
		return
	}
	r.Messages.WithLabelValues(eventType, resultOf(err)).Inc()
}

// IncMigrations counts a migration into the active backend.
func (r *Registry) IncMigrations() {
	if r == nil {
		return
	}
	r.Migrations.Inc()
}

// SwitchActive moves one manager from the from kind to the to kind. An
// empty kind is skipped.
func (r *Registry) SwitchActive(from, to domain.Kind) {
	if r == nil {
		return
	}
	if from != "" {
		r.ActiveBackend.WithLabelValues(string(from)).Dec()
	}
	if to != "" {
		r.ActiveBackend.WithLabelValues(string(to)).Inc()
	}
}

// Watch adds a source to the watched-keys collector.
func (r *Registry) Watch(src WatchSource) {
	if r == nil {
		return
	}
	r.watched.Add(src)
}

// resultOf maps an error to a low-cardinality label: the domain error code
// when there is one.
func resultOf(err error) string {
	if err == nil {
		return ResultOK
	}
	if code := domain.GetErrorCode(err); code != "" {
		return code
	}
	return ResultError
}
