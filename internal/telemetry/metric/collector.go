package metric

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/authpersist/internal/core/domain"
)

// WatchSource is a backend that can report how many keys it is watching.
type WatchSource interface {
	Persistence() domain.Persistence
	WatchedKeys() int
}

// Collector reports the watched-key count of each registered backend at
// scrape time.
type Collector struct {
	mu      sync.Mutex
	sources []WatchSource
	desc    *prometheus.Desc
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "watch", "keys"),
			"Keys with at least one listener, per backend.",
			[]string{"backend", "id"},
			nil,
		),
	}
}

// Add registers a source.
func (c *Collector) Add(src WatchSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources = append(c.sources, src)
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	sources := append([]WatchSource(nil), c.sources...)
	c.mu.Unlock()

	for _, src := range sources {
		p := src.Persistence()
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue,
			float64(src.WatchedKeys()), string(p.Kind), p.ID)
	}
}
