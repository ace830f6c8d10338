// Package metric provides Prometheus metrics for authpersist.
//
//   - prometheus.go: registry, nil-safe observation helpers, HTTP handler
//   - collector.go: scrape-time collector for watched keys per backend
//
// Metrics cover backend operations and latency, change notifications by
// detection source, messaging outcomes, and which backend kind each
// session manager selected.
package metric
