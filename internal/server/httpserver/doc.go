// Package httpserver serves the worker's WebSocket endpoint and the
// Prometheus metrics over net/http.
//
// Routes:
//
//   - /worker: page connections (WebSocket upgrade)
//   - /metrics: Prometheus scrape endpoint
//   - /healthz: liveness
//
// Every route goes through the middleware chain RequestID, Recover,
// AccessLog, NetworkACL and RateLimit.
package httpserver
