// Package metric provides Prometheus metrics management for QueryGate.
//
// The Registry owns a private prometheus.Registry pre-populated with core
// gateway metrics (request counts, execution latency, reload outcomes) and
// Go runtime collectors. Components register their own metrics through the
// Registrar interface with per-component bookkeeping so duplicate names are
// caught at registration time rather than surfacing as prometheus panics.
package metric
