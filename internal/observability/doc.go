// Package observability exposes Keystone's Prometheus metrics.
//
// Metrics live on a caller-supplied registry rather than the global default,
// so tests and multiple servers in one process do not collide. Metrics also
// implements auth.EventSink so every auth event is counted by type and reason.
package observability
