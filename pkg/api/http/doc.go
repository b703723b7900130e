// Package http exposes the administrative API of the bus.
//
// The API is read-mostly introspection (stream length, group lag,
// pending entries, dead-letter inspection) plus three operator actions:
// publishing a test event, re-driving a dead-lettered entry back to its
// original stream, and destructively clearing a stream. Prometheus
// metrics are served on /metrics.
package http
