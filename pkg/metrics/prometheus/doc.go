// Package prometheus implements the bus metrics port on the Prometheus
// client. The collector registers its series on the default registry,
// exposed by the admin server's /metrics endpoint.
package prometheus
