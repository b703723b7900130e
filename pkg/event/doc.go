// Package event defines the envelope that travels over the bus.
//
// An Envelope is an immutable value describing one domain or technical
// event: a dotted event type, an opaque JSON payload and metadata used for
// tracing, tenant scoping and retry accounting. The package also owns the
// wire codec that flattens an envelope into the string-field map stored in
// a stream entry and parses it back.
//
// Example usage:
//
//	env, err := event.New("product.updated", map[string]any{"id": 7}, event.Metadata{
//	    Source:   "product_service",
//	    TenantID: tenantID,
//	})
package event
