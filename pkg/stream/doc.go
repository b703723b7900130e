// Package stream abstracts the ordered-log store underneath the bus.
//
// A Log is an append-only stream keyed by name, with consumer groups
// providing cursor and pending-entry tracking. Two adapters implement it:
// the Redis Streams client in stream/redis used in production, and the
// in-process log in stream/memory used by tests.
//
// The Log carries no business logic: envelopes, routing and retries live
// in the bus package.
package stream
