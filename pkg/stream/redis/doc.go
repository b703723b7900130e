// Package redis implements stream.Log on Redis Streams.
//
// Each Log operation maps to a single Redis command (XADD, XREADGROUP,
// XACK, XAUTOCLAIM, ...). Redis errors are translated into the stream
// package's error taxonomy so callers never match on Redis error strings.
package redis
