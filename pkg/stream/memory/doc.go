// Package memory implements stream.Log in process memory.
//
// It reproduces the store semantics the bus depends on - implicit stream
// creation, group cursors, pending tracking, idle-based claiming and
// blocking reads - so the bus packages can be tested without a running
// Redis. It is for testing purposes only.
package memory
