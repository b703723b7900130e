package stream

import (
	"context"
	"time"
)

// Group start positions. A group created at StartBeginning sees the whole
// stream, one created at StartNew sees only entries appended afterwards.
// Any explicit entry ID is also accepted.
const (
	StartBeginning = "0"
	StartNew       = "$"
)

// Entry is one stored record: a store-assigned monotonic ID plus the flat
// string fields written at append time
type Entry struct {
	ID     string
	Fields map[string]string
}

// PendingEntry describes a delivered-but-unacknowledged entry
type PendingEntry struct {
	ID            string
	Consumer      string
	Idle          time.Duration
	DeliveryCount int64
}

// GroupInfo is the introspection view of one consumer group
type GroupInfo struct {
	Name            string
	Consumers       int64
	Pending         int64
	LastDeliveredID string
	Lag             int64
}

// Log is the ordered-log store. All operations are single network round
// trips; none are transactional across calls. Entries within one stream
// are totally ordered by append order.
type Log interface {
	// Append writes one entry and returns its store-assigned ID. The
	// stream is created implicitly on first append.
	Append(ctx context.Context, stream string, fields map[string]any) (string, error)

	// CreateGroup creates a consumer group at startID. If the group
	// already exists this is a silent no-op unless recreate is set, in
	// which case the group is destroyed and recreated, discarding its
	// pending state. Recreation is the only way to move a group's cursor.
	CreateGroup(ctx context.Context, stream, group, startID string, recreate bool) error

	// ReadGroup delivers up to count undelivered entries to consumer,
	// blocking up to block. A timeout returns an empty slice, not an error.
	ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Entry, error)

	// Ack marks entries as processed, removing them from the pending set
	Ack(ctx context.Context, stream, group string, ids ...string) error

	// ClaimPending reassigns entries pending longer than minIdle to
	// consumer, for crash recovery
	ClaimPending(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]Entry, error)

	// DeleteGroup removes a consumer group
	DeleteGroup(ctx context.Context, stream, group string) error

	// Len returns the number of entries in a stream
	Len(ctx context.Context, stream string) (int64, error)

	// Groups lists the consumer groups of a stream
	Groups(ctx context.Context, stream string) ([]GroupInfo, error)

	// Pending lists delivered-but-unacknowledged entries of a group
	Pending(ctx context.Context, stream, group string, count int64) ([]PendingEntry, error)

	// Range reads entries by ID range without touching any group cursor
	Range(ctx context.Context, stream, start, end string, count int64) ([]Entry, error)

	// DeleteStream removes a stream and all its groups. Destructive,
	// administrative use only.
	DeleteStream(ctx context.Context, stream string) error
}
