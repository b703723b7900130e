package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aiutox/eventbus/pkg/stream"
)

// Log implements stream.Log on Redis Streams
type Log struct {
	client *redis.Client
	logger *zap.Logger
}

// NewLog creates a Redis-backed log. The client's lifecycle belongs to
// the caller.
func NewLog(client *redis.Client, logger *zap.Logger) *Log {
	return &Log{
		client: client,
		logger: logger,
	}
}

// Append writes one entry via XADD
func (l *Log) Append(ctx context.Context, streamName string, fields map[string]any) (string, error) {
	id, err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamName,
		Values: fields,
	}).Result()
	if err != nil {
		return "", wrapErr("append to "+streamName, err)
	}

	l.logger.Debug("entry appended",
		zap.String("stream", streamName),
		zap.String("entry_id", id))

	return id, nil
}

// CreateGroup creates a consumer group via XGROUP CREATE MKSTREAM. An
// existing group is a silent no-op unless recreate is set.
func (l *Log) CreateGroup(ctx context.Context, streamName, group, startID string, recreate bool) error {
	err := l.client.XGroupCreateMkStream(ctx, streamName, group, startID).Err()
	if err == nil {
		l.logger.Info("consumer group created",
			zap.String("stream", streamName),
			zap.String("group", group),
			zap.String("start_id", startID))
		return nil
	}

	if !strings.Contains(err.Error(), "BUSYGROUP") {
		return wrapErr("create group "+group, err)
	}

	if !recreate {
		l.logger.Debug("consumer group already exists",
			zap.String("stream", streamName),
			zap.String("group", group))
		return nil
	}

	// Destroy and recreate at startID, discarding pending state. This is
	// the only supported way to move a group's cursor.
	if err := l.DeleteGroup(ctx, streamName, group); err != nil {
		return err
	}
	if err := l.client.XGroupCreateMkStream(ctx, streamName, group, startID).Err(); err != nil {
		return wrapErr("recreate group "+group, err)
	}

	l.logger.Info("consumer group recreated",
		zap.String("stream", streamName),
		zap.String("group", group),
		zap.String("start_id", startID))

	return nil
}

// ReadGroup delivers undelivered entries via XREADGROUP. A blocking
// timeout returns an empty slice.
func (l *Log) ReadGroup(ctx context.Context, streamName, group, consumer string, count int64, block time.Duration) ([]stream.Entry, error) {
	streams, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{streamName, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, wrapErr("read group "+group, err)
	}

	var entries []stream.Entry
	for _, s := range streams {
		for _, msg := range s.Messages {
			entries = append(entries, toEntry(msg))
		}
	}
	return entries, nil
}

// Ack removes entries from the pending set via XACK
func (l *Log) Ack(ctx context.Context, streamName, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := l.client.XAck(ctx, streamName, group, ids...).Err(); err != nil {
		return wrapErr("ack in group "+group, err)
	}
	return nil
}

// ClaimPending reassigns stale pending entries via XAUTOCLAIM
func (l *Log) ClaimPending(ctx context.Context, streamName, group, consumer string, minIdle time.Duration, count int64) ([]stream.Entry, error) {
	msgs, _, err := l.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   streamName,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		return nil, wrapErr("claim pending in group "+group, err)
	}

	entries := make([]stream.Entry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, toEntry(msg))
	}

	if len(entries) > 0 {
		l.logger.Info("claimed pending entries",
			zap.String("stream", streamName),
			zap.String("group", group),
			zap.String("consumer", consumer),
			zap.Int("count", len(entries)))
	}

	return entries, nil
}

// DeleteGroup removes a consumer group via XGROUP DESTROY
func (l *Log) DeleteGroup(ctx context.Context, streamName, group string) error {
	if err := l.client.XGroupDestroy(ctx, streamName, group).Err(); err != nil {
		return wrapErr("delete group "+group, err)
	}
	return nil
}

// Len returns the stream length via XLEN
func (l *Log) Len(ctx context.Context, streamName string) (int64, error) {
	n, err := l.client.XLen(ctx, streamName).Result()
	if err != nil {
		return 0, wrapErr("len of "+streamName, err)
	}
	return n, nil
}

// Groups lists consumer groups via XINFO GROUPS
func (l *Log) Groups(ctx context.Context, streamName string) ([]stream.GroupInfo, error) {
	groups, err := l.client.XInfoGroups(ctx, streamName).Result()
	if err != nil {
		return nil, wrapErr("groups of "+streamName, err)
	}

	infos := make([]stream.GroupInfo, 0, len(groups))
	for _, g := range groups {
		infos = append(infos, stream.GroupInfo{
			Name:            g.Name,
			Consumers:       g.Consumers,
			Pending:         g.Pending,
			LastDeliveredID: g.LastDeliveredID,
			Lag:             g.Lag,
		})
	}
	return infos, nil
}

// Pending lists unacknowledged entries via XPENDING
func (l *Log) Pending(ctx context.Context, streamName, group string, count int64) ([]stream.PendingEntry, error) {
	pending, err := l.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: streamName,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, wrapErr("pending of group "+group, err)
	}

	entries := make([]stream.PendingEntry, 0, len(pending))
	for _, p := range pending {
		entries = append(entries, stream.PendingEntry{
			ID:            p.ID,
			Consumer:      p.Consumer,
			Idle:          p.Idle,
			DeliveryCount: p.RetryCount,
		})
	}
	return entries, nil
}

// Range reads entries by ID via XRANGE, without touching group cursors
func (l *Log) Range(ctx context.Context, streamName, start, end string, count int64) ([]stream.Entry, error) {
	msgs, err := l.client.XRangeN(ctx, streamName, start, end, count).Result()
	if err != nil {
		return nil, wrapErr("range of "+streamName, err)
	}

	entries := make([]stream.Entry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, toEntry(msg))
	}
	return entries, nil
}

// DeleteStream removes the stream key entirely
func (l *Log) DeleteStream(ctx context.Context, streamName string) error {
	if err := l.client.Del(ctx, streamName).Err(); err != nil {
		return wrapErr("delete "+streamName, err)
	}
	l.logger.Warn("stream deleted", zap.String("stream", streamName))
	return nil
}

// toEntry converts a Redis message to a stream entry, flattening the
// interface-typed values to strings
func toEntry(msg redis.XMessage) stream.Entry {
	fields := make(map[string]string, len(msg.Values))
	for key, value := range msg.Values {
		if s, ok := value.(string); ok {
			fields[key] = s
		} else {
			fields[key] = fmt.Sprint(value)
		}
	}
	return stream.Entry{ID: msg.ID, Fields: fields}
}

// wrapErr maps Redis errors onto the stream error taxonomy. Server
// replies are protocol-level, everything else is a connection problem.
// Context cancellation passes through untouched so callers can tell a
// stop request from a store outage.
func wrapErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "NOGROUP"), strings.Contains(strings.ToLower(msg), "no such key"):
		return fmt.Errorf("%s: %w: %v", op, stream.ErrNotFound, err)
	}

	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		return fmt.Errorf("%s: %w: %v", op, stream.ErrProtocol, err)
	}

	return fmt.Errorf("%s: %w: %v", op, stream.ErrConnection, err)
}
