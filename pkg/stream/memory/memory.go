package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aiutox/eventbus/pkg/stream"
)

// Log implements stream.Log with in-process state
type Log struct {
	mu      sync.Mutex
	streams map[string]*memStream
	now     func() time.Time
}

type memStream struct {
	seq     int64
	entries []entryRecord
	groups  map[string]*memGroup
	notify  chan struct{}
}

type entryRecord struct {
	id     string
	fields map[string]string
}

type memGroup struct {
	cursor  int
	pending map[string]*pendingRecord
}

type pendingRecord struct {
	index       int
	consumer    string
	deliveredAt time.Time
	deliveries  int64
}

// NewLog creates an empty in-memory log
func NewLog() *Log {
	return &Log{
		streams: make(map[string]*memStream),
		now:     time.Now,
	}
}

// SetClock replaces the time source, letting tests advance idle time
// without sleeping
func (l *Log) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Append writes one entry, creating the stream implicitly
func (l *Log) Append(ctx context.Context, streamName string, fields map[string]any) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.getOrCreate(streamName)
	s.seq++
	id := fmt.Sprintf("%d-%d", l.now().UnixMilli(), s.seq)

	flat := make(map[string]string, len(fields))
	for key, value := range fields {
		if str, ok := value.(string); ok {
			flat[key] = str
		} else {
			flat[key] = fmt.Sprint(value)
		}
	}
	s.entries = append(s.entries, entryRecord{id: id, fields: flat})

	// Wake blocked readers
	close(s.notify)
	s.notify = make(chan struct{})

	return id, nil
}

// CreateGroup creates (or on recreate, resets) a consumer group
func (l *Log) CreateGroup(ctx context.Context, streamName, group, startID string, recreate bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.getOrCreate(streamName)
	if _, exists := s.groups[group]; exists {
		if !recreate {
			return nil
		}
		delete(s.groups, group)
	}

	s.groups[group] = &memGroup{
		cursor:  s.startCursor(startID),
		pending: make(map[string]*pendingRecord),
	}
	return nil
}

// ReadGroup delivers undelivered entries to consumer, blocking up to
// block when the stream is drained
func (l *Log) ReadGroup(ctx context.Context, streamName, group, consumer string, count int64, block time.Duration) ([]stream.Entry, error) {
	deadline := time.Now().Add(block)

	for {
		l.mu.Lock()
		s, ok := l.streams[streamName]
		if !ok {
			l.mu.Unlock()
			return nil, fmt.Errorf("read group %s: %w", group, stream.ErrNotFound)
		}
		g, ok := s.groups[group]
		if !ok {
			l.mu.Unlock()
			return nil, fmt.Errorf("read group %s: %w", group, stream.ErrNotFound)
		}

		var entries []stream.Entry
		now := l.now()
		for g.cursor < len(s.entries) && int64(len(entries)) < count {
			rec := s.entries[g.cursor]
			g.pending[rec.id] = &pendingRecord{
				index:       g.cursor,
				consumer:    consumer,
				deliveredAt: now,
				deliveries:  1,
			}
			entries = append(entries, stream.Entry{ID: rec.id, Fields: rec.fields})
			g.cursor++
		}

		if len(entries) > 0 {
			l.mu.Unlock()
			return entries, nil
		}

		notify := s.notify
		l.mu.Unlock()

		if block <= 0 {
			return nil, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-notify:
			timer.Stop()
		}
	}
}

// Ack removes entries from the pending set. Unknown IDs are no-ops,
// matching the store.
func (l *Log) Ack(ctx context.Context, streamName, group string, ids ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	g, err := l.group(streamName, group)
	if err != nil {
		return err
	}
	for _, id := range ids {
		delete(g.pending, id)
	}
	return nil
}

// ClaimPending reassigns entries idle for at least minIdle to consumer
func (l *Log) ClaimPending(ctx context.Context, streamName, group, consumer string, minIdle time.Duration, count int64) ([]stream.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.streams[streamName]
	if !ok {
		return nil, fmt.Errorf("claim pending in %s: %w", group, stream.ErrNotFound)
	}
	g, ok := s.groups[group]
	if !ok {
		return nil, fmt.Errorf("claim pending in %s: %w", group, stream.ErrNotFound)
	}

	ids := make([]string, 0, len(g.pending))
	for id := range g.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return compareIDs(ids[i], ids[j]) < 0 })

	now := l.now()
	var entries []stream.Entry
	for _, id := range ids {
		if int64(len(entries)) >= count {
			break
		}
		rec := g.pending[id]
		if now.Sub(rec.deliveredAt) < minIdle {
			continue
		}
		rec.consumer = consumer
		rec.deliveredAt = now
		rec.deliveries++
		entries = append(entries, stream.Entry{
			ID:     id,
			Fields: s.entries[rec.index].fields,
		})
	}
	return entries, nil
}

// DeleteGroup removes a consumer group. Removing a group that does not
// exist is a no-op, deleting from a missing stream is not.
func (l *Log) DeleteGroup(ctx context.Context, streamName, group string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.streams[streamName]
	if !ok {
		return fmt.Errorf("delete group %s: %w", group, stream.ErrNotFound)
	}
	delete(s.groups, group)
	return nil
}

// Len returns the stream length, 0 for a missing stream
func (l *Log) Len(ctx context.Context, streamName string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.streams[streamName]
	if !ok {
		return 0, nil
	}
	return int64(len(s.entries)), nil
}

// Groups lists the consumer groups of a stream
func (l *Log) Groups(ctx context.Context, streamName string) ([]stream.GroupInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.streams[streamName]
	if !ok {
		return nil, fmt.Errorf("groups of %s: %w", streamName, stream.ErrNotFound)
	}

	names := make([]string, 0, len(s.groups))
	for name := range s.groups {
		names = append(names, name)
	}
	sort.Strings(names)

	infos := make([]stream.GroupInfo, 0, len(names))
	for _, name := range names {
		g := s.groups[name]
		consumers := make(map[string]struct{})
		for _, rec := range g.pending {
			consumers[rec.consumer] = struct{}{}
		}
		info := stream.GroupInfo{
			Name:      name,
			Consumers: int64(len(consumers)),
			Pending:   int64(len(g.pending)),
			Lag:       int64(len(s.entries) - g.cursor),
		}
		if g.cursor > 0 {
			info.LastDeliveredID = s.entries[g.cursor-1].id
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Pending lists delivered-but-unacknowledged entries of a group
func (l *Log) Pending(ctx context.Context, streamName, group string, count int64) ([]stream.PendingEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	g, err := l.group(streamName, group)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(g.pending))
	for id := range g.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return compareIDs(ids[i], ids[j]) < 0 })

	now := l.now()
	entries := make([]stream.PendingEntry, 0, len(ids))
	for _, id := range ids {
		if int64(len(entries)) >= count {
			break
		}
		rec := g.pending[id]
		entries = append(entries, stream.PendingEntry{
			ID:            id,
			Consumer:      rec.consumer,
			Idle:          now.Sub(rec.deliveredAt),
			DeliveryCount: rec.deliveries,
		})
	}
	return entries, nil
}

// Range reads entries by ID range without touching group cursors
func (l *Log) Range(ctx context.Context, streamName, start, end string, count int64) ([]stream.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.streams[streamName]
	if !ok {
		return nil, nil
	}

	var entries []stream.Entry
	for _, rec := range s.entries {
		if int64(len(entries)) >= count {
			break
		}
		if start != "-" && compareIDs(rec.id, start) < 0 {
			continue
		}
		if end != "+" && compareIDs(rec.id, end) > 0 {
			break
		}
		entries = append(entries, stream.Entry{ID: rec.id, Fields: rec.fields})
	}
	return entries, nil
}

// DeleteStream drops the stream and every group attached to it
func (l *Log) DeleteStream(ctx context.Context, streamName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.streams, streamName)
	return nil
}

func (l *Log) getOrCreate(streamName string) *memStream {
	s, ok := l.streams[streamName]
	if !ok {
		s = &memStream{
			groups: make(map[string]*memGroup),
			notify: make(chan struct{}),
		}
		l.streams[streamName] = s
	}
	return s
}

func (l *Log) group(streamName, group string) (*memGroup, error) {
	s, ok := l.streams[streamName]
	if !ok {
		return nil, fmt.Errorf("group %s: %w", group, stream.ErrNotFound)
	}
	g, ok := s.groups[group]
	if !ok {
		return nil, fmt.Errorf("group %s: %w", group, stream.ErrNotFound)
	}
	return g, nil
}

// startCursor maps a group start position to an entry index
func (s *memStream) startCursor(startID string) int {
	switch startID {
	case stream.StartBeginning:
		return 0
	case stream.StartNew:
		return len(s.entries)
	default:
		for i, rec := range s.entries {
			if compareIDs(rec.id, startID) > 0 {
				return i
			}
		}
		return len(s.entries)
	}
}

// compareIDs orders "<ms>-<seq>" entry IDs numerically
func compareIDs(a, b string) int {
	ams, aseq := splitID(a)
	bms, bseq := splitID(b)
	if ams != bms {
		if ams < bms {
			return -1
		}
		return 1
	}
	if aseq != bseq {
		if aseq < bseq {
			return -1
		}
		return 1
	}
	return 0
}

func splitID(id string) (int64, int64) {
	ms, seq, found := strings.Cut(id, "-")
	m, _ := strconv.ParseInt(ms, 10, 64)
	if !found {
		return m, 0
	}
	s, _ := strconv.ParseInt(seq, 10, 64)
	return m, s
}
