package bus

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/aiutox/eventbus/pkg/event"
	"github.com/aiutox/eventbus/pkg/stream"
)

// Handler processes one delivered envelope. A returned error triggers the
// retry path, never a process crash. Handlers must be idempotent: the bus
// delivers at least once.
type Handler func(ctx context.Context, env event.Envelope) error

// State of one subscription
type State int32

const (
	StateCreated State = iota
	StateSubscribing
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSubscribing:
		return "subscribing"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// SubscribeOptions tune one subscription. Zero values take the defaults
// noted per field.
type SubscribeOptions struct {
	// Stream to read; defaults to the publisher's domain stream
	Stream string
	// StartID fixes the group's start position at creation time only; it
	// has no effect on an existing group unless RecreateGroup is set.
	// Defaults to stream.StartBeginning.
	StartID string
	// RecreateGroup destroys and recreates the group at StartID,
	// discarding pending state
	RecreateGroup bool
	// BatchSize per read; default 10
	BatchSize int64
	// Block bounds each read attempt; default 1s. Stop requests are
	// honored within one Block window.
	Block time.Duration
	// ClaimInterval between reclaim passes; default 30s
	ClaimInterval time.Duration
	// ClaimMinIdle before a pending entry of another consumer may be
	// reclaimed; default 60s
	ClaimMinIdle time.Duration
	// ErrorPause after a transient store error; default 1s
	ErrorPause time.Duration
}

func (o SubscribeOptions) withDefaults(domainStream string) SubscribeOptions {
	if o.Stream == "" {
		o.Stream = domainStream
	}
	if o.StartID == "" {
		o.StartID = stream.StartBeginning
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.Block <= 0 {
		o.Block = time.Second
	}
	if o.ClaimInterval <= 0 {
		o.ClaimInterval = 30 * time.Second
	}
	if o.ClaimMinIdle <= 0 {
		o.ClaimMinIdle = 60 * time.Second
	}
	if o.ErrorPause <= 0 {
		o.ErrorPause = time.Second
	}
	return o
}

// Subscription is the running handle returned by Subscribe
type Subscription struct {
	group    string
	consumer string
	state    atomic.Int32
	cancel   context.CancelFunc
	done     chan struct{}
}

// State reports where the subscription is in its lifecycle
func (s *Subscription) State() State {
	return State(s.state.Load())
}

// Group returns the consumer-group name
func (s *Subscription) Group() string { return s.group }

// Consumer returns the consumer name within the group
func (s *Subscription) Consumer() string { return s.consumer }

// Stop cancels the read loop and waits for it to drain. An entry in
// flight is either fully processed and acknowledged or left pending for
// reclaim; it is never half-finished.
func (s *Subscription) Stop(ctx context.Context) error {
	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop subscription %s/%s: %w", s.group, s.consumer, ctx.Err())
	}
}

// Consumer runs subscribe loops against the log
type Consumer struct {
	log     stream.Log
	groups  *GroupManager
	retry   *RetryCoordinator
	streams StreamMap
	metrics Metrics
	logger  *zap.Logger
}

// NewConsumer creates a consumer sharing the publisher's stream map
func NewConsumer(log stream.Log, groups *GroupManager, retry *RetryCoordinator, streams StreamMap, metrics Metrics, logger *zap.Logger) *Consumer {
	return &Consumer{
		log:     log,
		groups:  groups,
		retry:   retry,
		streams: streams,
		metrics: metrics,
		logger:  logger,
	}
}

// Subscribe registers a long-running consumer for (group, consumerName).
// Entries whose event type is not in eventTypes are acknowledged and
// skipped; an empty eventTypes list delivers everything. The group is
// ensured once, at subscription start. The returned handle runs until
// Stop or ctx cancellation.
func (c *Consumer) Subscribe(ctx context.Context, group, consumerName string, eventTypes []string, handler Handler, opts SubscribeOptions) (*Subscription, error) {
	for _, eventType := range eventTypes {
		if err := event.ValidateType(eventType); err != nil {
			return nil, fmt.Errorf("subscribe %s/%s: %w", group, consumerName, err)
		}
	}
	opts = opts.withDefaults(c.streams.Domain)

	loopCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		group:    group,
		consumer: consumerName,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	sub.state.Store(int32(StateSubscribing))
	if err := c.groups.EnsureGroup(loopCtx, opts.Stream, group, opts.StartID, opts.RecreateGroup); err != nil {
		cancel()
		sub.state.Store(int32(StateStopped))
		return nil, fmt.Errorf("subscribe %s/%s: %w", group, consumerName, err)
	}

	filter := make(map[string]struct{}, len(eventTypes))
	for _, eventType := range eventTypes {
		filter[eventType] = struct{}{}
	}

	sub.state.Store(int32(StateRunning))
	go c.run(loopCtx, sub, filter, handler, opts)

	c.logger.Info("consumer subscribed",
		zap.String("stream", opts.Stream),
		zap.String("group", group),
		zap.String("consumer", consumerName),
		zap.Strings("event_types", eventTypes),
		zap.String("start_id", opts.StartID))

	return sub, nil
}

// run is the read-dispatch-acknowledge loop
func (c *Consumer) run(ctx context.Context, sub *Subscription, filter map[string]struct{}, handler Handler, opts SubscribeOptions) {
	defer close(sub.done)
	defer sub.state.Store(int32(StateStopped))

	claim := time.NewTicker(opts.ClaimInterval)
	defer claim.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-claim.C:
			// Recover entries abandoned by crashed consumers sharing the
			// group, then run them through the same dispatch path.
			entries, err := c.log.ClaimPending(ctx, opts.Stream, sub.group, sub.consumer, opts.ClaimMinIdle, opts.BatchSize)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Error("claim pending failed",
					zap.String("group", sub.group),
					zap.String("consumer", sub.consumer),
					zap.Error(err))
				continue
			}
			c.dispatch(ctx, sub, filter, handler, opts, entries)
		default:
		}

		entries, err := c.log.ReadGroup(ctx, opts.Stream, sub.group, sub.consumer, opts.BatchSize, opts.Block)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// A transient store outage must not kill a long-running
			// consumer: log, pause, keep looping.
			c.logger.Error("read failed",
				zap.String("stream", opts.Stream),
				zap.String("group", sub.group),
				zap.String("consumer", sub.consumer),
				zap.Error(err))
			if sleep(ctx, opts.ErrorPause) != nil {
				return
			}
			continue
		}

		c.dispatch(ctx, sub, filter, handler, opts, entries)
	}
}

// dispatch processes one batch. Each entry ends acknowledged (success,
// skip, retry scheduled, dead-lettered) or pending (cancelled or the
// retry path itself failed), never in between.
func (c *Consumer) dispatch(ctx context.Context, sub *Subscription, filter map[string]struct{}, handler Handler, opts SubscribeOptions, entries []stream.Entry) {
	for _, entry := range entries {
		if ctx.Err() != nil {
			// Remaining entries stay pending and will be reclaimed
			return
		}
		c.dispatchOne(ctx, sub, filter, handler, opts, entry)
	}
}

func (c *Consumer) dispatchOne(ctx context.Context, sub *Subscription, filter map[string]struct{}, handler Handler, opts SubscribeOptions, entry stream.Entry) {
	env, err := event.FromFields(entry.Fields)
	if err != nil {
		// Unparseable entries would poison the loop if retried; move the
		// raw fields to the failed stream and acknowledge.
		c.logger.Error("unparseable entry",
			zap.String("stream", opts.Stream),
			zap.String("entry_id", entry.ID),
			zap.Error(err))
		if _, dlErr := c.retry.publisher.PublishDeadLetterRaw(ctx, entry.Fields, opts.Stream, entry.ID, err); dlErr != nil {
			c.logger.Error("dead-letter of unparseable entry failed",
				zap.String("entry_id", entry.ID),
				zap.Error(dlErr))
			return
		}
		c.ack(ctx, sub, opts.Stream, entry.ID, StatusDeadLettered)
		return
	}

	// The store has no server-side filtering; skipped entries must still
	// be acknowledged to avoid unbounded pending growth.
	if len(filter) > 0 {
		if _, ok := filter[env.Type]; !ok {
			c.ack(ctx, sub, opts.Stream, entry.ID, StatusSkipped)
			return
		}
	}

	start := time.Now()
	err = c.invoke(ctx, handler, env)
	c.metrics.RecordHandlerDuration(sub.group, time.Since(start))

	if err == nil {
		c.ack(ctx, sub, opts.Stream, entry.ID, StatusOK)
		return
	}

	action, retryErr := c.retry.HandleFailure(ctx, opts.Stream, env, entry.ID, err)
	if retryErr != nil {
		// Leave the entry pending; it will be redelivered or reclaimed.
		c.logger.Error("retry handling failed, leaving entry pending",
			zap.String("entry_id", entry.ID),
			zap.String("event_id", env.ID),
			zap.Error(retryErr))
		return
	}

	status := StatusRetried
	if action == ActionDeadLettered {
		status = StatusDeadLettered
	}
	c.ack(ctx, sub, opts.Stream, entry.ID, status)
}

// invoke runs the handler, converting a panic into an error so a buggy
// handler cannot take the loop down
func (c *Consumer) invoke(ctx context.Context, handler Handler, env event.Envelope) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return handler(ctx, env)
}

// ack acknowledges with a non-cancellable context: once an entry is
// processed it must not stay pending just because a stop arrived
func (c *Consumer) ack(ctx context.Context, sub *Subscription, streamName, entryID, status string) {
	if err := c.log.Ack(context.WithoutCancel(ctx), streamName, sub.group, entryID); err != nil {
		c.logger.Error("ack failed",
			zap.String("stream", streamName),
			zap.String("group", sub.group),
			zap.String("entry_id", entryID),
			zap.Error(err))
		return
	}
	c.metrics.RecordConsumed(sub.group, status)
}
