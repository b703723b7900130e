package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/aiutox/eventbus/pkg/event"
)

// RetryPolicy bounds the cost of a failing handler
type RetryPolicy struct {
	// MaxRetries is the number of redeliveries after the first attempt.
	// Attempt counting starts at 0 for the first delivery.
	MaxRetries int
	// BaseBackoff is the delay before the first redelivery; each further
	// attempt doubles it
	BaseBackoff time.Duration
	// MaxBackoff caps the delay
	MaxBackoff time.Duration
}

// DefaultRetryPolicy returns the configuration constants used when the
// caller does not override them
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  30 * time.Second,
	}
}

// Delay returns the backoff before redelivering attempt (0-based):
// BaseBackoff * 2^attempt, capped at MaxBackoff
func (p RetryPolicy) Delay(attempt int) time.Duration {
	// The options must go through the constructor: it resets the internal
	// interval, so fields assigned afterwards would not take effect until
	// the second interval.
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.BaseBackoff),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxInterval(p.MaxBackoff),
		backoff.WithMaxElapsedTime(0),
	)

	d := b.NextBackOff()
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Action is the outcome of handling one failed delivery
type Action int

const (
	// ActionRetried means a copy with an incremented retry count was
	// appended to the same stream for redelivery
	ActionRetried Action = iota
	// ActionDeadLettered means the entry was moved to the failed stream
	ActionDeadLettered
)

// RetryCoordinator guarantees handler failures are observable instead of
// silently dropped or retried forever
type RetryCoordinator struct {
	publisher *Publisher
	policy    RetryPolicy
	metrics   Metrics
	logger    *zap.Logger
}

// NewRetryCoordinator creates a coordinator publishing through publisher
func NewRetryCoordinator(publisher *Publisher, policy RetryPolicy, metrics Metrics, logger *zap.Logger) *RetryCoordinator {
	return &RetryCoordinator{
		publisher: publisher,
		policy:    policy,
		metrics:   metrics,
		logger:    logger,
	}
}

// HandleFailure decides what happens to a delivery whose handler errored.
// Below the retry budget it waits out the backoff and republishes a copy
// with an incremented retry count to the same stream, so the existing
// consumer loop picks it up on a later read. At the budget it moves the
// envelope to the failed stream. On success (either action) the caller
// must acknowledge the original entry; on error the entry stays pending
// for reclaim.
func (r *RetryCoordinator) HandleFailure(ctx context.Context, streamName string, env event.Envelope, entryID string, cause error) (Action, error) {
	attempt := env.Metadata.RetryCount

	if attempt < r.policy.MaxRetries {
		delay := r.policy.Delay(attempt)
		r.logger.Warn("handler failed, scheduling redelivery",
			zap.String("event_id", env.ID),
			zap.String("event_type", env.Type),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(cause))

		if err := sleep(ctx, delay); err != nil {
			return 0, err
		}

		if _, err := r.publisher.PublishEnvelopeTo(ctx, streamName, env.WithRetry()); err != nil {
			return 0, fmt.Errorf("redeliver %s: %w", env.ID, err)
		}

		r.metrics.RecordRetry(env.Type)
		return ActionRetried, nil
	}

	final := fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, attempt, cause)
	if _, err := r.publisher.PublishDeadLetter(ctx, env, streamName, entryID, final); err != nil {
		return 0, fmt.Errorf("dead-letter %s: %w", env.ID, err)
	}

	return ActionDeadLettered, nil
}

// sleep waits for d unless the context is cancelled first
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
