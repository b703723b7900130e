package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aiutox/eventbus/pkg/event"
	"github.com/aiutox/eventbus/pkg/stream/memory"
)

func fastRetryPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:  maxRetries,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	t.Run("default policy", func(t *testing.T) {
		p := RetryPolicy{
			BaseBackoff: 500 * time.Millisecond,
			MaxBackoff:  30 * time.Second,
		}

		assert.Equal(t, 500*time.Millisecond, p.Delay(0))
		assert.Equal(t, time.Second, p.Delay(1))
		assert.Equal(t, 2*time.Second, p.Delay(2))
		assert.Equal(t, 4*time.Second, p.Delay(3))

		// Caps at MaxBackoff
		assert.Equal(t, 30*time.Second, p.Delay(10))
	})

	t.Run("non-default base takes effect on the first interval", func(t *testing.T) {
		p := RetryPolicy{
			BaseBackoff: time.Millisecond,
			MaxBackoff:  5 * time.Millisecond,
		}

		assert.Equal(t, time.Millisecond, p.Delay(0))
		assert.Equal(t, 2*time.Millisecond, p.Delay(1))
		assert.Equal(t, 4*time.Millisecond, p.Delay(2))
		assert.Equal(t, 5*time.Millisecond, p.Delay(3))

		// Never above the cap, even when the cap is small
		for attempt := 0; attempt < 8; attempt++ {
			assert.LessOrEqual(t, p.Delay(attempt), 5*time.Millisecond, attempt)
		}
	})

	t.Run("large base above the cap", func(t *testing.T) {
		p := RetryPolicy{
			BaseBackoff: 2 * time.Second,
			MaxBackoff:  3 * time.Second,
		}

		assert.Equal(t, 2*time.Second, p.Delay(0))
		assert.Equal(t, 3*time.Second, p.Delay(1))
	})
}

func TestHandleFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("below budget republishes with incremented retry count", func(t *testing.T) {
		log := memory.NewLog()
		metrics := newRecordingMetrics()
		pub := newTestPublisher(log, metrics)
		retry := NewRetryCoordinator(pub, fastRetryPolicy(3), metrics, zap.NewNop())

		env, err := event.New("product.updated", map[string]any{"n": 1}, event.Metadata{Source: "svc"})
		require.NoError(t, err)

		action, err := retry.HandleFailure(ctx, "events:domain", env, "1-1", errors.New("boom"))
		require.NoError(t, err)
		assert.Equal(t, ActionRetried, action)

		entries := readAll(t, log, "events:domain")
		require.Len(t, entries, 1, "copy lands on the same stream")
		assert.Equal(t, env.ID, entries[0].Fields[event.FieldEventID])
		assert.Equal(t, "1", entries[0].Fields[event.FieldRetryCount])

		assert.Empty(t, readAll(t, log, "events:failed"))
		assert.Equal(t, 1, metrics.retries)
	})

	t.Run("at budget dead-letters", func(t *testing.T) {
		log := memory.NewLog()
		metrics := newRecordingMetrics()
		pub := newTestPublisher(log, metrics)
		retry := NewRetryCoordinator(pub, fastRetryPolicy(2), metrics, zap.NewNop())

		env, err := event.New("product.updated", nil, event.Metadata{Source: "svc"})
		require.NoError(t, err)
		env.Metadata.RetryCount = 2

		action, err := retry.HandleFailure(ctx, "events:domain", env, "1-5", errors.New("boom"))
		require.NoError(t, err)
		assert.Equal(t, ActionDeadLettered, action)

		assert.Empty(t, readAll(t, log, "events:domain"))

		failed := readAll(t, log, "events:failed")
		require.Len(t, failed, 1)
		fields := failed[0].Fields
		assert.Equal(t, "2", fields[event.FieldRetryCount])
		assert.Equal(t, "events:domain", fields[event.FieldOriginalStream])
		assert.Equal(t, "1-5", fields[event.FieldOriginalEntryID])
		assert.Contains(t, fields[event.FieldErrorInfo], "boom")
		assert.Contains(t, fields[event.FieldErrorInfo], ErrRetryExhausted.Error())

		assert.Equal(t, 1, metrics.deadLettered)
		assert.Zero(t, metrics.retries)
	})

	t.Run("cancelled during backoff leaves the entry alone", func(t *testing.T) {
		log := memory.NewLog()
		pub := newTestPublisher(log, NopMetrics{})
		retry := NewRetryCoordinator(pub, RetryPolicy{
			MaxRetries:  3,
			BaseBackoff: time.Minute,
			MaxBackoff:  time.Minute,
		}, NopMetrics{}, zap.NewNop())

		env, err := event.New("product.updated", nil, event.Metadata{Source: "svc"})
		require.NoError(t, err)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err = retry.HandleFailure(cancelled, "events:domain", env, "1-1", errors.New("boom"))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, readAll(t, log, "events:domain"))
		assert.Empty(t, readAll(t, log, "events:failed"))
	})
}
