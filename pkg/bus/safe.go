package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/aiutox/eventbus/pkg/event"
)

// SafePublisher lets synchronous business code trigger a publish without
// caring whether the background worker is running. Errors are logged,
// never returned: a business transaction must not fail because an event
// failed to publish.
type SafePublisher struct {
	publisher *Publisher
	timeout   time.Duration
	logger    *zap.Logger

	queue   chan publishRequest
	stop    chan struct{}
	running atomic.Bool
	wg      sync.WaitGroup
}

type publishRequest struct {
	eventType string
	payload   map[string]any
	meta      event.Metadata
}

// NewSafePublisher creates the helper. queueSize bounds the in-flight
// backlog of the background worker; timeout bounds each publish attempt.
func NewSafePublisher(publisher *Publisher, queueSize int, timeout time.Duration, logger *zap.Logger) *SafePublisher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SafePublisher{
		publisher: publisher,
		timeout:   timeout,
		logger:    logger,
		queue:     make(chan publishRequest, queueSize),
		stop:      make(chan struct{}),
	}
}

// Start launches the background worker. Publish works before Start too,
// it just runs each publish to completion inline.
func (s *SafePublisher) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.worker()
	s.logger.Info("safe publisher started", zap.Int("queue_size", cap(s.queue)))
}

// Stop drains the queue and stops the worker. The queue itself is never
// closed, so a racing Publish degrades to an inline publish instead of a
// panic.
func (s *SafePublisher) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	close(s.stop)
	s.wg.Wait()
	s.logger.Info("safe publisher stopped")
}

// Publish is fire and forget. With the worker running the request is
// queued without blocking the caller; without it (or with a full queue)
// the publish runs inline on an ephemeral timeout. Failures are logged
// and swallowed.
func (s *SafePublisher) Publish(eventType string, payload map[string]any, meta event.Metadata) {
	req := publishRequest{eventType: eventType, payload: payload, meta: meta}

	if s.running.Load() {
		select {
		case s.queue <- req:
			return
		default:
			s.logger.Warn("publish queue full, publishing inline",
				zap.String("event_type", eventType))
		}
	}

	s.publish(req)
}

func (s *SafePublisher) worker() {
	defer s.wg.Done()
	for {
		select {
		case req := <-s.queue:
			s.publish(req)
		case <-s.stop:
			// Drain what is already queued before exiting
			for {
				select {
				case req := <-s.queue:
					s.publish(req)
				default:
					return
				}
			}
		}
	}
}

func (s *SafePublisher) publish(req publishRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.publisher.Publish(ctx, req.eventType, req.payload, req.meta); err != nil {
		s.logger.Warn("best-effort publish failed",
			zap.String("event_type", req.eventType),
			zap.Error(err))
	}
}
