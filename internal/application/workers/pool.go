package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aiutox/eventbus/pkg/bus"
	"github.com/aiutox/eventbus/pkg/stream"
)

// Pool manages a group of competing consumers
type Pool struct {
	size       int
	consumer   *bus.Consumer
	log        stream.Log
	group      string
	eventTypes []string
	handler    bus.Handler
	opts       bus.SubscribeOptions
	metrics    bus.Metrics
	logger     *zap.Logger
	health     *HealthMonitor

	subs []*bus.Subscription
}

// NewPool creates a pool of size consumers sharing group
func NewPool(
	size int,
	consumer *bus.Consumer,
	log stream.Log,
	group string,
	eventTypes []string,
	handler bus.Handler,
	opts bus.SubscribeOptions,
	metrics bus.Metrics,
	logger *zap.Logger,
	healthCheckInterval time.Duration,
) *Pool {
	pool := &Pool{
		size:       size,
		consumer:   consumer,
		log:        log,
		group:      group,
		eventTypes: eventTypes,
		handler:    handler,
		opts:       opts,
		metrics:    metrics,
		logger:     logger,
	}

	pool.health = NewHealthMonitor(pool, healthCheckInterval, logger)

	return pool
}

// Start subscribes all pool members. Consumer names carry a random
// suffix so restarted processes do not collide with stale pending
// entries of their predecessors.
func (p *Pool) Start(ctx context.Context) error {
	p.logger.Info("starting consumer pool",
		zap.String("group", p.group),
		zap.Int("size", p.size))

	for i := 0; i < p.size; i++ {
		name := fmt.Sprintf("worker-%d-%s", i, uuid.NewString()[:8])
		sub, err := p.consumer.Subscribe(ctx, p.group, name, p.eventTypes, p.handler, p.opts)
		if err != nil {
			p.stopAll(ctx)
			return fmt.Errorf("start pool member %s: %w", name, err)
		}
		p.subs = append(p.subs, sub)
	}

	p.health.Start()

	p.logger.Info("consumer pool started",
		zap.String("group", p.group),
		zap.Int("members", len(p.subs)))
	return nil
}

// Shutdown gracefully stops the pool
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down consumer pool", zap.String("group", p.group))

	p.health.Stop()
	if err := p.stopAll(ctx); err != nil {
		return err
	}

	p.logger.Info("consumer pool shut down complete", zap.String("group", p.group))
	return nil
}

// GetStatus returns the state of every pool member
func (p *Pool) GetStatus() map[string]bus.State {
	status := make(map[string]bus.State, len(p.subs))
	for _, sub := range p.subs {
		status[sub.Consumer()] = sub.State()
	}
	return status
}

func (p *Pool) stopAll(ctx context.Context) error {
	var firstErr error
	for _, sub := range p.subs {
		if err := sub.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.subs = nil
	return firstErr
}
