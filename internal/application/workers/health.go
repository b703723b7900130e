package workers

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aiutox/eventbus/pkg/bus"
	"github.com/aiutox/eventbus/pkg/stream"
)

// HealthMonitor watches pool member states and the group's backlog
type HealthMonitor struct {
	pool     *Pool
	interval time.Duration
	logger   *zap.Logger

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
}

// HealthStatus represents the health of the consumer pool
type HealthStatus struct {
	TotalMembers   int
	RunningMembers int
	StoppedMembers int
	PendingEntries int64
	Healthy        bool
	Timestamp      time.Time
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(pool *Pool, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		pool:     pool,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start starts the health monitor
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
}

// Stop stops the health monitor
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.stopCh)
}

func (h *HealthMonitor) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.checkHealth()
		}
	}
}

func (h *HealthMonitor) checkHealth() {
	status := h.GetStatus()

	h.logger.Info("consumer pool health check",
		zap.String("group", h.pool.group),
		zap.Int("total", status.TotalMembers),
		zap.Int("running", status.RunningMembers),
		zap.Int("stopped", status.StoppedMembers),
		zap.Int64("pending", status.PendingEntries),
		zap.Bool("healthy", status.Healthy))

	h.pool.metrics.RecordPendingEntries(h.pool.opts.Stream, h.pool.group, status.PendingEntries)

	if !status.Healthy {
		h.logger.Warn("consumer pool is unhealthy",
			zap.String("group", h.pool.group),
			zap.Int("stopped", status.StoppedMembers),
			zap.Int("total", status.TotalMembers))
	}
}

// GetStatus returns the current health status
func (h *HealthMonitor) GetStatus() *HealthStatus {
	memberStates := h.pool.GetStatus()

	var running, stopped int
	for _, state := range memberStates {
		switch state {
		case bus.StateRunning:
			running++
		case bus.StateStopped:
			stopped++
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var pending int64
	groups, err := h.pool.log.Groups(ctx, h.pool.opts.Stream)
	if err != nil {
		// A stream that has not been written to yet simply has no groups
		if !errors.Is(err, stream.ErrNotFound) {
			h.logger.Error("failed to read group info",
				zap.String("stream", h.pool.opts.Stream),
				zap.Error(err))
		}
	} else {
		for _, g := range groups {
			if g.Name == h.pool.group {
				pending = g.Pending
				break
			}
		}
	}

	return &HealthStatus{
		TotalMembers:   len(memberStates),
		RunningMembers: running,
		StoppedMembers: stopped,
		PendingEntries: pending,
		Healthy:        running > 0 && stopped == 0,
		Timestamp:      time.Now(),
	}
}

// IsHealthy returns true if the consumer pool is healthy
func (h *HealthMonitor) IsHealthy() bool {
	return h.GetStatus().Healthy
}
