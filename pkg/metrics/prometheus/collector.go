package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aiutox/eventbus/pkg/event"
)

// Collector implements bus.Metrics using Prometheus
type Collector struct {
	published       *prometheus.CounterVec
	consumed        *prometheus.CounterVec
	retries         *prometheus.CounterVec
	deadLetters     *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	pendingEntries  *prometheus.GaugeVec
}

// NewCollector creates a new Prometheus metrics collector
func NewCollector() *Collector {
	return &Collector{
		published: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventbus_published_total",
				Help: "Total number of events published",
			},
			[]string{"event_type", "classification"},
		),
		consumed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventbus_consumed_total",
				Help: "Total number of entries consumed, by outcome",
			},
			[]string{"group", "status"},
		),
		retries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventbus_retries_total",
				Help: "Total number of redeliveries scheduled",
			},
			[]string{"event_type"},
		),
		deadLetters: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventbus_dead_letters_total",
				Help: "Total number of entries moved to the failed stream",
			},
			[]string{"event_type"},
		),
		handlerDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eventbus_handler_duration_seconds",
				Help:    "Handler execution duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"group"},
		),
		pendingEntries: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "eventbus_pending_entries",
				Help: "Delivered-but-unacknowledged entries per group",
			},
			[]string{"stream", "group"},
		),
	}
}

// RecordPublished counts one published event
func (c *Collector) RecordPublished(eventType string, class event.Classification) {
	c.published.WithLabelValues(eventType, string(class)).Inc()
}

// RecordConsumed counts one consumed entry by outcome
func (c *Collector) RecordConsumed(group, status string) {
	c.consumed.WithLabelValues(group, status).Inc()
}

// RecordHandlerDuration observes one handler execution
func (c *Collector) RecordHandlerDuration(group string, d time.Duration) {
	c.handlerDuration.WithLabelValues(group).Observe(d.Seconds())
}

// RecordRetry counts one scheduled redelivery
func (c *Collector) RecordRetry(eventType string) {
	c.retries.WithLabelValues(eventType).Inc()
}

// RecordDeadLettered counts one dead-lettered entry
func (c *Collector) RecordDeadLettered(eventType string) {
	c.deadLetters.WithLabelValues(eventType).Inc()
}

// RecordPendingEntries sets the pending gauge for one group
func (c *Collector) RecordPendingEntries(stream, group string, count int64) {
	c.pendingEntries.WithLabelValues(stream, group).Set(float64(count))
}
