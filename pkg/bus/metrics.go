package bus

import (
	"time"

	"github.com/aiutox/eventbus/pkg/event"
)

// Metrics receives bus-level measurements. The prometheus adapter
// implements it in production, NopMetrics serves tests.
type Metrics interface {
	RecordPublished(eventType string, class event.Classification)
	RecordConsumed(group, status string)
	RecordHandlerDuration(group string, d time.Duration)
	RecordRetry(eventType string)
	RecordDeadLettered(eventType string)
	RecordPendingEntries(stream, group string, count int64)
}

// Consumed entry status labels
const (
	StatusOK           = "ok"
	StatusSkipped      = "skipped"
	StatusRetried      = "retried"
	StatusDeadLettered = "dead_lettered"
)

// NopMetrics discards all measurements
type NopMetrics struct{}

func (NopMetrics) RecordPublished(string, event.Classification) {}
func (NopMetrics) RecordConsumed(string, string) {}
func (NopMetrics) RecordHandlerDuration(string, time.Duration) {}
func (NopMetrics) RecordRetry(string) {}
func (NopMetrics) RecordDeadLettered(string) {}
func (NopMetrics) RecordPendingEntries(string, string, int64) {}
