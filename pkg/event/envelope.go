package event

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Classification determines which stream an envelope is appended to
type Classification string

const (
	// ClassificationDomain routes to the domain event stream
	ClassificationDomain Classification = "domain"
	// ClassificationTechnical routes to the technical event stream
	ClassificationTechnical Classification = "technical"
	// ClassificationFailed routes to the dead-letter stream
	ClassificationFailed Classification = "failed"
)

// DefaultSource is recorded when a publisher does not set Metadata.Source.
// Kept for compatibility with existing consumers; callers relying on it
// are usually misconfigured, so the publisher warns once at runtime.
const DefaultSource = "unknown"

// typePattern validates event types: 2 or 3 lowercase dotted segments,
// e.g. "product.updated" or "tasks.status.changed"
var typePattern = regexp.MustCompile(`^[a-z][a-z_]*\.[a-z][a-z_]*(\.[a-z][a-z_]*)?$`)

// Metadata carries the bus-level attributes of an envelope
type Metadata struct {
	// Source is the originating service name
	Source string
	// OccurredAt is the UTC time the event happened
	OccurredAt time.Time
	// CorrelationID links causally related events (optional)
	CorrelationID string
	// TenantID scopes the event to one tenant (optional)
	TenantID string
	// RetryCount starts at 0 and is incremented on each redelivery
	RetryCount int
}

// Envelope is one event on the bus. Envelopes are values: once built they
// are never mutated, retries produce a copy via WithRetry.
type Envelope struct {
	ID             string
	Type           string
	Payload        map[string]any
	Metadata       Metadata
	Classification Classification
}

// New builds an envelope, validating the event type and filling defaults:
// a fresh uuid, Source "unknown" and OccurredAt now (UTC) when unset.
func New(eventType string, payload map[string]any, meta Metadata) (Envelope, error) {
	if err := ValidateType(eventType); err != nil {
		return Envelope{}, err
	}

	if meta.Source == "" {
		meta.Source = DefaultSource
	}
	if meta.OccurredAt.IsZero() {
		meta.OccurredAt = time.Now().UTC()
	} else {
		meta.OccurredAt = meta.OccurredAt.UTC()
	}

	return Envelope{
		ID:       uuid.New().String(),
		Type:     eventType,
		Payload:  payload,
		Metadata: meta,
	}, nil
}

// ValidateType checks an event type against the naming convention
// "<module>.<action>" or "<module>.<entity>.<action>"
func ValidateType(eventType string) error {
	if !typePattern.MatchString(eventType) {
		return fmt.Errorf("invalid event type %q: must be 2-3 dotted lowercase segments", eventType)
	}
	return nil
}

// Module returns the first segment of an event type, e.g. "product" for
// "product.updated"
func Module(eventType string) string {
	for i := 0; i < len(eventType); i++ {
		if eventType[i] == '.' {
			return eventType[:i]
		}
	}
	return eventType
}

// WithRetry returns a copy of the envelope with RetryCount incremented.
// The original is left untouched.
func (e Envelope) WithRetry() Envelope {
	next := e
	next.Metadata.RetryCount++
	return next
}

// Valid reports whether c is one of the known classifications
func (c Classification) Valid() bool {
	switch c {
	case ClassificationDomain, ClassificationTechnical, ClassificationFailed:
		return true
	}
	return false
}
