package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aiutox/eventbus/pkg/event"
	"github.com/aiutox/eventbus/pkg/stream"
)

// StreamMap names the stream behind each classification
type StreamMap struct {
	Domain    string
	Technical string
	Failed    string
}

// DefaultStreams returns the stream names existing consumers know
func DefaultStreams() StreamMap {
	return StreamMap{
		Domain:    "events:domain",
		Technical: "events:technical",
		Failed:    "events:failed",
	}
}

// For returns the stream name for a classification
func (m StreamMap) For(class event.Classification) string {
	switch class {
	case event.ClassificationTechnical:
		return m.Technical
	case event.ClassificationFailed:
		return m.Failed
	default:
		return m.Domain
	}
}

// Publisher turns a business intent into a durable envelope on the
// correct stream
type Publisher struct {
	log       stream.Log
	streams   StreamMap
	technical map[string]struct{}
	metrics   Metrics
	logger    *zap.Logger

	defaultSourceWarn sync.Once
}

// NewPublisher creates a publisher. Events whose module (first event-type
// segment) is listed in technicalModules are routed to the technical
// stream; everything else is a domain event.
func NewPublisher(log stream.Log, streams StreamMap, technicalModules []string, metrics Metrics, logger *zap.Logger) *Publisher {
	technical := make(map[string]struct{}, len(technicalModules))
	for _, module := range technicalModules {
		technical[module] = struct{}{}
	}

	return &Publisher{
		log:       log,
		streams:   streams,
		technical: technical,
		metrics:   metrics,
		logger:    logger,
	}
}

// Publish builds an envelope with defaults, classifies it and appends it
// to the matching stream. It returns the store-assigned entry ID.
// Serialization failures are fatal to the call; both failure kinds are
// wrapped in ErrPublish.
func (p *Publisher) Publish(ctx context.Context, eventType string, payload map[string]any, meta event.Metadata) (string, error) {
	if meta.Source == "" {
		// Publishers that never set their service name hide data-quality
		// problems behind the compatibility default; surface it once.
		p.defaultSourceWarn.Do(func() {
			p.logger.Warn("publish without metadata source, defaulting",
				zap.String("event_type", eventType),
				zap.String("default", event.DefaultSource))
		})
	}

	env, err := event.New(eventType, payload, meta)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPublish, err)
	}
	env.Classification = p.Classify(eventType)

	return p.PublishEnvelope(ctx, env)
}

// PublishEnvelope appends an already-built envelope to the stream of its
// classification
func (p *Publisher) PublishEnvelope(ctx context.Context, env event.Envelope) (string, error) {
	class := env.Classification
	if !class.Valid() {
		class = p.Classify(env.Type)
	}
	return p.PublishEnvelopeTo(ctx, p.streams.For(class), env)
}

// PublishEnvelopeTo appends an envelope to an explicit stream. The retry
// coordinator uses it to redeliver on the stream the entry came from.
func (p *Publisher) PublishEnvelopeTo(ctx context.Context, streamName string, env event.Envelope) (string, error) {
	fields, err := env.Fields()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPublish, err)
	}

	id, err := p.log.Append(ctx, streamName, fields)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPublish, err)
	}

	p.metrics.RecordPublished(env.Type, env.Classification)
	p.logger.Debug("event published",
		zap.String("event_id", env.ID),
		zap.String("event_type", env.Type),
		zap.String("stream", streamName),
		zap.String("entry_id", id))

	return id, nil
}

// PublishDeadLetter copies an envelope to the failed stream, annotated
// with the final error and where the entry came from
func (p *Publisher) PublishDeadLetter(ctx context.Context, env event.Envelope, origStream, origEntryID string, cause error) (string, error) {
	fields, err := env.Fields()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPublish, err)
	}
	annotateDeadLetter(fields, origStream, origEntryID, cause)

	id, err := p.log.Append(ctx, p.streams.Failed, fields)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPublish, err)
	}

	p.metrics.RecordDeadLettered(env.Type)
	p.logger.Warn("event dead-lettered",
		zap.String("event_id", env.ID),
		zap.String("event_type", env.Type),
		zap.String("original_stream", origStream),
		zap.String("original_entry_id", origEntryID),
		zap.Int("retry_count", env.Metadata.RetryCount),
		zap.Error(cause))

	return id, nil
}

// PublishDeadLetterRaw moves an entry whose fields could not even be
// parsed. The raw fields are preserved so operators can inspect them.
func (p *Publisher) PublishDeadLetterRaw(ctx context.Context, raw map[string]string, origStream, origEntryID string, cause error) (string, error) {
	fields := make(map[string]any, len(raw)+4)
	for key, value := range raw {
		fields[key] = value
	}
	annotateDeadLetter(fields, origStream, origEntryID, cause)

	id, err := p.log.Append(ctx, p.streams.Failed, fields)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPublish, err)
	}

	p.metrics.RecordDeadLettered(raw[event.FieldEventType])
	p.logger.Warn("unparseable entry dead-lettered",
		zap.String("original_stream", origStream),
		zap.String("original_entry_id", origEntryID),
		zap.Error(cause))

	return id, nil
}

// Classify derives the classification from the event-type module prefix
func (p *Publisher) Classify(eventType string) event.Classification {
	if _, ok := p.technical[event.Module(eventType)]; ok {
		return event.ClassificationTechnical
	}
	return event.ClassificationDomain
}

// Streams exposes the configured stream map
func (p *Publisher) Streams() StreamMap {
	return p.streams
}

func annotateDeadLetter(fields map[string]any, origStream, origEntryID string, cause error) {
	fields[event.FieldErrorInfo] = cause.Error()
	fields[event.FieldOriginalStream] = origStream
	fields[event.FieldOriginalEntryID] = origEntryID
	fields[event.FieldFailedAt] = time.Now().UTC().Format(time.RFC3339Nano)
}
