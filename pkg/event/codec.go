package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrSerialization marks an envelope that cannot be represented on the
// wire (or a stored entry that cannot be parsed back). It is fatal: the
// bus never retries serialization failures.
var ErrSerialization = errors.New("event serialization failed")

// Wire field names of one stored entry. The store keeps only flat string
// fields, so the payload is JSON-encoded and metadata is flattened.
// Existing consumers depend on these exact keys.
const (
	FieldEventID       = "event_id"
	FieldEventType     = "event_type"
	FieldPayload       = "payload"
	FieldSource        = "metadata_source"
	FieldOccurredAt    = "metadata_occurred_at"
	FieldCorrelationID = "metadata_correlation_id"
	FieldRetryCount    = "metadata_retry_count"
	FieldTenantID      = "metadata_tenant_id"
)

// Extra fields attached when an envelope is moved to the dead-letter
// stream after retry exhaustion
const (
	FieldErrorInfo       = "error_info"
	FieldOriginalStream  = "original_stream"
	FieldOriginalEntryID = "original_entry_id"
	FieldFailedAt        = "failed_at"
)

// Fields flattens the envelope into the wire representation
func (e Envelope) Fields() (map[string]any, error) {
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload of %q: %v", ErrSerialization, e.Type, err)
	}

	return map[string]any{
		FieldEventID:       e.ID,
		FieldEventType:     e.Type,
		FieldPayload:       string(data),
		FieldSource:        e.Metadata.Source,
		FieldOccurredAt:    e.Metadata.OccurredAt.UTC().Format(time.RFC3339Nano),
		FieldCorrelationID: e.Metadata.CorrelationID,
		FieldRetryCount:    strconv.Itoa(e.Metadata.RetryCount),
		FieldTenantID:      e.Metadata.TenantID,
	}, nil
}

// FromFields parses a stored entry back into an envelope. Unknown keys
// (such as the dead-letter extras) are ignored. Missing source falls back
// to DefaultSource, matching what publishers write.
func FromFields(raw any) (Envelope, error) {
	fields, err := NormalizeFields(raw)
	if err != nil {
		return Envelope{}, err
	}

	eventType, ok := fields[FieldEventType]
	if !ok {
		return Envelope{}, fmt.Errorf("%w: missing %s", ErrSerialization, FieldEventType)
	}

	var payload map[string]any
	if data := fields[FieldPayload]; data != "" {
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return Envelope{}, fmt.Errorf("%w: payload of %q: %v", ErrSerialization, eventType, err)
		}
	}

	occurredAt, err := time.Parse(time.RFC3339Nano, fields[FieldOccurredAt])
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %s %q: %v", ErrSerialization, FieldOccurredAt, fields[FieldOccurredAt], err)
	}

	retries := 0
	if s := fields[FieldRetryCount]; s != "" {
		retries, err = strconv.Atoi(s)
		if err != nil {
			return Envelope{}, fmt.Errorf("%w: %s %q: %v", ErrSerialization, FieldRetryCount, s, err)
		}
	}

	source := fields[FieldSource]
	if source == "" {
		source = DefaultSource
	}

	return Envelope{
		ID:      fields[FieldEventID],
		Type:    eventType,
		Payload: payload,
		Metadata: Metadata{
			Source:        source,
			OccurredAt:    occurredAt.UTC(),
			CorrelationID: fields[FieldCorrelationID],
			TenantID:      fields[FieldTenantID],
			RetryCount:    retries,
		},
	}, nil
}

// NormalizeFields converts whatever shape the store hands back into a flat
// string map. Clients return either a string map or an ordered list of
// key/value pairs depending on protocol version.
func NormalizeFields(raw any) (map[string]string, error) {
	switch v := raw.(type) {
	case map[string]string:
		return v, nil
	case map[string]any:
		fields := make(map[string]string, len(v))
		for key, value := range v {
			fields[key] = stringValue(value)
		}
		return fields, nil
	case []any:
		// Flat [k1, v1, k2, v2, ...] list
		if len(v)%2 != 0 {
			return nil, fmt.Errorf("%w: odd field list length %d", ErrSerialization, len(v))
		}
		fields := make(map[string]string, len(v)/2)
		for i := 0; i < len(v); i += 2 {
			key, ok := v[i].(string)
			if !ok {
				return nil, fmt.Errorf("%w: non-string field key %v", ErrSerialization, v[i])
			}
			fields[key] = stringValue(v[i+1])
		}
		return fields, nil
	case [][2]string:
		fields := make(map[string]string, len(v))
		for _, pair := range v {
			fields[pair[0]] = pair[1]
		}
		return fields, nil
	default:
		return nil, fmt.Errorf("%w: unsupported field container %T", ErrSerialization, raw)
	}
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
