package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aiutox/eventbus/pkg/bus"
	"github.com/aiutox/eventbus/pkg/event"
	"github.com/aiutox/eventbus/pkg/stream"
	"github.com/aiutox/eventbus/pkg/stream/memory"
)

func newTestServer(t *testing.T) (*Server, *bus.Publisher, *memory.Log) {
	t.Helper()

	log := memory.NewLog()
	logger := zap.NewNop()
	pub := bus.NewPublisher(log, bus.DefaultStreams(), []string{"system"}, bus.NopMetrics{}, logger)

	srv := NewServer(&Config{
		Port:      0,
		Log:       log,
		Publisher: pub,
		Source:    "eventbus-admin",
		Logger:    logger,
	})
	return srv, pub, log
}

func doRequest(srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHandleHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])
}

func TestHandleGetStream(t *testing.T) {
	srv, pub, log := newTestServer(t)
	ctx := context.Background()

	_, err := pub.Publish(ctx, "product.updated", nil, event.Metadata{Source: "svc"})
	require.NoError(t, err)
	_, err = pub.Publish(ctx, "product.updated", nil, event.Metadata{Source: "svc"})
	require.NoError(t, err)
	require.NoError(t, log.CreateGroup(ctx, "events:domain", "g", stream.StartBeginning, false))

	rec := doRequest(srv, http.MethodGet, "/api/v1/streams/events:domain", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StreamResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "events:domain", resp.Name)
	assert.Equal(t, int64(2), resp.Length)
	require.Len(t, resp.Groups, 1)
	assert.Equal(t, "g", resp.Groups[0].Name)
	assert.Equal(t, int64(2), resp.Groups[0].Lag)
}

func TestHandleListGroupsMissingStream(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/api/v1/streams/nope/groups", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListPending(t *testing.T) {
	srv, pub, log := newTestServer(t)
	ctx := context.Background()

	_, err := pub.Publish(ctx, "product.updated", nil, event.Metadata{Source: "svc"})
	require.NoError(t, err)
	require.NoError(t, log.CreateGroup(ctx, "events:domain", "g", stream.StartBeginning, false))
	_, err = log.ReadGroup(ctx, "events:domain", "g", "c1", 10, 0)
	require.NoError(t, err)

	rec := doRequest(srv, http.MethodGet, "/api/v1/streams/events:domain/groups/g/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	pending := decodeBody(t, rec)["pending"].([]any)
	require.Len(t, pending, 1)
	entry := pending[0].(map[string]any)
	assert.Equal(t, "c1", entry["consumer"])
	assert.Equal(t, float64(1), entry["delivery_count"])
}

func TestHandleListEntries(t *testing.T) {
	srv, pub, _ := newTestServer(t)
	ctx := context.Background()

	_, err := pub.Publish(ctx, "product.updated", map[string]any{"sku": "A-1"}, event.Metadata{Source: "svc"})
	require.NoError(t, err)

	rec := doRequest(srv, http.MethodGet, "/api/v1/streams/events:domain/entries", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	entries := decodeBody(t, rec)["entries"].([]any)
	require.Len(t, entries, 1)
	fields := entries[0].(map[string]any)["fields"].(map[string]any)
	assert.Equal(t, "product.updated", fields[event.FieldEventType])
}

func TestHandleTestEvent(t *testing.T) {
	srv, _, log := newTestServer(t)

	t.Run("publishes", func(t *testing.T) {
		rec := doRequest(srv, http.MethodPost, "/api/v1/events/test", map[string]any{
			"event_type": "product.updated",
			"payload":    map[string]any{"sku": "A-1"},
			"metadata":   map[string]any{"source": "curl", "tenant_id": "t-1"},
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.NotEmpty(t, decodeBody(t, rec)["entry_id"])

		entries, err := log.Range(context.Background(), "events:domain", "-", "+", 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "curl", entries[0].Fields[event.FieldSource])
		assert.Equal(t, "t-1", entries[0].Fields[event.FieldTenantID])
	})

	t.Run("defaults to the server source", func(t *testing.T) {
		rec := doRequest(srv, http.MethodPost, "/api/v1/events/test", map[string]any{
			"event_type": "system.health_check",
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		entries, err := log.Range(context.Background(), "events:technical", "-", "+", 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "eventbus-admin", entries[0].Fields[event.FieldSource])
	})

	t.Run("missing event type", func(t *testing.T) {
		rec := doRequest(srv, http.MethodPost, "/api/v1/events/test", map[string]any{
			"payload": map[string]any{},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid event type", func(t *testing.T) {
		rec := doRequest(srv, http.MethodPost, "/api/v1/events/test", map[string]any{
			"event_type": "Bad.Type",
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestHandleRedrive(t *testing.T) {
	srv, pub, log := newTestServer(t)
	ctx := context.Background()

	env, err := event.New("product.updated", map[string]any{"sku": "A-1"}, event.Metadata{Source: "svc"})
	require.NoError(t, err)
	env.Metadata.RetryCount = 3

	deadID, err := pub.PublishDeadLetter(ctx, env, "events:domain", "1-1", errors.New("gave up"))
	require.NoError(t, err)

	rec := doRequest(srv, http.MethodPost, "/api/v1/streams/events:failed/entries/"+deadID+"/redrive", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "events:domain", body["stream"])

	// The redriven copy gets a fresh retry budget
	entries, err := log.Range(ctx, "events:domain", "-", "+", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, env.ID, entries[0].Fields[event.FieldEventID])
	assert.Equal(t, "0", entries[0].Fields[event.FieldRetryCount])

	t.Run("unknown entry", func(t *testing.T) {
		rec := doRequest(srv, http.MethodPost, "/api/v1/streams/events:failed/entries/99999-1/redrive", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleClearStream(t *testing.T) {
	srv, pub, log := newTestServer(t)
	ctx := context.Background()

	_, err := pub.Publish(ctx, "product.updated", nil, event.Metadata{Source: "svc"})
	require.NoError(t, err)

	rec := doRequest(srv, http.MethodDelete, "/api/v1/streams/events:domain", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	n, err := log.Len(ctx, "events:domain")
	require.NoError(t, err)
	assert.Zero(t, n)
}
