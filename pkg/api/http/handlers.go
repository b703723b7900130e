package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aiutox/eventbus/pkg/event"
	"github.com/aiutox/eventbus/pkg/stream"
)

// TestEventRequest represents a manual test publish
type TestEventRequest struct {
	EventType string         `json:"event_type" binding:"required"`
	Payload   map[string]any `json:"payload"`
	Metadata  struct {
		Source        string `json:"source"`
		CorrelationID string `json:"correlation_id"`
		TenantID      string `json:"tenant_id"`
	} `json:"metadata"`
}

// StreamResponse is the introspection view of one stream
type StreamResponse struct {
	Name   string          `json:"name"`
	Length int64           `json:"length"`
	Groups []GroupResponse `json:"groups"`
}

// GroupResponse is the introspection view of one consumer group
type GroupResponse struct {
	Name            string `json:"name"`
	Consumers       int64  `json:"consumers"`
	Pending         int64  `json:"pending"`
	Lag             int64  `json:"lag"`
	LastDeliveredID string `json:"last_delivered_id"`
}

// EntryResponse is one stored entry with its raw wire fields
type EntryResponse struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}

// handleGetStream returns stream length and its groups
func (s *Server) handleGetStream(c *gin.Context) {
	name := c.Param("name")
	ctx := c.Request.Context()

	length, err := s.log.Len(ctx, name)
	if err != nil {
		s.respondStoreError(c, err)
		return
	}

	groups, err := s.log.Groups(ctx, name)
	if err != nil && !errors.Is(err, stream.ErrNotFound) {
		s.respondStoreError(c, err)
		return
	}

	resp := StreamResponse{Name: name, Length: length, Groups: make([]GroupResponse, 0, len(groups))}
	for _, g := range groups {
		resp.Groups = append(resp.Groups, toGroupResponse(g))
	}
	c.JSON(http.StatusOK, resp)
}

// handleListGroups lists the consumer groups of a stream
func (s *Server) handleListGroups(c *gin.Context) {
	groups, err := s.log.Groups(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.respondStoreError(c, err)
		return
	}

	resp := make([]GroupResponse, 0, len(groups))
	for _, g := range groups {
		resp = append(resp, toGroupResponse(g))
	}
	c.JSON(http.StatusOK, gin.H{"groups": resp})
}

// handleListPending lists delivered-but-unacknowledged entries
func (s *Server) handleListPending(c *gin.Context) {
	pending, err := s.log.Pending(c.Request.Context(), c.Param("name"), c.Param("group"), queryCount(c))
	if err != nil {
		s.respondStoreError(c, err)
		return
	}

	type pendingResponse struct {
		ID            string `json:"id"`
		Consumer      string `json:"consumer"`
		IdleMs        int64  `json:"idle_ms"`
		DeliveryCount int64  `json:"delivery_count"`
	}

	resp := make([]pendingResponse, 0, len(pending))
	for _, p := range pending {
		resp = append(resp, pendingResponse{
			ID:            p.ID,
			Consumer:      p.Consumer,
			IdleMs:        p.Idle.Milliseconds(),
			DeliveryCount: p.DeliveryCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"pending": resp})
}

// handleListEntries reads a range of entries. Operators use it on the
// failed stream to inspect dead letters with their error info and retry
// counts.
func (s *Server) handleListEntries(c *gin.Context) {
	start := c.DefaultQuery("start", "-")
	end := c.DefaultQuery("end", "+")

	entries, err := s.log.Range(c.Request.Context(), c.Param("name"), start, end, queryCount(c))
	if err != nil {
		s.respondStoreError(c, err)
		return
	}

	resp := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, EntryResponse{ID: e.ID, Fields: e.Fields})
	}
	c.JSON(http.StatusOK, gin.H{"entries": resp})
}

// handleRedrive republishes a dead-lettered entry to the stream it
// originally failed on, with a fresh retry budget
func (s *Server) handleRedrive(c *gin.Context) {
	name := c.Param("name")
	entryID := c.Param("id")
	ctx := c.Request.Context()

	entries, err := s.log.Range(ctx, name, entryID, entryID, 1)
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	if len(entries) == 0 {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{Code: "NOT_FOUND", Message: "entry not found"},
		})
		return
	}

	entry := entries[0]
	env, err := event.FromFields(entry.Fields)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: ErrorDetail{Code: "UNPARSEABLE_ENTRY", Message: err.Error()},
		})
		return
	}

	target := entry.Fields[event.FieldOriginalStream]
	if target == "" {
		target = s.publisher.Streams().For(s.publisher.Classify(env.Type))
	}
	env.Metadata.RetryCount = 0

	newID, err := s.publisher.PublishEnvelopeTo(ctx, target, env)
	if err != nil {
		s.logger.Error("redrive failed",
			zap.String("entry_id", entryID),
			zap.String("target", target),
			zap.Error(err))
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error: ErrorDetail{Code: "REDRIVE_FAILED", Message: err.Error()},
		})
		return
	}

	s.logger.Info("dead letter re-driven",
		zap.String("entry_id", entryID),
		zap.String("target", target),
		zap.String("new_entry_id", newID))

	c.JSON(http.StatusOK, gin.H{"entry_id": newID, "stream": target})
}

// handleClearStream destructively removes a stream. Administrative only.
func (s *Server) handleClearStream(c *gin.Context) {
	name := c.Param("name")

	if err := s.log.DeleteStream(c.Request.Context(), name); err != nil {
		s.respondStoreError(c, err)
		return
	}

	s.logger.Warn("stream cleared via admin API", zap.String("stream", name))
	c.JSON(http.StatusOK, gin.H{"stream": name, "cleared": true})
}

// handleTestEvent publishes a manual test event
func (s *Server) handleTestEvent(c *gin.Context) {
	var req TestEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{Code: "INVALID_REQUEST", Message: err.Error()},
		})
		return
	}

	source := req.Metadata.Source
	if source == "" {
		source = s.source
	}

	entryID, err := s.publisher.Publish(c.Request.Context(), req.EventType, req.Payload, event.Metadata{
		Source:        source,
		CorrelationID: req.Metadata.CorrelationID,
		TenantID:      req.Metadata.TenantID,
	})
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: ErrorDetail{Code: "PUBLISH_FAILED", Message: err.Error()},
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"entry_id": entryID})
}

func (s *Server) respondStoreError(c *gin.Context, err error) {
	if errors.Is(err, stream.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{Code: "NOT_FOUND", Message: err.Error()},
		})
		return
	}

	s.logger.Error("store operation failed", zap.Error(err))
	c.JSON(http.StatusBadGateway, ErrorResponse{
		Error: ErrorDetail{Code: "STORE_ERROR", Message: err.Error()},
	})
}

func toGroupResponse(g stream.GroupInfo) GroupResponse {
	return GroupResponse{
		Name:            g.Name,
		Consumers:       g.Consumers,
		Pending:         g.Pending,
		Lag:             g.Lag,
		LastDeliveredID: g.LastDeliveredID,
	}
}

func queryCount(c *gin.Context) int64 {
	count, err := strconv.ParseInt(c.DefaultQuery("count", "50"), 10, 64)
	if err != nil || count < 1 {
		return 50
	}
	return count
}
