package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aiutox/eventbus/pkg/bus"
	"github.com/aiutox/eventbus/pkg/event"
	"github.com/aiutox/eventbus/pkg/stream"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Admin API is not exposed publicly
	},
}

// TailEvent is one envelope pushed to a tailing client
type TailEvent struct {
	EntryID       string         `json:"entry_id"`
	EventID       string         `json:"event_id"`
	EventType     string         `json:"event_type"`
	Payload       map[string]any `json:"payload"`
	Source        string         `json:"source"`
	OccurredAt    time.Time      `json:"occurred_at"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	TenantID      string         `json:"tenant_id,omitempty"`
	RetryCount    int            `json:"retry_count"`
}

// Handler handles WebSocket tail connections
type Handler struct {
	log    stream.Log
	groups *bus.GroupManager
	logger *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(log stream.Log, groups *bus.GroupManager, logger *zap.Logger) *Handler {
	return &Handler{
		log:    log,
		groups: groups,
		logger: logger,
	}
}

// HandleTail streams new entries of one stream to the client
func (h *Handler) HandleTail(c *gin.Context) {
	streamName := c.Param("name")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Ephemeral group at the tail: only entries appended after this point
	group := "tail-" + uuid.NewString()[:8]
	if err := h.groups.EnsureGroup(ctx, streamName, group, stream.StartNew, false); err != nil {
		h.logger.Error("failed to create tail group",
			zap.String("stream", streamName),
			zap.Error(err))
		return
	}
	defer func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cleanupCancel()
		if err := h.log.DeleteGroup(cleanupCtx, streamName, group); err != nil {
			h.logger.Warn("failed to remove tail group",
				zap.String("stream", streamName),
				zap.String("group", group),
				zap.Error(err))
		}
	}()

	h.logger.Info("tail connected",
		zap.String("stream", streamName),
		zap.String("group", group),
		zap.String("client", c.ClientIP()))

	// Detect client disconnect; the read pump also discards client frames
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		entries, err := h.log.ReadGroup(ctx, streamName, group, "tail", 10, time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.logger.Error("tail read failed",
				zap.String("stream", streamName),
				zap.Error(err))
			return
		}

		for _, entry := range entries {
			env, err := event.FromFields(entry.Fields)
			if err != nil {
				// Tails are observational; skip what we cannot parse
				continue
			}

			if err := conn.WriteJSON(toTailEvent(entry, env)); err != nil {
				h.logger.Debug("tail client gone", zap.Error(err))
				return
			}
			_ = h.log.Ack(ctx, streamName, group, entry.ID)
		}
	}
}

func toTailEvent(entry stream.Entry, env event.Envelope) TailEvent {
	return TailEvent{
		EntryID:       entry.ID,
		EventID:       env.ID,
		EventType:     env.Type,
		Payload:       env.Payload,
		Source:        env.Metadata.Source,
		OccurredAt:    env.Metadata.OccurredAt,
		CorrelationID: env.Metadata.CorrelationID,
		TenantID:      env.Metadata.TenantID,
		RetryCount:    env.Metadata.RetryCount,
	}
}
