package bus

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/aiutox/eventbus/pkg/event"
)

// Registry is a dispatch table from event type to an ordered list of
// handlers. Business modules register their handlers at startup, and the
// registry's Dispatch doubles as the Subscribe callback, fanning one
// delivery out to every handler of that type.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Register adds a handler for an event type. The type is validated
// against the naming convention at registration time, not dispatch time.
func (r *Registry) Register(eventType string, handler Handler) error {
	if err := event.ValidateType(eventType); err != nil {
		return fmt.Errorf("register handler: %w", err)
	}
	if handler == nil {
		return fmt.Errorf("register handler for %q: nil handler", eventType)
	}

	r.mu.Lock()
	r.handlers[eventType] = append(r.handlers[eventType], handler)
	count := len(r.handlers[eventType])
	r.mu.Unlock()

	r.logger.Debug("handler registered",
		zap.String("event_type", eventType),
		zap.Int("handlers", count))

	return nil
}

// EventTypes returns the registered types, sorted. Typically fed straight
// into Subscribe as the filter list.
func (r *Registry) EventTypes() []string {
	r.mu.RLock()
	types := make([]string, 0, len(r.handlers))
	for eventType := range r.handlers {
		types = append(types, eventType)
	}
	r.mu.RUnlock()

	sort.Strings(types)
	return types
}

// Dispatch runs every handler registered for the envelope's type, in
// registration order, stopping at the first error. A failed dispatch is
// retried as a whole, so handlers must tolerate re-running.
func (r *Registry) Dispatch(ctx context.Context, env event.Envelope) error {
	r.mu.RLock()
	handlers := make([]Handler, len(r.handlers[env.Type]))
	copy(handlers, r.handlers[env.Type])
	r.mu.RUnlock()

	for i, handler := range handlers {
		if err := handler(ctx, env); err != nil {
			return fmt.Errorf("handler %d for %q: %w", i, env.Type, err)
		}
	}
	return nil
}
