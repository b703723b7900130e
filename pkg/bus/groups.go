package bus

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/aiutox/eventbus/pkg/stream"
)

// GroupManager guarantees a consumer group exists at the intended start
// position before any read is attempted. It is split from the Consumer so
// tests and operational tooling can force a clean group without consumer
// wiring.
type GroupManager struct {
	log    stream.Log
	logger *zap.Logger
}

// NewGroupManager creates a group manager over the given log
func NewGroupManager(log stream.Log, logger *zap.Logger) *GroupManager {
	return &GroupManager{
		log:    log,
		logger: logger,
	}
}

// EnsureGroup idempotently creates group on streamName at startID. Calling
// it twice with recreate=false never errors and never changes state after
// the first call. With recreate=true the group is destroyed and recreated,
// which is the sanctioned way to reset its cursor and isolate a
// subscription from stale entries.
func (m *GroupManager) EnsureGroup(ctx context.Context, streamName, group, startID string, recreate bool) error {
	if startID == "" {
		startID = stream.StartBeginning
	}

	if err := m.log.CreateGroup(ctx, streamName, group, startID, recreate); err != nil {
		return fmt.Errorf("ensure group %s on %s: %w", group, streamName, err)
	}

	m.logger.Debug("group ensured",
		zap.String("stream", streamName),
		zap.String("group", group),
		zap.String("start_id", startID),
		zap.Bool("recreate", recreate))

	return nil
}
