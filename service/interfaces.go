// ABOUTME: Service-layer contracts for external capabilities used by the engine
// ABOUTME: Narrow interfaces satisfied by the driver layer and faked in tests
package service

import (
	"context"
	"encoding/json"

	"recommendation-engine/driver"
)

// Augur is the external intelligence contract covering both strategy
// decision generation and semantic content scoring. Satisfied by
// driver.AugurClient.
type Augur interface {
	Available() bool
	Decide(ctx context.Context, contextJSON []byte) (json.RawMessage, driver.CallUsage, error)
	ScoreContent(ctx context.Context, title, content string, interests []string) (*driver.ContentScore, driver.CallUsage, error)
}

// SnapshotCache is the short-lived cache for system context snapshots.
// Satisfied by driver.ContextCache.
type SnapshotCache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
}

// EventPublisher emits engine events for downstream surfaces. Satisfied by
// driver.StreamPublisher.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload any) error
}
