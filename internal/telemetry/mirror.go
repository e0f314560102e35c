// Package telemetry mirrors config state transitions to Redis pub/sub for
// external observers (dashboards, alerting) outside this process. It is
// adapted from the teacher's internal/infrastructure/lock package, which
// uses the same *redis.Client for a very different purpose (distributed
// mutual exclusion); here the Redis connection serves a one-way fan-out
// instead, so this is NOT multi-manager coordination — nothing reads the
// channel back into a manager's state, and no manager ever blocks waiting
// on another manager's publish.
package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Transition is one config state change, serialized as JSON onto the
// configured Redis channel.
type Transition struct {
	Name      string    `json:"name"`
	Intent    string    `json:"intent"`
	Warm      bool      `json:"warm"`
	Active    bool      `json:"active"`
	Timestamp time.Time `json:"timestamp"`
}

// Mirror publishes Transitions to a single Redis channel. A nil Mirror
// (returned by Disabled) makes Publish a no-op, so callers don't need to
// branch on whether telemetry is configured.
type Mirror struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// New builds a Mirror against an already-constructed redis.Client (or a
// miniredis-backed one in tests).
func New(client *redis.Client, channel string, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{client: client, channel: channel, logger: logger.With("component", "telemetry")}
}

// Disabled returns a Mirror that drops every Publish — used when
// telemetry.enabled is false.
func Disabled() *Mirror {
	return nil
}

// Publish serializes t and publishes it to the configured channel,
// best-effort: a Redis outage degrades telemetry, never the manager's own
// state machine, so errors are logged and swallowed.
func (m *Mirror) Publish(ctx context.Context, t Transition) {
	if m == nil || m.client == nil {
		return
	}
	payload, err := json.Marshal(t)
	if err != nil {
		m.logger.Warn("telemetry: marshal failed", "error", err)
		return
	}
	if err := m.client.Publish(ctx, m.channel, payload).Err(); err != nil {
		m.logger.Warn("telemetry: publish failed", "channel", m.channel, "error", err)
	}
}

// Close releases the underlying Redis client.
func (m *Mirror) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}
