package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/devlink-broker/devlink-go/pkg/version"
)

// handleSystemGetInfo reports build identity and broker counters.
func (b *Broker) handleSystemGetInfo(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	info := version.Get()

	b.serverMu.Lock()
	sessionCount := 0
	if b.server != nil {
		sessionCount = b.server.SessionCount()
	}
	b.serverMu.Unlock()

	return map[string]any{
		"version":        info.Version,
		"go_version":     info.GoVersion,
		"platform":       info.Platform,
		"uptime_seconds": int(time.Since(b.startedAt).Seconds()),
		"session_count":  sessionCount,
		"device_count":   b.registry.Count(),
	}, nil
}

// handleSystemGetHealth reports per-component health. The transport is by
// definition up when this handler runs; the queue check exercises the
// database.
func (b *Broker) handleSystemGetHealth(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	queueHealthy := true
	if _, err := b.jobs.Status(); err != nil {
		queueHealthy = false
	}

	components := map[string]any{
		"transport": "ok",
		"queue":     healthWord(queueHealthy),
		"discovery": "ok",
		"events":    "ok",
	}
	overall := "ok"
	if !queueHealthy {
		overall = "degraded"
	}

	return map[string]any{
		"status":              overall,
		"components":          components,
		"network_connections": b.network.Count(),
		"events_published":    b.fabric.Published(),
	}, nil
}

func healthWord(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
