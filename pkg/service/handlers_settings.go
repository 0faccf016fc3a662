package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/devlink-broker/devlink-go/pkg/config"
	"github.com/devlink-broker/devlink-go/pkg/wire"
)

// handleSettingsGet returns the active configuration.
func (b *Broker) handleSettingsGet(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	return b.Settings(), nil
}

// handleSettingsSave validates, persists and applies new settings. An
// endpoint change restarts the transport, which drops every session
// including the caller's; the response is sent before the restart.
func (b *Broker) handleSettingsSave(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var incoming config.Settings
	if err := wire.DecodeParams(params, &incoming); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	incoming.Normalize()
	if err := incoming.Validate(); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}

	if err := b.settingsStore.Save(incoming); err != nil {
		return nil, fmt.Errorf("failed to save settings: %w", err)
	}

	b.settingsMu.Lock()
	previous := b.settings
	b.settings = incoming
	b.settingsMu.Unlock()

	restart := transportChanged(previous.Transport, incoming.Transport)
	if restart && b.running {
		// The restart happens after the reply so the caller sees the
		// outcome before its session drops.
		go func() {
			if err := b.restartTransport(incoming.Transport); err != nil {
				b.logError("", "restart transport", err)
			}
		}()
	}

	return map[string]any{
		"saved":              true,
		"transport_restart":  restart,
		"applies_on_restart": !restart && settingsNeedRestart(previous, incoming),
	}, nil
}

// transportChanged reports whether the client-facing endpoint moved.
func transportChanged(a, c config.TransportSettings) bool {
	if a.Host != c.Host || a.Port != c.Port {
		return true
	}
	if a.UseTLS != c.UseTLS || a.CertificatePath != c.CertificatePath {
		return true
	}
	if a.MaxConnections != c.MaxConnections {
		return true
	}
	if len(a.AllowedOrigins) != len(c.AllowedOrigins) {
		return true
	}
	for i := range a.AllowedOrigins {
		if a.AllowedOrigins[i] != c.AllowedOrigins[i] {
			return true
		}
	}
	return false
}

// settingsNeedRestart reports whether non-transport changes only take
// effect on the next process start (queue database path, worker cadence,
// discovery interval).
func settingsNeedRestart(a, c config.Settings) bool {
	return a.Queue != c.Queue ||
		a.Discovery != c.Discovery ||
		a.Network != c.Network
}
