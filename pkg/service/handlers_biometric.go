package service

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/devlink-broker/devlink-go/pkg/wire"
)

// handleBiometricEnroll stores a fingerprint template for a user.
// Templates travel base64-encoded and never come back out.
func (b *Broker) handleBiometricEnroll(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var p enrollParams
	if err := wire.DecodeParams(params, &p); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	if p.DeviceID == "" {
		return nil, wire.NewInvalidParams("device_id is required")
	}
	template, err := base64.StdEncoding.DecodeString(p.Template)
	if err != nil {
		return nil, wire.NewInvalidParams("invalid base64 template")
	}

	if err := b.biometric.Enroll(p.DeviceID, p.UserID, p.UserName, template); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	return map[string]any{"user_id": p.UserID, "enrolled": true}, nil
}

// handleBiometricAuthenticate verifies a probe against one user's enrolled
// template. verified applies the confidence threshold (default 0.7).
func (b *Broker) handleBiometricAuthenticate(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var p authParams
	if err := wire.DecodeParams(params, &p); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	if p.DeviceID == "" {
		return nil, wire.NewInvalidParams("device_id is required")
	}
	if p.UserID == "" {
		return nil, wire.NewInvalidParams("user_id is required")
	}
	probe, err := base64.StdEncoding.DecodeString(p.Template)
	if err != nil {
		return nil, wire.NewInvalidParams("invalid base64 template")
	}

	match, err := b.biometric.Authenticate(p.DeviceID, p.UserID, probe)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"verified":   match.Matched && match.Confidence >= p.threshold(),
		"user_id":    match.UserID,
		"confidence": match.Confidence,
	}, nil
}

// handleBiometricIdentify finds the best-matching enrolled user for a
// probe template.
func (b *Broker) handleBiometricIdentify(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var p authParams
	if err := wire.DecodeParams(params, &p); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	if p.DeviceID == "" {
		return nil, wire.NewInvalidParams("device_id is required")
	}
	probe, err := base64.StdEncoding.DecodeString(p.Template)
	if err != nil {
		return nil, wire.NewInvalidParams("invalid base64 template")
	}

	match, err := b.biometric.Identify(p.DeviceID, probe)
	if err != nil {
		return nil, err
	}

	verified := match.Matched && match.Confidence >= p.threshold()
	result := map[string]any{
		"verified":   verified,
		"confidence": match.Confidence,
	}
	if verified {
		result["user_id"] = match.UserID
	}
	return result, nil
}

// handleBiometricGetUsers lists enrolled users, templates excluded.
func (b *Broker) handleBiometricGetUsers(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var p deviceIDParams
	if err := wire.DecodeParams(params, &p); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	if err := p.validate(); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}

	users, err := b.biometric.Users(p.DeviceID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"users": users, "count": len(users)}, nil
}

// handleBiometricDeleteUser removes one user's enrollment.
func (b *Broker) handleBiometricDeleteUser(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var p userParams
	if err := wire.DecodeParams(params, &p); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	if p.DeviceID == "" || p.UserID == "" {
		return nil, wire.NewInvalidParams("device_id and user_id are required")
	}

	deleted, err := b.biometric.DeleteUser(p.DeviceID, p.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"user_id": p.UserID, "deleted": deleted}, nil
}

// handleBiometricGetStatus reports the terminal session state and
// enrollment count.
func (b *Broker) handleBiometricGetStatus(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var p deviceIDParams
	if err := wire.DecodeParams(params, &p); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	if err := p.validate(); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	return b.biometric.Status(p.DeviceID)
}
