package wire

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRequest(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"jsonrpc":"2.0","method":"devices.enumerate","id":7}`))
	require.NoError(t, err)
	require.NoError(t, req.Validate())

	assert.Equal(t, "devices.enumerate", req.Method)
	assert.False(t, req.IsNotification())
	assert.Equal(t, "7", string(req.ID))
}

func TestDecodeRequestGarbage(t *testing.T) {
	_, err := DecodeRequest([]byte("\x00\x01 not json"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "malformed frame"))
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{"wrong version", `{"jsonrpc":"1.0","method":"x","id":1}`, ErrInvalidVersion},
		{"missing version", `{"method":"x","id":1}`, ErrInvalidVersion},
		{"missing method", `{"jsonrpc":"2.0","id":1}`, ErrMissingMethod},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := DecodeRequest([]byte(tt.payload))
			require.NoError(t, err)
			assert.ErrorIs(t, req.Validate(), tt.wantErr)
		})
	}
}

func TestNotificationDetection(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"jsonrpc":"2.0","method":"devices.watch"}`))
	require.NoError(t, err)
	assert.True(t, req.IsNotification())

	req, err = DecodeRequest([]byte(`{"jsonrpc":"2.0","method":"devices.watch","id":null}`))
	require.NoError(t, err)
	assert.True(t, req.IsNotification())

	req, err = DecodeRequest([]byte(`{"jsonrpc":"2.0","method":"devices.watch","id":"abc"}`))
	require.NoError(t, err)
	assert.False(t, req.IsNotification())
}

func TestEncodeResponse(t *testing.T) {
	resp := NewResponse(json.RawMessage("3"), map[string]any{"success": true})
	data, err := EncodeResponse(resp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "2.0", decoded["jsonrpc"])
	assert.Equal(t, float64(3), decoded["id"])
	assert.Nil(t, decoded["error"])
}

func TestEncodeErrorResponseNullID(t *testing.T) {
	resp := NewErrorResponse(nil, NewParseError("bad frame"))
	data, err := EncodeResponse(resp)
	require.NoError(t, err)

	var decoded struct {
		ID    any    `json:"id"`
		Error *Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Nil(t, decoded.ID)
	assert.Equal(t, CodeParseError, decoded.Error.Code)
}

func TestErrorConstructors(t *testing.T) {
	assert.Equal(t, -32700, NewParseError("").Code)
	assert.Equal(t, -32600, NewInvalidRequest("").Code)
	assert.Equal(t, -32601, NewMethodNotFound("x.y").Code)
	assert.Equal(t, -32602, NewInvalidParams("").Code)
	assert.Equal(t, -32603, NewInternalError("").Code)
	assert.Equal(t, "x.y", NewMethodNotFound("x.y").Data)
}

func TestDecodeParams(t *testing.T) {
	var p struct {
		DeviceID string `json:"device_id"`
	}
	require.NoError(t, DecodeParams(json.RawMessage(`{"device_id":"serial_com1"}`), &p))
	assert.Equal(t, "serial_com1", p.DeviceID)

	// Absent params leave the target zero-valued.
	p.DeviceID = ""
	require.NoError(t, DecodeParams(nil, &p))
	assert.Empty(t, p.DeviceID)
}
