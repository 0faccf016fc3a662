package wire

import (
	"encoding/json"
	"fmt"
)

// DecodeRequest parses a single inbound frame. A JSON-level failure returns
// an error suitable for a Parse error response; a well-formed object with a
// bad version or missing method fails Validate and maps to Invalid Request.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	return &req, nil
}

// EncodeResponse serializes a response to a text frame.
func EncodeResponse(resp *Response) ([]byte, error) {
	return json.Marshal(resp)
}

// EncodeNotification serializes a notification to a text frame.
func EncodeNotification(notif *Notification) ([]byte, error) {
	return json.Marshal(notif)
}

// DecodeParams unmarshals request params into a typed value. A nil params
// payload leaves v at its zero value.
func DecodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	return json.Unmarshal(params, v)
}
