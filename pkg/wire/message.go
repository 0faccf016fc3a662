package wire

import (
	"encoding/json"
	"errors"
)

// Version is the protocol version carried by every message.
const Version = "2.0"

// Well-known notification methods sent by the broker.
const (
	// MethodServerConnected is the unsolicited welcome notification emitted
	// once per session immediately after admission.
	MethodServerConnected = "server.connected"

	// MethodDeviceEvent carries asynchronous device events to subscribed
	// sessions.
	MethodDeviceEvent = "device.event"
)

// Message validation errors.
var (
	ErrInvalidVersion = errors.New("jsonrpc version must be \"2.0\"")
	ErrMissingMethod  = errors.New("method is required")
)

// NullID is the id used when replying to a message whose id could not be
// recovered (e.g. a parse error).
var NullID = json.RawMessage("null")

// Request is an inbound client message. If ID is absent the client does not
// expect a reply.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// Validate checks the version marker and method presence.
func (r *Request) Validate() error {
	if r.JSONRPC != Version {
		return ErrInvalidVersion
	}
	if r.Method == "" {
		return ErrMissingMethod
	}
	return nil
}

// IsNotification reports whether the request is a one-way notification.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// Response is an outbound reply to a request. Exactly one of Result and
// Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// Notification is an outbound one-way message from server to client.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewResponse builds a success response for the given request id.
func NewResponse(id json.RawMessage, result any) *Response {
	if len(id) == 0 {
		id = NullID
	}
	return &Response{JSONRPC: Version, Result: result, ID: id}
}

// NewErrorResponse builds an error response for the given request id.
func NewErrorResponse(id json.RawMessage, rpcErr *Error) *Response {
	if len(id) == 0 {
		id = NullID
	}
	return &Response{JSONRPC: Version, Error: rpcErr, ID: id}
}

// NewNotification builds a one-way server notification.
func NewNotification(method string, params any) *Notification {
	return &Notification{JSONRPC: Version, Method: method, Params: params}
}
