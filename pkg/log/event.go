package log

import "time"

// Event is a trace record captured at any broker layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies the client session the event belongs to (UUID).
	// Empty for events not tied to a session (discovery, queue worker).
	SessionID string `cbor:"2,keyasint,omitempty"`

	// Direction indicates message flow relative to the broker.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// RemoteAddr is the peer address (IP:port), when known.
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// DeviceID is the device the event relates to, when any.
	DeviceID string `cbor:"7,keyasint,omitempty"`

	// JobID is the queue job the event relates to, when any.
	JobID string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (at most one is set).
	Message     *MessageEvent     `cbor:"9,keyasint,omitempty"`  // Wire layer (decoded RPC)
	StateChange *StateChangeEvent `cbor:"10,keyasint,omitempty"` // Session/connection/job state
	Error       *ErrorEventData   `cbor:"11,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which broker layer captured the event.
type Layer uint8

const (
	// LayerTransport is the session framing layer.
	LayerTransport Layer = 0
	// LayerWire is the RPC message layer.
	LayerWire Layer = 1
	// LayerService is the handler/device layer.
	LayerService Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerService:
		return "SERVICE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates an RPC message (request/response/notification).
	CategoryMessage Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 1
	// CategoryError indicates an error event.
	CategoryError Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MessageType identifies the kind of RPC message in a MessageEvent.
type MessageType uint8

const (
	// MessageTypeRequest is an inbound request or one-way client message.
	MessageTypeRequest MessageType = 0
	// MessageTypeResponse is an outbound reply.
	MessageTypeResponse MessageType = 1
	// MessageTypeNotification is an outbound server notification.
	MessageTypeNotification MessageType = 2
)

// String returns the message type name.
func (t MessageType) String() string {
	switch t {
	case MessageTypeRequest:
		return "REQUEST"
	case MessageTypeResponse:
		return "RESPONSE"
	case MessageTypeNotification:
		return "NOTIFICATION"
	default:
		return "UNKNOWN"
	}
}

// MessageEvent captures a decoded RPC message.
type MessageEvent struct {
	// Type is the message kind.
	Type MessageType `cbor:"1,keyasint"`

	// Method is the RPC method or notification name.
	Method string `cbor:"2,keyasint,omitempty"`

	// RequestID is the textual form of the request id, when present.
	RequestID string `cbor:"3,keyasint,omitempty"`

	// ErrorCode is the RPC error code for error responses.
	ErrorCode *int `cbor:"4,keyasint,omitempty"`

	// Size is the frame size in bytes.
	Size int `cbor:"5,keyasint,omitempty"`

	// ProcessingTime is the handler duration for responses.
	ProcessingTime *time.Duration `cbor:"6,keyasint,omitempty"`
}

// StateEntity identifies what a state change applies to.
type StateEntity uint8

const (
	// StateEntitySession is a client session.
	StateEntitySession StateEntity = 0
	// StateEntityConnection is a device network connection.
	StateEntityConnection StateEntity = 1
	// StateEntityDevice is a registry device record.
	StateEntityDevice StateEntity = 2
	// StateEntityJob is a queue job.
	StateEntityJob StateEntity = 3
)

// String returns the entity name.
func (e StateEntity) String() string {
	switch e {
	case StateEntitySession:
		return "SESSION"
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityDevice:
		return "DEVICE"
	case StateEntityJob:
		return "JOB"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures a state transition.
type StateChangeEvent struct {
	// Entity is what changed state.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state name (empty for creation).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state name.
	NewState string `cbor:"3,keyasint"`

	// Reason describes why, when known.
	Reason string `cbor:"4,keyasint,omitempty"`
}

// ErrorEventData captures an error event.
type ErrorEventData struct {
	// Message is the error text.
	Message string `cbor:"1,keyasint"`

	// Context describes the operation that failed.
	Context string `cbor:"2,keyasint,omitempty"`

	// Code is an RPC or transport error code, when applicable.
	Code *int `cbor:"3,keyasint,omitempty"`
}
