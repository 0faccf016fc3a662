package wire

import "fmt"

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Error is the RPC error envelope carried in a response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewParseError builds a -32700 error. detail describes what failed to parse.
func NewParseError(detail string) *Error {
	return &Error{Code: CodeParseError, Message: "Parse error", Data: detail}
}

// NewInvalidRequest builds a -32600 error.
func NewInvalidRequest(detail string) *Error {
	return &Error{Code: CodeInvalidRequest, Message: "Invalid Request", Data: detail}
}

// NewMethodNotFound builds a -32601 error for the named method.
func NewMethodNotFound(method string) *Error {
	return &Error{Code: CodeMethodNotFound, Message: "Method not found", Data: method}
}

// NewInvalidParams builds a -32602 error.
func NewInvalidParams(detail string) *Error {
	return &Error{Code: CodeInvalidParams, Message: "Invalid params", Data: detail}
}

// NewInternalError builds a -32603 error. The message is surfaced to the
// client; callers must not leak internals through it.
func NewInternalError(detail string) *Error {
	return &Error{Code: CodeInternalError, Message: "Internal error", Data: detail}
}
