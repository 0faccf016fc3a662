package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/devlink-broker/devlink-go/pkg/adapter"
	"github.com/devlink-broker/devlink-go/pkg/log"
	"github.com/devlink-broker/devlink-go/pkg/netman"
	"github.com/devlink-broker/devlink-go/pkg/wire"
)

// Session is the dispatcher's view of a client connection. Implemented by
// *transport.Session; faked in tests.
type Session interface {
	SessionID() string
	Send(payload []byte) error
	QueueNotification(payload []byte)
}

// HandlerFunc serves one RPC method.
type HandlerFunc func(ctx context.Context, sess Session, params json.RawMessage) (any, error)

// Dispatcher routes inbound frames to registered handlers. Each request
// runs in its own goroutine so a slow device operation never stalls the
// session's read loop.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	logger   log.Logger
}

// NewDispatcher creates an empty dispatcher. logger may be nil.
func NewDispatcher(logger log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
}

// Register installs a handler for a method name.
func (d *Dispatcher) Register(method string, handler HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[method] = handler
}

// Methods returns the registered method names, sorted.
func (d *Dispatcher) Methods() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for m := range d.handlers {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Dispatch handles one inbound frame. Protocol errors are answered and
// never fatal to the session; a request with no id gets no reply.
func (d *Dispatcher) Dispatch(ctx context.Context, sess Session, data []byte) {
	req, err := wire.DecodeRequest(data)
	if err != nil {
		d.logWire(sess, log.DirectionIn, log.MessageTypeRequest, "", "", wire.CodeParseError, len(data))
		d.reply(sess, wire.NewErrorResponse(wire.NullID, wire.NewParseError(err.Error())), "", time.Time{})
		return
	}

	d.logWire(sess, log.DirectionIn, log.MessageTypeRequest, req.Method, string(req.ID), 0, len(data))

	if err := req.Validate(); err != nil {
		d.replyError(sess, req, wire.NewInvalidRequest(err.Error()))
		return
	}

	d.mu.RLock()
	handler, ok := d.handlers[req.Method]
	d.mu.RUnlock()
	if !ok {
		d.replyError(sess, req, wire.NewMethodNotFound(req.Method))
		return
	}

	go d.run(ctx, sess, req, handler)
}

// run executes one handler and sends the reply. A handler panic becomes an
// Internal Error; internals never reach the client from that path.
func (d *Dispatcher) run(ctx context.Context, sess Session, req *wire.Request, handler HandlerFunc) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			d.logPanic(sess, req.Method, r)
			d.replyError(sess, req, wire.NewInternalError("internal error"))
		}
	}()

	result, err := handler(ctx, sess, req.Params)
	if err != nil {
		d.replyError(sess, req, ToRPCError(err))
		return
	}
	if req.IsNotification() {
		return
	}
	d.reply(sess, wire.NewResponse(req.ID, result), req.Method, start)
}

func (d *Dispatcher) replyError(sess Session, req *wire.Request, rpcErr *wire.Error) {
	if req.IsNotification() {
		return
	}
	id := req.ID
	if len(id) == 0 {
		id = wire.NullID
	}
	d.reply(sess, wire.NewErrorResponse(id, rpcErr), req.Method, time.Time{})
}

func (d *Dispatcher) reply(sess Session, resp *wire.Response, method string, start time.Time) {
	payload, err := wire.EncodeResponse(resp)
	if err != nil {
		return
	}

	code := 0
	if resp.Error != nil {
		code = resp.Error.Code
	}
	d.logWireOut(sess, method, string(resp.ID), code, len(payload), start)

	_ = sess.Send(payload)
}

// ToRPCError maps component errors onto the RPC error space. Known device
// and state errors are client-correctable and map to Invalid params; the
// rest surface as Internal error with the component's message.
func ToRPCError(err error) *wire.Error {
	var rpcErr *wire.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	switch {
	case errors.Is(err, adapter.ErrUnknownDevice),
		errors.Is(err, adapter.ErrDeviceNotOpen),
		errors.Is(err, adapter.ErrDeviceGone),
		errors.Is(err, adapter.ErrAlreadyOpen),
		errors.Is(err, netman.ErrNotConnected),
		errors.Is(err, netman.ErrAlreadyConnected):
		return wire.NewInvalidParams(err.Error())
	case errors.Is(err, adapter.ErrUnsupportedOnPlatform):
		return wire.NewInternalError(err.Error())
	default:
		return wire.NewInternalError(err.Error())
	}
}

func (d *Dispatcher) logWire(sess Session, dir log.Direction, msgType log.MessageType, method, requestID string, errorCode, size int) {
	ev := log.Event{
		Timestamp: time.Now(),
		SessionID: sess.SessionID(),
		Direction: dir,
		Layer:     log.LayerWire,
		Category:  log.CategoryMessage,
		Message: &log.MessageEvent{
			Type:      msgType,
			Method:    method,
			RequestID: requestID,
			Size:      size,
		},
	}
	if errorCode != 0 {
		ev.Message.ErrorCode = &errorCode
	}
	d.logger.Log(ev)
}

func (d *Dispatcher) logWireOut(sess Session, method, requestID string, errorCode, size int, start time.Time) {
	ev := log.Event{
		Timestamp: time.Now(),
		SessionID: sess.SessionID(),
		Direction: log.DirectionOut,
		Layer:     log.LayerWire,
		Category:  log.CategoryMessage,
		Message: &log.MessageEvent{
			Type:      log.MessageTypeResponse,
			Method:    method,
			RequestID: requestID,
			Size:      size,
		},
	}
	if errorCode != 0 {
		ev.Message.ErrorCode = &errorCode
	}
	if !start.IsZero() {
		dur := time.Since(start)
		ev.Message.ProcessingTime = &dur
	}
	d.logger.Log(ev)
}

func (d *Dispatcher) logPanic(sess Session, method string, r any) {
	d.logger.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: sess.SessionID(),
		Direction: log.DirectionIn,
		Layer:     log.LayerService,
		Category:  log.CategoryError,
		Error: &log.ErrorEventData{
			Message: fmt.Sprintf("handler panic: %v", r),
			Context: method,
		},
	})
}
