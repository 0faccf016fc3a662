// Package netman owns every TCP socket the broker holds toward hardware:
// long-lived device connections, one-shot print sockets, pings, and the
// on-demand subnet scan.
//
// A device is owned by at most one live connection. All connection state
// lives in one mutex-guarded map; socket I/O itself runs outside the lock.
package netman

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/devlink-broker/devlink-go/pkg/log"
	"github.com/devlink-broker/devlink-go/pkg/model"
	"github.com/devlink-broker/devlink-go/pkg/registry"
)

// Manager errors.
var (
	// ErrAlreadyConnected is returned when a live connection to the device
	// already exists.
	ErrAlreadyConnected = errors.New("device already connected")

	// ErrNotConnected is returned by operations that need a live connection.
	ErrNotConnected = errors.New("device not connected")

	// ErrTooManyConnections is returned when the connection cap is reached.
	ErrTooManyConnections = errors.New("connection limit reached")
)

// Defaults for timing knobs not set by the caller.
const (
	// DefaultQuietPeriod ends a send_and_receive read once at least one
	// chunk arrived and the line went silent for this long.
	DefaultQuietPeriod = 500 * time.Millisecond

	// oneShotLinger gives a device time to drain a transient print socket
	// before it is torn down.
	oneShotLinger = 200 * time.Millisecond
)

// Conn is one live TCP connection to a device.
type Conn struct {
	DeviceID    string
	Host        string
	Port        int
	ConnectedAt time.Time

	sock net.Conn

	mu       sync.Mutex
	bytesIn  int64
	bytesOut int64
	dead     bool
}

// Alive reports whether the socket is still usable.
func (c *Conn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.dead
}

// Counters returns the bytes received and sent on this connection.
func (c *Conn) Counters() (in, out int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytesIn, c.bytesOut
}

// Info returns a snapshot of the connection for status responses.
func (c *Conn) Info() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]any{
		"device_id":    c.DeviceID,
		"host":         c.Host,
		"port":         c.Port,
		"connected_at": c.ConnectedAt,
		"bytes_in":     c.bytesIn,
		"bytes_out":    c.bytesOut,
		"alive":        !c.dead,
	}
}

// Manager holds all device-facing TCP connections.
type Manager struct {
	registry *registry.Registry
	publish  func(model.Event)
	logger   log.Logger

	maxConns       int
	defaultTimeout time.Duration
	quietPeriod    time.Duration

	// dial is swappable in tests.
	dial func(addr string, timeout time.Duration) (net.Conn, error)

	mu    sync.Mutex
	conns map[string]*Conn
}

// New creates a connection manager. publish may be nil to disable events;
// logger may be nil to disable tracing.
func New(reg *registry.Registry, publish func(model.Event), logger log.Logger, maxConns int, defaultTimeout time.Duration) *Manager {
	if publish == nil {
		publish = func(model.Event) {}
	}
	if logger == nil {
		logger = log.NoopLogger{}
	}
	if maxConns <= 0 {
		maxConns = 16
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Second
	}
	return &Manager{
		registry:       reg,
		publish:        publish,
		logger:         logger,
		maxConns:       maxConns,
		defaultTimeout: defaultTimeout,
		quietPeriod:    DefaultQuietPeriod,
		dial: func(addr string, timeout time.Duration) (net.Conn, error) {
			return net.DialTimeout("tcp", addr, timeout)
		},
		conns: make(map[string]*Conn),
	}
}

// Connect opens a TCP connection to host:port and registers the device.
// An existing live connection fails the call; a dead leftover entry is
// replaced. Returns the canonical device id.
func (m *Manager) Connect(host string, port int, timeout time.Duration) (string, error) {
	if host == "" || port <= 0 || port > 65535 {
		return "", fmt.Errorf("invalid endpoint %s:%d", host, port)
	}
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	deviceID := model.NetworkDeviceID(host, port)

	m.mu.Lock()
	if existing, ok := m.conns[deviceID]; ok {
		// A nil entry is a connect still in flight; the loser fails the
		// same way as against an established connection.
		if existing == nil || existing.Alive() {
			m.mu.Unlock()
			return deviceID, ErrAlreadyConnected
		}
	}
	if len(m.conns) >= m.maxConns {
		m.mu.Unlock()
		return deviceID, ErrTooManyConnections
	}
	// Reserve the slot so concurrent connects to the same device race here,
	// not on the socket.
	m.conns[deviceID] = nil
	m.mu.Unlock()

	sock, err := m.dial(net.JoinHostPort(host, strconv.Itoa(port)), timeout)
	if err != nil {
		m.mu.Lock()
		delete(m.conns, deviceID)
		m.mu.Unlock()
		return deviceID, fmt.Errorf("connect %s:%d: %w", host, port, err)
	}

	kind, protocol := InferService(port)
	conn := &Conn{
		DeviceID:    deviceID,
		Host:        host,
		Port:        port,
		ConnectedAt: time.Now(),
		sock:        sock,
	}

	m.mu.Lock()
	m.conns[deviceID] = conn
	m.mu.Unlock()

	m.registry.Upsert(&model.Device{
		ID:     deviceID,
		Kind:   model.KindNetwork,
		Name:   fmt.Sprintf("%s:%d", host, port),
		Status: model.StatusConnected,
		Properties: model.Properties{
			"host":          host,
			"port":          port,
			"inferred_kind": string(kind),
			"protocol":      protocol,
		},
	})
	m.registry.SetConnected(deviceID, true)
	m.publish(model.Event{
		Type:       model.EventConnected,
		DeviceID:   deviceID,
		DeviceKind: model.KindNetwork,
		Data:       map[string]any{"host": host, "port": port},
	})
	m.logger.Log(log.Event{
		Timestamp:  time.Now(),
		Direction:  log.DirectionOut,
		Layer:      log.LayerService,
		Category:   log.CategoryState,
		RemoteAddr: sock.RemoteAddr().String(),
		DeviceID:   deviceID,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			NewState: "connected",
		},
	})
	return deviceID, nil
}

// Disconnect tears down the connection to a device and drops its registry
// record. Disconnecting a device that is not connected is not an error;
// applied reports whether a connection was actually closed.
func (m *Manager) Disconnect(deviceID string) (applied bool) {
	m.mu.Lock()
	conn, ok := m.conns[deviceID]
	delete(m.conns, deviceID)
	m.mu.Unlock()

	if !ok || conn == nil {
		return false
	}
	conn.sock.Close()

	m.publish(model.Event{
		Type:       model.EventDisconnected,
		DeviceID:   deviceID,
		DeviceKind: model.KindNetwork,
	})
	// The registry record exists only for the connection; removed is the
	// final event for this device id.
	m.registry.Remove(deviceID)
	m.logger.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionOut,
		Layer:     log.LayerService,
		Category:  log.CategoryState,
		DeviceID:  deviceID,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: "connected",
			NewState: "disconnected",
		},
	})
	return true
}

// markDead tears down a connection after an I/O failure, emits the
// disconnected event and drops the registry record.
func (m *Manager) markDead(conn *Conn, cause error) {
	conn.mu.Lock()
	alreadyDead := conn.dead
	conn.dead = true
	conn.mu.Unlock()
	if alreadyDead {
		return
	}

	conn.sock.Close()
	m.mu.Lock()
	if m.conns[conn.DeviceID] == conn {
		delete(m.conns, conn.DeviceID)
	}
	m.mu.Unlock()

	m.publish(model.Event{
		Type:       model.EventDisconnected,
		DeviceID:   conn.DeviceID,
		DeviceKind: model.KindNetwork,
		Data:       map[string]any{"reason": cause.Error()},
	})
	m.registry.Remove(conn.DeviceID)
	m.logger.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionIn,
		Layer:     log.LayerService,
		Category:  log.CategoryError,
		DeviceID:  conn.DeviceID,
		Error: &log.ErrorEventData{
			Message: cause.Error(),
			Context: "device connection lost",
		},
	})
}

// Send writes bytes to a connected device. A write failure kills the
// connection and propagates a disconnected event.
func (m *Manager) Send(deviceID string, data []byte) (int, error) {
	conn, err := m.get(deviceID)
	if err != nil {
		return 0, err
	}

	n, err := conn.sock.Write(data)
	conn.mu.Lock()
	conn.bytesOut += int64(n)
	conn.mu.Unlock()
	if err != nil {
		m.markDead(conn, err)
		return n, fmt.Errorf("send to %s: %w", deviceID, err)
	}
	return n, nil
}

// SendAndReceive writes bytes and accumulates the response until the line
// goes quiet after at least one chunk, or the overall timeout fires.
// Whatever arrived by then is returned; an empty response is not an error.
func (m *Manager) SendAndReceive(deviceID string, data []byte, timeout time.Duration) ([]byte, error) {
	conn, err := m.get(deviceID)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}

	if _, err := m.Send(deviceID, data); err != nil {
		return nil, err
	}

	overall := time.Now().Add(timeout)
	var response []byte
	chunk := make([]byte, 4096)

	for {
		deadline := overall
		if len(response) > 0 {
			// At least one chunk received: only wait out the quiet period.
			if quiet := time.Now().Add(m.quietPeriod); quiet.Before(deadline) {
				deadline = quiet
			}
		}
		if !time.Now().Before(deadline) {
			break
		}

		conn.sock.SetReadDeadline(deadline)
		n, err := conn.sock.Read(chunk)
		if n > 0 {
			response = append(response, chunk[:n]...)
			conn.mu.Lock()
			conn.bytesIn += int64(n)
			conn.mu.Unlock()
		}
		if err != nil {
			if isTimeout(err) {
				break
			}
			m.markDead(conn, err)
			if len(response) > 0 {
				return response, nil
			}
			return nil, fmt.Errorf("receive from %s: %w", deviceID, err)
		}
	}
	conn.sock.SetReadDeadline(time.Time{})
	return response, nil
}

// OneShotSend opens a transient socket, writes the payload, lingers briefly
// so the device can drain it, and closes. The device is not registered in
// the connection map.
func (m *Manager) OneShotSend(host string, port int, data []byte, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}

	sock, err := m.dial(net.JoinHostPort(host, strconv.Itoa(port)), timeout)
	if err != nil {
		return 0, fmt.Errorf("connect %s:%d: %w", host, port, err)
	}
	defer sock.Close()

	sock.SetWriteDeadline(time.Now().Add(timeout))
	n, err := sock.Write(data)
	if err != nil {
		return n, fmt.Errorf("send to %s:%d: %w", host, port, err)
	}

	time.Sleep(oneShotLinger)
	return n, nil
}

// PingResult is the outcome of a reachability probe.
type PingResult struct {
	OK             bool    `json:"ok"`
	IsOnline       bool    `json:"is_online"`
	ResponseTimeMs float64 `json:"response_time_ms"`
}

// Ping probes reachability with a connect-and-close.
func (m *Manager) Ping(host string, port int, timeout time.Duration) PingResult {
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}

	start := time.Now()
	sock, err := m.dial(net.JoinHostPort(host, strconv.Itoa(port)), timeout)
	elapsed := time.Since(start)
	if err != nil {
		return PingResult{ResponseTimeMs: float64(elapsed.Microseconds()) / 1000}
	}
	sock.Close()
	return PingResult{
		OK:             true,
		IsOnline:       true,
		ResponseTimeMs: float64(elapsed.Microseconds()) / 1000,
	}
}

// IsConnected reports whether a live connection to the device exists.
func (m *Manager) IsConnected(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[deviceID]
	return ok && conn != nil && conn.Alive()
}

// Status returns the connection snapshot for one device.
func (m *Manager) Status(deviceID string) (map[string]any, error) {
	conn, err := m.get(deviceID)
	if err != nil {
		return nil, err
	}
	return conn.Info(), nil
}

// List returns snapshots of all live connections.
func (m *Manager) List() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]map[string]any, 0, len(m.conns))
	for _, conn := range m.conns {
		if conn != nil {
			out = append(out, conn.Info())
		}
	}
	return out
}

// Count returns the number of live connections.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// CloseAll destroys every socket and clears the map. Mass shutdown emits
// no per-device events.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*Conn)
	m.mu.Unlock()

	for _, conn := range conns {
		if conn != nil {
			conn.sock.Close()
		}
	}
}

func (m *Manager) get(deviceID string) (*Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[deviceID]
	if !ok || conn == nil || !conn.Alive() {
		return nil, ErrNotConnected
	}
	return conn, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
