package transport

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Per-session limits and timing.
const (
	// NotificationQueueCap bounds the outbound notification backlog per
	// session. Oldest entries are dropped on overflow; the session stays
	// connected.
	NotificationQueueCap = 1024

	// DefaultKeepaliveInterval between pings.
	DefaultKeepaliveInterval = 30 * time.Second

	// writeTimeout for a single frame.
	writeTimeout = 10 * time.Second
)

// Session is one accepted client connection. Direct responses and queued
// notifications share a single write guard, so a session's outbound frames
// hit the wire in submission order.
type Session struct {
	ID          string
	RemoteAddr  string
	Origin      string
	ConnectedAt time.Time

	conn *websocket.Conn

	sendMu sync.Mutex // serializes all writes to conn

	notifyMu    sync.Mutex
	notifyQueue [][]byte
	notifyWake  chan struct{}
	dropped     atomic.Uint64

	closed    chan struct{}
	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, origin string) *Session {
	return &Session{
		ID:          uuid.New().String(),
		RemoteAddr:  conn.RemoteAddr().String(),
		Origin:      origin,
		ConnectedAt: time.Now(),
		conn:        conn,
		notifyWake:  make(chan struct{}, 1),
		closed:      make(chan struct{}),
	}
}

// SessionID returns the session's unique identifier.
func (s *Session) SessionID() string { return s.ID }

// Send writes one text frame directly. Used for RPC responses.
func (s *Session) Send(payload []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// QueueNotification enqueues an outbound notification frame. On overflow
// the oldest entry is dropped and the dropped counter incremented; a slow
// client loses notifications, never its session.
func (s *Session) QueueNotification(payload []byte) {
	s.notifyMu.Lock()
	if len(s.notifyQueue) >= NotificationQueueCap {
		s.notifyQueue = s.notifyQueue[1:]
		s.dropped.Add(1)
	}
	s.notifyQueue = append(s.notifyQueue, payload)
	s.notifyMu.Unlock()

	select {
	case s.notifyWake <- struct{}{}:
	default:
	}
}

// DroppedNotifications returns how many notifications overflow has cost
// this session.
func (s *Session) DroppedNotifications() uint64 {
	return s.dropped.Load()
}

// pending swaps out the queued notification backlog.
func (s *Session) pending() [][]byte {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	out := s.notifyQueue
	s.notifyQueue = nil
	return out
}

// writePump flushes queued notifications and emits keepalive pings until
// the session closes. Runs in its own goroutine per session.
func (s *Session) writePump(keepalive time.Duration) {
	if keepalive <= 0 {
		keepalive = DefaultKeepaliveInterval
	}
	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-s.notifyWake:
			for _, payload := range s.pending() {
				if err := s.Send(payload); err != nil {
					s.close()
					return
				}
			}
		case <-ticker.C:
			s.sendMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.sendMu.Unlock()
			if err != nil {
				s.close()
				return
			}
		}
	}
}

// close tears the session down once.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.Close()
	})
}

// Close closes the underlying connection.
func (s *Session) Close() {
	s.close()
}
