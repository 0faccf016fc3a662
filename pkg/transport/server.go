// Package transport is the client-facing WebSocket layer: admission
// (capacity and origin checks), session lifecycle, per-session write
// ordering, and keepalive.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/devlink-broker/devlink-go/pkg/log"
)

// readLimit bounds one inbound frame.
const readLimit = 1 << 20

// Config configures the WebSocket server.
type Config struct {
	// Host and Port form the bind endpoint.
	Host string
	Port int

	// MaxSessions is the admission cap. The cap-exceeding session is
	// closed with CloseTryAgainLater (1013).
	MaxSessions int

	// AllowedOrigins is the origin allow-list. Entries may contain "*"
	// wildcards; an empty list or a "*" entry admits every origin.
	// Requests without an Origin header (non-browser clients) are always
	// admitted.
	AllowedOrigins []string

	// UseTLS enables TLS with the certificate at CertificatePath. A
	// missing certificate is generated self-signed on first start.
	UseTLS          bool
	CertificatePath string

	// KeepaliveInterval between pings. Zero means the default (30 s).
	KeepaliveInterval time.Duration

	// Logger for trace events (optional).
	Logger log.Logger

	// OnConnect is called after a session is admitted.
	OnConnect func(s *Session)

	// OnMessage is called per inbound text frame.
	OnMessage func(s *Session, data []byte)

	// OnDisconnect is called once when a session ends.
	OnDisconnect func(s *Session)
}

// Server accepts WebSocket sessions and hands inbound frames to the
// dispatcher callbacks.
type Server struct {
	config   Config
	logger   log.Logger
	upgrader websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener

	mu       sync.RWMutex
	sessions map[string]*Session

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewServer creates a WebSocket server from config.
func NewServer(config Config) *Server {
	if config.MaxSessions <= 0 {
		config.MaxSessions = 32
	}
	logger := config.Logger
	if logger == nil {
		logger = log.NoopLogger{}
	}

	s := &Server{
		config:   config,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return OriginAllowed(r.Header.Get("Origin"), config.AllowedOrigins)
		},
	}
	return s
}

// OriginAllowed checks an Origin header value against the allow-list.
func OriginAllowed(origin string, allowed []string) bool {
	if origin == "" || len(allowed) == 0 {
		return true
	}
	for _, pattern := range allowed {
		if pattern == "*" || wildcardMatch(pattern, origin) {
			return true
		}
	}
	return false
}

// wildcardMatch matches origin against a pattern where "*" spans any run
// of characters.
func wildcardMatch(pattern, s string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(s, part)
		if idx < 0 {
			return false
		}
		s = s[idx+len(part):]
	}
	return strings.HasSuffix(s, parts[len(parts)-1])
}

// Start binds the listener and begins serving. Non-blocking.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return errors.New("server already running")
	}

	addr := net.JoinHostPort(s.config.Host, fmt.Sprintf("%d", s.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if s.config.UseTLS {
		cert, err := LoadOrCreateCertificate(s.config.CertificatePath)
		if err != nil {
			listener.Close()
			return fmt.Errorf("failed to load certificate: %w", err)
		}
		listener = tls.NewListener(listener, &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		})
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	s.httpServer = &http.Server{Handler: mux}

	s.running.Store(true)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.httpServer.Serve(listener)
	}()
	return nil
}

// Stop closes the listener and every active session.
func (s *Server) Stop() {
	if !s.running.Load() {
		return
	}
	s.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.httpServer.Shutdown(ctx)

	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
	s.wg.Wait()
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// SessionCount returns the number of active sessions.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Session returns an active session by id.
func (s *Server) Session(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Sessions returns a snapshot of active sessions.
func (s *Server) Sessions() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// handleWS is the single HTTP endpoint. Origin rejection happens at
// upgrade time (403); capacity rejection happens after the upgrade with
// close code 1013 so the client sees a structured overload signal.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error (403 for bad origin).
		s.logError("", r.RemoteAddr, "websocket upgrade rejected", err)
		return
	}

	sess := newSession(conn, r.Header.Get("Origin"))

	s.mu.Lock()
	if len(s.sessions) >= s.config.MaxSessions {
		s.mu.Unlock()
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "session limit reached")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		s.logError(sess.ID, sess.RemoteAddr, "session rejected: capacity", errors.New("session limit reached"))
		return
	}
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.logState(sess, "", "connected")

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		sess.writePump(s.config.KeepaliveInterval)
	}()
	go func() {
		defer s.wg.Done()
		s.readLoop(sess)
	}()

	if s.config.OnConnect != nil {
		s.config.OnConnect(sess)
	}
}

// readLoop consumes inbound frames until the session dies.
func (s *Server) readLoop(sess *Session) {
	defer s.dropSession(sess)

	keepalive := s.config.KeepaliveInterval
	if keepalive <= 0 {
		keepalive = DefaultKeepaliveInterval
	}
	readDeadline := keepalive * 5 / 2

	sess.conn.SetReadLimit(readLimit)
	sess.conn.SetReadDeadline(time.Now().Add(readDeadline))
	sess.conn.SetPongHandler(func(string) error {
		sess.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		sess.conn.SetReadDeadline(time.Now().Add(readDeadline))
		if s.config.OnMessage != nil {
			s.config.OnMessage(sess, data)
		}
	}
}

// dropSession removes a dead session and fires the disconnect hook once.
func (s *Server) dropSession(sess *Session) {
	sess.Close()

	s.mu.Lock()
	_, present := s.sessions[sess.ID]
	delete(s.sessions, sess.ID)
	s.mu.Unlock()

	if !present {
		return
	}
	s.logState(sess, "connected", "disconnected")
	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(sess)
	}
}

func (s *Server) logState(sess *Session, oldState, newState string) {
	s.logger.Log(log.Event{
		Timestamp:  time.Now(),
		SessionID:  sess.ID,
		Direction:  log.DirectionIn,
		Layer:      log.LayerTransport,
		Category:   log.CategoryState,
		RemoteAddr: sess.RemoteAddr,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: oldState,
			NewState: newState,
		},
	})
}

func (s *Server) logError(sessionID, remoteAddr, context string, err error) {
	s.logger.Log(log.Event{
		Timestamp:  time.Now(),
		SessionID:  sessionID,
		Direction:  log.DirectionIn,
		Layer:      log.LayerTransport,
		Category:   log.CategoryError,
		RemoteAddr: remoteAddr,
		Error: &log.ErrorEventData{
			Message: err.Error(),
			Context: context,
		},
	})
}
