package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tlsInsecureConfig skips verification of the self-signed test cert.
var tlsInsecureConfig = tls.Config{InsecureSkipVerify: true}

func startServer(t *testing.T, config Config) *Server {
	t.Helper()
	config.Host = "127.0.0.1"
	config.Port = 0
	s := NewServer(config)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)
	return s
}

func dialServer(t *testing.T, s *Server, header http.Header) (*websocket.Conn, error) {
	t.Helper()
	url := fmt.Sprintf("ws://%s/", s.Addr().String())
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

func waitCond(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestSessionLifecycleCallbacks(t *testing.T) {
	var mu sync.Mutex
	var connects, disconnects int

	s := startServer(t, Config{
		MaxSessions: 4,
		OnConnect: func(sess *Session) {
			mu.Lock()
			connects++
			mu.Unlock()
		},
		OnDisconnect: func(sess *Session) {
			mu.Lock()
			disconnects++
			mu.Unlock()
		},
	})

	conn, err := dialServer(t, s, nil)
	require.NoError(t, err)

	waitCond(t, func() bool { return s.SessionCount() == 1 })
	mu.Lock()
	assert.Equal(t, 1, connects)
	mu.Unlock()

	conn.Close()
	waitCond(t, func() bool { return s.SessionCount() == 0 })
	waitCond(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return disconnects == 1
	})
}

func TestEchoPreservesOrder(t *testing.T) {
	s := startServer(t, Config{
		MaxSessions: 4,
		OnMessage: func(sess *Session, data []byte) {
			sess.Send(data)
		},
	})

	conn, err := dialServer(t, s, nil)
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 20; i++ {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf("msg-%d", i))))
	}
	for i := 0; i < 20; i++ {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("msg-%d", i), string(data))
	}
}

func TestAdmissionCapRejectsWith1013(t *testing.T) {
	s := startServer(t, Config{MaxSessions: 2})

	first, err := dialServer(t, s, nil)
	require.NoError(t, err)
	defer first.Close()
	second, err := dialServer(t, s, nil)
	require.NoError(t, err)
	defer second.Close()

	waitCond(t, func() bool { return s.SessionCount() == 2 })

	third, err := dialServer(t, s, nil)
	require.NoError(t, err, "upgrade succeeds; rejection is a close frame")
	defer third.Close()

	third.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = third.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected close error, got %v", err)
	assert.Equal(t, websocket.CloseTryAgainLater, closeErr.Code)

	assert.Equal(t, 2, s.SessionCount(), "rejected session never counts")
}

func TestOriginRejectedAtUpgrade(t *testing.T) {
	s := startServer(t, Config{
		MaxSessions:    4,
		AllowedOrigins: []string{"https://app.example.com"},
	})

	header := http.Header{"Origin": []string{"https://evil.example.net"}}
	_, err := dialServer(t, s, header)
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Zero(t, s.SessionCount())

	header = http.Header{"Origin": []string{"https://app.example.com"}}
	conn, err := dialServer(t, s, header)
	require.NoError(t, err)
	conn.Close()
}

func TestNotificationDelivery(t *testing.T) {
	var mu sync.Mutex
	var admitted *Session

	s := startServer(t, Config{
		MaxSessions: 4,
		OnConnect: func(sess *Session) {
			mu.Lock()
			admitted = sess
			mu.Unlock()
		},
	})

	conn, err := dialServer(t, s, nil)
	require.NoError(t, err)
	defer conn.Close()

	waitCond(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return admitted != nil
	})

	mu.Lock()
	admitted.QueueNotification([]byte(`{"method":"device.event"}`))
	mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"device.event"}`, string(data))
}

func TestNotificationOverflowDropsOldest(t *testing.T) {
	sess := &Session{notifyWake: make(chan struct{}, 1), closed: make(chan struct{})}

	for i := 0; i < NotificationQueueCap+5; i++ {
		sess.QueueNotification([]byte(fmt.Sprintf("n-%d", i)))
	}

	assert.Equal(t, uint64(5), sess.DroppedNotifications())
	backlog := sess.pending()
	require.Len(t, backlog, NotificationQueueCap)
	assert.Equal(t, "n-5", string(backlog[0]), "oldest entries are dropped first")
	assert.Equal(t, fmt.Sprintf("n-%d", NotificationQueueCap+4), string(backlog[len(backlog)-1]))
}

func TestOriginAllowed(t *testing.T) {
	assert.True(t, OriginAllowed("", []string{"https://a.example"}), "non-browser clients pass")
	assert.True(t, OriginAllowed("https://x.example", nil), "empty list admits all")
	assert.True(t, OriginAllowed("https://x.example", []string{"*"}))
	assert.True(t, OriginAllowed("https://x.example", []string{"https://x.example"}))
	assert.True(t, OriginAllowed("http://localhost:3000", []string{"http://localhost:*"}))
	assert.True(t, OriginAllowed("https://app.example.com", []string{"https://*.example.com"}))
	assert.False(t, OriginAllowed("https://evil.net", []string{"https://x.example", "https://y.example"}))
	assert.False(t, OriginAllowed("https://example.com.evil.net", []string{"https://example.com"}))
}

func TestLoadOrCreateCertificatePersists(t *testing.T) {
	certPath := filepath.Join(t.TempDir(), "broker.crt")

	first, err := LoadOrCreateCertificate(certPath)
	require.NoError(t, err)
	require.NotEmpty(t, first.Certificate)

	// Second load reuses the persisted pair.
	second, err := LoadOrCreateCertificate(certPath)
	require.NoError(t, err)
	assert.Equal(t, first.Certificate[0], second.Certificate[0])
}

func TestLoadOrCreateCertificateInMemory(t *testing.T) {
	cert, err := LoadOrCreateCertificate("")
	require.NoError(t, err)
	assert.NotEmpty(t, cert.Certificate)
}

func TestTLSServerAcceptsConnections(t *testing.T) {
	s := startServer(t, Config{
		MaxSessions:     2,
		UseTLS:          true,
		CertificatePath: filepath.Join(t.TempDir(), "broker.crt"),
	})

	dialer := websocket.Dialer{
		TLSClientConfig:  &tlsInsecureConfig,
		HandshakeTimeout: 2 * time.Second,
	}
	url := fmt.Sprintf("wss://%s/", s.Addr().String())
	conn, resp, err := dialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err)
	conn.Close()
}
