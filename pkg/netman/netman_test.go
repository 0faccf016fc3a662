package netman

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devlink-broker/devlink-go/pkg/model"
	"github.com/devlink-broker/devlink-go/pkg/registry"
)

// eventSink collects published events.
type eventSink struct {
	mu     sync.Mutex
	events []model.Event
}

func (s *eventSink) publish(ev model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) types() []model.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.EventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

func (s *eventSink) countOf(t model.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

// pipeDialer hands out the client end of a net.Pipe per dialed address and
// runs a server function on the other end.
type pipeDialer struct {
	mu      sync.Mutex
	server  func(addr string, c net.Conn)
	dialed  []string
	failFor map[string]bool
}

func newPipeDialer(server func(addr string, c net.Conn)) *pipeDialer {
	if server == nil {
		server = func(_ string, c net.Conn) {
			// Default server: drain and discard.
			buf := make([]byte, 4096)
			for {
				if _, err := c.Read(buf); err != nil {
					return
				}
			}
		}
	}
	return &pipeDialer{server: server, failFor: make(map[string]bool)}
}

func (d *pipeDialer) dial(addr string, timeout time.Duration) (net.Conn, error) {
	d.mu.Lock()
	d.dialed = append(d.dialed, addr)
	fail := d.failFor[addr]
	d.mu.Unlock()

	if fail {
		return nil, errors.New("connection refused")
	}
	client, server := net.Pipe()
	go d.server(addr, server)
	return client, nil
}

func testManager(t *testing.T, d *pipeDialer) (*Manager, *registry.Registry, *eventSink) {
	t.Helper()
	sink := &eventSink{}
	reg := registry.New(sink.publish)
	m := New(reg, sink.publish, nil, 4, time.Second)
	m.quietPeriod = 50 * time.Millisecond
	m.dial = d.dial
	return m, reg, sink
}

func TestConnectRegistersDevice(t *testing.T) {
	m, reg, sink := testManager(t, newPipeDialer(nil))

	deviceID, err := m.Connect("192.168.1.50", 9100, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "net_192_168_1_50_9100", deviceID)
	assert.True(t, m.IsConnected(deviceID))

	d, ok := reg.Get(deviceID)
	require.True(t, ok)
	assert.Equal(t, model.StatusConnected, d.Status)
	assert.True(t, d.IsConnected)
	assert.Equal(t, "printer", d.Properties["inferred_kind"])
	assert.Equal(t, "socket", d.Properties["protocol"])

	assert.Contains(t, sink.types(), model.EventConnected)
}

func TestConnectTwiceFails(t *testing.T) {
	m, _, _ := testManager(t, newPipeDialer(nil))

	_, err := m.Connect("10.0.0.7", 9100, time.Second)
	require.NoError(t, err)

	_, err = m.Connect("10.0.0.7", 9100, time.Second)
	assert.ErrorIs(t, err, ErrAlreadyConnected)
	assert.Equal(t, 1, m.Count())
}

func TestConnectWhileDialInFlight(t *testing.T) {
	m, _, _ := testManager(t, newPipeDialer(nil))

	release := make(chan struct{})
	m.dial = func(addr string, timeout time.Duration) (net.Conn, error) {
		<-release
		client, server := net.Pipe()
		go func() {
			buf := make([]byte, 64)
			for {
				if _, err := server.Read(buf); err != nil {
					return
				}
			}
		}()
		return client, nil
	}

	first := make(chan error, 1)
	go func() {
		_, err := m.Connect("10.0.0.7", 9100, time.Second)
		first <- err
	}()

	// Wait for the first connect to park in the dial with its slot reserved.
	require.Eventually(t, func() bool { return m.Count() == 1 },
		time.Second, time.Millisecond)

	_, err := m.Connect("10.0.0.7", 9100, time.Second)
	assert.ErrorIs(t, err, ErrAlreadyConnected)

	close(release)
	require.NoError(t, <-first)
	assert.True(t, m.IsConnected("net_10_0_0_7_9100"))
}

func TestConnectCapEnforced(t *testing.T) {
	m, _, _ := testManager(t, newPipeDialer(nil))

	for i := 1; i <= 4; i++ {
		_, err := m.Connect("10.0.0.1", 9000+i, time.Second)
		require.NoError(t, err)
	}
	_, err := m.Connect("10.0.0.1", 9005, time.Second)
	assert.ErrorIs(t, err, ErrTooManyConnections)
}

func TestConnectFailureLeavesNoEntry(t *testing.T) {
	d := newPipeDialer(nil)
	d.failFor["10.0.0.9:9100"] = true
	m, _, sink := testManager(t, d)

	_, err := m.Connect("10.0.0.9", 9100, time.Second)
	require.Error(t, err)
	assert.Zero(t, m.Count())
	assert.Zero(t, sink.countOf(model.EventConnected))
}

func TestSendCountsBytes(t *testing.T) {
	m, _, _ := testManager(t, newPipeDialer(nil))
	deviceID, err := m.Connect("10.0.0.7", 9100, time.Second)
	require.NoError(t, err)

	n, err := m.Send(deviceID, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	status, err := m.Status(deviceID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), status["bytes_out"])
	assert.Equal(t, int64(0), status["bytes_in"])
}

func TestSendNotConnected(t *testing.T) {
	m, _, _ := testManager(t, newPipeDialer(nil))
	_, err := m.Send("net_10_0_0_7_9100", []byte("x"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSendFailureEmitsDisconnected(t *testing.T) {
	d := newPipeDialer(func(_ string, c net.Conn) {
		c.Close() // peer drops immediately
	})
	m, reg, sink := testManager(t, d)

	deviceID, err := m.Connect("10.0.0.7", 9100, time.Second)
	require.NoError(t, err)

	_, err = m.Send(deviceID, []byte("x"))
	require.Error(t, err)
	assert.False(t, m.IsConnected(deviceID))
	assert.Equal(t, 1, sink.countOf(model.EventDisconnected))

	// The record dies with the connection.
	_, ok := reg.Get(deviceID)
	assert.False(t, ok)
	types := sink.types()
	assert.Equal(t, model.EventRemoved, types[len(types)-1])
}

func TestSendAndReceiveStopsOnQuietLine(t *testing.T) {
	d := newPipeDialer(func(_ string, c net.Conn) {
		buf := make([]byte, 64)
		if _, err := c.Read(buf); err != nil {
			return
		}
		c.Write([]byte("STATUS "))
		c.Write([]byte("OK"))
		// Then silence; the quiet period should end the read.
	})
	m, _, _ := testManager(t, d)
	deviceID, err := m.Connect("10.0.0.7", 9100, time.Second)
	require.NoError(t, err)

	resp, err := m.SendAndReceive(deviceID, []byte("\x1b?S"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "STATUS OK", string(resp))

	status, err := m.Status(deviceID)
	require.NoError(t, err)
	assert.Equal(t, int64(9), status["bytes_in"])
}

func TestSendAndReceiveSilentDeviceReturnsEmpty(t *testing.T) {
	m, _, _ := testManager(t, newPipeDialer(nil))
	deviceID, err := m.Connect("10.0.0.7", 9100, time.Second)
	require.NoError(t, err)

	start := time.Now()
	resp, err := m.SendAndReceive(deviceID, []byte("x"), 100*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, resp)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.True(t, m.IsConnected(deviceID), "timeout must not kill the connection")
}

func TestDisconnectIdempotent(t *testing.T) {
	m, reg, sink := testManager(t, newPipeDialer(nil))
	deviceID, err := m.Connect("10.0.0.7", 9100, time.Second)
	require.NoError(t, err)

	assert.True(t, m.Disconnect(deviceID))
	assert.False(t, m.Disconnect(deviceID), "second disconnect applies nothing")
	assert.Equal(t, 1, sink.countOf(model.EventDisconnected))
	assert.Equal(t, 1, sink.countOf(model.EventRemoved))

	_, ok := reg.Get(deviceID)
	assert.False(t, ok, "disconnect drops the registry record")
	types := sink.types()
	assert.Equal(t, model.EventRemoved, types[len(types)-1], "removed is the final event")
}

func TestOneShotSendDoesNotRegister(t *testing.T) {
	received := make(chan []byte, 1)
	d := newPipeDialer(func(_ string, c net.Conn) {
		buf := make([]byte, 64)
		n, _ := c.Read(buf)
		received <- buf[:n]
		for {
			if _, err := c.Read(buf); err != nil {
				return
			}
		}
	})
	m, _, sink := testManager(t, d)

	n, err := m.OneShotSend("192.168.1.50", 9100, []byte("RAWJOB"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, []byte("RAWJOB"), <-received)

	assert.Zero(t, m.Count(), "one-shot sockets never enter the connection map")
	assert.Zero(t, sink.countOf(model.EventConnected))
}

func TestPing(t *testing.T) {
	d := newPipeDialer(nil)
	d.failFor["10.0.0.9:9100"] = true
	m, _, _ := testManager(t, d)

	up := m.Ping("10.0.0.7", 9100, time.Second)
	assert.True(t, up.OK)
	assert.True(t, up.IsOnline)

	down := m.Ping("10.0.0.9", 9100, time.Second)
	assert.False(t, down.OK)
	assert.False(t, down.IsOnline)
}

func TestCloseAllEmitsNoEvents(t *testing.T) {
	m, _, sink := testManager(t, newPipeDialer(nil))
	_, err := m.Connect("10.0.0.7", 9100, time.Second)
	require.NoError(t, err)
	_, err = m.Connect("10.0.0.8", 9100, time.Second)
	require.NoError(t, err)

	before := sink.countOf(model.EventDisconnected)
	m.CloseAll()
	assert.Zero(t, m.Count())
	assert.Equal(t, before, sink.countOf(model.EventDisconnected))
}

func TestScanFindsListeners(t *testing.T) {
	d := newPipeDialer(nil)
	d.failFor = nil // replaced below
	d.failFor = make(map[string]bool)
	// Everything fails except two endpoints.
	open := map[string]bool{"192.168.1.5:9100": true, "192.168.1.7:4370": true}
	base := d.dial
	dial := func(addr string, timeout time.Duration) (net.Conn, error) {
		if !open[addr] {
			return nil, errors.New("connection refused")
		}
		return base(addr, timeout)
	}

	m, _, _ := testManager(t, d)
	m.dial = dial

	hits, err := m.Scan(context.Background(), ScanOptions{
		Subnet:        "192.168.1.0/24",
		Ports:         []int{9100, 4370},
		Timeout:       50 * time.Millisecond,
		MaxConcurrent: 64,
	})
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, "192.168.1.5", hits[0].Host)
	assert.Equal(t, 9100, hits[0].Port)
	assert.Equal(t, model.KindPrinter, hits[0].Kind)
	assert.Equal(t, "socket", hits[0].Protocol)

	assert.Equal(t, "192.168.1.7", hits[1].Host)
	assert.Equal(t, model.KindBiometric, hits[1].Kind)

	dev := hits[0].Device()
	assert.Equal(t, "net_192_168_1_5_9100", dev.ID)
	assert.Equal(t, model.KindNetwork, dev.Kind)
}

func TestScanStopsOnCancel(t *testing.T) {
	d := newPipeDialer(nil)
	m, _, _ := testManager(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	hits, err := m.Scan(ctx, ScanOptions{
		Subnet:  "192.168.1.0/24",
		Ports:   []int{9100, 4370},
		Timeout: 50 * time.Millisecond,
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, hits)

	d.mu.Lock()
	dialed := len(d.dialed)
	d.mu.Unlock()
	assert.Zero(t, dialed, "a cancelled scan probes nothing")
}

func TestSubnetBase(t *testing.T) {
	cases := map[string]string{
		"192.168.1.0/24": "192.168.1",
		"192.168.1.0":    "192.168.1",
		"10.1.2":         "10.1.2",
	}
	for in, want := range cases {
		got, err := subnetBase(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := subnetBase("not-a-subnet")
	assert.Error(t, err)
	_, err = subnetBase("300.1.2.0")
	assert.Error(t, err)
}

func TestInferService(t *testing.T) {
	kind, proto := InferService(631)
	assert.Equal(t, model.KindPrinter, kind)
	assert.Equal(t, "ipp", proto)

	kind, proto = InferService(8080)
	assert.Equal(t, model.KindNetwork, kind)
	assert.Equal(t, "tcp", proto)
}
