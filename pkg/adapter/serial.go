package adapter

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/devlink-broker/devlink-go/pkg/model"
)

// SerialConfig carries the line parameters for an open serial port.
// Zero values fall back to 9600 8N1 with no flow control.
type SerialConfig struct {
	BaudRate    int
	DataBits    int
	StopBits    int
	Parity      string // none, even, odd
	FlowControl string // none, hardware, software
}

// serialConfigFromMap reads the kind-specific open config.
func serialConfigFromMap(m map[string]any) (SerialConfig, error) {
	cfg := SerialConfig{
		BaudRate:    9600,
		DataBits:    8,
		StopBits:    1,
		Parity:      "none",
		FlowControl: "none",
	}
	if m == nil {
		return cfg, nil
	}
	if v, ok := m["baud_rate"]; ok {
		cfg.BaudRate = intFromAny(v, cfg.BaudRate)
	}
	if v, ok := m["data_bits"]; ok {
		cfg.DataBits = intFromAny(v, cfg.DataBits)
	}
	if v, ok := m["stop_bits"]; ok {
		cfg.StopBits = intFromAny(v, cfg.StopBits)
	}
	if v, ok := m["parity"].(string); ok && v != "" {
		cfg.Parity = v
	}
	if v, ok := m["flow_control"].(string); ok && v != "" {
		cfg.FlowControl = v
	}

	switch cfg.Parity {
	case "none", "even", "odd":
	default:
		return cfg, fmt.Errorf("invalid parity %q", cfg.Parity)
	}
	switch cfg.DataBits {
	case 5, 6, 7, 8:
	default:
		return cfg, fmt.Errorf("invalid data_bits %d", cfg.DataBits)
	}
	switch cfg.StopBits {
	case 1, 2:
	default:
		return cfg, fmt.Errorf("invalid stop_bits %d", cfg.StopBits)
	}
	if cfg.BaudRate <= 0 {
		return cfg, fmt.Errorf("invalid baud_rate %d", cfg.BaudRate)
	}
	return cfg, nil
}

// intFromAny copes with JSON numbers arriving as float64.
func intFromAny(v any, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return def
}

// sttyArgs translates a SerialConfig into stty arguments. BSD stty selects
// the device with -f, GNU stty with -F.
func sttyArgs(goos, device string, cfg SerialConfig) []string {
	deviceFlag := "-F"
	if goos == "darwin" {
		deviceFlag = "-f"
	}
	args := []string{deviceFlag, device, strconv.Itoa(cfg.BaudRate),
		"cs" + strconv.Itoa(cfg.DataBits), "raw", "-echo"}

	switch cfg.Parity {
	case "even":
		args = append(args, "parenb", "-parodd")
	case "odd":
		args = append(args, "parenb", "parodd")
	default:
		args = append(args, "-parenb")
	}
	if cfg.StopBits == 2 {
		args = append(args, "cstopb")
	} else {
		args = append(args, "-cstopb")
	}
	switch cfg.FlowControl {
	case "hardware":
		args = append(args, "crtscts")
	case "software":
		args = append(args, "ixon", "ixoff")
	default:
		args = append(args, "-crtscts", "-ixon", "-ixoff")
	}
	return args
}

// serialReadBufferCap bounds the per-handle receive buffer. Oldest bytes
// are dropped when a client falls behind.
const serialReadBufferCap = 1 << 20

// serialHandle is one open port. The reader goroutine owns the file read
// side and appends into buf; Read drains buf.
type serialHandle struct {
	port *os.File
	cfg  SerialConfig
	path string

	mu     sync.Mutex
	buf    []byte
	notify chan struct{} // cap 1, signalled on new data
	gone   bool          // reader saw a fatal error
	closed chan struct{}

	bytesIn  int
	bytesOut int
}

// signalData wakes one pending Read without blocking.
func (h *serialHandle) signalData() {
	select {
	case h.notify <- struct{}{}:
	default:
	}
}

// SerialAdapter opens POSIX tty device files directly and configures them
// with stty. Ports are enumerated from the /dev namespace.
type SerialAdapter struct {
	run  commandRunner
	goos string
	// glob lists candidate device paths, injected in tests.
	glob func(pattern string) ([]string, error)

	mu      sync.Mutex
	handles map[string]*serialHandle
}

// NewSerialAdapter creates the serial adapter for the current platform.
func NewSerialAdapter() *SerialAdapter {
	return &SerialAdapter{
		run:     execRunner,
		goos:    runtime.GOOS,
		glob:    filepath.Glob,
		handles: make(map[string]*serialHandle),
	}
}

// Kind returns model.KindSerial.
func (s *SerialAdapter) Kind() model.DeviceKind { return model.KindSerial }

func (s *SerialAdapter) supported() bool { return s.goos != "windows" }

// portPatterns returns the /dev globs for the platform.
func (s *SerialAdapter) portPatterns() []string {
	if s.goos == "darwin" {
		return []string{"/dev/cu.*"}
	}
	return []string{"/dev/ttyS*", "/dev/ttyUSB*", "/dev/ttyACM*", "/dev/ttyAMA*"}
}

// Discover lists serial ports from the device filesystem.
func (s *SerialAdapter) Discover(ctx context.Context) ([]*model.Device, error) {
	if !s.supported() {
		return nil, nil
	}

	var devices []*model.Device
	for _, pattern := range s.portPatterns() {
		paths, err := s.glob(pattern)
		if err != nil {
			continue
		}
		for _, path := range paths {
			name := filepath.Base(path)
			devices = append(devices, &model.Device{
				ID:     model.SerialDeviceID(name),
				Kind:   model.KindSerial,
				Name:   name,
				Status: model.StatusAvailable,
				Properties: model.Properties{
					"port_name": name,
					"path":      path,
				},
			})
		}
	}
	return devices, nil
}

// pathForID resolves a serial device id back to a /dev path by scanning the
// same globs discovery uses.
func (s *SerialAdapter) pathForID(deviceID string) (string, error) {
	for _, pattern := range s.portPatterns() {
		paths, err := s.glob(pattern)
		if err != nil {
			continue
		}
		for _, path := range paths {
			if model.SerialDeviceID(filepath.Base(path)) == deviceID {
				return path, nil
			}
		}
	}
	return "", ErrUnknownDevice
}

// Open acquires the port, applies the line configuration and starts the
// background reader that feeds the receive buffer.
func (s *SerialAdapter) Open(deviceID string, config map[string]any) error {
	if !s.supported() {
		return ErrUnsupportedOnPlatform
	}

	cfg, err := serialConfigFromMap(config)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.handles[deviceID]; ok {
		return ErrAlreadyOpen
	}

	path, err := s.pathForID(deviceID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.run(ctx, nil, "stty", sttyArgs(s.goos, path, cfg)...); err != nil {
		return fmt.Errorf("serial port configuration failed: %w", err)
	}

	port, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open serial port: %w", err)
	}

	h := &serialHandle{
		port:   port,
		cfg:    cfg,
		path:   path,
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	s.handles[deviceID] = h
	go s.readLoop(h)
	return nil
}

// readLoop continuously drains the port into the handle buffer so incoming
// data is never lost between client reads.
func (s *SerialAdapter) readLoop(h *serialHandle) {
	chunk := make([]byte, 4096)
	for {
		n, err := h.port.Read(chunk)
		if n > 0 {
			h.mu.Lock()
			h.buf = append(h.buf, chunk[:n]...)
			if len(h.buf) > serialReadBufferCap {
				h.buf = h.buf[len(h.buf)-serialReadBufferCap:]
			}
			h.bytesIn += n
			h.mu.Unlock()
			h.signalData()
		}
		if err != nil {
			h.mu.Lock()
			if err != io.EOF {
				h.gone = true
			}
			h.mu.Unlock()
			h.signalData()
			return
		}
	}
}

// Close releases the port. Closing a port that is not open succeeds.
func (s *SerialAdapter) Close(deviceID string) error {
	s.mu.Lock()
	h, ok := s.handles[deviceID]
	delete(s.handles, deviceID)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	close(h.closed)
	return h.port.Close()
}

// Write sends bytes over the open port.
func (s *SerialAdapter) Write(deviceID string, data []byte) (int, error) {
	h, err := s.handle(deviceID)
	if err != nil {
		return 0, err
	}

	n, err := h.port.Write(data)
	if err != nil {
		return n, fmt.Errorf("serial write: %w", err)
	}
	h.mu.Lock()
	h.bytesOut += n
	h.mu.Unlock()
	return n, nil
}

// Read drains up to maxBytes from the receive buffer, blocking until at
// least one byte is available or the timeout elapses. An expired timeout on
// an empty buffer returns an empty slice, not an error.
func (s *SerialAdapter) Read(deviceID string, maxBytes int, timeout time.Duration) ([]byte, error) {
	h, err := s.handle(deviceID)
	if err != nil {
		return nil, err
	}
	if maxBytes <= 0 {
		maxBytes = 4096
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		h.mu.Lock()
		if len(h.buf) > 0 {
			n := min(maxBytes, len(h.buf))
			out := make([]byte, n)
			copy(out, h.buf)
			h.buf = h.buf[n:]
			h.mu.Unlock()
			return out, nil
		}
		gone := h.gone
		h.mu.Unlock()

		if gone {
			return nil, ErrDeviceGone
		}

		select {
		case <-h.notify:
		case <-h.closed:
			return nil, ErrDeviceNotOpen
		case <-deadline.C:
			return []byte{}, nil
		}
	}
}

// Status reports the open state and transfer counters of the port.
func (s *SerialAdapter) Status(deviceID string) (map[string]any, error) {
	s.mu.Lock()
	h, ok := s.handles[deviceID]
	s.mu.Unlock()

	if !ok {
		return map[string]any{"is_open": false}, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return map[string]any{
		"is_open":      true,
		"path":         h.path,
		"baud_rate":    h.cfg.BaudRate,
		"data_bits":    h.cfg.DataBits,
		"stop_bits":    h.cfg.StopBits,
		"parity":       h.cfg.Parity,
		"flow_control": h.cfg.FlowControl,
		"bytes_in":     h.bytesIn,
		"bytes_out":    h.bytesOut,
		"buffered":     len(h.buf),
	}, nil
}

// IsOpen reports whether the port is held open.
func (s *SerialAdapter) IsOpen(deviceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[deviceID]
	return ok
}

func (s *SerialAdapter) handle(deviceID string) (*serialHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[deviceID]
	if !ok {
		return nil, ErrDeviceNotOpen
	}
	return h, nil
}

var _ Adapter = (*SerialAdapter)(nil)
