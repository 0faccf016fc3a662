package adapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/devlink-broker/devlink-go/pkg/model"
)

// USBHIDAdapter enumerates HID-class USB devices from sysfs and exchanges
// reports through the hidraw device nodes. Enumeration works on Linux only;
// other platforms see an empty device list and ErrUnsupportedOnPlatform on
// open.
type USBHIDAdapter struct {
	goos string
	// sysfsRoot and devRoot are overridable for tests.
	sysfsRoot string
	devRoot   string

	mu      sync.Mutex
	handles map[string]*hidHandle
}

type hidHandle struct {
	node *os.File
	path string

	mu       sync.Mutex
	bytesIn  int
	bytesOut int
}

// NewUSBHIDAdapter creates the USB HID adapter for the current platform.
func NewUSBHIDAdapter() *USBHIDAdapter {
	return &USBHIDAdapter{
		goos:      runtime.GOOS,
		sysfsRoot: "/sys/class/hidraw",
		devRoot:   "/dev",
		handles:   make(map[string]*hidHandle),
	}
}

// Kind returns model.KindUSBHID.
func (u *USBHIDAdapter) Kind() model.DeviceKind { return model.KindUSBHID }

func (u *USBHIDAdapter) supported() bool { return u.goos == "linux" }

// Discover walks /sys/class/hidraw and reads vendor/product IDs from the
// uevent of the owning HID device.
func (u *USBHIDAdapter) Discover(ctx context.Context) ([]*model.Device, error) {
	if !u.supported() {
		return nil, nil
	}

	entries, err := os.ReadDir(u.sysfsRoot)
	if err != nil {
		// No hidraw class present; nothing to report.
		return nil, nil
	}

	var devices []*model.Device
	for _, entry := range entries {
		node := entry.Name() // hidraw0, hidraw1, ...
		ueventPath := filepath.Join(u.sysfsRoot, node, "device", "uevent")
		raw, err := os.ReadFile(ueventPath)
		if err != nil {
			continue
		}

		vendorID, productID, name := parseHIDUevent(string(raw))
		if vendorID == 0 && productID == 0 {
			continue
		}
		if name == "" {
			name = fmt.Sprintf("HID %04x:%04x", vendorID, productID)
		}

		devices = append(devices, &model.Device{
			ID:     model.USBDeviceID(vendorID, productID),
			Kind:   model.KindUSBHID,
			Name:   name,
			Status: model.StatusAvailable,
			Properties: model.Properties{
				"vendor_id":  fmt.Sprintf("%04x", vendorID),
				"product_id": fmt.Sprintf("%04x", productID),
				"node":       node,
			},
		})
	}
	return devices, nil
}

// parseHIDUevent extracts HID_ID (bus:vendor:product) and HID_NAME from a
// hidraw uevent file.
func parseHIDUevent(raw string) (vendorID, productID uint16, name string) {
	for _, line := range strings.Split(raw, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "HID_ID":
			// 0003:0000046D:0000C52B
			parts := strings.Split(value, ":")
			if len(parts) != 3 {
				continue
			}
			if v, err := strconv.ParseUint(parts[1], 16, 32); err == nil {
				vendorID = uint16(v)
			}
			if p, err := strconv.ParseUint(parts[2], 16, 32); err == nil {
				productID = uint16(p)
			}
		case "HID_NAME":
			name = value
		}
	}
	return vendorID, productID, name
}

// nodeForID finds the hidraw node backing a usb device id.
func (u *USBHIDAdapter) nodeForID(ctx context.Context, deviceID string) (string, error) {
	devices, err := u.Discover(ctx)
	if err != nil {
		return "", err
	}
	for _, d := range devices {
		if d.ID == deviceID {
			if node, ok := d.Properties["node"].(string); ok {
				return filepath.Join(u.devRoot, node), nil
			}
		}
	}
	return "", ErrUnknownDevice
}

// Open acquires the hidraw node for report exchange.
func (u *USBHIDAdapter) Open(deviceID string, config map[string]any) error {
	if !u.supported() {
		return ErrUnsupportedOnPlatform
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if _, ok := u.handles[deviceID]; ok {
		return ErrAlreadyOpen
	}

	path, err := u.nodeForID(context.Background(), deviceID)
	if err != nil {
		return err
	}

	node, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open hidraw node: %w", err)
	}
	u.handles[deviceID] = &hidHandle{node: node, path: path}
	return nil
}

// Close releases the node. Closing an absent handle succeeds.
func (u *USBHIDAdapter) Close(deviceID string) error {
	u.mu.Lock()
	h, ok := u.handles[deviceID]
	delete(u.handles, deviceID)
	u.mu.Unlock()

	if !ok {
		return nil
	}
	return h.node.Close()
}

// Write sends a report with report ID zero.
func (u *USBHIDAdapter) Write(deviceID string, data []byte) (int, error) {
	return u.SendReport(deviceID, 0, data)
}

// Read receives the next input report, stripped of its report ID.
func (u *USBHIDAdapter) Read(deviceID string, maxBytes int, timeout time.Duration) ([]byte, error) {
	return u.ReceiveReport(deviceID, 0, timeout)
}

// SendReport writes a numbered report to the device. The report ID is
// prepended per the hidraw write convention.
func (u *USBHIDAdapter) SendReport(deviceID string, reportID byte, data []byte) (int, error) {
	h, err := u.handle(deviceID)
	if err != nil {
		return 0, err
	}

	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, reportID)
	buf = append(buf, data...)

	n, err := h.node.Write(buf)
	if err != nil {
		return 0, fmt.Errorf("hid report write: %w", err)
	}
	h.mu.Lock()
	h.bytesOut += n
	h.mu.Unlock()
	if n > 0 {
		n-- // exclude the report ID byte from the payload count
	}
	return n, nil
}

// ReceiveReport reads the next input report. hidraw reads block until a
// report arrives; the timeout is enforced with a read deadline where the
// platform supports it.
func (u *USBHIDAdapter) ReceiveReport(deviceID string, reportID byte, timeout time.Duration) ([]byte, error) {
	h, err := u.handle(deviceID)
	if err != nil {
		return nil, err
	}

	if timeout > 0 {
		// Best effort; hidraw nodes accept deadlines via the poll-based
		// runtime path.
		_ = h.node.SetReadDeadline(time.Now().Add(timeout))
		defer h.node.SetReadDeadline(time.Time{})
	}

	buf := make([]byte, 4096)
	n, err := h.node.Read(buf)
	if err != nil {
		if os.IsTimeout(err) {
			return []byte{}, nil
		}
		return nil, fmt.Errorf("hid report read: %w", err)
	}
	h.mu.Lock()
	h.bytesIn += n
	h.mu.Unlock()

	out := buf[:n]
	// Numbered reports carry their ID in the first byte.
	if reportID != 0 && n > 0 && out[0] == reportID {
		out = out[1:]
	}
	result := make([]byte, len(out))
	copy(result, out)
	return result, nil
}

// Status reports the open state and transfer counters.
func (u *USBHIDAdapter) Status(deviceID string) (map[string]any, error) {
	u.mu.Lock()
	h, ok := u.handles[deviceID]
	u.mu.Unlock()

	if !ok {
		return map[string]any{"is_open": false}, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return map[string]any{
		"is_open":   true,
		"path":      h.path,
		"bytes_in":  h.bytesIn,
		"bytes_out": h.bytesOut,
	}, nil
}

// IsOpen reports whether the device node is held open.
func (u *USBHIDAdapter) IsOpen(deviceID string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.handles[deviceID]
	return ok
}

func (u *USBHIDAdapter) handle(deviceID string) (*hidHandle, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	h, ok := u.handles[deviceID]
	if !ok {
		return nil, ErrDeviceNotOpen
	}
	return h, nil
}

var (
	_ Adapter  = (*USBHIDAdapter)(nil)
	_ ReportIO = (*USBHIDAdapter)(nil)
)
