// Package adapter defines the uniform device adapter contract and the
// per-kind implementations that back it.
//
// An Adapter abstracts one device kind on one platform. The broker core
// only ever talks to this interface; platform specifics (shell-outs,
// device files) stay inside the implementations. Adapters that cannot
// operate on the current platform return ErrUnsupportedOnPlatform from the
// affected calls, which is fatal to that call but never to the process.
package adapter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/devlink-broker/devlink-go/pkg/model"
)

// Adapter errors.
var (
	// ErrUnsupportedOnPlatform is returned by operations the current
	// platform cannot perform.
	ErrUnsupportedOnPlatform = errors.New("not available on this platform")

	// ErrDeviceNotOpen is returned when an operation needs an open handle
	// and none exists. Recoverable by reopening.
	ErrDeviceNotOpen = errors.New("device not open")

	// ErrDeviceGone is returned when the underlying device disappeared
	// while a handle was open.
	ErrDeviceGone = errors.New("device gone")

	// ErrAlreadyOpen is returned when a second open races an existing
	// handle for the same device.
	ErrAlreadyOpen = errors.New("device already open")

	// ErrUnknownDevice is returned when the device ID does not resolve to
	// hardware this adapter knows about.
	ErrUnknownDevice = errors.New("unknown device")
)

// Adapter is the uniform contract implemented once per device kind.
type Adapter interface {
	// Kind returns the device kind this adapter serves.
	Kind() model.DeviceKind

	// Discover enumerates currently attached devices of this kind.
	// May return an empty list on platforms that cannot enumerate it.
	Discover(ctx context.Context) ([]*model.Device, error)

	// Open acquires a handle on the device. Config is kind-specific.
	// Opening an already-open device fails with ErrAlreadyOpen.
	Open(deviceID string, config map[string]any) error

	// Close releases the handle. Closing an absent handle succeeds.
	Close(deviceID string) error

	// Write sends bytes to the device and returns the count written.
	Write(deviceID string, data []byte) (int, error)

	// Read drains up to maxBytes from the device, blocking until at least
	// one byte is available or the timeout elapses.
	Read(deviceID string, maxBytes int, timeout time.Duration) ([]byte, error)

	// Status reports kind-specific device state.
	Status(deviceID string) (map[string]any, error)

	// IsOpen reports whether a handle is currently held on the device.
	IsOpen(deviceID string) bool
}

// CapabilityProvider is implemented by adapters that can describe device
// capabilities (printers).
type CapabilityProvider interface {
	Capabilities(deviceID string) (map[string]any, error)
}

// PrintSubmitter is implemented by adapters that can submit a print job to
// an OS-managed queue, returning the OS job identifier when the platform
// tool provides one.
type PrintSubmitter interface {
	Submit(ctx context.Context, deviceID string, data []byte) (jobID string, err error)
}

// ReportIO is implemented by adapters speaking HID reports.
type ReportIO interface {
	SendReport(deviceID string, reportID byte, data []byte) (int, error)
	ReceiveReport(deviceID string, reportID byte, timeout time.Duration) ([]byte, error)
}

// Set is the kind-indexed collection of registered adapters.
type Set struct {
	mu       sync.RWMutex
	adapters map[model.DeviceKind]Adapter
}

// NewSet creates an empty adapter set.
func NewSet() *Set {
	return &Set{adapters: make(map[model.DeviceKind]Adapter)}
}

// Register installs an adapter, replacing any previous one for its kind.
func (s *Set) Register(a Adapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adapters[a.Kind()] = a
}

// Get returns the adapter for a kind.
func (s *Set) Get(kind model.DeviceKind) (Adapter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.adapters[kind]
	return a, ok
}

// Kinds returns the kinds with a registered adapter.
func (s *Set) Kinds() []model.DeviceKind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.DeviceKind, 0, len(s.adapters))
	for k := range s.adapters {
		out = append(out, k)
	}
	return out
}

// HasOpenHandle reports whether any registered adapter holds a handle on
// the device. Used by the registry's removal debounce.
func (s *Set) HasOpenHandle(deviceID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.adapters {
		if a.IsOpen(deviceID) {
			return true
		}
	}
	return false
}
