package adapter

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/devlink-broker/devlink-go/pkg/model"
)

// Shell-out budgets for OS print tooling.
const (
	printerCommandTimeout = 10 * time.Second
	printerSubmitTimeout  = 30 * time.Second
)

// networkQueueSchemes are URI schemes indicating an OS print queue that
// points at a network device. The discovery engine resolves host/port for
// these on a best-effort basis.
var networkQueueSchemes = map[string]bool{
	"dnssd": true, "ipp": true, "ipps": true,
	"socket": true, "http": true, "https": true,
}

// IsNetworkQueueURI reports whether uri points at a network print queue.
func IsNetworkQueueURI(uri string) bool {
	u, err := url.Parse(uri)
	if err != nil {
		return false
	}
	return networkQueueSchemes[u.Scheme]
}

// commandRunner executes an OS tool and returns its combined output.
// Injected in tests.
type commandRunner func(ctx context.Context, stdin []byte, name string, args ...string) (string, error)

// execRunner is the real runner.
func execRunner(ctx context.Context, stdin []byte, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s failed: %w", name, err)
	}
	return string(out), nil
}

// PrinterAdapter exposes OS-managed print queues. On POSIX platforms it
// shells out to the CUPS tools (lpstat, lp, lpoptions); elsewhere the
// enumeration is empty and submissions fail with ErrUnsupportedOnPlatform.
//
// Print data is opaque: the format hint (raw/escpos/zpl/epl) selects a
// transport upstream, never a transformation here.
type PrinterAdapter struct {
	run  commandRunner
	goos string
}

// NewPrinterAdapter creates the printer adapter for the current platform.
func NewPrinterAdapter() *PrinterAdapter {
	return &PrinterAdapter{run: execRunner, goos: runtime.GOOS}
}

// Kind returns model.KindPrinter.
func (p *PrinterAdapter) Kind() model.DeviceKind { return model.KindPrinter }

// supported reports whether the CUPS tools are expected on this platform.
func (p *PrinterAdapter) supported() bool {
	return p.goos != "windows"
}

// Discover enumerates OS print queues via lpstat -v.
func (p *PrinterAdapter) Discover(ctx context.Context) ([]*model.Device, error) {
	if !p.supported() {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, printerCommandTimeout)
	defer cancel()

	out, err := p.run(ctx, nil, "lpstat", "-v")
	if err != nil {
		// No CUPS or no printers configured; either way the cycle
		// proceeds with an empty result.
		return nil, nil
	}
	return ParseLpstatDevices(out), nil
}

// ParseLpstatDevices parses `lpstat -v` output of the form
// "device for <queue>: <uri>" into partially populated printer records.
func ParseLpstatDevices(out string) []*model.Device {
	var devices []*model.Device
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		rest, ok := strings.CutPrefix(line, "device for ")
		if !ok {
			continue
		}
		name, uri, ok := strings.Cut(rest, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		uri = strings.TrimSpace(uri)

		props := model.Properties{"uri": uri}
		switch {
		case IsNetworkQueueURI(uri):
			props["connection_type"] = "network"
		case strings.HasPrefix(uri, "usb"):
			props["connection_type"] = "usb"
		default:
			props["connection_type"] = "local"
		}

		devices = append(devices, &model.Device{
			ID:         model.PrinterDeviceID(name),
			Kind:       model.KindPrinter,
			Name:       name,
			Status:     model.StatusAvailable,
			Properties: props,
		})
	}
	return devices
}

// Open is a no-op: OS print queues are not held open between submissions.
func (p *PrinterAdapter) Open(deviceID string, config map[string]any) error {
	if !p.supported() {
		return ErrUnsupportedOnPlatform
	}
	return nil
}

// Close is a no-op; closing an absent handle succeeds.
func (p *PrinterAdapter) Close(deviceID string) error { return nil }

// IsOpen always reports false: submissions are one-shot.
func (p *PrinterAdapter) IsOpen(deviceID string) bool { return false }

// Write submits data to the queue and discards the job id.
func (p *PrinterAdapter) Write(deviceID string, data []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), printerSubmitTimeout)
	defer cancel()

	if _, err := p.Submit(ctx, deviceID, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Read is not supported for print queues.
func (p *PrinterAdapter) Read(deviceID string, maxBytes int, timeout time.Duration) ([]byte, error) {
	return nil, ErrUnsupportedOnPlatform
}

// Submit sends raw data to the OS queue via lp and returns the OS job id
// when the tool reports one.
func (p *PrinterAdapter) Submit(ctx context.Context, deviceID string, data []byte) (string, error) {
	if !p.supported() {
		return "", ErrUnsupportedOnPlatform
	}

	queue := queueNameFromID(deviceID)
	if queue == "" {
		return "", ErrUnknownDevice
	}

	out, err := p.run(ctx, data, "lp", "-d", queue, "-o", "raw", "-")
	if err != nil {
		return "", err
	}
	return ParseLpJobID(out), nil
}

// ParseLpJobID extracts the job identifier from lp output of the form
// "request id is <queue>-<n> (1 file(s))". Returns "" when absent.
func ParseLpJobID(out string) string {
	rest, ok := strings.CutPrefix(strings.TrimSpace(out), "request id is ")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(rest, " ")
	return id
}

// Status reports the queue state via lpstat -p.
func (p *PrinterAdapter) Status(deviceID string) (map[string]any, error) {
	if !p.supported() {
		return nil, ErrUnsupportedOnPlatform
	}

	queue := queueNameFromID(deviceID)
	if queue == "" {
		return nil, ErrUnknownDevice
	}

	ctx, cancel := context.WithTimeout(context.Background(), printerCommandTimeout)
	defer cancel()

	out, err := p.run(ctx, nil, "lpstat", "-p", queue)
	if err != nil {
		return nil, fmt.Errorf("printer status query failed: %w", err)
	}

	state := "unknown"
	lower := strings.ToLower(out)
	switch {
	case strings.Contains(lower, "is idle"):
		state = "idle"
	case strings.Contains(lower, "printing"):
		state = "printing"
	case strings.Contains(lower, "disabled"):
		state = "disabled"
	}

	return map[string]any{
		"queue":       queue,
		"state":       state,
		"is_accepting": state != "disabled",
	}, nil
}

// Capabilities lists queue options via lpoptions plus the byte formats the
// broker passes through untransformed.
func (p *PrinterAdapter) Capabilities(deviceID string) (map[string]any, error) {
	if !p.supported() {
		return nil, ErrUnsupportedOnPlatform
	}

	queue := queueNameFromID(deviceID)
	if queue == "" {
		return nil, ErrUnknownDevice
	}

	caps := map[string]any{
		"formats": []string{"raw", "escpos", "zpl", "epl"},
	}

	ctx, cancel := context.WithTimeout(context.Background(), printerCommandTimeout)
	defer cancel()

	if out, err := p.run(ctx, nil, "lpoptions", "-p", queue); err == nil {
		caps["options"] = ParseLpOptions(out)
	}
	return caps, nil
}

// ParseLpOptions parses lpoptions "key=value key2='v 2'" output.
func ParseLpOptions(out string) map[string]string {
	opts := make(map[string]string)
	for _, field := range strings.Fields(out) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		opts[key] = strings.Trim(value, "'")
	}
	return opts
}

// queueNameFromID recovers the queue name from a printer device id.
// The sanitized id is accepted by CUPS because queue names themselves may
// not contain the characters the sanitizer replaces.
func queueNameFromID(deviceID string) string {
	name, ok := strings.CutPrefix(deviceID, "printer_")
	if !ok {
		return ""
	}
	return name
}

// Compile-time interface checks.
var (
	_ Adapter            = (*PrinterAdapter)(nil)
	_ CapabilityProvider = (*PrinterAdapter)(nil)
	_ PrintSubmitter     = (*PrinterAdapter)(nil)
)
