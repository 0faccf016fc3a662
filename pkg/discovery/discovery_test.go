package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devlink-broker/devlink-go/pkg/adapter"
	"github.com/devlink-broker/devlink-go/pkg/model"
	"github.com/devlink-broker/devlink-go/pkg/registry"
)

// scriptedAdapter returns a fixed enumeration result per call.
type scriptedAdapter struct {
	kind    model.DeviceKind
	devices []*model.Device
	err     error
	calls   int
}

func (a *scriptedAdapter) Kind() model.DeviceKind { return a.kind }

func (a *scriptedAdapter) Discover(ctx context.Context) ([]*model.Device, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	out := make([]*model.Device, len(a.devices))
	for i, d := range a.devices {
		out[i] = d.Clone()
	}
	return out, nil
}

func (a *scriptedAdapter) Open(string, map[string]any) error { return nil }
func (a *scriptedAdapter) Close(string) error                { return nil }
func (a *scriptedAdapter) Write(string, []byte) (int, error) { return 0, nil }
func (a *scriptedAdapter) Read(string, int, time.Duration) ([]byte, error) {
	return nil, nil
}
func (a *scriptedAdapter) Status(string) (map[string]any, error) { return nil, nil }
func (a *scriptedAdapter) IsOpen(string) bool                    { return false }

func serialDev(id string) *model.Device {
	return &model.Device{ID: id, Kind: model.KindSerial, Name: id, Status: model.StatusAvailable}
}

func testEngine(adapters ...*scriptedAdapter) (*Engine, *registry.Registry) {
	set := adapter.NewSet()
	enabled := make(map[model.DeviceKind]bool)
	for _, a := range adapters {
		set.Register(a)
		enabled[a.kind] = true
	}
	reg := registry.New(nil)
	return NewEngine(set, reg, enabled, time.Hour, nil), reg
}

func TestCycleUpsertsDevices(t *testing.T) {
	sa := &scriptedAdapter{kind: model.KindSerial, devices: []*model.Device{serialDev("serial_com1")}}
	engine, reg := testEngine(sa)

	engine.RunCycle(context.Background())

	d, ok := reg.Get("serial_com1")
	require.True(t, ok)
	assert.Equal(t, model.StatusAvailable, d.Status)
}

func TestCycleRemovalNeedsTwoMisses(t *testing.T) {
	sa := &scriptedAdapter{kind: model.KindSerial, devices: []*model.Device{serialDev("serial_com1")}}
	engine, reg := testEngine(sa)
	ctx := context.Background()

	engine.RunCycle(ctx)
	require.Equal(t, 1, reg.Count())

	sa.devices = nil
	engine.RunCycle(ctx)
	assert.Equal(t, 1, reg.Count(), "one empty cycle must not remove")

	engine.RunCycle(ctx)
	assert.Zero(t, reg.Count())
}

func TestCycleSkipsDisabledKinds(t *testing.T) {
	sa := &scriptedAdapter{kind: model.KindSerial, devices: []*model.Device{serialDev("serial_com1")}}
	set := adapter.NewSet()
	set.Register(sa)
	reg := registry.New(nil)
	engine := NewEngine(set, reg, map[model.DeviceKind]bool{model.KindSerial: false}, time.Hour, nil)

	engine.RunCycle(context.Background())
	assert.Zero(t, sa.calls)
	assert.Zero(t, reg.Count())
}

func TestEnumerationErrorSkipsReconcile(t *testing.T) {
	sa := &scriptedAdapter{kind: model.KindSerial, devices: []*model.Device{serialDev("serial_com1")}}
	engine, reg := testEngine(sa)
	ctx := context.Background()

	engine.RunCycle(ctx)
	require.Equal(t, 1, reg.Count())

	// A failing OS tool must not count as a miss, however often it fails.
	sa.err = errors.New("lpstat exploded")
	engine.RunCycle(ctx)
	engine.RunCycle(ctx)
	engine.RunCycle(ctx)
	assert.Equal(t, 1, reg.Count())
}

func TestPrinterQueueResolution(t *testing.T) {
	printer := &model.Device{
		ID:     "printer_office",
		Kind:   model.KindPrinter,
		Name:   "office",
		Status: model.StatusAvailable,
		Properties: model.Properties{
			"uri":             "ipp://office-laser.local:631/ipp/print",
			"connection_type": "network",
		},
	}
	pa := &scriptedAdapter{kind: model.KindPrinter, devices: []*model.Device{printer}}
	engine, reg := testEngine(pa)
	engine.SetResolver(func(ctx context.Context, uri string) (string, int, error) {
		return "192.168.1.50", 631, nil
	})

	engine.RunCycle(context.Background())

	d, ok := reg.Get("printer_office")
	require.True(t, ok)
	assert.Equal(t, "192.168.1.50", d.Properties["host"])
	assert.Equal(t, 631, d.Properties["port"])
}

func TestPrinterQueueResolutionFailureIsNonFatal(t *testing.T) {
	printer := &model.Device{
		ID:         "printer_office",
		Kind:       model.KindPrinter,
		Status:     model.StatusAvailable,
		Properties: model.Properties{"uri": "ipp://office-laser.local/ipp/print"},
	}
	pa := &scriptedAdapter{kind: model.KindPrinter, devices: []*model.Device{printer}}
	engine, reg := testEngine(pa)
	engine.SetResolver(func(ctx context.Context, uri string) (string, int, error) {
		return "", 0, errors.New("no mdns")
	})

	engine.RunCycle(context.Background())

	d, ok := reg.Get("printer_office")
	require.True(t, ok)
	_, hasHost := d.Properties["host"]
	assert.False(t, hasHost)
}

func TestLocalPrinterURINotResolved(t *testing.T) {
	printer := &model.Device{
		ID:         "printer_pdf",
		Kind:       model.KindPrinter,
		Status:     model.StatusAvailable,
		Properties: model.Properties{"uri": "usb://EPSON/TM-T20II"},
	}
	pa := &scriptedAdapter{kind: model.KindPrinter, devices: []*model.Device{printer}}
	engine, _ := testEngine(pa)

	resolved := false
	engine.SetResolver(func(ctx context.Context, uri string) (string, int, error) {
		resolved = true
		return "", 0, nil
	})

	engine.RunCycle(context.Background())
	assert.False(t, resolved, "local URIs never hit the resolver")
}

func TestEnumerateUsesSnapshotCache(t *testing.T) {
	sa := &scriptedAdapter{kind: model.KindSerial, devices: []*model.Device{serialDev("serial_com1")}}
	engine, _ := testEngine(sa)
	ctx := context.Background()

	devices := engine.Enumerate(ctx, false)
	require.Len(t, devices, 1)
	require.Equal(t, 1, sa.calls)

	// Fresh snapshot: no new enumeration.
	engine.Enumerate(ctx, false)
	assert.Equal(t, 1, sa.calls)

	// Force refresh bypasses the cache.
	engine.Enumerate(ctx, true)
	assert.Equal(t, 2, sa.calls)
}

func TestResolveQueueURIDirect(t *testing.T) {
	cases := []struct {
		uri  string
		host string
		port int
	}{
		{"ipp://192.168.1.50/ipp/print", "192.168.1.50", 631},
		{"ipps://printer.local:8631/ipp/print", "printer.local", 8631},
		{"socket://192.168.1.60", "192.168.1.60", 9100},
		{"lpd://printserver/queue", "printserver", 515},
		{"http://10.0.0.5:8080/print", "10.0.0.5", 8080},
	}
	for _, tc := range cases {
		host, port, err := ResolveQueueURI(context.Background(), tc.uri)
		require.NoError(t, err, tc.uri)
		assert.Equal(t, tc.host, host, tc.uri)
		assert.Equal(t, tc.port, port, tc.uri)
	}
}

func TestResolveQueueURIErrors(t *testing.T) {
	_, _, err := ResolveQueueURI(context.Background(), "socket://")
	assert.Error(t, err, "missing host")

	_, _, err = ResolveQueueURI(context.Background(), "weird://host/path")
	assert.Error(t, err, "unknown scheme has no default port")
}

func TestSplitDNSSDName(t *testing.T) {
	instance, service, err := splitDNSSDName("Office%20Laser._ipp._tcp.local.")
	require.NoError(t, err)
	assert.Equal(t, "Office Laser", instance)
	assert.Equal(t, "_ipp._tcp", service)

	_, _, err = splitDNSSDName("no-service-part")
	assert.Error(t, err)
}
