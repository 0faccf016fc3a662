package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devlink-broker/devlink-go/pkg/model"
)

// fakeRunner scripts command output per tool name.
type fakeRunner struct {
	outputs map[string]string
	errs    map[string]error
	calls   [][]string
	stdins  [][]byte
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{outputs: make(map[string]string), errs: make(map[string]error)}
}

func (f *fakeRunner) run(ctx context.Context, stdin []byte, name string, args ...string) (string, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	f.stdins = append(f.stdins, stdin)
	return f.outputs[name], f.errs[name]
}

func testPrinterAdapter(r *fakeRunner) *PrinterAdapter {
	return &PrinterAdapter{run: r.run, goos: "linux"}
}

func TestParseLpstatDevices(t *testing.T) {
	out := "device for Office_Laser: ipp://192.168.1.50:631/ipp/print\n" +
		"device for receipt: usb://EPSON/TM-T20II?serial=ABC123\n" +
		"device for local_pdf: /dev/null\n" +
		"unrelated noise line\n"

	devices := ParseLpstatDevices(out)
	require.Len(t, devices, 3)

	assert.Equal(t, "printer_office_laser", devices[0].ID)
	assert.Equal(t, model.KindPrinter, devices[0].Kind)
	assert.Equal(t, "Office_Laser", devices[0].Name)
	assert.Equal(t, "network", devices[0].Properties["connection_type"])
	assert.Equal(t, "ipp://192.168.1.50:631/ipp/print", devices[0].Properties["uri"])

	assert.Equal(t, "usb", devices[1].Properties["connection_type"])
	assert.Equal(t, "local", devices[2].Properties["connection_type"])
}

func TestIsNetworkQueueURI(t *testing.T) {
	assert.True(t, IsNetworkQueueURI("socket://192.168.1.50:9100"))
	assert.True(t, IsNetworkQueueURI("dnssd://Office._ipp._tcp.local/"))
	assert.False(t, IsNetworkQueueURI("usb://EPSON/TM-T20II"))
	assert.False(t, IsNetworkQueueURI("://bad"))
}

func TestPrinterDiscoverToleratesMissingTool(t *testing.T) {
	r := newFakeRunner()
	r.errs["lpstat"] = errors.New("lpstat: command not found")

	devices, err := testPrinterAdapter(r).Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestPrinterSubmit(t *testing.T) {
	r := newFakeRunner()
	r.outputs["lp"] = "request id is receipt-42 (1 file(s))\n"
	p := testPrinterAdapter(r)

	jobID, err := p.Submit(context.Background(), "printer_receipt", []byte{0x1b, 0x40})
	require.NoError(t, err)
	assert.Equal(t, "receipt-42", jobID)

	require.Len(t, r.calls, 1)
	assert.Equal(t, []string{"lp", "-d", "receipt", "-o", "raw", "-"}, r.calls[0])
	assert.Equal(t, []byte{0x1b, 0x40}, r.stdins[0])
}

func TestPrinterSubmitRejectsForeignID(t *testing.T) {
	p := testPrinterAdapter(newFakeRunner())
	_, err := p.Submit(context.Background(), "serial_com1", nil)
	assert.ErrorIs(t, err, ErrUnknownDevice)
}

func TestParseLpJobID(t *testing.T) {
	assert.Equal(t, "receipt-42", ParseLpJobID("request id is receipt-42 (1 file(s))"))
	assert.Empty(t, ParseLpJobID("lp: error something"))
}

func TestPrinterStatusStates(t *testing.T) {
	cases := []struct {
		out       string
		state     string
		accepting bool
	}{
		{"printer receipt is idle.  enabled since Mon", "idle", true},
		{"printer receipt now printing receipt-42.", "printing", true},
		{"printer receipt disabled since Mon -", "disabled", false},
		{"printer receipt stopped", "unknown", true},
	}

	for _, tc := range cases {
		r := newFakeRunner()
		r.outputs["lpstat"] = tc.out

		status, err := testPrinterAdapter(r).Status("printer_receipt")
		require.NoError(t, err)
		assert.Equal(t, tc.state, status["state"], tc.out)
		assert.Equal(t, tc.accepting, status["is_accepting"], tc.out)
	}
}

func TestPrinterCapabilities(t *testing.T) {
	r := newFakeRunner()
	r.outputs["lpoptions"] = "copies=1 media='iso_a4_210x297mm' sides=one-sided"

	caps, err := testPrinterAdapter(r).Capabilities("printer_receipt")
	require.NoError(t, err)
	assert.Equal(t, []string{"raw", "escpos", "zpl", "epl"}, caps["formats"])

	opts := caps["options"].(map[string]string)
	assert.Equal(t, "iso_a4_210x297mm", opts["media"])
	assert.Equal(t, "one-sided", opts["sides"])
}

func TestPrinterUnsupportedPlatform(t *testing.T) {
	p := &PrinterAdapter{run: newFakeRunner().run, goos: "windows"}

	devices, err := p.Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, devices)

	_, err = p.Submit(context.Background(), "printer_receipt", nil)
	assert.ErrorIs(t, err, ErrUnsupportedOnPlatform)
	assert.ErrorIs(t, p.Open("printer_receipt", nil), ErrUnsupportedOnPlatform)
}

func TestPrinterHandlesNeverHeld(t *testing.T) {
	p := testPrinterAdapter(newFakeRunner())
	require.NoError(t, p.Open("printer_receipt", nil))
	assert.False(t, p.IsOpen("printer_receipt"))
	assert.NoError(t, p.Close("printer_receipt"))
}
