package model

import "testing"

func TestDeviceIDDerivation(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"network", NetworkDeviceID("192.168.1.50", 9100), "net_192_168_1_50_9100"},
		{"serial windows", SerialDeviceID("COM1"), "serial_com1"},
		{"serial posix", SerialDeviceID("/dev/ttyUSB0"), "serial_dev_ttyusb0"},
		{"printer", PrinterDeviceID("Office Printer-2"), "printer_office_printer_2"},
		{"usb", USBDeviceID(0x04b8, 0x0202), "usb_04b8_0202"},
		{"biometric", BiometricDeviceID("ZK-4500"), "bio_zk_4500"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestDeviceIDStable(t *testing.T) {
	a := NetworkDeviceID("10.0.0.7", 631)
	b := NetworkDeviceID("10.0.0.7", 631)
	if a != b {
		t.Errorf("identifier not stable: %q != %q", a, b)
	}
}

func TestDeviceClone(t *testing.T) {
	d := &Device{
		ID:         "serial_com1",
		Kind:       KindSerial,
		Status:     StatusAvailable,
		Properties: Properties{"port_name": "COM1"},
	}
	cp := d.Clone()
	cp.Properties["port_name"] = "COM2"
	if d.Properties["port_name"] != "COM1" {
		t.Error("Clone shares the properties map")
	}
}

func TestJobStatusTerminal(t *testing.T) {
	for _, s := range []JobStatus{JobCompleted, JobFailed, JobCancelled} {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
	for _, s := range []JobStatus{JobPending, JobProcessing} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}

func TestDeviceKindValid(t *testing.T) {
	if !KindPrinter.Valid() {
		t.Error("printer should be valid")
	}
	if DeviceKind("toaster").Valid() {
		t.Error("unknown kind should be invalid")
	}
}
