package model

import (
	"fmt"
	"strings"
	"time"
)

// DeviceKind identifies the class of hardware a device belongs to.
type DeviceKind string

// Device kinds.
const (
	KindPrinter   DeviceKind = "printer"
	KindSerial    DeviceKind = "serial"
	KindUSBHID    DeviceKind = "usb_hid"
	KindNetwork   DeviceKind = "network"
	KindBiometric DeviceKind = "biometric"
)

// Valid reports whether k is a known device kind.
func (k DeviceKind) Valid() bool {
	switch k {
	case KindPrinter, KindSerial, KindUSBHID, KindNetwork, KindBiometric:
		return true
	default:
		return false
	}
}

// DeviceStatus describes the current availability of a device.
type DeviceStatus string

// Device statuses.
const (
	StatusAvailable DeviceStatus = "available"
	StatusConnected DeviceStatus = "connected"
	StatusError     DeviceStatus = "error"
	StatusOffline   DeviceStatus = "offline"
)

// Properties holds kind-specific device attributes (host, port, port_name,
// vendor/product ids, URI, connection_type). Values are scalars or strings.
type Properties map[string]any

// Device is a physical or virtual endpoint known to the broker.
//
// The ID is stable across rediscoveries of the same hardware identity and
// unique within a running process. Records are created by the discovery
// engine or the network connection manager and mutated only by the registry.
type Device struct {
	ID           string       `json:"id"`
	Kind         DeviceKind   `json:"kind"`
	Name         string       `json:"name"`
	Manufacturer string       `json:"manufacturer,omitempty"`
	Model        string       `json:"model,omitempty"`
	SerialNumber string       `json:"serial_number,omitempty"`
	Status       DeviceStatus `json:"status"`
	IsConnected  bool         `json:"is_connected"`
	LastSeen     time.Time    `json:"last_seen"`
	Properties   Properties   `json:"properties,omitempty"`
}

// Clone returns a deep copy of the device.
func (d *Device) Clone() *Device {
	cp := *d
	if d.Properties != nil {
		cp.Properties = make(Properties, len(d.Properties))
		for k, v := range d.Properties {
			cp.Properties[k] = v
		}
	}
	return &cp
}

// idReplacer maps characters that are not identifier-safe to underscores.
var idReplacer = strings.NewReplacer(".", "_", ":", "_", "/", "_", "\\", "_", " ", "_", "-", "_")

// sanitizeID lowercases s and replaces separator characters, trimming any
// leading underscore left by an absolute path.
func sanitizeID(s string) string {
	return strings.Trim(idReplacer.Replace(strings.ToLower(s)), "_")
}

// NetworkDeviceID derives the stable identifier for a TCP-reachable device,
// e.g. NetworkDeviceID("192.168.1.50", 9100) == "net_192_168_1_50_9100".
func NetworkDeviceID(host string, port int) string {
	return fmt.Sprintf("net_%s_%d", sanitizeID(host), port)
}

// SerialDeviceID derives the stable identifier for a serial port,
// e.g. "COM1" -> "serial_com1", "/dev/ttyUSB0" -> "serial_dev_ttyusb0".
func SerialDeviceID(portName string) string {
	return "serial_" + sanitizeID(portName)
}

// PrinterDeviceID derives the stable identifier for an OS-managed printer.
func PrinterDeviceID(queueName string) string {
	return "printer_" + sanitizeID(queueName)
}

// USBDeviceID derives the stable identifier for a USB HID device from its
// vendor/product pair.
func USBDeviceID(vendorID, productID uint16) string {
	return fmt.Sprintf("usb_%04x_%04x", vendorID, productID)
}

// BiometricDeviceID derives the stable identifier for a biometric terminal.
func BiometricDeviceID(name string) string {
	return "bio_" + sanitizeID(name)
}
