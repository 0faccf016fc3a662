package service

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"
)

// Payload encodings accepted on data-carrying requests. The default is
// the literal string bytes; base64 covers binary payloads and hex is the
// conventional form for HID reports.
const (
	encodingText   = "text"
	encodingBase64 = "base64"
	encodingHex    = "hex"
)

// decodePayload turns a request data string into raw bytes according to
// the declared encoding. An empty encoding means the literal string.
func decodePayload(data, encoding string) ([]byte, error) {
	switch encoding {
	case "", encodingText:
		return []byte(data), nil
	case encodingBase64:
		raw, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 data: %w", err)
		}
		return raw, nil
	case encodingHex:
		raw, err := hex.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("invalid hex data: %w", err)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("unknown encoding %q", encoding)
	}
}

// encodePayload renders raw bytes for a response in the requested
// encoding, defaulting to the literal string.
func encodePayload(raw []byte, encoding string) (string, error) {
	switch encoding {
	case "", encodingText:
		return string(raw), nil
	case encodingBase64:
		return base64.StdEncoding.EncodeToString(raw), nil
	case encodingHex:
		return hex.EncodeToString(raw), nil
	default:
		return "", fmt.Errorf("unknown encoding %q", encoding)
	}
}

// timeoutFromMS converts a request timeout in milliseconds to a duration,
// falling back to def for zero or negative values.
func timeoutFromMS(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// deviceIDParams is the common single-device request shape.
type deviceIDParams struct {
	DeviceID string `json:"device_id"`
}

func (p *deviceIDParams) validate() error {
	if p.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	return nil
}

// enumerateParams selects the device listing behavior.
type enumerateParams struct {
	Kind         string `json:"kind,omitempty"`
	ForceRefresh bool   `json:"force_refresh,omitempty"`
}

// printParams submits a print payload. Host and Port, when both set,
// route the payload directly over a raw socket instead of a print queue.
type printParams struct {
	DeviceID string `json:"device_id,omitempty"`
	Data     string `json:"data"`
	Encoding string `json:"encoding,omitempty"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
}

// serialOpenParams opens a serial port with optional line settings.
type serialOpenParams struct {
	DeviceID string         `json:"device_id"`
	Config   map[string]any `json:"config,omitempty"`
}

// dataParams carries a payload to an open device.
type dataParams struct {
	DeviceID string `json:"device_id"`
	Data     string `json:"data"`
	Encoding string `json:"encoding,omitempty"`
}

// receiveParams reads buffered input from an open device.
type receiveParams struct {
	DeviceID  string `json:"device_id"`
	MaxBytes  int    `json:"max_bytes,omitempty"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
	Encoding  string `json:"encoding,omitempty"`
}

// reportParams carries a HID output report. Data is hex unless another
// encoding is named.
type reportParams struct {
	DeviceID string `json:"device_id"`
	ReportID byte   `json:"report_id,omitempty"`
	Data     string `json:"data"`
	Encoding string `json:"encoding,omitempty"`
}

// reportReceiveParams reads a HID input report.
type reportReceiveParams struct {
	DeviceID  string `json:"device_id"`
	ReportID  byte   `json:"report_id,omitempty"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
}

// endpointParams addresses a raw TCP endpoint. Clients may nest the
// endpoint under config; top-level fields win when both forms appear.
type endpointParams struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`

	Config *endpointConfig `json:"config,omitempty"`
}

type endpointConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
}

func (p *endpointParams) validate() error {
	if p.Config != nil {
		if p.Host == "" {
			p.Host = p.Config.Host
		}
		if p.Port == 0 {
			p.Port = p.Config.Port
		}
		if p.TimeoutMS == 0 {
			p.TimeoutMS = p.Config.TimeoutMS
		}
	}
	if p.Host == "" {
		return fmt.Errorf("host is required")
	}
	if p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("port %d out of range", p.Port)
	}
	return nil
}

// networkSendParams sends bytes either over a live connection (device_id)
// or one-shot to an endpoint (host and port).
type networkSendParams struct {
	DeviceID      string `json:"device_id,omitempty"`
	Host          string `json:"host,omitempty"`
	Port          int    `json:"port,omitempty"`
	Data          string `json:"data"`
	Encoding      string `json:"encoding,omitempty"`
	ExpectReply   bool   `json:"expect_reply,omitempty"`
	TimeoutMS     int    `json:"timeout_ms,omitempty"`
	ReplyEncoding string `json:"reply_encoding,omitempty"`
}

// discoverParams configures a subnet scan. Register opts the hits into
// the device registry.
type discoverParams struct {
	Subnet        string `json:"subnet,omitempty"`
	Ports         []int  `json:"ports,omitempty"`
	TimeoutMS     int    `json:"timeout_ms,omitempty"`
	MaxConcurrent int    `json:"max_concurrent,omitempty"`
	Register      bool   `json:"register,omitempty"`
}

// enrollParams stores a biometric template for a user. Template is base64.
type enrollParams struct {
	DeviceID string `json:"device_id"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name,omitempty"`
	Template string `json:"template"`
}

// authParams verifies a probe template. UserID empty means identify
// against every enrolled user. Threshold defaults to 0.7.
type authParams struct {
	DeviceID  string   `json:"device_id"`
	UserID    string   `json:"user_id,omitempty"`
	Template  string   `json:"template"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// defaultMatchThreshold is the confidence below which a template match is
// not reported as verified.
const defaultMatchThreshold = 0.7

func (p *authParams) threshold() float64 {
	if p.Threshold == nil {
		return defaultMatchThreshold
	}
	return *p.Threshold
}

// userParams addresses one enrolled user on a terminal.
type userParams struct {
	DeviceID string `json:"device_id"`
	UserID   string `json:"user_id"`
}

// jobIDParams addresses one queue job.
type jobIDParams struct {
	JobID string `json:"job_id"`
}

// jobListParams filters the job listing.
type jobListParams struct {
	DeviceID string `json:"device_id,omitempty"`
	Status   string `json:"status,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// submitJobParams enqueues a durable device operation.
type submitJobParams struct {
	DeviceID  string         `json:"device_id"`
	Operation string         `json:"operation"`
	Params    map[string]any `json:"params,omitempty"`
}
