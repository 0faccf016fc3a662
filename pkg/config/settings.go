// Package config defines the broker's process-wide settings and their
// YAML persistence.
package config

import (
	"fmt"
	"time"
)

// Default values applied by Default and Normalize.
const (
	DefaultPort              = 8843
	DefaultHost              = "127.0.0.1"
	DefaultMaxSessions       = 32
	DefaultDiscoveryInterval = 30 * time.Second
	DefaultNetworkTimeout    = 5 * time.Second
	DefaultNetworkMaxConns   = 16
	DefaultRetryInterval     = 5 * time.Second
	DefaultMaxRetryAttempts  = 3
	DefaultDatabasePath      = "devlink-queue.db"
	DefaultJobRetentionHours = 7 * 24
)

// Settings is the full broker configuration.
type Settings struct {
	Transport TransportSettings `yaml:"transport" json:"transport"`
	Discovery DiscoverySettings `yaml:"discovery" json:"discovery"`
	Network   NetworkSettings   `yaml:"network" json:"network"`
	Queue     QueueSettings     `yaml:"queue" json:"queue"`
}

// TransportSettings configures the client-facing endpoint.
type TransportSettings struct {
	// Host and Port form the bind endpoint.
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	// UseTLS enables TLS on the endpoint. If no certificate exists at
	// CertificatePath a self-signed one is generated on first start.
	UseTLS          bool   `yaml:"use_tls" json:"use_tls"`
	CertificatePath string `yaml:"certificate_path,omitempty" json:"certificate_path,omitempty"`

	// AllowedOrigins is the origin allow-list. A "*" entry admits any origin.
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`

	// MaxConnections caps concurrently admitted sessions.
	MaxConnections int `yaml:"max_connections" json:"max_connections"`
}

// DiscoverySettings configures the rediscovery engine.
type DiscoverySettings struct {
	// IntervalMS is the rediscovery period in milliseconds.
	IntervalMS int `yaml:"interval_ms" json:"interval_ms"`

	// Per-kind enumeration toggles.
	EnablePrinter   bool `yaml:"enable_printer" json:"enable_printer"`
	EnableSerial    bool `yaml:"enable_serial" json:"enable_serial"`
	EnableUSBHID    bool `yaml:"enable_usb_hid" json:"enable_usb_hid"`
	EnableNetwork   bool `yaml:"enable_network" json:"enable_network"`
	EnableBiometric bool `yaml:"enable_biometric" json:"enable_biometric"`

	// Advertise registers a _devlink._tcp mDNS service for the broker so
	// local clients can locate it without a configured port.
	Advertise bool `yaml:"advertise" json:"advertise"`
}

// NetworkSettings configures the device connection manager.
type NetworkSettings struct {
	// DefaultTimeoutMS is the connect/I-O budget in milliseconds when a
	// request does not carry its own timeout.
	DefaultTimeoutMS int `yaml:"default_timeout_ms" json:"default_timeout_ms"`

	// MaxConnections caps simultaneous live device sockets.
	MaxConnections int `yaml:"max_connections" json:"max_connections"`
}

// QueueSettings configures the durable operation queue.
type QueueSettings struct {
	// DatabasePath is the SQLite database file location.
	DatabasePath string `yaml:"database_path" json:"database_path"`

	// RetryIntervalMS is the worker tick period in milliseconds.
	RetryIntervalMS int `yaml:"retry_interval_ms" json:"retry_interval_ms"`

	// MaxRetryAttempts bounds retries before a failure becomes terminal.
	MaxRetryAttempts int `yaml:"max_retry_attempts" json:"max_retry_attempts"`

	// RetentionHours is how long finished jobs stay in the database before
	// the hourly prune removes them.
	RetentionHours int `yaml:"retention_hours" json:"retention_hours"`
}

// Default returns the settings used when no configuration file exists.
func Default() Settings {
	return Settings{
		Transport: TransportSettings{
			Host:           DefaultHost,
			Port:           DefaultPort,
			AllowedOrigins: []string{"*"},
			MaxConnections: DefaultMaxSessions,
		},
		Discovery: DiscoverySettings{
			IntervalMS:      int(DefaultDiscoveryInterval / time.Millisecond),
			EnablePrinter:   true,
			EnableSerial:    true,
			EnableUSBHID:    true,
			EnableNetwork:   true,
			EnableBiometric: true,
		},
		Network: NetworkSettings{
			DefaultTimeoutMS: int(DefaultNetworkTimeout / time.Millisecond),
			MaxConnections:   DefaultNetworkMaxConns,
		},
		Queue: QueueSettings{
			DatabasePath:     DefaultDatabasePath,
			RetryIntervalMS:  int(DefaultRetryInterval / time.Millisecond),
			MaxRetryAttempts: DefaultMaxRetryAttempts,
			RetentionHours:   DefaultJobRetentionHours,
		},
	}
}

// Normalize fills zero values with defaults so a partial configuration file
// behaves predictably.
func (s *Settings) Normalize() {
	def := Default()
	if s.Transport.Host == "" {
		s.Transport.Host = def.Transport.Host
	}
	if s.Transport.Port == 0 {
		s.Transport.Port = def.Transport.Port
	}
	if len(s.Transport.AllowedOrigins) == 0 {
		s.Transport.AllowedOrigins = def.Transport.AllowedOrigins
	}
	if s.Transport.MaxConnections == 0 {
		s.Transport.MaxConnections = def.Transport.MaxConnections
	}
	if s.Discovery.IntervalMS == 0 {
		s.Discovery.IntervalMS = def.Discovery.IntervalMS
	}
	if s.Network.DefaultTimeoutMS == 0 {
		s.Network.DefaultTimeoutMS = def.Network.DefaultTimeoutMS
	}
	if s.Network.MaxConnections == 0 {
		s.Network.MaxConnections = def.Network.MaxConnections
	}
	if s.Queue.DatabasePath == "" {
		s.Queue.DatabasePath = def.Queue.DatabasePath
	}
	if s.Queue.RetryIntervalMS == 0 {
		s.Queue.RetryIntervalMS = def.Queue.RetryIntervalMS
	}
	if s.Queue.MaxRetryAttempts == 0 {
		s.Queue.MaxRetryAttempts = def.Queue.MaxRetryAttempts
	}
	if s.Queue.RetentionHours == 0 {
		s.Queue.RetentionHours = def.Queue.RetentionHours
	}
}

// Validate rejects settings that cannot produce a working broker.
func (s *Settings) Validate() error {
	if s.Transport.Port < 1 || s.Transport.Port > 65535 {
		return fmt.Errorf("transport.port %d out of range", s.Transport.Port)
	}
	if s.Transport.MaxConnections < 1 {
		return fmt.Errorf("transport.max_connections must be positive")
	}
	if s.Network.MaxConnections < 1 {
		return fmt.Errorf("network.max_connections must be positive")
	}
	if s.Queue.MaxRetryAttempts < 1 {
		return fmt.Errorf("queue.max_retry_attempts must be positive")
	}
	if s.Transport.UseTLS && s.Transport.CertificatePath == "" {
		return fmt.Errorf("transport.certificate_path required when use_tls is set")
	}
	return nil
}

// DiscoveryInterval returns the rediscovery period as a duration.
func (s *Settings) DiscoveryInterval() time.Duration {
	return time.Duration(s.Discovery.IntervalMS) * time.Millisecond
}

// NetworkTimeout returns the default network timeout as a duration.
func (s *Settings) NetworkTimeout() time.Duration {
	return time.Duration(s.Network.DefaultTimeoutMS) * time.Millisecond
}

// RetryInterval returns the queue worker tick period as a duration.
func (s *Settings) RetryInterval() time.Duration {
	return time.Duration(s.Queue.RetryIntervalMS) * time.Millisecond
}

// JobRetention returns the finished-job retention window as a duration.
func (s *Settings) JobRetention() time.Duration {
	return time.Duration(s.Queue.RetentionHours) * time.Hour
}
