package discovery

import (
	"fmt"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// Service constants for broker self-advertisement.
const (
	// AdvertiseServiceType is the mDNS service type clients browse for.
	AdvertiseServiceType = "_devlink._tcp"

	// advertiseDomain is the mDNS domain.
	advertiseDomain = "local."
)

// Advertiser announces the broker endpoint over mDNS so clients on the
// local network can find it without configuration.
type Advertiser struct {
	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates an idle advertiser.
func NewAdvertiser() *Advertiser {
	return &Advertiser{}
}

// Start registers the service. A running advertisement is replaced.
func (a *Advertiser) Start(instanceName string, port int, useTLS bool, version string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	if instanceName == "" {
		instanceName = "devlink"
	}

	txt := []string{
		"version=" + version,
		fmt.Sprintf("tls=%t", useTLS),
	}

	server, err := zeroconf.Register(
		instanceName,
		AdvertiseServiceType,
		advertiseDomain,
		port,
		txt,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register mdns service: %w", err)
	}
	a.server = server
	return nil
}

// Stop withdraws the advertisement. Safe to call when idle.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}
