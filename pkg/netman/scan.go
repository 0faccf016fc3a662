package netman

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/devlink-broker/devlink-go/pkg/model"
)

// wellKnownPorts maps device service ports to the kind and protocol a
// listener on that port most likely speaks.
var wellKnownPorts = map[int]struct {
	kind     model.DeviceKind
	protocol string
}{
	9100: {model.KindPrinter, "socket"},
	631:  {model.KindPrinter, "ipp"},
	515:  {model.KindPrinter, "lpd"},
	4370: {model.KindBiometric, "tcp"},
}

// InferService guesses the device kind and protocol from a port number.
// Unknown ports are generic network/tcp.
func InferService(port int) (model.DeviceKind, string) {
	if svc, ok := wellKnownPorts[port]; ok {
		return svc.kind, svc.protocol
	}
	return model.KindNetwork, "tcp"
}

// DefaultScanPorts are probed when a scan request names none.
var DefaultScanPorts = []int{9100, 631, 515, 4370}

// ScanOptions configures a subnet scan.
type ScanOptions struct {
	// Subnet is a /24 in "192.168.1.0/24", "192.168.1.0" or "192.168.1"
	// form. Empty means derive it from the first non-loopback interface.
	Subnet string

	// Ports to probe on every host. Empty means DefaultScanPorts.
	Ports []int

	// Timeout per connection attempt.
	Timeout time.Duration

	// MaxConcurrent bounds outstanding connects.
	MaxConcurrent int
}

// ScanHit is one responding endpoint.
type ScanHit struct {
	Host           string           `json:"host"`
	Port           int              `json:"port"`
	ResponseTimeMs float64          `json:"response_time_ms"`
	Kind           model.DeviceKind `json:"inferred_kind"`
	Protocol       string           `json:"inferred_protocol"`
}

// Device converts a scan hit into a registry record for opt-in
// registration.
func (h ScanHit) Device() *model.Device {
	return &model.Device{
		ID:     model.NetworkDeviceID(h.Host, h.Port),
		Kind:   model.KindNetwork,
		Name:   fmt.Sprintf("%s:%d", h.Host, h.Port),
		Status: model.StatusAvailable,
		Properties: model.Properties{
			"host":          h.Host,
			"port":          h.Port,
			"inferred_kind": string(h.Kind),
			"protocol":      h.Protocol,
		},
	}
}

// Scan probes every (host, port) pair of a /24 and returns the endpoints
// that accepted a TCP connection. Hits do not enter the registry here;
// registration is the caller's opt-in decision.
func (m *Manager) Scan(ctx context.Context, opts ScanOptions) ([]ScanHit, error) {
	base, err := subnetBase(opts.Subnet)
	if err != nil {
		return nil, err
	}
	ports := opts.Ports
	if len(ports) == 0 {
		ports = DefaultScanPorts
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 32
	}

	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var hits []ScanHit

scan:
	for hostOctet := 1; hostOctet <= 254; hostOctet++ {
		for _, port := range ports {
			if ctx.Err() != nil {
				break scan
			}
			host := fmt.Sprintf("%s.%d", base, hostOctet)

			wg.Add(1)
			sem <- struct{}{}
			go func(host string, port int) {
				defer wg.Done()
				defer func() { <-sem }()

				start := time.Now()
				sock, err := m.dial(net.JoinHostPort(host, strconv.Itoa(port)), timeout)
				if err != nil {
					return
				}
				elapsed := time.Since(start)
				sock.Close()

				kind, protocol := InferService(port)
				mu.Lock()
				hits = append(hits, ScanHit{
					Host:           host,
					Port:           port,
					ResponseTimeMs: float64(elapsed.Microseconds()) / 1000,
					Kind:           kind,
					Protocol:       protocol,
				})
				mu.Unlock()
			}(host, port)
		}
	}
	wg.Wait()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Host != hits[j].Host {
			return ipLess(hits[i].Host, hits[j].Host)
		}
		return hits[i].Port < hits[j].Port
	})
	return hits, ctx.Err()
}

// subnetBase reduces a subnet argument to its first three octets.
// Empty input derives the base from the first non-loopback interface.
func subnetBase(subnet string) (string, error) {
	if subnet == "" {
		ip, err := localIPv4()
		if err != nil {
			return "", err
		}
		subnet = ip.String()
	}

	subnet, _, _ = strings.Cut(subnet, "/")
	octets := strings.Split(subnet, ".")
	if len(octets) < 3 {
		return "", fmt.Errorf("invalid subnet %q", subnet)
	}
	for _, o := range octets[:3] {
		n, err := strconv.Atoi(o)
		if err != nil || n < 0 || n > 255 {
			return "", fmt.Errorf("invalid subnet %q", subnet)
		}
	}
	return strings.Join(octets[:3], "."), nil
}

// localIPv4 returns the first non-loopback IPv4 address of this host.
func localIPv4() (net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return nil, fmt.Errorf("no non-loopback IPv4 interface found")
}

// ipLess orders dotted-quad strings numerically.
func ipLess(a, b string) bool {
	pa, pb := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(pa) && i < len(pb); i++ {
		na, _ := strconv.Atoi(pa[i])
		nb, _ := strconv.Atoi(pb[i])
		if na != nb {
			return na < nb
		}
	}
	return len(pa) < len(pb)
}
