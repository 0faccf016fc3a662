package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// mdnsResolveTimeout bounds one dnssd name resolution.
const mdnsResolveTimeout = 3 * time.Second

// QueueResolver maps a print queue URI to a reachable host and port.
type QueueResolver func(ctx context.Context, uri string) (host string, port int, err error)

// defaultQueuePorts supplies the port when the URI omits one.
var defaultQueuePorts = map[string]int{
	"ipp":    631,
	"ipps":   631,
	"lpd":    515,
	"socket": 9100,
	"http":   80,
	"https":  443,
}

// ResolveQueueURI resolves a network print queue URI. dnssd URIs go
// through mDNS; everything else is parsed directly.
func ResolveQueueURI(ctx context.Context, uri string) (string, int, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", 0, fmt.Errorf("parse queue uri: %w", err)
	}

	if u.Scheme == "dnssd" {
		return resolveDNSSD(ctx, u)
	}

	host := u.Hostname()
	if host == "" {
		return "", 0, fmt.Errorf("queue uri %q has no host", uri)
	}
	port := defaultQueuePorts[u.Scheme]
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("queue uri %q has invalid port: %w", uri, err)
		}
	}
	if port == 0 {
		return "", 0, fmt.Errorf("queue uri %q has no resolvable port", uri)
	}
	return host, port, nil
}

// resolveDNSSD browses for the service instance named by a dnssd URI,
// e.g. dnssd://Office%20Laser._ipp._tcp.local./?uuid=…
func resolveDNSSD(ctx context.Context, u *url.URL) (string, int, error) {
	instance, service, err := splitDNSSDName(u.Host)
	if err != nil {
		return "", 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, mdnsResolveTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	go func() {
		_ = zeroconf.Browse(ctx, service, "local.", entries, removed)
	}()
	go func() {
		for range removed {
		}
	}()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", 0, fmt.Errorf("mdns instance %q not found", instance)
			}
			if entry == nil || !strings.EqualFold(entry.Instance, instance) {
				continue
			}
			if len(entry.AddrIPv4) > 0 {
				return entry.AddrIPv4[0].String(), entry.Port, nil
			}
			if entry.HostName != "" {
				return strings.TrimSuffix(entry.HostName, "."), entry.Port, nil
			}
		case <-ctx.Done():
			return "", 0, fmt.Errorf("mdns resolution of %q timed out", instance)
		}
	}
}

// splitDNSSDName splits "Instance._ipp._tcp.local." into the instance
// label and the service type.
func splitDNSSDName(name string) (instance, service string, err error) {
	decoded, derr := url.PathUnescape(name)
	if derr == nil {
		name = decoded
	}
	name = strings.TrimSuffix(name, ".")
	name = strings.TrimSuffix(name, ".local")

	idx := strings.Index(name, "._")
	if idx < 0 {
		return "", "", fmt.Errorf("invalid dnssd name %q", name)
	}
	return name[:idx], name[idx+1:], nil
}
