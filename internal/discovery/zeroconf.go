package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/arjunv/filepipe/pkg/models"
)

// zeroconfPublisher publishes instances via github.com/grandcat/zeroconf,
// the production mDNS/DNS-SD registrar for this engine (no example repo
// in the pack covers service discovery, so this is an ecosystem pick —
// see DESIGN.md).
type zeroconfPublisher struct{}

// NewZeroconfPublisher returns the production Publisher.
func NewZeroconfPublisher() Publisher {
	return zeroconfPublisher{}
}

type zeroconfHandle struct {
	server *zeroconf.Server
}

func (h *zeroconfHandle) Unpublish() error {
	if h.server == nil {
		return nil
	}
	h.server.Shutdown()
	return nil
}

func (zeroconfPublisher) Publish(instance string, port int, txt map[string]string) (Handle, error) {
	records := make([]string, 0, len(txt))
	for k, v := range txt {
		records = append(records, fmt.Sprintf("%s=%s", k, v))
	}

	server, err := zeroconf.Register(instance, ServiceType, "local.", port, records, nil)
	if err != nil {
		return nil, models.NewError(models.ErrBindFailed, err)
	}
	return &zeroconfHandle{server: server}, nil
}

// zeroconfBrowser browses for ServiceType instances via zeroconf's resolver.
type zeroconfBrowser struct{}

// NewZeroconfBrowser returns the production Browser.
func NewZeroconfBrowser() Browser {
	return zeroconfBrowser{}
}

func (zeroconfBrowser) Browse(ctx context.Context, window time.Duration) ([]models.DiscoveredService, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("create mdns resolver: %w", err)
	}

	windowCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	seen := make(map[string]int) // instance -> index into order, for first-seen dedup
	var order []models.DiscoveredService

	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
			for _, ip := range entry.AddrIPv4 {
				addrs = append(addrs, ip.String())
			}
			for _, ip := range entry.AddrIPv6 {
				addrs = append(addrs, ip.String())
			}
			// Hostname comes from the TXT "hostname" key the publisher
			// sets, falling back to the mDNS host name if it is absent.
			hostname := entry.HostName
			for _, kv := range entry.Text {
				if v, ok := strings.CutPrefix(kv, "hostname="); ok {
					hostname = v
					break
				}
			}
			svc := models.DiscoveredService{
				Name:      entry.Instance,
				Host:      entry.HostName,
				Addresses: addrs,
				Port:      entry.Port,
				Hostname:  hostname,
			}
			if idx, ok := seen[entry.Instance]; ok {
				order[idx] = svc
				continue
			}
			seen[entry.Instance] = len(order)
			order = append(order, svc)
		}
	}()

	if err := resolver.Browse(windowCtx, ServiceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("browse %s: %w", ServiceType, err)
	}

	<-windowCtx.Done()
	<-done

	return order, nil
}
