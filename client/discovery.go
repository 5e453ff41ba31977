package client

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/mbocsi/especial/proto"
)

// DiscoveredService represents a server found through mDNS.
type DiscoveredService struct {
	ServiceName string
	Address     string
	Port        int
	Transport   string // "tcp" or "websocket"
	TXTRecords  []string
}

// URL returns the address to pass to New for the matching transport factory.
func (s *DiscoveredService) URL() string {
	host := net.JoinHostPort(s.Address, strconv.Itoa(s.Port))
	if s.Transport == "websocket" {
		return "ws://" + host + "/"
	}
	return "tcp://" + host
}

// Factory returns the transport factory matching the discovered service.
func (s *DiscoveredService) Factory() TransportFactory {
	if s.Transport == "tcp" {
		return TCPFactory
	}
	return WebSocketFactory
}

// discoverService returns the first server answering for serviceType.
func discoverService(serviceType string, timeout time.Duration) (*DiscoveredService, error) {
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	// Buffered so late answers never block the query.
	entriesCh := make(chan *mdns.ServiceEntry, 16)
	params := mdns.DefaultParams(serviceType)
	params.Entries = entriesCh
	params.Timeout = timeout
	params.DisableIPv6 = true

	errCh := make(chan error, 1)
	go func() {
		errCh <- mdns.Query(params)
	}()

	deadline := time.NewTimer(timeout + time.Second)
	defer deadline.Stop()
	return awaitService(serviceType, entriesCh, errCh, deadline.C)
}

// awaitService returns the first usable entry. Entries that do not describe a
// reachable service are skipped without moving the deadline.
func awaitService(serviceType string, entriesCh <-chan *mdns.ServiceEntry, errCh <-chan error, deadline <-chan time.Time) (*DiscoveredService, error) {
	for {
		select {
		case entry := <-entriesCh:
			service, ok := toService(serviceType, entry)
			if !ok {
				continue
			}
			slog.Info("Discovered server",
				"service_name", service.ServiceName,
				"address", service.Address,
				"port", service.Port,
				"transport", service.Transport,
			)
			return service, nil

		case err := <-errCh:
			if err != nil {
				return nil, fmt.Errorf("mDNS query for %s: %w", serviceType, err)
			}
			return nil, fmt.Errorf("no %s service found", serviceType)

		case <-deadline:
			return nil, fmt.Errorf("mDNS discovery timeout for %s", serviceType)
		}
	}
}

func toService(serviceType string, entry *mdns.ServiceEntry) (*DiscoveredService, bool) {
	if entry == nil {
		return nil, false
	}
	var address string
	if entry.AddrV4 != nil {
		address = entry.AddrV4.String()
	} else if entry.AddrV6 != nil {
		address = entry.AddrV6.String()
	} else {
		return nil, false
	}

	var transport string
	switch serviceType {
	case proto.ServiceTCP:
		transport = "tcp"
	case proto.ServiceWebSocket:
		transport = "websocket"
	}

	return &DiscoveredService{
		ServiceName: entry.Name,
		Address:     address,
		Port:        entry.Port,
		Transport:   transport,
		TXTRecords:  entry.InfoFields,
	}, true
}

// DiscoverTCPService discovers the first available TCP server
func DiscoverTCPService(timeout time.Duration) (*DiscoveredService, error) {
	return discoverService(proto.ServiceTCP, timeout)
}

// DiscoverWebSocketService discovers the first available WebSocket server
func DiscoverWebSocketService(timeout time.Duration) (*DiscoveredService, error) {
	return discoverService(proto.ServiceWebSocket, timeout)
}
