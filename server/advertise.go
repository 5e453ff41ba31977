package server

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/hashicorp/mdns"
	"github.com/mbocsi/especial/proto"
)

// Advertiser announces a transport on the local network over mDNS.
type Advertiser struct {
	server *mdns.Server
}

// Advertise announces t under instance. WebSocket transports use
// proto.ServiceWebSocket, everything else proto.ServiceTCP.
func Advertise(instance string, t Transport) (*Advertiser, error) {
	meta := t.Meta()
	_, portStr, err := net.SplitHostPort(meta.Address)
	if err != nil {
		return nil, fmt.Errorf("advertise %s: %w", meta.Address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("advertise %s: invalid port: %w", meta.Address, err)
	}

	service := proto.ServiceTCP
	if meta.Protocol == "websocket" {
		service = proto.ServiceWebSocket
	}
	info := []string{"protocol=" + meta.Protocol}
	if meta.Name != "" {
		info = append(info, "name="+meta.Name)
	}

	zone, err := mdns.NewMDNSService(instance, service, "", "", port, nil, info)
	if err != nil {
		return nil, fmt.Errorf("advertise %s: %w", service, err)
	}
	srv, err := mdns.NewServer(&mdns.Config{Zone: zone})
	if err != nil {
		return nil, fmt.Errorf("advertise %s: %w", service, err)
	}

	slog.Info("Advertising server over mDNS", "service", service, "instance", instance, "port", port)
	return &Advertiser{server: srv}, nil
}

func (a *Advertiser) Shutdown() error {
	if a == nil || a.server == nil {
		return nil
	}
	return a.server.Shutdown()
}
