package gateway

import (
	"context"
	"fmt"
	"net"

	"github.com/halcyon-labs/edgelink/internal/events"
)

// NetworkInventoryCollector lists the gateway's network interfaces.
type NetworkInventoryCollector struct{}

func NewNetworkInventoryCollector() *NetworkInventoryCollector {
	return &NetworkInventoryCollector{}
}

func (c *NetworkInventoryCollector) Name() string { return "network_inventory" }

func (c *NetworkInventoryCollector) Collect(ctx context.Context) (string, any, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", nil, fmt.Errorf("network inventory: %w", err)
	}

	ev := events.NetworkInventoryEvent{Header: events.NewHeader()}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		entry := events.NetworkInterface{
			Name: iface.Name,
			MAC:  iface.HardwareAddr.String(),
		}
		addrs, err := iface.Addrs()
		if err == nil {
			for _, addr := range addrs {
				entry.Addresses = append(entry.Addresses, addr.String())
			}
		}
		ev.Interfaces = append(ev.Interfaces, entry)
	}
	return events.StreamNetworkInventory, ev, nil
}
