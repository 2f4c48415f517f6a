//go:build !linux

package neighbor

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"
)

// Resolve only handles broadcast and multicast destinations off Linux;
// anything else needs link.dst_mac configured.
func Resolve(_ context.Context, iface string, dst netip.Addr, _ time.Duration) (*Result, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("resolve on %q: %w", iface, err)
	}
	if mac, ok := staticMAC(dst); ok {
		return &Result{Interface: ifi, SrcMAC: ifi.HardwareAddr, DstMAC: mac, NextHop: dst, Source: "static"}, nil
	}
	return nil, fmt.Errorf("resolve %s: %w", dst, ErrUnsupported)
}
