//go:build linux

package neighbor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/mdlayher/arp"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// Resolve finds the source and destination MAC for a frame leaving iface
// towards dst. Off-link destinations resolve to their gateway. The kernel
// neighbour table is consulted first; on a miss an ARP request is sent and
// the reply awaited for at most timeout, or until ctx is done.
func Resolve(ctx context.Context, iface string, dst netip.Addr, timeout time.Duration) (*Result, error) {
	if !dst.Is4() {
		return nil, fmt.Errorf("resolve %s: only IPv4 destinations are supported", dst)
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("resolve on %q: %w", iface, err)
	}
	res := &Result{Interface: ifi, SrcMAC: ifi.HardwareAddr, NextHop: dst}

	if mac, ok := staticMAC(dst); ok {
		res.DstMAC, res.Source = mac, "static"
		return res, nil
	}

	if hop, err := nextHop(dst); err != nil {
		slog.Debug("route lookup failed, assuming on-link", "dst", dst, "error", err)
	} else {
		res.NextHop = hop
	}

	if mac := queryKernelNeighbor(ifi.Index, res.NextHop); mac != nil {
		res.DstMAC, res.Source = mac, "cache"
		return res, nil
	}

	mac, err := resolveARP(ctx, ifi, res.NextHop, budget(timeout))
	if err != nil {
		return nil, err
	}
	res.DstMAC, res.Source = mac, "arp"
	return res, nil
}

// nextHop returns the gateway the kernel would route dst through, or dst
// itself when it is directly connected.
func nextHop(dst netip.Addr) (netip.Addr, error) {
	routes, err := netlink.RouteGet(net.IP(dst.AsSlice()))
	if err != nil {
		return netip.Addr{}, err
	}
	for _, r := range routes {
		if gw, ok := netip.AddrFromSlice(r.Gw); ok && gw.Unmap().Is4() && !gw.IsUnspecified() {
			return gw.Unmap(), nil
		}
	}
	return dst, nil
}

// queryKernelNeighbor looks ip up in the neighbour table of ifIndex.
// Entries still being resolved or known to be unreachable are ignored.
func queryKernelNeighbor(ifIndex int, ip netip.Addr) net.HardwareAddr {
	neighbors, err := netlink.NeighList(ifIndex, unix.AF_INET)
	if err != nil {
		slog.Debug("failed to list neighbors", "error", err)
		return nil
	}

	for _, n := range neighbors {
		neighIP, ok := netip.AddrFromSlice(n.IP)
		if !ok || neighIP.Unmap() != ip {
			continue
		}
		if n.State&(netlink.NUD_REACHABLE|netlink.NUD_STALE|netlink.NUD_PERMANENT|netlink.NUD_DELAY|netlink.NUD_PROBE) == 0 {
			continue
		}
		if len(n.HardwareAddr) == 6 {
			return n.HardwareAddr
		}
	}
	return nil
}

func resolveARP(ctx context.Context, ifi *net.Interface, ip netip.Addr, timeout time.Duration) (net.HardwareAddr, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := arp.Dial(ifi)
	if err != nil {
		return nil, fmt.Errorf("arp on %s: %w", ifi.Name, err)
	}
	defer c.Close()

	dl := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(dl) {
		dl = d
	}
	if err := c.SetDeadline(dl); err != nil {
		return nil, fmt.Errorf("arp on %s: %w", ifi.Name, err)
	}

	// Unblock Resolve when ctx is cancelled before the deadline.
	stop := context.AfterFunc(ctx, func() { _ = c.SetDeadline(time.Now()) })
	defer stop()

	mac, err := c.Resolve(ip)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("arp %s on %s: %v: %w", ip, ifi.Name, err, ErrNotFound)
	}
	return mac, nil
}
