// Package neighbor resolves the Ethernet addresses an outgoing frame needs
// when they are not configured: the interface's own MAC as source and the
// next hop's MAC as destination.
package neighbor

import (
	"errors"
	"net"
	"net/netip"
	"time"
)

// DefaultTimeout bounds the ARP fallback when the caller sets none.
const DefaultTimeout = 2 * time.Second

var (
	ErrNotFound    = errors.New("pktcraft: neighbor not resolved")
	ErrUnsupported = errors.New("pktcraft: neighbor resolution not supported on this platform")
)

var broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Result is the outcome of a resolution.
type Result struct {
	Interface *net.Interface
	SrcMAC    net.HardwareAddr
	DstMAC    net.HardwareAddr
	NextHop   netip.Addr

	// Source names where DstMAC came from: "static", "cache" or "arp".
	Source string
}

// staticMAC maps destinations whose MAC follows from the address alone.
// Limited broadcast goes to ff:ff:ff:ff:ff:ff and IPv4 multicast to
// 01:00:5e plus the low 23 bits of the group (RFC 1112).
func staticMAC(dst netip.Addr) (net.HardwareAddr, bool) {
	if !dst.Is4() {
		return nil, false
	}
	if dst == netip.AddrFrom4([4]byte{255, 255, 255, 255}) {
		return append(net.HardwareAddr(nil), broadcastMAC...), true
	}
	if dst.IsMulticast() {
		a := dst.As4()
		return net.HardwareAddr{0x01, 0x00, 0x5e, a[1] & 0x7f, a[2], a[3]}, true
	}
	return nil, false
}

func budget(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return DefaultTimeout
	}
	return timeout
}
