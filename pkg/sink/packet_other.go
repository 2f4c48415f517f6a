//go:build !linux

package sink

import (
	"context"
	"errors"
	"fmt"
	"net"

	"firestige.xyz/pktcraft/pkg/core"
)

const TypePacket = "packet"

var errNoPacketSocket = errors.New("raw packet sockets are only available on linux")

// Packet is unavailable on this platform.
type Packet struct{}

func OpenPacket(iface string) (*Packet, error) {
	return nil, fmt.Errorf("packet sink %q: %w: %w", iface, errNoPacketSocket, core.ErrConfigInvalid)
}

func (p *Packet) WriteFrame(context.Context, []byte) (int, error) {
	return 0, core.NewSinkError("packet write", errNoPacketSocket)
}

func (p *Packet) Interface() *net.Interface { return nil }

func (p *Packet) Close() error { return nil }
