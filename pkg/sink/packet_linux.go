//go:build linux

package sink

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/mdlayher/packet"
	"golang.org/x/sys/unix"

	"firestige.xyz/pktcraft/pkg/core"
)

const TypePacket = "packet"

func init() {
	Register(TypePacket, func(cfg Config) (Sink, error) {
		return OpenPacket(cfg.Interface)
	})
}

// Packet writes complete Ethernet frames to an AF_PACKET raw socket.
type Packet struct {
	mu   sync.Mutex
	conn *packet.Conn
	ifi  *net.Interface
}

// OpenPacket binds a raw socket to the named interface. It needs
// CAP_NET_RAW.
func OpenPacket(iface string) (*Packet, error) {
	if iface == "" {
		return nil, fmt.Errorf("packet sink: interface is required: %w", core.ErrConfigInvalid)
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, core.NewSinkError("packet interface", err)
	}
	filter, err := dropAll()
	if err != nil {
		return nil, core.NewSinkError("packet filter", err)
	}
	conn, err := packet.Listen(ifi, packet.Raw, unix.ETH_P_ALL, &packet.Config{Filter: filter})
	if err != nil {
		return nil, core.NewSinkError("packet listen", err)
	}
	return &Packet{conn: conn, ifi: ifi}, nil
}

func (p *Packet) WriteFrame(ctx context.Context, frame []byte) (int, error) {
	if err := checkContext(ctx, "packet write"); err != nil {
		return 0, err
	}
	if len(frame) < 14 {
		return 0, core.NewSinkError("packet write", fmt.Errorf("frame of %d bytes has no ethernet header", len(frame)))
	}

	// a zero deadline clears the previous one
	deadline, _ := ctx.Deadline()
	addr := &packet.Addr{HardwareAddr: net.HardwareAddr(frame[0:6])}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.conn.SetWriteDeadline(deadline); err != nil {
		return 0, core.NewSinkError("packet deadline", err)
	}
	n, err := p.conn.WriteTo(frame, addr)
	if err != nil {
		return n, core.NewSinkError("packet write", err)
	}
	return n, nil
}

// Interface returns the interface the socket is bound to.
func (p *Packet) Interface() *net.Interface { return p.ifi }

func (p *Packet) Close() error {
	if err := p.conn.Close(); err != nil {
		return core.NewSinkError("packet close", err)
	}
	return nil
}
