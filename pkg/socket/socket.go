// Package socket is the send entry point: it owns a link and the IPv4
// options, and turns transport datagrams into framed IPv4 packets.
package socket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync/atomic"

	"firestige.xyz/pktcraft/pkg/buffer"
	"firestige.xyz/pktcraft/pkg/core"
	"firestige.xyz/pktcraft/pkg/ipv4"
	"firestige.xyz/pktcraft/pkg/link"
	"firestige.xyz/pktcraft/pkg/udp"
)

var ErrClosed = errors.New("pktcraft: socket closed")

// Socket sends datagrams over one link. It is safe for concurrent use.
type Socket struct {
	family   Family
	protocol Protocol
	link     link.Link
	opts     *ipv4.SocketOptions
	ids      *ipv4.IDAllocator
	logger   *slog.Logger
	metrics  Metrics

	closed atomic.Bool
}

// New creates an IPv4 socket. A link is required; the protocol defaults to
// UDP.
func New(opts ...Option) (*Socket, error) {
	s := &Socket{
		family:   FamilyIPv4,
		protocol: ProtocolUDP,
		opts:     ipv4.NewSocketOptions(),
		ids:      ipv4.DefaultAllocator(),
		logger:   slog.Default(),
		metrics:  nopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.family != FamilyIPv4 {
		return nil, fmt.Errorf("socket family %d: %w", s.family, core.ErrUnsupportedAddressFamily)
	}
	if s.protocol != ProtocolUDP && s.protocol != ProtocolTCP {
		return nil, fmt.Errorf("socket protocol %d: %w", s.protocol, core.ErrUnsupportedProtocol)
	}
	if err := link.Validate(s.link); err != nil {
		return nil, fmt.Errorf("socket: %v: %w", err, core.ErrConfigInvalid)
	}
	s.logger = s.logger.With("link", s.link.Kind().String())
	return s, nil
}

// Options returns the live IPv4 options; setters take effect on the next
// send.
func (s *Socket) Options() *ipv4.SocketOptions { return s.opts }

func (s *Socket) Link() link.Link              { return s.link }
func (s *Socket) Protocol() Protocol           { return s.protocol }
func (s *Socket) Family() Family               { return s.family }
func (s *Socket) Allocator() *ipv4.IDAllocator { return s.ids }

// TransmitIPv4 wraps datagram in an IPv4 header built from the socket
// options and hands the packet to the link. The identification value is
// returned to the allocator before TransmitIPv4 returns, whatever the
// outcome. Packets larger than the configured MTU are rejected with
// core.ErrMessageTooLong.
func (s *Socket) TransmitIPv4(ctx context.Context, src, dst netip.Addr, protocol uint8, datagram []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	kind := s.link.Kind().String()

	h, err := ipv4.Build(s.ids, s.opts.Params(src, dst, protocol, len(datagram)))
	if err != nil {
		s.metrics.SendFailed(kind, reason(err))
		return 0, err
	}
	defer func() {
		h.Release()
		s.metrics.IDsInUse(s.ids.InUse())
	}()

	size := h.Len() + len(datagram)
	if mtu := int(s.opts.MTU()); mtu > 0 && size > mtu {
		s.metrics.SendFailed(kind, "mtu")
		return 0, fmt.Errorf("packet %d bytes > mtu %d: %w", size, mtu, core.ErrMessageTooLong)
	}

	pkt, err := buffer.Compose(h.Marshal(), datagram)
	if err != nil {
		s.metrics.SendFailed(kind, reason(err))
		return 0, err
	}

	n, err := s.link.Transmit(ctx, pkt)
	if err != nil {
		s.metrics.SendFailed(kind, reason(err))
		s.logger.Debug("transmit failed", "src", src, "dst", dst, "id", h.ID, "error", err)
		return n, err
	}
	s.metrics.DatagramSent(kind, n)
	s.logger.Debug("datagram sent", "src", src, "dst", dst, "proto", protocol, "id", h.ID, "len", n)
	return n, nil
}

// SendUDP sends payload as one UDP datagram.
func (s *Socket) SendUDP(ctx context.Context, src, dst netip.AddrPort, payload []byte) (int, error) {
	return udp.Send(ctx, s, src, dst, payload)
}

// Send dispatches on the transport protocol. Only UDP is implemented.
func (s *Socket) Send(ctx context.Context, proto Protocol, src, dst netip.AddrPort, payload []byte) (int, error) {
	switch proto {
	case ProtocolUDP:
		return s.SendUDP(ctx, src, dst, payload)
	default:
		s.metrics.SendFailed(s.link.Kind().String(), "protocol")
		return 0, fmt.Errorf("send %s: %w", proto, core.ErrUnsupportedProtocol)
	}
}

// SendTo sends with the protocol the socket was created for.
func (s *Socket) SendTo(ctx context.Context, src, dst netip.AddrPort, payload []byte) (int, error) {
	return s.Send(ctx, s.protocol, src, dst, payload)
}

// Close releases the link. Further sends fail with ErrClosed.
func (s *Socket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.link.Close()
}

// reason classifies err for the send-failure metric.
func reason(err error) string {
	switch {
	case errors.Is(err, core.ErrIDSpaceExhausted):
		return "id_exhausted"
	case errors.Is(err, core.ErrUnsupportedAddressFamily):
		return "address_family"
	case errors.Is(err, core.ErrAllocation):
		return "allocation"
	case errors.Is(err, ipv4.ErrOptionsTooLong), errors.Is(err, ipv4.ErrDatagramTooLarge):
		return "size"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, core.ErrSink):
		return "sink"
	default:
		return "other"
	}
}
