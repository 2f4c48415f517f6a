package socket

import (
	"log/slog"

	"firestige.xyz/pktcraft/pkg/ipv4"
	"firestige.xyz/pktcraft/pkg/link"
)

// Family is the network-layer address family of a socket.
type Family uint8

const (
	FamilyIPv4 Family = 4
	FamilyIPv6 Family = 6
)

// Protocol is the transport protocol number carried in the IPv4 header.
type Protocol uint8

const (
	ProtocolTCP Protocol = ipv4.ProtocolTCP
	ProtocolUDP Protocol = ipv4.ProtocolUDP
)

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "tcp"
	case ProtocolUDP:
		return "udp"
	default:
		return "unknown"
	}
}

// Metrics receives per-send accounting. internal/metrics provides a
// Prometheus implementation.
type Metrics interface {
	DatagramSent(link string, bytes int)
	SendFailed(link, reason string)
	IDsInUse(n int)
}

type nopMetrics struct{}

func (nopMetrics) DatagramSent(string, int)  {}
func (nopMetrics) SendFailed(string, string) {}
func (nopMetrics) IDsInUse(int)              {}

// Option configures a Socket.
type Option func(*Socket)

func WithFamily(f Family) Option {
	return func(s *Socket) { s.family = f }
}

func WithProtocol(p Protocol) Option {
	return func(s *Socket) { s.protocol = p }
}

// WithLink sets the link every datagram is handed to. Required.
func WithLink(l link.Link) Option {
	return func(s *Socket) { s.link = l }
}

// WithIPv4Options shares an options object with the socket. By default each
// socket gets its own from ipv4.NewSocketOptions.
func WithIPv4Options(o *ipv4.SocketOptions) Option {
	return func(s *Socket) {
		if o != nil {
			s.opts = o
		}
	}
}

// WithAllocator sets the identification allocator. By default the
// process-wide ipv4.DefaultAllocator is used.
func WithAllocator(a *ipv4.IDAllocator) Option {
	return func(s *Socket) {
		if a != nil {
			s.ids = a
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Socket) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(s *Socket) {
		if m != nil {
			s.metrics = m
		}
	}
}
