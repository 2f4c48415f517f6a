// Package ipv4 builds IPv4 headers and manages the identification space they
// draw from.
package ipv4

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"firestige.xyz/pktcraft/pkg/checksum"
	"firestige.xyz/pktcraft/pkg/core"
)

const (
	Version       = 4
	HeaderLen     = 20
	MaxHeaderLen  = 60
	MaxOptionsLen = MaxHeaderLen - HeaderLen
	MaxPacketLen  = 65535

	DefaultTTL = 64

	// TOS used by Routine: low delay, routine precedence.
	routineTOS = TOSLowDelay

	ProtocolTCP = 6
	ProtocolUDP = 17
)

var (
	ErrOptionsTooLong   = errors.New("pktcraft: ipv4 options exceed header")
	ErrDatagramTooLarge = errors.New("pktcraft: ipv4 datagram too large")
)

// HeaderParams describes one datagram's header.
type HeaderParams struct {
	Src        netip.Addr
	Dst        netip.Addr
	TOS        uint8
	Flags      Flags
	FragOffset uint16 // in 8-octet units
	TTL        uint8
	Protocol   uint8
	Option     *Option
	PayloadLen int
}

// Header is a built IPv4 header. It holds an identification lease until
// Release is called.
type Header struct {
	IHL        uint8
	TOS        uint8
	TotalLen   uint16
	ID         uint16
	Flags      Flags
	FragOffset uint16
	TTL        uint8
	Protocol   uint8
	Checksum   uint16
	Src        [4]byte
	Dst        [4]byte
	Options    []byte // padded to a 4-byte boundary

	lease *Lease
}

// Build validates p, reserves an identification value from ids and returns
// the header with its checksum filled in. The caller must Release the header
// once the datagram has been handed off.
func Build(ids *IDAllocator, p HeaderParams) (*Header, error) {
	if !p.Src.Is4() || !p.Dst.Is4() {
		return nil, fmt.Errorf("ipv4 header %s -> %s: %w", p.Src, p.Dst, core.ErrUnsupportedAddressFamily)
	}

	opts, err := p.Option.encode()
	if err != nil {
		return nil, err
	}
	hlen := HeaderLen + len(opts)
	if hlen > MaxHeaderLen {
		return nil, fmt.Errorf("header %d bytes: %w", hlen, ErrOptionsTooLong)
	}
	if p.PayloadLen < 0 || hlen+p.PayloadLen > MaxPacketLen {
		return nil, fmt.Errorf("datagram %d bytes: %w", hlen+p.PayloadLen, ErrDatagramTooLarge)
	}

	if ids == nil {
		ids = DefaultAllocator()
	}
	lease, err := ids.Acquire()
	if err != nil {
		return nil, err
	}

	h := &Header{
		IHL:        uint8(hlen / 4),
		TOS:        p.TOS,
		TotalLen:   uint16(hlen + p.PayloadLen),
		ID:         lease.ID(),
		Flags:      p.Flags & flagsMask,
		FragOffset: p.FragOffset & fragOffsetMask,
		TTL:        p.TTL,
		Protocol:   p.Protocol,
		Src:        p.Src.As4(),
		Dst:        p.Dst.As4(),
		Options:    opts,
		lease:      lease,
	}
	h.Checksum = checksum.Checksum(h.marshal(false))
	return h, nil
}

// Routine builds a header with the defaults used for plain datagrams: low
// delay TOS, no flags, TTL 64 and no options.
func Routine(ids *IDAllocator, src, dst netip.Addr, protocol uint8, payloadLen int) (*Header, error) {
	return Build(ids, HeaderParams{
		Src:        src,
		Dst:        dst,
		TOS:        routineTOS,
		TTL:        DefaultTTL,
		Protocol:   protocol,
		PayloadLen: payloadLen,
	})
}

// Len returns the header size in bytes, options included.
func (h *Header) Len() int { return int(h.IHL) * 4 }

// Marshal returns the wire encoding of the header.
func (h *Header) Marshal() []byte { return h.marshal(true) }

// MarshalTo writes the header into b and returns the number of bytes written.
func (h *Header) MarshalTo(b []byte) (int, error) {
	n := h.Len()
	if len(b) < n {
		return 0, fmt.Errorf("ipv4: buffer %d bytes, need %d", len(b), n)
	}
	return copy(b, h.marshal(true)), nil
}

// Release returns the identification value to its allocator. It is safe to
// call more than once.
func (h *Header) Release() {
	if h != nil {
		h.lease.Release()
	}
}

func (h *Header) marshal(withChecksum bool) []byte {
	b := make([]byte, h.Len())
	b[0] = Version<<4 | h.IHL&0x0f
	b[1] = h.TOS
	binary.BigEndian.PutUint16(b[2:4], h.TotalLen)
	binary.BigEndian.PutUint16(b[4:6], h.ID)
	binary.BigEndian.PutUint16(b[6:8], uint16(h.Flags)|h.FragOffset&fragOffsetMask)
	b[8] = h.TTL
	b[9] = h.Protocol
	if withChecksum {
		binary.BigEndian.PutUint16(b[10:12], h.Checksum)
	}
	copy(b[12:16], h.Src[:])
	copy(b[16:20], h.Dst[:])
	copy(b[HeaderLen:], h.Options)
	return b
}
