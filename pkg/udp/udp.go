// Package udp builds UDP datagrams and hands them to an IPv4 transmitter.
package udp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"firestige.xyz/pktcraft/pkg/buffer"
	"firestige.xyz/pktcraft/pkg/checksum"
	"firestige.xyz/pktcraft/pkg/core"
)

const (
	HeaderLen      = 8
	ProtocolNumber = 17
	MaxPayloadLen  = 65535 - HeaderLen
)

var ErrPayloadTooLarge = errors.New("pktcraft: udp payload too large")

// Header is a UDP header. Length and Checksum are filled in by Build.
type Header struct {
	SrcPort  uint16
	DstPort  uint16
	Length   uint16
	Checksum uint16
}

// Transmitter sends a transport datagram inside an IPv4 packet.
type Transmitter interface {
	TransmitIPv4(ctx context.Context, src, dst netip.Addr, protocol uint8, datagram []byte) (int, error)
}

// Build returns the header for payload sent from src to dst. The checksum
// covers the IPv4 pseudo-header, the header and the payload; a computed zero
// is sent as 0xFFFF.
func Build(src, dst netip.AddrPort, payload []byte) (Header, error) {
	if len(payload) > MaxPayloadLen {
		return Header{}, fmt.Errorf("udp payload %d bytes: %w", len(payload), ErrPayloadTooLarge)
	}
	length := uint16(HeaderLen + len(payload))

	ph, err := checksum.NewPseudoHeader(src.Addr(), dst.Addr(), ProtocolNumber, length)
	if err != nil {
		return Header{}, err
	}

	h := Header{
		SrcPort: src.Port(),
		DstPort: dst.Port(),
		Length:  length,
	}

	var acc checksum.Accumulator
	ph.Sum(&acc)
	acc.Write(h.Marshal())
	acc.Write(payload)
	h.Checksum = checksum.NeverZero(acc.Sum16())
	return h, nil
}

// Marshal returns the 8-byte wire encoding.
func (h Header) Marshal() []byte {
	b := make([]byte, HeaderLen)
	h.put(b)
	return b
}

// MarshalTo writes the header into b.
func (h Header) MarshalTo(b []byte) (int, error) {
	if len(b) < HeaderLen {
		return 0, fmt.Errorf("udp: buffer %d bytes, need %d", len(b), HeaderLen)
	}
	h.put(b)
	return HeaderLen, nil
}

func (h Header) put(b []byte) {
	binary.BigEndian.PutUint16(b[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(b[2:4], h.DstPort)
	binary.BigEndian.PutUint16(b[4:6], h.Length)
	binary.BigEndian.PutUint16(b[6:8], h.Checksum)
}

// Datagram builds the header and returns it composed with the payload.
func Datagram(src, dst netip.AddrPort, payload []byte) ([]byte, error) {
	h, err := Build(src, dst, payload)
	if err != nil {
		return nil, err
	}
	return buffer.Compose(h.Marshal(), payload)
}

// Send builds a datagram and transmits it through tx. It returns the byte
// count reported by the link.
func Send(ctx context.Context, tx Transmitter, src, dst netip.AddrPort, payload []byte) (int, error) {
	if tx == nil {
		return 0, fmt.Errorf("udp send: nil transmitter: %w", core.ErrConfigInvalid)
	}
	datagram, err := Datagram(src, dst, payload)
	if err != nil {
		return 0, err
	}
	return tx.TransmitIPv4(ctx, src.Addr(), dst.Addr(), ProtocolNumber, datagram)
}
