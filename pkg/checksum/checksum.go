// Package checksum implements the Internet ones'-complement checksum
// (RFC 1071) and the IPv4 pseudo-header used by transport checksums.
package checksum

import (
	"encoding/binary"
	"net/netip"

	"firestige.xyz/pktcraft/pkg/core"
)

// PseudoHeaderLen is the size of the IPv4 pseudo-header in bytes.
const PseudoHeaderLen = 12

// Checksum returns the ones' complement of the ones' complement sum of all
// 16-bit big-endian words in data. An odd trailing byte is padded as the high
// byte of a final word. Checksum(nil) is 0xFFFF.
func Checksum(data []byte) uint16 {
	var acc Accumulator
	acc.Write(data)
	return acc.Sum16()
}

// NeverZero maps a computed checksum of 0 to 0xFFFF. Both are zero in ones'
// complement arithmetic; UDP reserves 0 on the wire for "no checksum".
func NeverZero(sum uint16) uint16 {
	if sum == 0 {
		return 0xFFFF
	}
	return sum
}

// Accumulator keeps a running ones' complement sum over discontiguous ranges.
// The zero value is ready to use.
type Accumulator struct {
	sum uint64
	// odd holds the high byte of a word split across two Write calls.
	odd    byte
	hasOdd bool
}

// Write adds p to the running sum. Byte alignment carries across calls, so
// writing "ab" then "cd" equals writing "abcd".
func (a *Accumulator) Write(p []byte) {
	if len(p) == 0 {
		return
	}
	if a.hasOdd {
		a.sum += uint64(a.odd)<<8 | uint64(p[0])
		a.hasOdd = false
		p = p[1:]
	}
	n := len(p) &^ 1
	for i := 0; i < n; i += 2 {
		a.sum += uint64(binary.BigEndian.Uint16(p[i:]))
	}
	if n < len(p) {
		a.odd = p[n]
		a.hasOdd = true
	}
}

// AddUint16 adds a 16-bit value interpreted in network order.
func (a *Accumulator) AddUint16(v uint16) {
	a.flushOdd()
	a.sum += uint64(v)
}

// AddUint32 adds a 32-bit value as two network order words.
func (a *Accumulator) AddUint32(v uint32) {
	a.AddUint16(uint16(v >> 16))
	a.AddUint16(uint16(v))
}

// Sum16 folds the carries and returns the complemented checksum. It does not
// modify the accumulator.
func (a *Accumulator) Sum16() uint16 {
	sum := a.sum
	if a.hasOdd {
		sum += uint64(a.odd) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}

// Reset zeros the accumulator.
func (a *Accumulator) Reset() { *a = Accumulator{} }

func (a *Accumulator) flushOdd() {
	if a.hasOdd {
		a.sum += uint64(a.odd) << 8
		a.hasOdd = false
	}
}

// PseudoHeader is the IPv4 pseudo-header folded into UDP and TCP checksums.
// It is never transmitted.
type PseudoHeader struct {
	Src      [4]byte
	Dst      [4]byte
	Zero     uint8
	Protocol uint8
	Length   uint16
}

// NewPseudoHeader builds a pseudo-header for an IPv4 transport segment of the
// given length. The zero field is always 0.
func NewPseudoHeader(src, dst netip.Addr, protocol uint8, length uint16) (PseudoHeader, error) {
	if !src.Is4() || !dst.Is4() {
		return PseudoHeader{}, core.ErrUnsupportedAddressFamily
	}
	return PseudoHeader{
		Src:      src.As4(),
		Dst:      dst.As4(),
		Protocol: protocol,
		Length:   length,
	}, nil
}

// Marshal returns the 12 wire bytes of the pseudo-header.
func (p PseudoHeader) Marshal() []byte {
	b := make([]byte, PseudoHeaderLen)
	copy(b[0:4], p.Src[:])
	copy(b[4:8], p.Dst[:])
	b[8] = 0
	b[9] = p.Protocol
	binary.BigEndian.PutUint16(b[10:12], p.Length)
	return b
}

// Sum adds the pseudo-header to acc.
func (p PseudoHeader) Sum(acc *Accumulator) {
	acc.Write(p.Src[:])
	acc.Write(p.Dst[:])
	acc.AddUint16(uint16(p.Protocol))
	acc.AddUint16(p.Length)
}
