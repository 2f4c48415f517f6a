package ipv4

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"sync"
)

// Flags holds the three control bits of the flags/fragment-offset word.
type Flags uint16

const (
	DontFragment  Flags = 0x4000
	MoreFragments Flags = 0x2000

	flagsMask      = 0xE000
	fragOffsetMask = 0x1FFF
)

// Precedence is the 3-bit precedence subfield of the RFC 791 type of service.
type Precedence uint8

const (
	PrecedenceRoutine Precedence = iota
	PrecedencePriority
	PrecedenceImmediate
	PrecedenceFlash
	PrecedenceFlashOverride
	PrecedenceCritic
	PrecedenceInternetworkControl
	PrecedenceNetworkControl
)

// TOS bits (RFC 791, MSB first: PPP D T R 0 0).
const (
	TOSLowDelay        uint8 = 1 << 4
	TOSHighThroughput  uint8 = 1 << 3
	TOSHighReliability uint8 = 1 << 2
)

// OptionClass is the 2-bit class of an IPv4 option type octet.
type OptionClass uint8

const (
	OptionClassControl OptionClass = 0
	OptionClassDebug   OptionClass = 2
)

// OptionNumber is the 5-bit number of an IPv4 option type octet.
type OptionNumber uint8

const (
	OptionEndOfList          OptionNumber = 0
	OptionNoOperation        OptionNumber = 1
	OptionSecurity           OptionNumber = 2
	OptionLooseSourceRouting OptionNumber = 3
	OptionInternetTimestamp  OptionNumber = 4
	OptionRecordRoute        OptionNumber = 7
	OptionStreamID           OptionNumber = 8
	OptionStrictSourceRoute  OptionNumber = 9
)

// OptionType is the full option type octet: copied(1) | class(2) | number(5).
type OptionType uint8

// NewOptionType packs the option type octet.
func NewOptionType(copied bool, class OptionClass, number OptionNumber) OptionType {
	var c uint8
	if copied {
		c = 1
	}
	return OptionType(c<<7 | uint8(class&0x3)<<5 | uint8(number&0x1f))
}

func (t OptionType) Copied() bool         { return t&0x80 != 0 }
func (t OptionType) Class() OptionClass   { return OptionClass(t>>5) & 0x3 }
func (t OptionType) Number() OptionNumber { return OptionNumber(t & 0x1f) }

// singleOctet reports whether the option is encoded without a length octet.
func (t OptionType) singleOctet() bool {
	n := t.Number()
	return t.Class() == OptionClassControl && (n == OptionEndOfList || n == OptionNoOperation)
}

// SecurityLevel is the S field of the RFC 791 security option.
type SecurityLevel uint16

const (
	SecurityUnclassified SecurityLevel = 0x0000
	SecurityConfidential SecurityLevel = 0xF135
	SecurityEFTO         SecurityLevel = 0x789A
	SecurityMMMM         SecurityLevel = 0xBC4D
	SecurityPROG         SecurityLevel = 0x5E26
	SecurityRestricted   SecurityLevel = 0xAF13
	SecuritySecret       SecurityLevel = 0xD788
	SecurityTopSecret    SecurityLevel = 0x6BC5
)

// Option is a single IPv4 header option.
type Option struct {
	Type OptionType
	Data []byte
}

// SecurityOption builds the 11-octet RFC 791 security option. tcc is the
// 24-bit transmission control code.
func SecurityOption(level SecurityLevel, compartments, handling uint16, tcc uint32) Option {
	data := make([]byte, 9)
	binary.BigEndian.PutUint16(data[0:2], uint16(level))
	binary.BigEndian.PutUint16(data[2:4], compartments)
	binary.BigEndian.PutUint16(data[4:6], handling)
	data[6] = byte(tcc >> 16)
	data[7] = byte(tcc >> 8)
	data[8] = byte(tcc)
	return Option{Type: NewOptionType(true, OptionClassControl, OptionSecurity), Data: data}
}

// encodedLen is the option's size on the wire before padding.
func (o *Option) encodedLen() int {
	if o == nil {
		return 0
	}
	if o.Type.singleOctet() && len(o.Data) == 0 {
		return 1
	}
	return 2 + len(o.Data)
}

// encode returns the option octets padded with end-of-list to a 4-byte
// boundary. The length octet counts the type and length octets as well.
func (o *Option) encode() ([]byte, error) {
	n := o.encodedLen()
	if n == 0 {
		return nil, nil
	}
	if n > MaxOptionsLen {
		return nil, fmt.Errorf("option %d bytes > %d: %w", n, MaxOptionsLen, ErrOptionsTooLong)
	}
	b := make([]byte, (n+3)&^3)
	b[0] = byte(o.Type)
	if n > 1 {
		b[1] = byte(n)
		copy(b[2:], o.Data)
	}
	return b, nil
}

// SocketOptions are the per-socket IPv4 settings read on every send. All
// access goes through the setters and getters, which are safe for concurrent
// use.
type SocketOptions struct {
	mu              sync.RWMutex
	precedence      Precedence
	lowDelay        bool
	highThroughput  bool
	highReliability bool
	noFragment      bool
	ttl             uint8
	option          *Option
	mtu             uint16
}

// NewSocketOptions returns options with TTL 64 and the high-throughput bit
// set.
func NewSocketOptions() *SocketOptions {
	return &SocketOptions{
		ttl:            DefaultTTL,
		highThroughput: true,
	}
}

func (o *SocketOptions) SetPrecedence(p Precedence) {
	o.mu.Lock()
	o.precedence = p & 0x7
	o.mu.Unlock()
}

func (o *SocketOptions) SetLowDelay(v bool) {
	o.mu.Lock()
	o.lowDelay = v
	o.mu.Unlock()
}

func (o *SocketOptions) SetHighThroughput(v bool) {
	o.mu.Lock()
	o.highThroughput = v
	o.mu.Unlock()
}

func (o *SocketOptions) SetHighReliability(v bool) {
	o.mu.Lock()
	o.highReliability = v
	o.mu.Unlock()
}

// SetNoFragment makes every datagram carry the don't-fragment flag.
func (o *SocketOptions) SetNoFragment(v bool) {
	o.mu.Lock()
	o.noFragment = v
	o.mu.Unlock()
}

func (o *SocketOptions) SetTTL(ttl uint8) {
	o.mu.Lock()
	o.ttl = ttl
	o.mu.Unlock()
}

// SetOption installs an option carried by every datagram, or clears it when
// opt is nil. Options that cannot fit in the header are rejected.
func (o *SocketOptions) SetOption(opt *Option) error {
	if opt != nil {
		if _, err := opt.encode(); err != nil {
			return err
		}
		cp := Option{Type: opt.Type, Data: append([]byte(nil), opt.Data...)}
		opt = &cp
	}
	o.mu.Lock()
	o.option = opt
	o.mu.Unlock()
	return nil
}

// SetMTU bounds the datagram size; 0 disables the check.
func (o *SocketOptions) SetMTU(mtu uint16) {
	o.mu.Lock()
	o.mtu = mtu
	o.mu.Unlock()
}

// TOS packs the precedence and D/T/R bits into the type-of-service octet.
func (o *SocketOptions) TOS() uint8 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.tosLocked()
}

func (o *SocketOptions) tosLocked() uint8 {
	tos := uint8(o.precedence) << 5
	if o.lowDelay {
		tos |= TOSLowDelay
	}
	if o.highThroughput {
		tos |= TOSHighThroughput
	}
	if o.highReliability {
		tos |= TOSHighReliability
	}
	return tos
}

func (o *SocketOptions) TTL() uint8 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.ttl
}

func (o *SocketOptions) NoFragment() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.noFragment
}

func (o *SocketOptions) MTU() uint16 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.mtu
}

// Params returns the header parameters for one datagram under these options.
func (o *SocketOptions) Params(src, dst netip.Addr, protocol uint8, payloadLen int) HeaderParams {
	o.mu.RLock()
	defer o.mu.RUnlock()
	p := HeaderParams{
		Src:        src,
		Dst:        dst,
		TOS:        o.tosLocked(),
		TTL:        o.ttl,
		Protocol:   protocol,
		Option:     o.option,
		PayloadLen: payloadLen,
	}
	if o.noFragment {
		p.Flags = DontFragment
	}
	return p
}
