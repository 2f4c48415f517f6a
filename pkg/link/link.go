// Package link frames IPv4 packets for the wire. A Link is either Ethernet,
// which prepends a fixed header and writes to a frame sink, or SLIP, which
// byte-stuffs packets onto a serial stream.
package link

import (
	"context"
	"fmt"
)

// Kind names a link variant.
type Kind uint8

const (
	KindEthernet Kind = iota + 1
	KindSLIP
)

func (k Kind) String() string {
	switch k {
	case KindEthernet:
		return "ethernet"
	case KindSLIP:
		return "slip"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ParseKind maps a configuration name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "ethernet", "eth":
		return KindEthernet, nil
	case "slip":
		return KindSLIP, nil
	default:
		return 0, fmt.Errorf("unknown link type %q", s)
	}
}

func (k *Kind) UnmarshalText(text []byte) error {
	v, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Link transmits a network-layer packet. The set of implementations is
// closed: *Ethernet and *SLIP.
type Link interface {
	// Transmit frames payload and writes it out, returning the byte count
	// the variant reports (see the variant docs).
	Transmit(ctx context.Context, payload []byte) (int, error)
	Kind() Kind
	Close() error

	sealed()
}

// Validate reports whether l is a fully configured link.
func Validate(l Link) error {
	switch v := l.(type) {
	case *Ethernet:
		if v == nil || v.sink == nil {
			return fmt.Errorf("ethernet link without a frame sink")
		}
	case *SLIP:
		if v == nil || v.enc == nil {
			return fmt.Errorf("slip link without a port")
		}
	case nil:
		return fmt.Errorf("no link configured")
	default:
		return fmt.Errorf("unsupported link %T", l)
	}
	return nil
}
