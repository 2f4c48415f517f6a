package link

import (
	"context"
	"fmt"
	"net"

	"github.com/mdlayher/ethernet"

	"firestige.xyz/pktcraft/pkg/buffer"
	"firestige.xyz/pktcraft/pkg/sink"
)

// HeaderLen is the size of an untagged Ethernet II header.
const HeaderLen = 14

// BuildHeader returns the 14-byte Ethernet II header dst | src | ethertype.
func BuildHeader(src, dst net.HardwareAddr, et ethernet.EtherType) ([HeaderLen]byte, error) {
	var hdr [HeaderLen]byte
	if len(src) != 6 || len(dst) != 6 {
		return hdr, fmt.Errorf("ethernet header needs 48-bit addresses, got src %q dst %q", src, dst)
	}
	f := ethernet.Frame{
		Destination: dst,
		Source:      src,
		EtherType:   et,
	}
	b, err := f.MarshalBinary()
	if err != nil {
		return hdr, fmt.Errorf("marshal ethernet header: %w", err)
	}
	copy(hdr[:], b[:HeaderLen])
	return hdr, nil
}

// Ethernet prepends a header template, built once, to every packet and
// writes the frame to a sink.
type Ethernet struct {
	header [HeaderLen]byte
	sink   sink.Sink
}

// NewEthernet builds the IPv4 header template for src -> dst.
func NewEthernet(src, dst net.HardwareAddr, s sink.Sink) (*Ethernet, error) {
	if s == nil {
		return nil, fmt.Errorf("ethernet link: nil sink")
	}
	hdr, err := BuildHeader(src, dst, ethernet.EtherTypeIPv4)
	if err != nil {
		return nil, err
	}
	return &Ethernet{header: hdr, sink: s}, nil
}

// Transmit returns the byte count the sink reports for the whole frame.
func (e *Ethernet) Transmit(ctx context.Context, payload []byte) (int, error) {
	frame, err := buffer.Compose(e.header[:], payload)
	if err != nil {
		return 0, err
	}
	return e.sink.WriteFrame(ctx, frame)
}

// Header returns a copy of the header template.
func (e *Ethernet) Header() [HeaderLen]byte { return e.header }

func (e *Ethernet) Kind() Kind   { return KindEthernet }
func (e *Ethernet) Close() error { return e.sink.Close() }
func (e *Ethernet) sealed()      {}
