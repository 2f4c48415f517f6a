package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/pktcraft/pkg/core"
)

const (
	TypePcap = "pcap"

	defaultSnapLen = 65536
)

func init() {
	Register(TypePcap, func(cfg Config) (Sink, error) {
		if cfg.PcapFile == "" {
			return nil, fmt.Errorf("pcap sink: pcap_file is required: %w", core.ErrConfigInvalid)
		}
		return OpenPcap(cfg.PcapFile, cfg.SnapLen)
	})
}

// Pcap appends every frame to a pcap stream, which is useful for inspecting
// generated traffic with standard tools instead of putting it on the wire.
type Pcap struct {
	mu      sync.Mutex
	w       *pcapgo.Writer
	c       io.Closer
	snapLen int
	now     func() time.Time
}

// OpenPcap creates (or truncates) path and writes an Ethernet pcap header.
func OpenPcap(path string, snapLen int) (*Pcap, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, core.NewSinkError("pcap open", err)
	}
	p, err := NewPcap(f, layers.LinkTypeEthernet, snapLen)
	if err != nil {
		f.Close()
		return nil, err
	}
	p.c = f
	return p, nil
}

// NewPcap writes a pcap file header of the given link type to w.
func NewPcap(w io.Writer, linkType layers.LinkType, snapLen int) (*Pcap, error) {
	if snapLen <= 0 {
		snapLen = defaultSnapLen
	}
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(uint32(snapLen), linkType); err != nil {
		return nil, core.NewSinkError("pcap header", err)
	}
	return &Pcap{w: pw, snapLen: snapLen, now: time.Now}, nil
}

func (p *Pcap) WriteFrame(ctx context.Context, frame []byte) (int, error) {
	if err := checkContext(ctx, "pcap write"); err != nil {
		return 0, err
	}
	captured := frame
	if len(captured) > p.snapLen {
		captured = captured[:p.snapLen]
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     p.now(),
		CaptureLength: len(captured),
		Length:        len(frame),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.w == nil {
		return 0, core.NewSinkError("pcap write", os.ErrClosed)
	}
	if err := p.w.WritePacket(ci, captured); err != nil {
		return 0, core.NewSinkError("pcap write", err)
	}
	return len(frame), nil
}

func (p *Pcap) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.w = nil
	if p.c != nil {
		err := p.c.Close()
		p.c = nil
		if err != nil {
			return core.NewSinkError("pcap close", err)
		}
	}
	return nil
}
