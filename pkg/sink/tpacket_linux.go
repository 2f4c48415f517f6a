//go:build linux && cgo

package sink

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/gopacket/afpacket"

	"firestige.xyz/pktcraft/pkg/core"
)

const TypeTPacket = "tpacket"

func init() {
	Register(TypeTPacket, func(cfg Config) (Sink, error) {
		return OpenTPacket(cfg.Interface, cfg.RingSizeMB, cfg.SnapLen)
	})
}

// TPacket transmits through a gopacket PACKET_MMAP handle.
type TPacket struct {
	mu     sync.Mutex
	handle *afpacket.TPacket
}

// OpenTPacket opens a raw TPACKET_V3 handle on iface. Zero ringSizeMB or
// snapLen select defaults.
func OpenTPacket(iface string, ringSizeMB, snapLen int) (*TPacket, error) {
	if iface == "" {
		return nil, fmt.Errorf("tpacket sink: interface is required: %w", core.ErrConfigInvalid)
	}
	if ringSizeMB == 0 {
		ringSizeMB = defaultRingSizeMB
	}
	if snapLen == 0 {
		snapLen = defaultSnapLen
	}
	frameSize, blockSize, numBlocks, err := ringGeometry(ringSizeMB, snapLen, os.Getpagesize())
	if err != nil {
		return nil, fmt.Errorf("tpacket sink: %v: %w", err, core.ErrConfigInvalid)
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(iface),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, core.NewSinkError("tpacket open", err)
	}

	filter, err := dropAll()
	if err == nil {
		err = tp.SetBPF(filter)
	}
	if err != nil {
		tp.Close()
		return nil, core.NewSinkError("tpacket filter", err)
	}
	return &TPacket{handle: tp}, nil
}

// WriteFrame sends frame with a blocking sendto. The ring handle has no
// write deadline, so ctx is only checked before the write.
func (t *TPacket) WriteFrame(ctx context.Context, frame []byte) (int, error) {
	if err := checkContext(ctx, "tpacket write"); err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handle == nil {
		return 0, core.NewSinkError("tpacket write", os.ErrClosed)
	}
	if err := t.handle.WritePacketData(frame); err != nil {
		return 0, core.NewSinkError("tpacket write", err)
	}
	return len(frame), nil
}

func (t *TPacket) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handle != nil {
		t.handle.Close()
		t.handle = nil
	}
	return nil
}
