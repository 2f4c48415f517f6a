//go:build !linux || !cgo

package sink

import (
	"context"
	"errors"
	"fmt"

	"firestige.xyz/pktcraft/pkg/core"
)

const TypeTPacket = "tpacket"

var errNoTPacket = errors.New("tpacket needs linux and cgo")

// TPacket is unavailable in this build.
type TPacket struct{}

func OpenTPacket(iface string, _, _ int) (*TPacket, error) {
	return nil, fmt.Errorf("tpacket sink %q: %w: %w", iface, errNoTPacket, core.ErrConfigInvalid)
}

func (t *TPacket) WriteFrame(context.Context, []byte) (int, error) {
	return 0, core.NewSinkError("tpacket write", errNoTPacket)
}

func (t *TPacket) Close() error { return nil }
