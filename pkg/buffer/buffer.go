// Package buffer composes header and payload segments into one contiguous,
// length-checked packet buffer.
package buffer

import (
	"fmt"

	"firestige.xyz/pktcraft/pkg/core"
)

// MaxSize bounds any composed buffer: the largest IPv4 datagram plus room for
// a link header. Requests above it fail with core.ErrAllocation.
const MaxSize = 65535 + 64

// Buffer is an owned byte region grown by appending segments.
type Buffer struct {
	buf   []byte
	limit int
}

// New returns an empty Buffer with the given capacity hint.
func New(capacity int) *Buffer {
	if capacity < 0 || capacity > MaxSize {
		capacity = 0
	}
	return &Buffer{buf: make([]byte, 0, capacity), limit: MaxSize}
}

// Append copies seg onto the end of the buffer. Empty segments are skipped.
// On error the buffer is left unchanged.
func (b *Buffer) Append(seg []byte) error {
	if len(seg) == 0 {
		return nil
	}
	if len(b.buf)+len(seg) > b.limit {
		return fmt.Errorf("append %d bytes to %d: %w", len(seg), len(b.buf), core.ErrAllocation)
	}
	b.buf = append(b.buf, seg...)
	return nil
}

// Bytes returns the composed contents. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte { return b.buf }

// Len returns the number of composed bytes.
func (b *Buffer) Len() int { return len(b.buf) }

// Slice returns n bytes starting at off, or an error if the range falls
// outside the composed contents.
func (b *Buffer) Slice(off, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+n > len(b.buf) {
		return nil, fmt.Errorf("buffer: range [%d:%d] out of bounds (len %d)", off, off+n, len(b.buf))
	}
	return b.buf[off : off+n], nil
}

// Reset empties the buffer, keeping its storage.
func (b *Buffer) Reset() { b.buf = b.buf[:0] }

// Compose allocates one buffer sized to the sum of all segments and copies
// them in order. Zero-length segments are skipped, which lets callers pass
// optional headers as nil. No buffer is returned on failure.
func Compose(segments ...[]byte) ([]byte, error) {
	total := 0
	for _, seg := range segments {
		total += len(seg)
		if total > MaxSize {
			return nil, fmt.Errorf("compose %d segments: %w", len(segments), core.ErrAllocation)
		}
	}

	out := make([]byte, total)
	off := 0
	for _, seg := range segments {
		off += copy(out[off:], seg)
	}
	return out, nil
}
