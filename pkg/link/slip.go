package link

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"firestige.xyz/pktcraft/pkg/core"
)

// SLIP special characters (RFC 1055).
const (
	slipEnd    = 0xC0
	slipEsc    = 0xDB
	slipEscEnd = 0xDC
	slipEscEsc = 0xDD
)

var ErrBadEscape = errors.New("pktcraft: slip escape not followed by a substitute byte")

// Encoder writes SLIP frames to a byte stream.
type Encoder struct {
	dst io.Writer
	w   *bufio.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{dst: w, w: bufio.NewWriter(w)}
}

// WriteFrame writes END, the escaped payload, END. It returns the number of
// payload bytes framed, not the number of bytes put on the wire.
func (e *Encoder) WriteFrame(payload []byte) (int, error) {
	n, err := e.writeFrame(payload)
	if err != nil {
		// drop the partial frame; the peer resynchronises on the next END
		e.w.Reset(e.dst)
	}
	return n, err
}

func (e *Encoder) writeFrame(payload []byte) (int, error) {
	if err := e.w.WriteByte(slipEnd); err != nil {
		return 0, err
	}
	for i, c := range payload {
		var err error
		switch c {
		case slipEnd:
			_, err = e.w.Write([]byte{slipEsc, slipEscEnd})
		case slipEsc:
			_, err = e.w.Write([]byte{slipEsc, slipEscEsc})
		default:
			err = e.w.WriteByte(c)
		}
		if err != nil {
			return i, err
		}
	}
	if err := e.w.WriteByte(slipEnd); err != nil {
		return len(payload), err
	}
	if err := e.w.Flush(); err != nil {
		return 0, err
	}
	return len(payload), nil
}

// Encode returns the SLIP frame for payload.
func Encode(payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(payload) + 2)
	// writes to a bytes.Buffer cannot fail
	_, _ = NewEncoder(&buf).WriteFrame(payload)
	return buf.Bytes()
}

// Decoder reads SLIP frames from a byte stream.
type Decoder struct {
	r io.ByteReader
}

func NewDecoder(r io.ByteReader) *Decoder { return &Decoder{r: r} }

// ReadFrame returns the next non-empty frame. Back-to-back END bytes are
// skipped. io.EOF is returned at a clean end of stream and
// io.ErrUnexpectedEOF when the stream stops inside a frame.
func (d *Decoder) ReadFrame() ([]byte, error) {
	var frame []byte
	for {
		c, err := d.r.ReadByte()
		if err != nil {
			if err == io.EOF && len(frame) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		switch c {
		case slipEnd:
			if len(frame) > 0 {
				return frame, nil
			}
		case slipEsc:
			n, err := d.r.ReadByte()
			if err != nil {
				if err == io.EOF {
					return nil, io.ErrUnexpectedEOF
				}
				return nil, err
			}
			switch n {
			case slipEscEnd:
				frame = append(frame, slipEnd)
			case slipEscEsc:
				frame = append(frame, slipEsc)
			default:
				return nil, fmt.Errorf("byte 0x%02x after escape: %w", n, ErrBadEscape)
			}
		default:
			frame = append(frame, c)
		}
	}
}

// Decode unstuffs a single SLIP frame.
func Decode(frame []byte) ([]byte, error) {
	out, err := NewDecoder(bytes.NewReader(frame)).ReadFrame()
	if err == io.EOF {
		return []byte{}, nil
	}
	return out, err
}

// SLIP frames packets onto a serial-like byte port.
type SLIP struct {
	mu   sync.Mutex
	port io.Writer
	enc  *Encoder
}

func NewSLIP(port io.Writer) (*SLIP, error) {
	if port == nil {
		return nil, fmt.Errorf("slip link: nil port")
	}
	return &SLIP{port: port, enc: NewEncoder(port)}, nil
}

// Transmit returns the unescaped payload length. Frames from concurrent
// callers are never interleaved.
func (s *SLIP) Transmit(ctx context.Context, payload []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, core.NewSinkError("slip write", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.enc.WriteFrame(payload)
	if err != nil {
		var se *core.SinkError
		if errors.As(err, &se) {
			return n, err
		}
		return n, core.NewSinkError("slip write", err)
	}
	return n, nil
}

func (s *SLIP) Kind() Kind { return KindSLIP }

// Close closes the port if it is closable.
func (s *SLIP) Close() error {
	if c, ok := s.port.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *SLIP) sealed() {}
