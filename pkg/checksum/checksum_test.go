package checksum

import (
	"encoding/binary"
	"errors"
	"net/netip"
	"testing"

	"firestige.xyz/pktcraft/pkg/core"
)

func TestChecksumEmpty(t *testing.T) {
	if got := Checksum(nil); got != 0xFFFF {
		t.Errorf("Expected 0xFFFF for empty input, got 0x%04x", got)
	}
	if got := Checksum([]byte{}); got != 0xFFFF {
		t.Errorf("Expected 0xFFFF for zero-length input, got 0x%04x", got)
	}
}

func TestChecksumKnownVectors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{
			// RFC 1071 section 3 example: sum 0x2ddf0 folds to 0xddf2
			name: "rfc1071",
			data: []byte{0x00, 0x01, 0xf2, 0x03, 0xf4, 0xf5, 0xf6, 0xf7},
			want: ^uint16(0xddf2),
		},
		{
			name: "odd length pads high byte",
			data: []byte{0x01},
			want: ^uint16(0x0100),
		},
		{
			name: "all ones",
			data: []byte{0xff, 0xff},
			want: 0x0000,
		},
		{
			// Classic IPv4 header example, checksum field zeroed
			name: "ipv4 header",
			data: []byte{
				0x45, 0x00, 0x00, 0x73, 0x00, 0x00, 0x40, 0x00,
				0x40, 0x11, 0x00, 0x00, 0xc0, 0xa8, 0x00, 0x01,
				0xc0, 0xa8, 0x00, 0xc7,
			},
			want: 0xb861,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Checksum(tt.data); got != tt.want {
				t.Errorf("Expected 0x%04x, got 0x%04x", tt.want, got)
			}
		})
	}
}

func TestChecksumSelfCheck(t *testing.T) {
	header := []byte{
		0x45, 0x10, 0x00, 0x1d, 0xbe, 0xef, 0x00, 0x00,
		0x40, 0x11, 0x00, 0x00, 0x0a, 0x00, 0x00, 0x02,
		0x98, 0x35, 0x85, 0x05,
	}
	sum := Checksum(header)
	binary.BigEndian.PutUint16(header[10:12], sum)

	// Summing a header that already carries its checksum yields zero.
	if got := Checksum(header); got != 0 {
		t.Errorf("Expected self-check 0, got 0x%04x", got)
	}
}

func TestChecksumDeterministic(t *testing.T) {
	data := []byte("determinism is required for every input")
	if Checksum(data) != Checksum(data) {
		t.Error("Checksum is not deterministic")
	}
}

func TestAccumulatorSplitWrites(t *testing.T) {
	data := []byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde}
	want := Checksum(data)

	splits := [][]int{{1}, {3}, {1, 2}, {2, 3}, {5, 6}, {1, 2, 3, 4, 5, 6}}
	for _, cuts := range splits {
		var acc Accumulator
		prev := 0
		for _, c := range cuts {
			acc.Write(data[prev:c])
			prev = c
		}
		acc.Write(data[prev:])
		if got := acc.Sum16(); got != want {
			t.Errorf("cuts %v: Expected 0x%04x, got 0x%04x", cuts, want, got)
		}
	}
}

func TestAccumulatorAddUint(t *testing.T) {
	var a, b Accumulator
	a.AddUint32(0xc0a80001)
	a.AddUint16(0x0011)
	b.Write([]byte{0xc0, 0xa8, 0x00, 0x01, 0x00, 0x11})
	if a.Sum16() != b.Sum16() {
		t.Errorf("AddUint32/AddUint16 mismatch: 0x%04x vs 0x%04x", a.Sum16(), b.Sum16())
	}

	a.Reset()
	if a.Sum16() != 0xFFFF {
		t.Errorf("Expected 0xFFFF after Reset, got 0x%04x", a.Sum16())
	}
}

func TestNeverZero(t *testing.T) {
	if NeverZero(0) != 0xFFFF {
		t.Error("NeverZero(0) should be 0xFFFF")
	}
	if NeverZero(0x1234) != 0x1234 {
		t.Error("NeverZero should keep non-zero sums")
	}
}

func TestPseudoHeader(t *testing.T) {
	src := netip.MustParseAddr("10.0.0.2")
	dst := netip.MustParseAddr("152.53.133.5")

	ph, err := NewPseudoHeader(src, dst, 17, 13)
	if err != nil {
		t.Fatalf("NewPseudoHeader failed: %v", err)
	}
	if ph.Zero != 0 {
		t.Errorf("Expected zero field 0, got %d", ph.Zero)
	}

	wire := ph.Marshal()
	expected := []byte{10, 0, 0, 2, 152, 53, 133, 5, 0x00, 0x11, 0x00, 0x0d}
	if len(wire) != PseudoHeaderLen {
		t.Fatalf("Expected %d bytes, got %d", PseudoHeaderLen, len(wire))
	}
	for i := range expected {
		if wire[i] != expected[i] {
			t.Errorf("byte %d: expected 0x%02x, got 0x%02x", i, expected[i], wire[i])
		}
	}

	// Sum must agree with summing the marshaled bytes.
	var acc Accumulator
	ph.Sum(&acc)
	if acc.Sum16() != Checksum(wire) {
		t.Errorf("Sum mismatch: 0x%04x vs 0x%04x", acc.Sum16(), Checksum(wire))
	}
}

func TestPseudoHeaderIPv6(t *testing.T) {
	_, err := NewPseudoHeader(netip.MustParseAddr("2001:db8::1"), netip.MustParseAddr("10.0.0.1"), 17, 8)
	if !errors.Is(err, core.ErrUnsupportedAddressFamily) {
		t.Errorf("Expected ErrUnsupportedAddressFamily, got %v", err)
	}
}
