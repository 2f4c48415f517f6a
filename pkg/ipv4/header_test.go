package ipv4

import (
	"bytes"
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	xipv4 "golang.org/x/net/ipv4"

	"firestige.xyz/pktcraft/pkg/checksum"
	"firestige.xyz/pktcraft/pkg/core"
)

var (
	testSrc = netip.MustParseAddr("10.0.0.2")
	testDst = netip.MustParseAddr("152.53.133.5")
)

func TestRoutineHeader(t *testing.T) {
	ids := NewIDAllocator()
	h, err := Routine(ids, testSrc, testDst, ProtocolUDP, 9)
	if err != nil {
		t.Fatalf("Routine failed: %v", err)
	}
	defer h.Release()

	if h.IHL != 5 {
		t.Errorf("Expected IHL 5, got %d", h.IHL)
	}
	if h.TotalLen != 29 {
		t.Errorf("Expected total length 29, got %d", h.TotalLen)
	}
	if h.TTL != DefaultTTL {
		t.Errorf("Expected TTL %d, got %d", DefaultTTL, h.TTL)
	}
	if h.TOS != 16 {
		t.Errorf("Expected TOS 16, got %d", h.TOS)
	}

	wire := h.Marshal()
	if len(wire) != HeaderLen {
		t.Fatalf("Expected %d bytes, got %d", HeaderLen, len(wire))
	}
	if wire[0]>>4 != 4 {
		t.Errorf("Expected version 4, got %d", wire[0]>>4)
	}
	if wire[6] != 0 || wire[7] != 0 {
		t.Errorf("Expected zero flags/fragment word, got %x", wire[6:8])
	}
	if !bytes.Equal(wire[12:16], []byte{10, 0, 0, 2}) {
		t.Errorf("unexpected src %v", wire[12:16])
	}
	if !ids.IsAllocated(h.ID) {
		t.Error("ID should stay reserved until Release")
	}
}

func TestHeaderChecksum(t *testing.T) {
	h, err := Build(NewIDAllocator(), HeaderParams{
		Src: testSrc, Dst: testDst, TOS: 0x08, Flags: DontFragment,
		TTL: 32, Protocol: ProtocolUDP, PayloadLen: 100,
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer h.Release()

	if got := checksum.Checksum(h.Marshal()); got != 0 {
		t.Errorf("Expected header to sum to 0, got 0x%04x", got)
	}
}

func TestHeaderOptionPadding(t *testing.T) {
	tests := []struct {
		name    string
		opt     Option
		wantIHL uint8
		wantLen byte
	}{
		{"3 data bytes", Option{Type: NewOptionType(false, OptionClassControl, OptionRecordRoute), Data: []byte{4, 0, 0}}, 7, 5},
		{"2 data bytes", Option{Type: NewOptionType(true, OptionClassControl, OptionStreamID), Data: []byte{0xab, 0xcd}}, 6, 4},
		{"security", SecurityOption(SecuritySecret, 0, 0, 0x010203), 8, 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := Build(NewIDAllocator(), HeaderParams{
				Src: testSrc, Dst: testDst, TTL: 64, Protocol: ProtocolUDP, Option: &tt.opt,
			})
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			defer h.Release()

			if h.IHL != tt.wantIHL {
				t.Errorf("Expected IHL %d, got %d", tt.wantIHL, h.IHL)
			}
			wire := h.Marshal()
			if len(wire)%4 != 0 || len(wire) != h.Len() {
				t.Fatalf("header length %d not padded", len(wire))
			}
			if wire[HeaderLen] != byte(tt.opt.Type) {
				t.Errorf("Expected option type 0x%02x, got 0x%02x", byte(tt.opt.Type), wire[HeaderLen])
			}
			if wire[HeaderLen+1] != tt.wantLen {
				t.Errorf("Expected option length %d, got %d", tt.wantLen, wire[HeaderLen+1])
			}
			pad := wire[HeaderLen+int(tt.wantLen):]
			for i, b := range pad {
				if b != 0 {
					t.Errorf("pad byte %d is 0x%02x", i, b)
				}
			}
			if got := checksum.Checksum(wire); got != 0 {
				t.Errorf("checksum does not cover options: 0x%04x", got)
			}
		})
	}
}

func TestSingleOctetOption(t *testing.T) {
	nop := Option{Type: NewOptionType(false, OptionClassControl, OptionNoOperation)}
	h, err := Build(NewIDAllocator(), HeaderParams{Src: testSrc, Dst: testDst, TTL: 1, Option: &nop})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer h.Release()
	if h.IHL != 6 {
		t.Errorf("Expected IHL 6, got %d", h.IHL)
	}
	if !bytes.Equal(h.Options, []byte{1, 0, 0, 0}) {
		t.Errorf("unexpected option bytes %v", h.Options)
	}
}

func TestBuildErrorsReleaseNothing(t *testing.T) {
	tests := []struct {
		name string
		p    HeaderParams
		want error
	}{
		{"ipv6 src", HeaderParams{Src: netip.MustParseAddr("::1"), Dst: testDst}, core.ErrUnsupportedAddressFamily},
		{"ipv6 dst", HeaderParams{Src: testSrc, Dst: netip.MustParseAddr("2001:db8::1")}, core.ErrUnsupportedAddressFamily},
		{"invalid addr", HeaderParams{Dst: testDst}, core.ErrUnsupportedAddressFamily},
		{"options too long", HeaderParams{Src: testSrc, Dst: testDst, Option: &Option{Type: 0x44, Data: make([]byte, 39)}}, ErrOptionsTooLong},
		{"datagram too large", HeaderParams{Src: testSrc, Dst: testDst, PayloadLen: MaxPacketLen - HeaderLen + 1}, ErrDatagramTooLarge},
		{"negative payload", HeaderParams{Src: testSrc, Dst: testDst, PayloadLen: -1}, ErrDatagramTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := NewIDAllocator()
			h, err := Build(ids, tt.p)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, err)
			}
			if h != nil {
				t.Error("Expected nil header on error")
			}
			if ids.InUse() != 0 {
				t.Errorf("Expected no reserved IDs, got %d", ids.InUse())
			}
		})
	}
}

func TestBuildMaxPayload(t *testing.T) {
	h, err := Routine(NewIDAllocator(), testSrc, testDst, ProtocolUDP, MaxPacketLen-HeaderLen)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer h.Release()
	if h.TotalLen != MaxPacketLen {
		t.Errorf("Expected total length %d, got %d", MaxPacketLen, h.TotalLen)
	}
}

func TestBuildExhaustionPropagates(t *testing.T) {
	ids := NewIDAllocator()
	for i := 0; i < idSpace; i++ {
		if _, err := ids.Allocate(); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := Routine(ids, testSrc, testDst, ProtocolUDP, 0); !errors.Is(err, core.ErrIDSpaceExhausted) {
		t.Errorf("Expected ErrIDSpaceExhausted, got %v", err)
	}
}

func TestHeaderRelease(t *testing.T) {
	ids := NewIDAllocator()
	h, err := Routine(ids, testSrc, testDst, ProtocolUDP, 0)
	if err != nil {
		t.Fatalf("Routine failed: %v", err)
	}
	h.Release()
	h.Release()
	if ids.InUse() != 0 {
		t.Errorf("Expected 0 IDs in use, got %d", ids.InUse())
	}

	var nilHeader *Header
	nilHeader.Release()
}

func TestMarshalTo(t *testing.T) {
	h, err := Routine(NewIDAllocator(), testSrc, testDst, ProtocolUDP, 0)
	if err != nil {
		t.Fatalf("Routine failed: %v", err)
	}
	defer h.Release()

	if _, err := h.MarshalTo(make([]byte, 10)); err == nil {
		t.Error("Expected short buffer error")
	}
	buf := make([]byte, 32)
	n, err := h.MarshalTo(buf)
	if err != nil {
		t.Fatalf("MarshalTo failed: %v", err)
	}
	if n != HeaderLen || !bytes.Equal(buf[:n], h.Marshal()) {
		t.Errorf("MarshalTo wrote %d bytes: %v", n, buf[:n])
	}
}

func TestHeaderDecodesWithGopacket(t *testing.T) {
	opt := SecurityOption(SecurityConfidential, 1, 2, 3)
	h, err := Build(NewIDAllocator(), HeaderParams{
		Src: testSrc, Dst: testDst, TOS: 0x78, Flags: DontFragment,
		TTL: 17, Protocol: ProtocolUDP, Option: &opt, PayloadLen: 6,
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer h.Release()

	datagram := append(h.Marshal(), []byte("abcdef")...)
	var ip layers.IPv4
	if err := ip.DecodeFromBytes(datagram, gopacket.NilDecodeFeedback); err != nil {
		t.Fatalf("gopacket decode failed: %v", err)
	}

	if ip.Version != 4 || ip.IHL != h.IHL {
		t.Errorf("version/ihl mismatch: %d/%d", ip.Version, ip.IHL)
	}
	if ip.Length != uint16(len(datagram)) {
		t.Errorf("Expected length %d, got %d", len(datagram), ip.Length)
	}
	if ip.Id != h.ID || ip.TTL != 17 || ip.TOS != 0x78 {
		t.Errorf("field mismatch: id %d ttl %d tos 0x%02x", ip.Id, ip.TTL, ip.TOS)
	}
	if ip.Flags != layers.IPv4DontFragment {
		t.Errorf("Expected DF flag, got %v", ip.Flags)
	}
	if ip.Protocol != layers.IPProtocolUDP {
		t.Errorf("Expected UDP, got %v", ip.Protocol)
	}
	if ip.Checksum != h.Checksum {
		t.Errorf("Expected checksum 0x%04x, got 0x%04x", h.Checksum, ip.Checksum)
	}
	if !ip.SrcIP.Equal(net.IP{10, 0, 0, 2}) || !ip.DstIP.Equal(net.IP{152, 53, 133, 5}) {
		t.Errorf("address mismatch: %v -> %v", ip.SrcIP, ip.DstIP)
	}
	if len(ip.Options) == 0 || ip.Options[0].OptionType != 130 || ip.Options[0].OptionLength != 11 {
		t.Errorf("unexpected options %+v", ip.Options)
	}
	if string(ip.Payload) != "abcdef" {
		t.Errorf("unexpected payload %q", ip.Payload)
	}
}

func TestHeaderParsesWithXNet(t *testing.T) {
	h, err := Routine(NewIDAllocator(), testSrc, testDst, ProtocolUDP, 12)
	if err != nil {
		t.Fatalf("Routine failed: %v", err)
	}
	defer h.Release()

	parsed, err := xipv4.ParseHeader(h.Marshal())
	if err != nil {
		t.Fatalf("ParseHeader failed: %v", err)
	}
	if parsed.Version != 4 || parsed.Len != HeaderLen {
		t.Errorf("version/len mismatch: %d/%d", parsed.Version, parsed.Len)
	}
	if parsed.TOS != 16 || parsed.TTL != 64 || parsed.Protocol != ProtocolUDP {
		t.Errorf("field mismatch: tos %d ttl %d proto %d", parsed.TOS, parsed.TTL, parsed.Protocol)
	}
	if parsed.ID != int(h.ID) || parsed.Checksum != int(h.Checksum) {
		t.Errorf("id/checksum mismatch: %d/0x%04x", parsed.ID, parsed.Checksum)
	}
	if !parsed.Src.Equal(net.IP{10, 0, 0, 2}) || !parsed.Dst.Equal(net.IP{152, 53, 133, 5}) {
		t.Errorf("address mismatch: %v -> %v", parsed.Src, parsed.Dst)
	}
}
