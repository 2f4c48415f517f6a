package udp

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pktcraft/pkg/checksum"
	"firestige.xyz/pktcraft/pkg/core"
)

var (
	src = netip.MustParseAddrPort("10.0.0.2:1234")
	dst = netip.MustParseAddrPort("152.53.133.5:1337")
)

type captureTx struct {
	src, dst netip.Addr
	proto    uint8
	datagram []byte
	err      error
}

func (c *captureTx) TransmitIPv4(_ context.Context, src, dst netip.Addr, proto uint8, datagram []byte) (int, error) {
	c.src, c.dst, c.proto = src, dst, proto
	c.datagram = append([]byte(nil), datagram...)
	if c.err != nil {
		return 0, c.err
	}
	return len(datagram), nil
}

func TestBuild(t *testing.T) {
	payload := []byte("Hello")
	h, err := Build(src, dst, payload)
	require.NoError(t, err)

	assert.Equal(t, uint16(1234), h.SrcPort)
	assert.Equal(t, uint16(1337), h.DstPort)
	assert.Equal(t, uint16(13), h.Length)
	assert.NotZero(t, h.Checksum)

	// pseudo-header + header + payload including the checksum sums to zero
	ph, err := checksum.NewPseudoHeader(src.Addr(), dst.Addr(), ProtocolNumber, h.Length)
	require.NoError(t, err)
	var acc checksum.Accumulator
	acc.Write(ph.Marshal())
	acc.Write(h.Marshal())
	acc.Write(payload)
	assert.Equal(t, uint16(0), acc.Sum16())
}

func TestBuildMatchesGopacket(t *testing.T) {
	payload := []byte("Hellorld\n")
	h, err := Build(src, dst, payload)
	require.NoError(t, err)

	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP{10, 0, 0, 2},
		DstIP:    net.IP{152, 53, 133, 5},
	}
	u := &layers.UDP{SrcPort: 1234, DstPort: 1337}
	require.NoError(t, u.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, u, gopacket.Payload(payload)))

	want := buf.Bytes()[:HeaderLen]
	assert.Equal(t, want, h.Marshal())
}

func TestBuildZeroChecksumSentAsOnes(t *testing.T) {
	// Choose a payload that cancels the rest of the sum exactly.
	probe, err := Build(src, dst, []byte{0, 0})
	require.NoError(t, err)

	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, probe.Checksum)
	h, err := Build(src, dst, payload)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xFFFF), h.Checksum)
}

func TestBuildErrors(t *testing.T) {
	_, err := Build(src, dst, make([]byte, MaxPayloadLen+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	_, err = Build(netip.MustParseAddrPort("[::1]:53"), dst, nil)
	assert.ErrorIs(t, err, core.ErrUnsupportedAddressFamily)
}

func TestMarshalTo(t *testing.T) {
	h := Header{SrcPort: 1, DstPort: 2, Length: 8, Checksum: 0xabcd}
	_, err := h.MarshalTo(make([]byte, 4))
	assert.Error(t, err)

	b := make([]byte, 10)
	n, err := h.MarshalTo(b)
	require.NoError(t, err)
	assert.Equal(t, HeaderLen, n)
	assert.Equal(t, []byte{0, 1, 0, 2, 0, 8, 0xab, 0xcd}, b[:n])
}

func TestSend(t *testing.T) {
	tx := &captureTx{}
	n, err := Send(context.Background(), tx, src, dst, []byte("Hello"))
	require.NoError(t, err)

	assert.Equal(t, 13, n)
	assert.Equal(t, src.Addr(), tx.src)
	assert.Equal(t, dst.Addr(), tx.dst)
	assert.Equal(t, uint8(ProtocolNumber), tx.proto)
	require.Len(t, tx.datagram, 13)
	assert.Equal(t, "Hello", string(tx.datagram[HeaderLen:]))
	assert.Equal(t, uint16(13), binary.BigEndian.Uint16(tx.datagram[4:6]))
}

func TestSendPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := Send(context.Background(), &captureTx{err: boom}, src, dst, nil)
	assert.ErrorIs(t, err, boom)

	_, err = Send(context.Background(), nil, src, dst, nil)
	assert.ErrorIs(t, err, core.ErrConfigInvalid)

	tx := &captureTx{}
	_, err = Send(context.Background(), tx, src, dst, make([]byte, MaxPayloadLen+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Nil(t, tx.datagram, "nothing may be transmitted on build failure")
}
