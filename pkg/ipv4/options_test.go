package ipv4

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionType(t *testing.T) {
	typ := NewOptionType(true, OptionClassControl, OptionSecurity)
	assert.Equal(t, OptionType(130), typ)
	assert.True(t, typ.Copied())
	assert.Equal(t, OptionClassControl, typ.Class())
	assert.Equal(t, OptionSecurity, typ.Number())

	ts := NewOptionType(false, OptionClassDebug, OptionInternetTimestamp)
	assert.Equal(t, OptionType(0x44), ts)
	assert.False(t, ts.Copied())
	assert.Equal(t, OptionClassDebug, ts.Class())
}

func TestSecurityOption(t *testing.T) {
	opt := SecurityOption(SecurityTopSecret, 0x0102, 0x0304, 0x050607)
	b, err := opt.encode()
	require.NoError(t, err)
	assert.Equal(t, []byte{130, 11, 0x6b, 0xc5, 1, 2, 3, 4, 5, 6, 7, 0}, b)
}

func TestSocketOptionsDefaults(t *testing.T) {
	o := NewSocketOptions()
	assert.Equal(t, uint8(DefaultTTL), o.TTL())
	assert.Equal(t, TOSHighThroughput, o.TOS())
	assert.False(t, o.NoFragment())
	assert.Zero(t, o.MTU())
}

func TestSocketOptionsTOS(t *testing.T) {
	o := NewSocketOptions()
	o.SetPrecedence(PrecedenceFlash)
	o.SetLowDelay(true)
	o.SetHighReliability(true)
	assert.Equal(t, uint8(3<<5|0x10|0x08|0x04), o.TOS())

	o.SetHighThroughput(false)
	o.SetLowDelay(false)
	o.SetHighReliability(false)
	o.SetPrecedence(PrecedenceNetworkControl)
	assert.Equal(t, uint8(0xe0), o.TOS())
}

func TestSocketOptionsParams(t *testing.T) {
	o := NewSocketOptions()
	o.SetTTL(5)
	o.SetNoFragment(true)
	opt := Option{Type: NewOptionType(false, OptionClassControl, OptionStreamID), Data: []byte{1, 2}}
	require.NoError(t, o.SetOption(&opt))

	// later mutation of the caller's option does not leak in
	opt.Data[0] = 9

	p := o.Params(testSrc, testDst, ProtocolUDP, 10)
	assert.Equal(t, testSrc, p.Src)
	assert.Equal(t, testDst, p.Dst)
	assert.Equal(t, uint8(5), p.TTL)
	assert.Equal(t, DontFragment, p.Flags)
	assert.Equal(t, uint8(ProtocolUDP), p.Protocol)
	assert.Equal(t, 10, p.PayloadLen)
	require.NotNil(t, p.Option)
	assert.Equal(t, []byte{1, 2}, p.Option.Data)

	o.SetNoFragment(false)
	require.NoError(t, o.SetOption(nil))
	p = o.Params(testSrc, testDst, ProtocolUDP, 0)
	assert.Zero(t, p.Flags)
	assert.Nil(t, p.Option)
}

func TestSocketOptionsRejectLongOption(t *testing.T) {
	o := NewSocketOptions()
	err := o.SetOption(&Option{Type: 0x44, Data: make([]byte, 40)})
	assert.ErrorIs(t, err, ErrOptionsTooLong)
}
