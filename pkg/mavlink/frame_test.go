package mavlink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildV1 assembles a v1 frame with a fake CRC; the parser must not care.
func buildV1(seq, sysid, compid, msgid uint8, payload []byte) []byte {
	b := []byte{MagicV1, uint8(len(payload)), seq, sysid, compid, msgid}
	b = append(b, payload...)
	return append(b, 0xCA, 0xFE)
}

func buildV2(seq, sysid, compid uint8, msgid uint32, payload []byte, signed bool) []byte {
	var incompat uint8
	if signed {
		incompat = iflagSigned
	}
	b := []byte{
		MagicV2, uint8(len(payload)), incompat, 0x00, seq, sysid, compid,
		uint8(msgid), uint8(msgid >> 8), uint8(msgid >> 16),
	}
	b = append(b, payload...)
	b = append(b, 0xBE, 0xEF)
	if signed {
		b = append(b, make([]byte, 13)...)
	}
	return b
}

func TestParseV1(t *testing.T) {
	raw := buildV1(9, 1, 200, 0, []byte{0x05, 0x00, 0x00})
	f, consumed, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, len(raw), consumed)
	assert.Equal(t, V1, f.Version())
	assert.Equal(t, uint8(9), f.Seq())
	assert.Equal(t, uint8(1), f.SysID())
	assert.Equal(t, uint8(200), f.CompID())
	assert.Equal(t, uint32(0), f.MsgID())
	assert.Equal(t, []byte{0x05, 0x00, 0x00}, f.Payload())
	assert.Equal(t, raw, f.Bytes())
}

func TestParseV2(t *testing.T) {
	raw := buildV2(42, 7, 1, 0x014C, []byte{0xAA, 0xBB}, false)
	f, consumed, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, 14, consumed)
	assert.Equal(t, V2, f.Version())
	assert.Equal(t, uint8(42), f.Seq())
	assert.Equal(t, uint8(7), f.SysID())
	assert.Equal(t, uint8(1), f.CompID())
	assert.Equal(t, uint32(0x014C), f.MsgID())
	assert.False(t, f.Signed())
	assert.Equal(t, raw, f.Bytes())
}

func TestParseSignedV2(t *testing.T) {
	raw := buildV2(0, 3, 1, 30, []byte{0x01}, true)
	f, consumed, err := Parse(raw)
	require.NoError(t, err)
	// 10 header + 1 payload + 2 CRC + 13 signature
	assert.Equal(t, 26, consumed)
	assert.True(t, f.Signed())
	assert.Equal(t, raw, f.Bytes())

	// Without the signature bytes present the frame is incomplete.
	_, _, err = Parse(raw[:20])
	var inc *IncompleteError
	require.ErrorAs(t, err, &inc)
	assert.Equal(t, 26, inc.Need)
	assert.Equal(t, 20, inc.Have)
}

func TestParseIncomplete(t *testing.T) {
	cases := map[string][]byte{
		"empty":          nil,
		"v1 header only": {MagicV1, 0x08},
		"v2 header only": {MagicV2, 0x00, 0x00},
		"v1 mid payload": buildV1(0, 1, 1, 0, []byte{1, 2, 3, 4})[:8],
		"v2 mid crc":     buildV2(0, 1, 1, 0, nil, false)[:11],
	}
	for name, buf := range cases {
		t.Run(name, func(t *testing.T) {
			_, consumed, err := Parse(buf)
			var inc *IncompleteError
			require.ErrorAs(t, err, &inc)
			assert.Zero(t, consumed)
		})
	}
}

func TestParseInvalidMagic(t *testing.T) {
	_, _, err := Parse([]byte{0xFF, 0x00, 0x00})
	var bad *InvalidMagicError
	require.ErrorAs(t, err, &bad)
	assert.Equal(t, byte(0xFF), bad.Magic)
}

func TestFrameClone(t *testing.T) {
	raw := buildV2(1, 5, 1, 0, []byte{0x10}, false)
	f, _, err := Parse(raw)
	require.NoError(t, err)

	c := f.Clone()
	raw[5] = 99 // clobber the shared backing bytes
	assert.Equal(t, uint8(99), f.SysID())
	assert.Equal(t, uint8(5), c.SysID())
}

func TestMaxFrameLen(t *testing.T) {
	raw := buildV2(0, 1, 1, 0, make([]byte, 255), true)
	require.Len(t, raw, MaxFrameLen)
	_, consumed, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, MaxFrameLen, consumed)
}
