package mavlink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(p *Parser) [][]byte {
	var out [][]byte
	for {
		f, ok := p.Next()
		if !ok {
			return out
		}
		out = append(out, f.Clone().Bytes())
	}
}

func TestParserGarbageInterleave(t *testing.T) {
	f1 := buildV2(0, 1, 1, 0, []byte{0xAA, 0xBB}, false)
	f2 := buildV2(1, 2, 1, 0, nil, false)
	f3 := buildV1(2, 3, 1, 0, []byte{0x01})

	var stream []byte
	stream = append(stream, 0x00, 0x13, 0x37)
	stream = append(stream, f1...)
	stream = append(stream, 0xFF)
	stream = append(stream, f2...)
	stream = append(stream, 0x55, 0x55)
	stream = append(stream, f3...)
	stream = append(stream, 0x00)

	p := NewParser()
	_, _ = p.Write(stream)

	got := drain(p)
	require.Len(t, got, 3)
	assert.Equal(t, f1, got[0])
	assert.Equal(t, f2, got[1])
	assert.Equal(t, f3, got[2])
}

func TestParserIncrementalFeed(t *testing.T) {
	frame := buildV2(7, 9, 1, 0x4D2, []byte{1, 2, 3, 4, 5}, false)

	p := NewParser()
	for i, b := range frame {
		_, _ = p.Write([]byte{b})
		f, ok := p.Next()
		if i < len(frame)-1 {
			require.False(t, ok, "frame emitted after %d of %d bytes", i+1, len(frame))
			continue
		}
		require.True(t, ok)
		assert.Equal(t, frame, f.Bytes())
	}
	assert.Zero(t, p.Buffered())
}

func TestParserWaitsOnPartialFrame(t *testing.T) {
	// A magic byte with a declared length keeps the cursor parked even when
	// another magic appears inside the declared body.
	head := []byte{MagicV2, 0x10, 0x00, 0x00, 0x01, 0x01, 0x01, 0x00, 0x00, 0x00, MagicV2, 0x01}
	p := NewParser()
	_, _ = p.Write(head)
	_, ok := p.Next()
	require.False(t, ok)
	assert.Equal(t, len(head), p.Buffered())

	// Complete the declared frame; exactly one frame comes out.
	rest := make([]byte, 0x10+2-2) // remaining payload + CRC
	_, _ = p.Write(rest)
	f, ok := p.Next()
	require.True(t, ok)
	assert.Equal(t, 0x10+12, f.Len())
	_, ok = p.Next()
	assert.False(t, ok)
}

func TestParserPureGarbage(t *testing.T) {
	p := NewParser()
	garbage := make([]byte, 512)
	for i := range garbage {
		garbage[i] = byte(i % 0xFD) // never a magic byte
	}
	_, _ = p.Write(garbage)
	_, ok := p.Next()
	assert.False(t, ok)
}

func TestParserCompaction(t *testing.T) {
	frame := buildV1(0, 1, 1, 0, make([]byte, 64))

	p := NewParser()
	total := 0
	// Push well past the compaction threshold, draining as we go, and make
	// sure frames keep coming out intact.
	for total < 8*defaultBufSize {
		_, _ = p.Write(frame)
		total += len(frame)
		f, ok := p.Next()
		require.True(t, ok)
		require.Equal(t, frame, f.Bytes())
		_, ok = p.Next()
		require.False(t, ok)
	}
	assert.Zero(t, p.Buffered())
}

func TestParserRoundTripSequence(t *testing.T) {
	// Concatenating valid frames with arbitrary junk between them yields
	// exactly those frames, byte for byte, in order.
	var want [][]byte
	var stream []byte
	for i := 0; i < 32; i++ {
		var f []byte
		switch i % 3 {
		case 0:
			f = buildV1(uint8(i), uint8(i+1), 1, uint8(i), []byte{byte(i)})
		case 1:
			f = buildV2(uint8(i), uint8(i+1), 1, uint32(i)*7, make([]byte, i), false)
		default:
			f = buildV2(uint8(i), uint8(i+1), 1, 22, []byte{0xFD, 0xFE, byte(i)}, true)
		}
		want = append(want, f)
		stream = append(stream, f...)
		stream = append(stream, byte(i), 0x00)
	}

	p := NewParser()
	_, _ = p.Write(stream)
	got := drain(p)
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i], got[i], "frame %d", i)
	}
}
