package upload

import (
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/mash-sync/pkg/eventlog"
	"github.com/mash-protocol/mash-sync/pkg/wire"
)

var session = []byte{0x10, 0x20, 0x30, 0x40, 0x50, 0x60, 0x70, 0x80, 0x90, 0xa0, 0xb0, 0xc0, 0xd0, 0xe0, 0xf0, 0x00}

func repetitiveChunk(t *testing.T, n int) Chunk {
	t.Helper()
	seg := Segment{Importance: eventlog.Production, First: 1, Last: eventlog.EventID(n)}
	for i := 0; i < n; i++ {
		r, err := cbor.Marshal("meter reading within tolerance, phase balance nominal")
		require.NoError(t, err)
		seg.Records = append(seg.Records, r)
	}
	return Chunk{Segments: []Segment{seg}}
}

func TestSealOpenPerCodec(t *testing.T) {
	tests := []struct {
		name      string
		preferred wire.Compression
	}{
		{"none", wire.CompressionNone},
		{"lz4", wire.CompressionLZ4},
		{"zstd", wire.CompressionZstd},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := repetitiveChunk(t, 20)
			blk, raw, err := Seal(session, 3, in, tt.preferred)
			require.NoError(t, err)

			assert.Equal(t, byte(tt.preferred), blk.Data[0])
			assert.Equal(t, uint32(3), blk.Counter)
			if tt.preferred != wire.CompressionNone {
				assert.Less(t, len(blk.Data), raw)
			}

			out, err := Open(blk, raw)
			require.NoError(t, err)
			assert.Equal(t, 20, out.Events())
			assert.Equal(t, in.Segments[0].Records, out.Segments[0].Records)
		})
	}
}

func TestSealFallsBackWhenCompressionDoesNotHelp(t *testing.T) {
	blk, raw, err := Seal(session, 0, Chunk{}, wire.CompressionZstd)
	require.NoError(t, err)
	assert.Equal(t, byte(wire.CompressionNone), blk.Data[0])
	assert.Equal(t, raw+1, len(blk.Data))

	out, err := Open(blk, raw)
	require.NoError(t, err)
	assert.Zero(t, out.Events())
}

func TestOpenRejectsTamperedBlocks(t *testing.T) {
	blk, raw, err := Seal(session, 7, repetitiveChunk(t, 5), wire.CompressionLZ4)
	require.NoError(t, err)

	moved := *blk
	moved.Counter = 8
	_, err = Open(&moved, raw)
	assert.ErrorIs(t, err, ErrDigestMismatch)

	other := *blk
	other.SessionID = []byte("another session!")
	_, err = Open(&other, raw)
	assert.ErrorIs(t, err, ErrDigestMismatch)

	_, err = Open(blk, raw-1)
	assert.ErrorIs(t, err, ErrBlockTooLarge)

	unknown := *blk
	unknown.Data = append([]byte{9}, blk.Data[1:]...)
	_, err = Open(&unknown, raw)
	assert.ErrorIs(t, err, ErrBadBlock)

	_, err = Open(&wire.Block{SessionID: session}, raw)
	assert.ErrorIs(t, err, ErrBadBlock)
}

func TestDigestIsKeyedAndBound(t *testing.T) {
	raw := []byte(strings.Repeat("a", 64))
	d := Digest(session, 1, raw)
	assert.Len(t, d, 32)
	assert.Equal(t, d, Digest(session, 1, raw))
	assert.NotEqual(t, d, Digest(session, 2, raw))
	assert.NotEqual(t, d, Digest(session, 1, raw[1:]))
}

func TestSealRejectsUnknownCodec(t *testing.T) {
	_, _, err := Seal(session, 0, repetitiveChunk(t, 1), wire.Compression(7))
	assert.Error(t, err)
}
