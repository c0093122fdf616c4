package upload

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"

	"github.com/mash-protocol/mash-sync/pkg/eventlog"
	"github.com/mash-protocol/mash-sync/pkg/wire"
)

// Codec errors.
var (
	ErrDigestMismatch = errors.New("block digest mismatch")
	ErrBlockTooLarge  = errors.New("block exceeds size limit")
	ErrBadBlock       = errors.New("malformed block")
)

// Segment is a run of consecutive records of one importance level.
type Segment struct {
	Importance eventlog.Importance `cbor:"1,keyasint"`
	First      eventlog.EventID    `cbor:"2,keyasint"`
	Last       eventlog.EventID    `cbor:"3,keyasint"`

	// Gap counts ids before First that were evicted before upload.
	Gap     uint32            `cbor:"4,keyasint,omitempty"`
	Records []cbor.RawMessage `cbor:"5,keyasint"`
}

// Chunk is the content of one block.
type Chunk struct {
	Segments []Segment `cbor:"1,keyasint"`
}

// Events returns the number of records in c.
func (c Chunk) Events() int {
	n := 0
	for _, s := range c.Segments {
		n += len(s.Records)
	}
	return n
}

// Encoding overhead bounds. A chunk map with one array adds at most
// chunkOverhead bytes; each segment adds at most segmentOverhead bytes
// beyond its records.
const (
	chunkOverhead   = 8
	segmentOverhead = 32
)

// Block data starts with a tag byte naming the codec. Compressed data is
// followed by the uncompressed length as a big-endian uint32.
const compressedHeader = 5

// digestKey is the BLAKE3 key for block digests.
var digestKey = [32]byte{
	'm', 'a', 's', 'h', '.', 'e', 'v', 'e', 'n', 't', 'l', 'o', 'g', '.',
	'b', 'l', 'o', 'c', 'k', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("upload: zstd encoder: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(64<<20))
	if err != nil {
		panic("upload: zstd decoder: " + err.Error())
	}
}

// Digest returns the keyed BLAKE3 digest binding raw chunk bytes to their
// session and block counter.
func Digest(session []byte, counter uint32, raw []byte) []byte {
	h, err := blake3.NewKeyed(digestKey[:])
	if err != nil {
		panic("upload: blake3 keyed hash: " + err.Error())
	}
	var c [4]byte
	binary.BigEndian.PutUint32(c[:], counter)
	_, _ = h.Write(session)
	_, _ = h.Write(c[:])
	_, _ = h.Write(raw)
	return h.Sum(nil)
}

// Seal encodes c into a block. The preferred codec is used when it makes
// the data smaller.
func Seal(session []byte, counter uint32, c Chunk, preferred wire.Compression) (*wire.Block, int, error) {
	raw, err := wire.Marshal(c)
	if err != nil {
		return nil, 0, fmt.Errorf("upload: encode chunk: %w", err)
	}
	data, err := compress(raw, preferred)
	if err != nil {
		return nil, 0, err
	}
	return &wire.Block{
		SessionID: session,
		Counter:   counter,
		Data:      data,
		Digest:    Digest(session, counter, raw),
	}, len(raw), nil
}

// Open verifies and decodes a block. maxRaw bounds the uncompressed size.
func Open(b *wire.Block, maxRaw int) (Chunk, error) {
	raw, err := decompress(b.Data, maxRaw)
	if err != nil {
		return Chunk{}, err
	}
	if !bytes.Equal(Digest(b.SessionID, b.Counter, raw), b.Digest) {
		return Chunk{}, fmt.Errorf("%w: block %d", ErrDigestMismatch, b.Counter)
	}
	var c Chunk
	if err := wire.Unmarshal(raw, &c); err != nil {
		return Chunk{}, fmt.Errorf("%w: block %d: %v", ErrBadBlock, b.Counter, err)
	}
	return c, nil
}

func compress(raw []byte, preferred wire.Compression) ([]byte, error) {
	var packed []byte
	switch preferred {
	case wire.CompressionNone:
	case wire.CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("upload: lz4 compress: %w", err)
		}
		packed = dst[:n]
	case wire.CompressionZstd:
		packed = zstdEncoder.EncodeAll(raw, nil)
	default:
		return nil, fmt.Errorf("upload: unsupported compression %d", preferred)
	}

	// lz4 reports incompressible input with n == 0.
	if len(packed) == 0 || compressedHeader+len(packed) >= 1+len(raw) {
		return append([]byte{byte(wire.CompressionNone)}, raw...), nil
	}
	out := make([]byte, compressedHeader, compressedHeader+len(packed))
	out[0] = byte(preferred)
	binary.BigEndian.PutUint32(out[1:], uint32(len(raw)))
	return append(out, packed...), nil
}

func decompress(data []byte, maxRaw int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty data", ErrBadBlock)
	}
	tag := wire.Compression(data[0])
	if tag == wire.CompressionNone {
		if len(data)-1 > maxRaw {
			return nil, fmt.Errorf("%w: %d bytes", ErrBlockTooLarge, len(data)-1)
		}
		return data[1:], nil
	}
	if len(data) < compressedHeader {
		return nil, fmt.Errorf("%w: short header", ErrBadBlock)
	}
	size := int(binary.BigEndian.Uint32(data[1:]))
	if size > maxRaw {
		return nil, fmt.Errorf("%w: %d bytes", ErrBlockTooLarge, size)
	}
	packed := data[compressedHeader:]

	switch tag {
	case wire.CompressionLZ4:
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(packed, dst)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrBadBlock, err)
		}
		if n != size {
			return nil, fmt.Errorf("%w: lz4 produced %d bytes, want %d", ErrBadBlock, n, size)
		}
		return dst, nil
	case wire.CompressionZstd:
		out, err := zstdDecoder.DecodeAll(packed, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrBadBlock, err)
		}
		if len(out) != size {
			return nil, fmt.Errorf("%w: zstd produced %d bytes, want %d", ErrBadBlock, len(out), size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown codec %d", ErrBadBlock, tag)
	}
}
