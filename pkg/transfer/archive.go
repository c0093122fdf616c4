package transfer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/mash-protocol/mash-sync/pkg/upload"
)

// ArchiveVersion is the archive format version.
const ArchiveVersion = 1

// Archive errors.
var (
	ErrNotArchive         = errors.New("not an event log archive")
	ErrUnsupportedArchive = errors.New("unsupported archive version")
)

// ArchiveHeader opens an archive.
type ArchiveHeader struct {
	Version     uint8  `cbor:"1,keyasint"`
	SessionID   []byte `cbor:"2,keyasint"`
	Peer        string `cbor:"3,keyasint,omitempty"`
	Destination string `cbor:"4,keyasint,omitempty"`

	// Started is the session start in Unix milliseconds.
	Started int64 `cbor:"5,keyasint"`
}

// ArchiveBlock holds the chunk of one received block.
type ArchiveBlock struct {
	Counter uint32 `cbor:"1,keyasint"`

	// Received is the receive time in Unix milliseconds.
	Received int64            `cbor:"2,keyasint"`
	Segments []upload.Segment `cbor:"3,keyasint"`
}

var (
	archiveEncMode cbor.EncMode
	archiveDecMode cbor.DecMode
)

func init() {
	var err error
	archiveEncMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create archive CBOR encoder mode: %v", err))
	}
	archiveDecMode, err = cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		IndefLength:      cbor.IndefLengthForbidden,
		MaxArrayElements: 1 << 20,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create archive CBOR decoder mode: %v", err))
	}
}

// ArchiveWriter appends blocks to an archive file.
type ArchiveWriter struct {
	file   *os.File
	buf    *bufio.Writer
	enc    *cbor.Encoder
	blocks int
}

// CreateArchive creates path and writes the header.
func CreateArchive(path string, h ArchiveHeader) (*ArchiveWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("transfer: create archive: %w", err)
	}
	w := &ArchiveWriter{file: f, buf: bufio.NewWriter(f)}
	w.enc = archiveEncMode.NewEncoder(w.buf)
	h.Version = ArchiveVersion
	if err := w.enc.Encode(h); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("transfer: write archive header: %w", err)
	}
	return w, nil
}

// Append writes one block.
func (w *ArchiveWriter) Append(b ArchiveBlock) error {
	if err := w.enc.Encode(b); err != nil {
		return fmt.Errorf("transfer: write block %d: %w", b.Counter, err)
	}
	w.blocks++
	return nil
}

// Blocks returns the number of appended blocks.
func (w *ArchiveWriter) Blocks() int { return w.blocks }

// Close flushes, syncs and closes the file.
func (w *ArchiveWriter) Close() error {
	err := w.buf.Flush()
	if err == nil {
		err = w.file.Sync()
	}
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// ArchiveReader reads an archive.
type ArchiveReader struct {
	closer io.Closer
	dec    *cbor.Decoder
	header ArchiveHeader
}

// OpenArchive opens path and reads the header.
func OpenArchive(path string) (*ArchiveReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewArchiveReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewArchiveReader reads the header from r.
func NewArchiveReader(r io.Reader) (*ArchiveReader, error) {
	ar := &ArchiveReader{dec: archiveDecMode.NewDecoder(bufio.NewReader(r))}
	if err := ar.dec.Decode(&ar.header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotArchive, err)
	}
	if ar.header.Version == 0 || len(ar.header.SessionID) == 0 {
		return nil, ErrNotArchive
	}
	if ar.header.Version > ArchiveVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedArchive, ar.header.Version)
	}
	return ar, nil
}

// Header returns the archive header.
func (r *ArchiveReader) Header() ArchiveHeader { return r.header }

// Started returns the session start time.
func (r *ArchiveReader) Started() time.Time { return time.UnixMilli(r.header.Started) }

// Next returns the next block, or io.EOF after the last one.
func (r *ArchiveReader) Next() (ArchiveBlock, error) {
	var b ArchiveBlock
	if err := r.dec.Decode(&b); err != nil {
		if errors.Is(err, io.EOF) {
			return ArchiveBlock{}, io.EOF
		}
		return ArchiveBlock{}, fmt.Errorf("transfer: read block: %w", err)
	}
	return b, nil
}

// Close closes the underlying file, if any.
func (r *ArchiveReader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
