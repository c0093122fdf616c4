package transfer

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/mash-sync/pkg/eventlog"
	"github.com/mash-protocol/mash-sync/pkg/upload"
)

func TestArchiveWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.evlog")
	w, err := CreateArchive(path, ArchiveHeader{SessionID: []byte{1, 2}, Peer: "dev", Started: 1000})
	require.NoError(t, err)

	rec, err := cbor.Marshal("hello")
	require.NoError(t, err)
	seg := upload.Segment{Importance: eventlog.Info, First: 4, Last: 4, Gap: 3, Records: []cbor.RawMessage{rec}}
	require.NoError(t, w.Append(ArchiveBlock{Counter: 0, Received: 2000, Segments: []upload.Segment{seg}}))
	require.NoError(t, w.Append(ArchiveBlock{Counter: 1, Received: 2100}))
	require.NoError(t, w.Close())

	_, err = CreateArchive(path, ArchiveHeader{SessionID: []byte{1}})
	assert.Error(t, err, "existing archives are never overwritten")

	r, err := OpenArchive(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, uint8(ArchiveVersion), r.Header().Version)
	assert.Equal(t, "dev", r.Header().Peer)

	b, err := r.Next()
	require.NoError(t, err)
	require.Len(t, b.Segments, 1)
	assert.Equal(t, uint32(3), b.Segments[0].Gap)
	assert.Equal(t, cbor.RawMessage(rec), b.Segments[0].Records[0])

	b, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), b.Counter)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestArchiveReaderRejectsForeignData(t *testing.T) {
	_, err := NewArchiveReader(bytes.NewReader([]byte("plain text")))
	assert.ErrorIs(t, err, ErrNotArchive)

	data, err := archiveEncMode.Marshal(ArchiveHeader{Version: 9, SessionID: []byte{1}})
	require.NoError(t, err)
	_, err = NewArchiveReader(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrUnsupportedArchive)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "upload", sanitize(""))
	assert.Equal(t, "site_a_b", sanitize("site/a b"))
	assert.Equal(t, "meter-1.main", sanitize("meter-1.main"))
}
