package eventlog

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingWrapsRecords(t *testing.T) {
	r := newRing(10)

	assert.Equal(t, 0, r.put(1, []byte("aaaa")))
	assert.Equal(t, 0, r.put(2, []byte("bbbb")))
	// Needs 4 bytes, 2 free: the oldest record goes.
	assert.Equal(t, 1, r.put(3, []byte("cccc")))

	require.Equal(t, 2, r.len())
	id, ok := r.first()
	require.True(t, ok)
	assert.Equal(t, EventID(2), id)
	assert.Equal(t, []byte("bbbb"), r.read(0))
	assert.Equal(t, []byte("cccc"), r.read(1), "record spanning the end of the buffer")

	assert.Equal(t, 2, r.put(4, bytes.Repeat([]byte("d"), 10)))
	assert.Equal(t, bytes.Repeat([]byte("d"), 10), r.read(0))
	assert.Equal(t, 0, r.search(4))
	assert.Equal(t, 1, r.search(5))
}
