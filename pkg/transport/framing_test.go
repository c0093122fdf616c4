package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/mash-sync/pkg/log"
	"github.com/mash-protocol/mash-sync/pkg/wire"
)

type captureLogger struct {
	events []log.Event
}

func (c *captureLogger) Log(ev log.Event) { c.events = append(c.events, ev) }

func TestFramerRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"single byte", []byte{0x42}},
		{"medium message", bytes.Repeat([]byte("x"), 1000)},
		{"max size message", bytes.Repeat([]byte("y"), DefaultMaxMessageSize)},
		{"binary data", []byte{0x00, 0xFF, 0x7F, 0x80}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			f := NewFramer(buf, 0)
			if err := f.WriteFrame(tt.payload); err != nil {
				t.Fatalf("WriteFrame failed: %v", err)
			}
			if buf.Len() != FrameSize(len(tt.payload)) {
				t.Errorf("frame size = %d, want %d", buf.Len(), FrameSize(len(tt.payload)))
			}
			got, err := f.ReadFrame()
			if err != nil {
				t.Fatalf("ReadFrame failed: %v", err)
			}
			if !bytes.Equal(got, tt.payload) {
				t.Errorf("payload mismatch: got %d bytes, want %d bytes", len(got), len(tt.payload))
			}
		})
	}
}

func TestFramerLimits(t *testing.T) {
	buf := new(bytes.Buffer)
	f := NewFramer(buf, 16)

	if err := f.WriteFrame(nil); !errors.Is(err, ErrMessageEmpty) {
		t.Errorf("expected ErrMessageEmpty, got %v", err)
	}
	if err := f.WriteFrame(make([]byte, 17)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}

	var prefix [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], 17)
	buf.Write(prefix[:])
	if _, err := f.ReadFrame(); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}

	buf.Reset()
	binary.BigEndian.PutUint32(prefix[:], 0)
	buf.Write(prefix[:])
	if _, err := f.ReadFrame(); !errors.Is(err, ErrMessageEmpty) {
		t.Errorf("expected ErrMessageEmpty, got %v", err)
	}
}

func TestFramerTruncated(t *testing.T) {
	buf := new(bytes.Buffer)
	var prefix [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], 10)
	buf.Write(prefix[:])
	buf.WriteString("short")

	_, err := NewFramer(buf, 0).ReadFrame()
	assert.ErrorIs(t, err, ErrFrameTruncated)

	_, err = NewFramer(bytes.NewBuffer([]byte{0, 0}), 0).ReadFrame()
	assert.ErrorIs(t, err, ErrFrameTruncated)
}

func TestFramerMessages(t *testing.T) {
	buf := new(bytes.Buffer)
	f := NewFramer(buf, 0)
	trace := &captureLogger{}
	f.SetTrace(trace, "peer-1")

	sent := &wire.Heartbeat{SubscriptionID: 9}
	require.NoError(t, f.WriteMessage(sent))
	got, err := f.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, sent, got)

	require.Len(t, trace.events, 2)
	assert.Equal(t, log.DirectionOut, trace.events[0].Direction)
	assert.Equal(t, log.DirectionIn, trace.events[1].Direction)
	assert.Equal(t, "peer-1", trace.events[1].PeerID)
	assert.Equal(t, log.LayerTransport, trace.events[1].Layer)
	require.NotNil(t, trace.events[1].Frame)

	// A frame that does not decode is consumed and the stream continues.
	require.NoError(t, f.WriteFrame([]byte{0xff}))
	require.NoError(t, f.WriteMessage(sent))
	_, err = f.ReadMessage()
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	got, err = f.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, sent, got)
}

func TestFrameEventTruncatesLargeFrames(t *testing.T) {
	f := NewFramer(new(bytes.Buffer), 0)
	ev := f.frameEvent(make([]byte, MaxLogFrameDataSize+10), log.DirectionIn)
	assert.True(t, ev.Frame.Truncated)
	assert.Len(t, ev.Frame.Data, MaxLogFrameDataSize)
	assert.Equal(t, FrameSize(MaxLogFrameDataSize+10), ev.Frame.Size)
}
