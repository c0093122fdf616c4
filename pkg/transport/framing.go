package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mash-protocol/mash-sync/pkg/log"
	"github.com/mash-protocol/mash-sync/pkg/wire"
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4

	// DefaultMaxMessageSize is the default maximum message size (64 KB).
	DefaultMaxMessageSize = 65536

	// MaxLogFrameDataSize bounds the frame bytes copied into trace events.
	MaxLogFrameDataSize = 4096
)

// Framing errors.
var (
	// ErrMessageTooLarge indicates the message exceeds the maximum size.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrMessageEmpty indicates an empty message.
	ErrMessageEmpty = errors.New("message is empty")

	// ErrFrameTruncated indicates the frame was truncated.
	ErrFrameTruncated = errors.New("frame truncated")
)

// Framer reads and writes length-prefixed frames. Writes are serialized;
// reads must come from a single goroutine.
type Framer struct {
	r              io.Reader
	w              io.Writer
	maxMessageSize uint32
	lengthBuf      [LengthPrefixSize]byte
	mu             sync.Mutex

	trace  log.Logger
	peerID string
}

// NewFramer creates a framer over rw. A zero maxSize uses
// DefaultMaxMessageSize.
func NewFramer(rw io.ReadWriter, maxSize uint32) *Framer {
	if maxSize == 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Framer{r: rw, w: rw, maxMessageSize: maxSize}
}

// SetTrace records every frame as a transport trace event of peerID.
// Pass nil to disable tracing.
func (f *Framer) SetTrace(trace log.Logger, peerID string) {
	f.trace = trace
	f.peerID = peerID
}

// WriteFrame writes one frame.
func (f *Framer) WriteFrame(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if uint32(len(data)) > f.maxMessageSize {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), f.maxMessageSize)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// One write so a frame is never interleaved with another.
	buf := make([]byte, LengthPrefixSize+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[LengthPrefixSize:], data)
	if _, err := f.w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	if f.trace != nil {
		f.trace.Log(f.frameEvent(data, log.DirectionOut))
	}
	return nil
}

// ReadFrame reads one frame and returns its payload.
func (f *Framer) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(f.r, f.lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, err
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("failed to read length prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(f.lengthBuf[:])
	if length == 0 {
		return nil, ErrMessageEmpty
	}
	if length > f.maxMessageSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, f.maxMessageSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(f.r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}

	if f.trace != nil {
		f.trace.Log(f.frameEvent(payload, log.DirectionIn))
	}
	return payload, nil
}

// WriteMessage encodes msg into one frame.
func (f *Framer) WriteMessage(msg wire.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	return f.WriteFrame(data)
}

// ReadMessage reads and decodes one frame. A frame that does not decode
// is consumed and reported with its decode error.
func (f *Framer) ReadMessage() (wire.Message, error) {
	data, err := f.ReadFrame()
	if err != nil {
		return nil, err
	}
	msg, err := wire.Decode(data)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return msg, nil
}

func (f *Framer) frameEvent(data []byte, dir log.Direction) log.Event {
	ev := &log.FrameEvent{Size: FrameSize(len(data)), Data: data}
	if len(data) > MaxLogFrameDataSize {
		ev.Data = data[:MaxLogFrameDataSize]
		ev.Truncated = true
	}
	return log.Event{
		Timestamp: time.Now(),
		PeerID:    f.peerID,
		Direction: dir,
		Layer:     log.LayerTransport,
		Category:  log.CategoryMessage,
		Frame:     ev,
	}
}

// DecodeError wraps a frame that arrived intact but did not decode.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode frame: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }

// FrameSize returns the total frame size including the length prefix.
func FrameSize(payloadSize int) int {
	return LengthPrefixSize + payloadSize
}
