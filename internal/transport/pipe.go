// File: internal/transport/pipe.go

// Package transport owns the driver subprocess and the raw byte stream: it
// frames and unframes the length-prefixed messages carried over the
// subprocess's stdio pipes. It knows nothing about the JSON inside a frame.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xkilldash9x/drover/api/protocol"
)

// DefaultMaxFrameSize caps a single frame's payload. Frames are JSON and
// can legitimately be large (base64 screenshots, downloads), but a length
// prefix beyond this almost always means a corrupted or desynchronized
// stream.
const DefaultMaxFrameSize = 256 * 1024 * 1024

// ErrClosed is returned by Send after the pipe's writer has been closed.
var ErrClosed = errors.New("transport: pipe closed")

// Pipe frames messages over a reader/writer pair. In production the pair is
// the driver subprocess's stdin/stdout; tests substitute in-memory pipes.
//
// Each frame is a 4-byte little-endian unsigned payload length followed by
// exactly that many bytes of payload, with no delimiter before the next
// frame's prefix.
type Pipe struct {
	logger *zap.Logger

	r io.Reader
	w io.WriteCloser

	// writeMu serializes frame writes so two concurrent calls never
	// interleave their bytes on the wire.
	writeMu sync.Mutex
	closed  atomic.Bool

	maxFrameSize int
}

// NewPipe creates a Pipe over the given stream pair. maxFrameSize <= 0
// selects DefaultMaxFrameSize.
func NewPipe(r io.Reader, w io.WriteCloser, maxFrameSize int, logger *zap.Logger) *Pipe {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipe{
		logger:       logger.With(zap.String("component", "transport")),
		r:            r,
		w:            w,
		maxFrameSize: maxFrameSize,
	}
}

// Send writes one framed message. Safe for concurrent use; at most one
// frame write is in flight at a time. Any write error is fatal to the
// connection and is surfaced, never retried.
func (p *Pipe) Send(payload []byte) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if len(payload) > p.maxFrameSize {
		return protocol.NewProtocolError("outgoing frame of %d bytes exceeds limit %d", len(payload), p.maxFrameSize)
	}

	// Assemble prefix and payload into a single buffer so the frame hits
	// the pipe in one write.
	frame := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.closed.Load() {
		return ErrClosed
	}
	if _, err := p.w.Write(frame); err != nil {
		return fmt.Errorf("transport: frame write failed: %w", err)
	}
	return nil
}

// ReadLoop reads frames until end-of-stream or a read error and hands each
// payload to onMessage in arrival order. It is the caller's single reader
// goroutine for the life of the connection. The returned error is the
// reason the stream ended: io.EOF for a clean end-of-stream, anything else
// for corruption or I/O failure.
func (p *Pipe) ReadLoop(onMessage func(payload []byte)) error {
	var prefix [4]byte
	for {
		if _, err := io.ReadFull(p.r, prefix[:]); err != nil {
			if errors.Is(err, io.EOF) {
				// Clean boundary: the driver exited between frames.
				return io.EOF
			}
			return fmt.Errorf("transport: reading frame prefix: %w", err)
		}
		n := binary.LittleEndian.Uint32(prefix[:])
		if int64(n) > int64(p.maxFrameSize) {
			return protocol.NewProtocolError("incoming frame of %d bytes exceeds limit %d", n, p.maxFrameSize)
		}

		payload := make([]byte, n)
		if _, err := io.ReadFull(p.r, payload); err != nil {
			// A partial payload is stream corruption no matter how the
			// read failed.
			return fmt.Errorf("transport: reading %d-byte frame payload: %w", n, err)
		}
		onMessage(payload)
	}
}

// CloseWriter closes the write side of the pipe, signaling no more input
// to the subprocess. Idempotent.
func (p *Pipe) CloseWriter() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.w.Close(); err != nil {
		p.logger.Debug("Closing pipe writer failed.", zap.Error(err))
		return err
	}
	return nil
}
