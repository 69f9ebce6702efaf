package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"time"
)

// lengthPrefixLen is the size in bytes of the frame-length prefix the
// reliable socket uses to re-frame a byte stream: every frame prefixes its
// ciphertext with a four-byte length so a stream reader can delimit it.
const lengthPrefixLen = 4

// maxReliableFrame bounds a single reliable-socket frame so a corrupt or
// hostile length prefix cannot force an unbounded allocation.
const maxReliableFrame = 16 << 20 // 16 MiB

// StreamConn is the subset of a reliable, ordered, gapless byte-stream
// (e.g. *webtransport.Stream, or a TLS-wrapped TCP conn) that Reliable
// needs. Declared as an interface so tests can substitute an in-memory
// pipe.
type StreamConn interface {
	io.Reader
	io.Writer
	io.Closer
	SetReadDeadline(time.Time) error
}

// Reliable is the ordered, gapless socket flavour used for bulk/control
// traffic: clipboard and the discovery handshake.
type Reliable struct {
	loop deadlineLoop

	mu     sync.Mutex
	conn   StreamConn
	reader *bufio.Reader
	closed bool
}

// NewReliable wraps an already-established ordered stream as a Socket.
func NewReliable(conn StreamConn) *Reliable {
	return &Reliable{conn: conn, reader: bufio.NewReader(conn)}
}

func (r *Reliable) SetTimeout(t time.Duration) { r.loop.setTimeout(t) }

// Send writes one length-prefixed frame. It blocks until accepted by the
// stream's flow control (or the underlying write deadline, if any, expires).
func (r *Reliable) Send(b []byte) error {
	r.mu.Lock()
	closed := r.closed
	conn := r.conn
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}

	var hdr [lengthPrefixLen]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
	if _, err := conn.Write(hdr[:]); err != nil {
		return err
	}
	_, err := conn.Write(b)
	return err
}

// Recv reads the next length-prefixed frame into buf, honoring the
// configured timeout with restart-on-interrupt semantics.
func (r *Reliable) Recv(buf []byte) (int, error) {
	r.mu.Lock()
	closed := r.closed
	conn := r.conn
	reader := r.reader
	r.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}

	return r.loop.run(context.Background(), func(ctx context.Context) (int, bool, error) {
		deadline, hasDeadline := ctx.Deadline()
		if hasDeadline {
			_ = conn.SetReadDeadline(deadline)
		} else {
			_ = conn.SetReadDeadline(time.Time{})
		}

		var hdr [lengthPrefixLen]byte
		if _, err := io.ReadFull(reader, hdr[:]); err != nil {
			return 0, true, classifyReadErr(err)
		}
		frameLen := binary.BigEndian.Uint32(hdr[:])
		if frameLen > maxReliableFrame {
			return 0, true, ErrMalformedFrame
		}
		if int(frameLen) > len(buf) {
			return 0, true, ErrBufferTooSmall
		}
		if _, err := io.ReadFull(reader, buf[:frameLen]); err != nil {
			return 0, true, classifyReadErr(err)
		}
		return int(frameLen), true, nil
	})
}

// ErrMalformedFrame is returned when a reliable-socket frame's length
// prefix exceeds maxReliableFrame.
var ErrMalformedFrame = errors.New("transport: malformed frame length")

// ErrBufferTooSmall is returned when the caller's buffer cannot hold the
// next framed message.
var ErrBufferTooSmall = errors.New("transport: buffer too small for frame")

func classifyReadErr(err error) error {
	if err == nil {
		return nil
	}
	if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
		return ErrTimeout
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return ErrClosed
	}
	return err
}

// Close shuts down the underlying stream.
func (r *Reliable) Close() error {
	r.mu.Lock()
	r.closed = true
	conn := r.conn
	r.mu.Unlock()
	return conn.Close()
}
