package transport

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DatagramSession is the subset of *webtransport.Session that Datagram
// needs. Declared as an interface so tests can supply an in-memory fake
// instead of a live QUIC connection.
type DatagramSession interface {
	SendDatagram([]byte) error
	ReceiveDatagram(ctx context.Context) ([]byte, error)
}

// Datagram is the connectionless socket flavour: best-effort, unordered,
// size-bounded. It wraps one peer's WebTransport session.
type Datagram struct {
	loop deadlineLoop

	mu      sync.Mutex
	session DatagramSession
	closed  bool
}

// NewDatagram wraps an already-established session as a Socket.
func NewDatagram(session DatagramSession) *Datagram {
	return &Datagram{session: session}
}

func (d *Datagram) SetTimeout(t time.Duration) { d.loop.setTimeout(t) }

// Send hands bytes to the transport for best-effort delivery. A send
// failure (e.g. the peer is gone) is reported to the caller but never
// panics or blocks indefinitely.
func (d *Datagram) Send(b []byte) error {
	d.mu.Lock()
	closed := d.closed
	sess := d.session
	d.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return sess.SendDatagram(b)
}

// Recv waits for the next datagram, honoring the configured timeout with
// restart-on-interrupt semantics (see deadlineLoop).
func (d *Datagram) Recv(buf []byte) (int, error) {
	d.mu.Lock()
	closed := d.closed
	sess := d.session
	d.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}

	n, err := d.loop.run(context.Background(), func(ctx context.Context) (int, bool, error) {
		data, err := sess.ReceiveDatagram(ctx)
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return 0, true, ErrTimeout
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				// The parent context was canceled; report ErrClosed
				// rather than a spurious timeout. Recv's parent is
				// context.Background, and Close cancels nothing.
				return 0, true, ErrClosed
			}
			return 0, true, err
		}
		n := copy(buf, data)
		return n, true, nil
	})
	return n, err
}

// Close marks the socket closed; later Send and Recv calls return
// ErrClosed. A Recv that is already waiting is not interrupted and returns
// when its wait ends.
func (d *Datagram) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}
