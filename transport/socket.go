// Package transport implements two socket flavours: a connectionless,
// best-effort datagram socket and a reliable, ordered byte-stream socket,
// both layered on a single QUIC/WebTransport session
// (github.com/quic-go/webtransport-go, github.com/quic-go/quic-go). This
// package does no NAT traversal or address resolution: a Socket wraps a
// session or stream that is already established, and its peer address is
// opaque to this layer.
package transport

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Sentinel errors returned by Recv. ErrTimeout is a transient condition the
// caller should treat as retryable; ErrClosed means the socket will never
// produce more data.
var (
	ErrTimeout = errors.New("transport: timeout")
	ErrClosed  = errors.New("transport: closed")
)

// Blocking, when passed to SetTimeout, means Recv waits indefinitely.
// NonBlocking means Recv returns ErrTimeout immediately if nothing is
// ready. Any positive duration is a normal bounded wait.
const (
	Blocking    time.Duration = -1
	NonBlocking time.Duration = 0
)

// Socket is the contract shared by the datagram and reliable socket
// flavours.
type Socket interface {
	// SetTimeout configures the wait behaviour of subsequent Recv calls.
	SetTimeout(d time.Duration)
	// Send transmits bytes to the socket's peer. For the datagram flavour
	// this may silently drop; for the reliable flavour it blocks until
	// accepted by the stream's flow control.
	Send(b []byte) error
	// Recv reads the next unit (one datagram, or a length-framed chunk on
	// the reliable socket) into buf, returning its length. Returns
	// ErrTimeout or ErrClosed rather than 0, nil on those conditions.
	Recv(buf []byte) (int, error)
	// Close shuts the socket down; subsequent Send/Recv return ErrClosed.
	Close() error
}

// deadlineLoop centralizes "restart-on-interrupt" timeout semantics: a
// caller-visible interruption of the underlying wait must resume with the
// *remaining* budget, never reset it, and a
// non-positive remaining timeout must return ErrTimeout without attempting
// the underlying operation at all.
//
// attempt is called with a context carrying the remaining deadline; it
// should return (value, false, nil) to request another attempt (e.g. the
// underlying wait was interrupted rather than genuinely timing out or
// succeeding), or (value, true, err) to stop.
type deadlineLoop struct {
	mu      sync.Mutex
	timeout time.Duration // Blocking, NonBlocking, or a positive bound
}

func (d *deadlineLoop) setTimeout(t time.Duration) {
	d.mu.Lock()
	d.timeout = t
	d.mu.Unlock()
}

func (d *deadlineLoop) run(parent context.Context, attempt func(ctx context.Context) (n int, done bool, err error)) (int, error) {
	d.mu.Lock()
	timeout := d.timeout
	d.mu.Unlock()

	if timeout == NonBlocking {
		return 0, ErrTimeout
	}

	var deadline time.Time
	hasDeadline := timeout != Blocking
	if hasDeadline {
		deadline = time.Now().Add(timeout)
	}

	for {
		ctx := parent
		var cancel context.CancelFunc
		if hasDeadline {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return 0, ErrTimeout
			}
			ctx, cancel = context.WithTimeout(parent, remaining)
		}

		n, done, err := attempt(ctx)
		if cancel != nil {
			cancel()
		}
		if done {
			return n, err
		}
		// Attempt reported an interruption rather than a real timeout or a
		// result: loop back and recompute the remaining budget rather than
		// resetting it to the original timeout.
		if hasDeadline && time.Now().After(deadline) {
			return 0, ErrTimeout
		}
	}
}
