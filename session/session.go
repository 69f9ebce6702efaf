// Package session implements the orchestrator that owns a peer's sockets,
// ring buffers, schedulers, and bitrate controller for their whole
// lifetime: creation over sockets the caller has already set up (the
// discovery handshake is run by the caller, not here), liveness tracking,
// and teardown.
//
// Grounded on server/room.go (Room's RWMutex-guarded client map, AddClient
// ID assignment, Broadcast's snapshot-then-release-lock pattern) and
// server/client.go (sendHealth's consecutive-failure bookkeeping, reused
// here for the deactivation reference count).
package session

import (
	"crypto/rand"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"rdcast/bitrate"
	"rdcast/cipher"
	"rdcast/nack"
	"rdcast/playback"
	"rdcast/reassembly"
	"rdcast/segmenter"
	"rdcast/transport"
	"rdcast/wire"
)

// LivenessWindow is the reference interval within which a peer must
// deliver a ping or be marked deactivating.
const LivenessWindow = 3 * time.Second

// RingSize is the reassembly ring buffer's slot count per stream.
const RingSize = 256

var (
	ErrClosed = errors.New("session: peer is closed or deactivating")
)

// State names a point in a peer's lifecycle.
type State int

const (
	StateActive State = iota
	StateDeactivating
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDeactivating:
		return "deactivating"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// RenderSinks bundles the caller-supplied collaborators a peer's
// schedulers drive: audio output, video rendering, and keyframe requests.
// These are the capture/codec/render boundary the core never implements
// itself.
type RenderSinks struct {
	Audio     playback.Sink
	Video     playback.RenderSink
	Keyframer playback.KeyframeRequester
}

// Peer owns one remote endpoint's entire wire-and-media state.
type Peer struct {
	ID           uint32
	ConnectionID uint32

	Reliable *transport.Reliable
	Datagram *transport.Datagram
	Cipher   *cipher.Cipher

	VideoBuf *reassembly.Buffer
	AudioBuf *reassembly.Buffer

	VideoNack *nack.Engine
	AudioNack *nack.Engine

	VideoSeg *segmenter.Segmenter
	AudioSeg *segmenter.Segmenter

	AudioSched *playback.AudioScheduler
	VideoSched *playback.VideoScheduler
	Bitrate    *bitrate.Controller

	mu       sync.Mutex
	state    State
	lastPing time.Time

	// closeOnce guards the actual teardown (finishClose plus orchestrator
	// deregistration) against running twice when Tick's liveness sweep and
	// an explicit Close race on the same peer.
	closeOnce sync.Once

	// activeRefs counts in-flight holders of an "active" reference
	// (render tick, send tick, control handler). Deactivation waits for
	// this to reach zero before tearing sockets and buffers down.
	activeRefs atomic.Int32
}

// Acquire registers the caller as an active holder; it fails once the
// peer has begun deactivating. Callers must call Release when done.
func (p *Peer) Acquire() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateActive {
		return ErrClosed
	}
	p.activeRefs.Add(1)
	return nil
}

// Release drops an active-reference holder taken by Acquire.
func (p *Peer) Release() {
	p.activeRefs.Add(-1)
}

// Touch records that a ping arrived just now.
func (p *Peer) Touch(now time.Time) {
	p.mu.Lock()
	p.lastPing = now
	p.mu.Unlock()
}

// State returns the peer's current lifecycle state.
func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// live reports whether the peer has pinged within window, as of now.
func (p *Peer) live(now time.Time, window time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateActive {
		return false
	}
	return now.Sub(p.lastPing) <= window
}

// beginDeactivating flips the peer to deactivating if it is still active,
// returning true if this call made the transition.
func (p *Peer) beginDeactivating() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateActive {
		return false
	}
	p.state = StateDeactivating
	return true
}

// readyToClose reports whether deactivation has drained every active
// reference holder. A peer that has already finished closing reports
// ready too, so a second, racing teardown attempt does not spin forever
// waiting for a state transition that already happened.
func (p *Peer) readyToClose() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateClosed {
		return true
	}
	return p.state == StateDeactivating && p.activeRefs.Load() == 0
}

func (p *Peer) finishClose() {
	p.mu.Lock()
	p.state = StateClosed
	p.mu.Unlock()
	if p.Reliable != nil {
		_ = p.Reliable.Close()
	}
	if p.Datagram != nil {
		_ = p.Datagram.Close()
	}
}

// NewPeerConfig bundles everything Create needs to wire up one peer's
// ring buffers, schedulers, and bitrate controller.
type NewPeerConfig struct {
	Reliable      *transport.Reliable
	Datagram      *transport.Datagram
	Key           []byte
	Sinks         RenderSinks
	InitialBPS    int64
	BitrateConfig bitrate.Config
}

// Orchestrator owns every live peer and the process-wide connection id.
type Orchestrator struct {
	mu    sync.RWMutex
	peers map[uint32]*Peer

	nextID       atomic.Uint32
	connectionID atomic.Uint32
	activeCount  atomic.Int32
}

// New builds an empty orchestrator.
func New() *Orchestrator {
	return &Orchestrator{peers: make(map[uint32]*Peer)}
}

// ConnectionID returns the current connection id, embedded in logs for
// correlation across a peer's lifetime.
func (o *Orchestrator) ConnectionID() uint32 { return o.connectionID.Load() }

// Create wires up a new peer's cipher, ring buffers, NACK engines,
// segmenters, schedulers, and bitrate controller over an
// already-established pair of sockets, and registers it under a fresh id.
func (o *Orchestrator) Create(cfg NewPeerConfig) (*Peer, error) {
	c, err := cipher.New(cfg.Key)
	if err != nil {
		return nil, err
	}

	videoBuf := reassembly.New(wire.StreamVideo, RingSize)
	audioBuf := reassembly.New(wire.StreamAudio, RingSize)

	p := &Peer{
		Reliable:   cfg.Reliable,
		Datagram:   cfg.Datagram,
		Cipher:     c,
		VideoBuf:   videoBuf,
		AudioBuf:   audioBuf,
		VideoNack:  nack.New(nack.DefaultVideoConfig(), videoBuf),
		AudioNack:  nack.New(nack.DefaultAudioConfig(), audioBuf),
		VideoSeg:   segmenter.New(c, datagramSender{cfg.Datagram}),
		AudioSeg:   segmenter.New(c, datagramSender{cfg.Datagram}),
		AudioSched: playback.NewAudioScheduler(audioBuf, cfg.Sinks.Audio, playback.DefaultLowerBytes, playback.DefaultUpperBytes, playback.DefaultTargetBytes),
		VideoSched: playback.NewVideoScheduler(videoBuf, cfg.Sinks.Video, cfg.Sinks.Keyframer),
		Bitrate:    bitrate.New(cfg.BitrateConfig, cfg.InitialBPS),
		state:      StateActive,
		lastPing:   time.Now(),
	}

	o.mu.Lock()
	id := o.nextID.Add(1)
	p.ID = id
	wasEmpty := len(o.peers) == 0
	o.peers[id] = p
	o.mu.Unlock()

	o.activeCount.Add(1)
	if wasEmpty {
		o.rollConnectionID()
	}
	p.ConnectionID = o.ConnectionID()

	log.Printf("[session] peer %d created, connection=%d", id, p.ConnectionID)
	return p, nil
}

// datagramSender adapts *transport.Datagram to segmenter.Sender.
type datagramSender struct{ d *transport.Datagram }

func (s datagramSender) Send(b []byte) error { return s.d.Send(b) }

// Get returns the peer registered under id, or nil if none.
func (o *Orchestrator) Get(id uint32) *Peer {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.peers[id]
}

// Peers returns a snapshot of every currently registered peer.
func (o *Orchestrator) Peers() []*Peer {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*Peer, 0, len(o.peers))
	for _, p := range o.peers {
		out = append(out, p)
	}
	return out
}

// ActiveCount returns the number of peers currently registered.
func (o *Orchestrator) ActiveCount() int32 { return o.activeCount.Load() }

// Close begins deactivating the peer id (if it has not already started)
// and blocks synchronously until every active-reference holder has
// released, then tears down its sockets and removes it from the
// orchestrator. Calling Close on a peer that is already deactivating
// still drains and tears it down; calling it again afterward, or on an
// unknown peer, is a no-op.
func (o *Orchestrator) Close(id uint32) error {
	p := o.Get(id)
	if p == nil {
		return nil
	}
	p.beginDeactivating()
	for !p.readyToClose() {
		time.Sleep(time.Millisecond)
	}

	p.closeOnce.Do(func() {
		p.finishClose()

		o.mu.Lock()
		delete(o.peers, id)
		remaining := len(o.peers)
		o.mu.Unlock()

		o.activeCount.Add(-1)
		if remaining == 0 {
			o.rollConnectionID()
		}
		log.Printf("[session] peer %d closed", id)
	})
	return nil
}

// Tick is the orchestrator's liveness supervisor: any peer that has not
// pinged within window is moved to deactivating, and any peer already
// deactivating with no active-reference holders left is closed. No
// thread may issue new sends on a deactivating peer: Acquire already
// refuses once the transition has happened.
func (o *Orchestrator) Tick(now time.Time, window time.Duration) {
	for _, p := range o.Peers() {
		if p.State() == StateActive && !p.live(now, window) {
			if p.beginDeactivating() {
				log.Printf("[session] peer %d missed liveness window, deactivating", p.ID)
			}
		}
		if p.readyToClose() {
			_ = o.Close(p.ID)
		}
	}
}

func (o *Orchestrator) rollConnectionID() {
	var b [4]byte
	if _, err := rand.Read(b[:]); err == nil {
		o.connectionID.Store(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))
	}
}
