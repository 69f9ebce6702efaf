// Package reassembly implements the ring reassembly buffer: a fixed-size
// array of frame slots, one instance per stream kind, with exactly one
// writer (the network-receive thread, via Receive) and at most one reader
// (the playback scheduler, via Ready/Consume) at a time. The
// array-of-slots-plus-modulo-indexing layout is load-bearing and must
// never be rewritten as a list: slot identity via `id mod N` is what makes
// duplicate and overwrite detection O(1).
//
// Grounded on rustyguts-bken/server/client.go's per-sender `dgramCache`
// ring array (`seq % dgramCacheSize`) and client/internal/jitter/jitter.go's
// per-sender ring (`seq & ringMask`), generalized from a flat byte/opus
// cache to full multi-segment frame reassembly.
package reassembly

import (
	"sync"
	"time"

	"rdcast/wire"
)

// sentinel marks an empty slot. Frame ids are expected to be non-negative,
// monotonically increasing signed 32-bit values with no stated floor; this
// is documented rather than defended.
const sentinel int32 = -1

// Outcome classifies what Receive did with an incoming segment.
type Outcome int

const (
	// Accepted means the segment was new and its index was recorded.
	Accepted Outcome = iota
	// DroppedOld means the segment's frame id is at or below the
	// last-rendered watermark, or belongs to a frame already superseded
	// by a newer one in the same slot.
	DroppedOld
	// DroppedDuplicate means the segment's index had already arrived for
	// this frame.
	DroppedDuplicate
	// Overwrote means a newer frame id displaced an older, not yet consumed
	// frame (complete or not) occupying the same slot; the caller should
	// record a frame-loss metric for the discarded frame.
	Overwrote
)

// Frame is the reassembled payload for one frame id, handed to the caller
// by Consume. It does not outlive the Consume call that produced it; the
// slot's payload storage is reused once a newer frame lands there.
type Frame struct {
	FrameID int32
	Stream  wire.StreamKind
	Payload []byte
}

// PendingRecord is the per-segment retry bookkeeping ("Pending-NACK
// record"). It lives inside the frame slot so it is discarded along with
// the frame (on Consume or on overwrite).
type PendingRecord struct {
	NackCount    int
	LastNackTime time.Time
}

// MissingSegment names one (frame id, index) gap a NACK engine may choose
// to act on, along with enough context (first-arrival time, current retry
// state) for it to apply its own eligibility policy. The ring buffer only
// reports candidates; it does not itself decide T1/T2 timing or the retry
// cap.
type MissingSegment struct {
	FrameID      int32
	Index        uint16
	FirstArrival time.Time
	Pending      PendingRecord
}

type frameSlot struct {
	id           int32
	filled       bool
	count        uint16
	arrived      []bool
	arrivedCount int
	payloads     [][]byte
	firstArrival time.Time
	pending      map[uint16]PendingRecord
}

func (s *frameSlot) reset() {
	s.id = sentinel
	s.filled = false
	s.count = 0
	s.arrived = nil
	s.arrivedCount = 0
	s.payloads = nil
	s.pending = nil
}

// Buffer is one ring reassembly buffer for one stream kind.
type Buffer struct {
	mu sync.Mutex

	stream wire.StreamKind
	slots  []frameSlot

	maxIDSeen      int32
	lastRenderedID int32
	lastNackedID   int32
	hasSeen        bool
}

// New creates a ring reassembly buffer with the given number of slots for
// the given stream kind. size must be a positive power of two for callers
// that rely on fast modulo, but any positive size works correctly here.
func New(stream wire.StreamKind, size int) *Buffer {
	if size <= 0 {
		size = 1
	}
	b := &Buffer{
		stream: stream,
		slots:  make([]frameSlot, size),
	}
	for i := range b.slots {
		b.slots[i].reset()
	}
	b.maxIDSeen = sentinel
	b.lastRenderedID = sentinel
	b.lastNackedID = sentinel
	return b
}

func (b *Buffer) slotFor(id int32) *frameSlot {
	n := int32(len(b.slots))
	idx := id % n
	if idx < 0 {
		idx += n
	}
	return &b.slots[idx]
}

// Receive installs an incoming segment into the buffer, classifying the
// result.
func (b *Buffer) Receive(seg wire.Segment, now time.Time) Outcome {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.hasSeen && seg.FrameID <= b.lastRenderedID {
		return DroppedOld
	}

	slot := b.slotFor(seg.FrameID)

	switch {
	case !slot.filled:
		b.installLocked(slot, seg, now)
	case slot.id == seg.FrameID:
		if int(seg.Index) >= len(slot.arrived) || slot.arrived[seg.Index] {
			b.touchMaxSeen(seg.FrameID)
			return DroppedDuplicate
		}
		b.markArrivedLocked(slot, seg)
	case seg.FrameID > slot.id:
		// Newer frame displaces an older, unconsumed one: advance
		// last_rendered_id past the discarded frame and report the loss.
		if slot.id > b.lastRenderedID {
			b.lastRenderedID = slot.id
		}
		b.installLocked(slot, seg, now)
		b.touchMaxSeen(seg.FrameID)
		return b.finishOverwrite()
	default:
		// Older incoming than the slot's current occupant: drop.
		b.touchMaxSeen(seg.FrameID)
		return DroppedOld
	}

	b.touchMaxSeen(seg.FrameID)
	return Accepted
}

// finishOverwrite exists only so Receive's switch can return a named
// Outcome after installLocked already ran; kept as a tiny helper to avoid
// duplicating the return statement's meaning at the call site.
func (b *Buffer) finishOverwrite() Outcome { return Overwrote }

func (b *Buffer) touchMaxSeen(id int32) {
	if !b.hasSeen || id > b.maxIDSeen {
		b.maxIDSeen = id
		b.hasSeen = true
	}
}

func (b *Buffer) installLocked(slot *frameSlot, seg wire.Segment, now time.Time) {
	count := seg.Count
	if count == 0 {
		count = 1
	}
	slot.id = seg.FrameID
	slot.filled = true
	slot.count = count
	slot.arrived = make([]bool, count)
	slot.payloads = make([][]byte, count)
	slot.arrivedCount = 0
	slot.firstArrival = now
	slot.pending = make(map[uint16]PendingRecord)
	if int(seg.Index) < len(slot.arrived) {
		b.markArrivedLocked(slot, seg)
	}
}

func (b *Buffer) markArrivedLocked(slot *frameSlot, seg wire.Segment) {
	if int(seg.Index) >= len(slot.arrived) || slot.arrived[seg.Index] {
		return
	}
	cloned := seg.Clone()
	slot.payloads[seg.Index] = cloned.Payload
	slot.arrived[seg.Index] = true
	slot.arrivedCount++
	delete(slot.pending, seg.Index)
}

// Ready reports whether every index of frame id has arrived.
func (b *Buffer) Ready(id int32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	slot := b.slotFor(id)
	return slot.filled && slot.id == id && slot.arrivedCount == int(slot.count)
}

// Consume atomically reads out the reassembled payload for frame id,
// empties the slot, and advances last_rendered_id. It returns false if the
// frame is not present or not yet fully arrived.
func (b *Buffer) Consume(id int32) (Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	slot := b.slotFor(id)
	if !slot.filled || slot.id != id || slot.arrivedCount != int(slot.count) {
		return Frame{}, false
	}

	total := 0
	for _, p := range slot.payloads {
		total += len(p)
	}
	out := make([]byte, 0, total)
	for _, p := range slot.payloads {
		out = append(out, p...)
	}

	frame := Frame{FrameID: id, Stream: b.stream, Payload: out}
	slot.reset()
	if id > b.lastRenderedID {
		b.lastRenderedID = id
	}
	return frame, true
}

// MaxIDSeen returns the highest frame id observed by Receive so far.
func (b *Buffer) MaxIDSeen() int32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxIDSeen
}

// LastRenderedID returns the highest frame id consumed (or skipped via
// overwrite) so far.
func (b *Buffer) LastRenderedID() int32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRenderedID
}

// LastNackedID returns the highest frame id a NACK has been issued for.
func (b *Buffer) LastNackedID() int32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastNackedID
}

// UpdateLastNacked advances the last-nacked watermark; it is a no-op if id
// is not greater than the current value, preserving monotonicity.
func (b *Buffer) UpdateLastNacked(id int32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id > b.lastNackedID {
		b.lastNackedID = id
	}
}

// MissingSegments returns the (frame id, index) gaps belonging to frames
// older than max_id_seen - safetyMargin that are not yet ready and not yet
// rendered, along with each gap's pending-NACK bookkeeping, for a NACK
// engine to filter by its own eligibility policy.
func (b *Buffer) MissingSegments(safetyMargin int32) []MissingSegment {
	b.mu.Lock()
	defer b.mu.Unlock()

	threshold := b.maxIDSeen - safetyMargin
	var out []MissingSegment
	for i := range b.slots {
		slot := &b.slots[i]
		if !slot.filled || slot.id > threshold || slot.id <= b.lastRenderedID {
			continue
		}
		if slot.arrivedCount == int(slot.count) {
			continue
		}
		for idx, got := range slot.arrived {
			if got {
				continue
			}
			out = append(out, MissingSegment{
				FrameID:      slot.id,
				Index:        uint16(idx),
				FirstArrival: slot.firstArrival,
				Pending:      slot.pending[uint16(idx)],
			})
		}
	}
	return out
}

// RecordNackSent bumps the pending-NACK record for (frameID, index),
// returning false if the frame is no longer the slot's occupant (e.g. it
// was overwritten or consumed concurrently, so the caller's NACK is now
// moot).
func (b *Buffer) RecordNackSent(frameID int32, index uint16, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	slot := b.slotFor(frameID)
	if !slot.filled || slot.id != frameID || int(index) >= len(slot.arrived) || slot.arrived[index] {
		return false
	}
	rec := slot.pending[index]
	rec.NackCount++
	rec.LastNackTime = now
	slot.pending[index] = rec
	if frameID > b.lastNackedID {
		b.lastNackedID = frameID
	}
	return true
}
