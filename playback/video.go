package playback

import (
	"time"

	"rdcast/reassembly"
)

// VideoState names a state in the keyframe-request state machine.
type VideoState int

const (
	VideoIdle VideoState = iota
	VideoRendering
	VideoWaiting
	VideoIframeRequested
)

func (s VideoState) String() string {
	switch s {
	case VideoIdle:
		return "idle"
	case VideoRendering:
		return "rendering"
	case VideoWaiting:
		return "waiting"
	case VideoIframeRequested:
		return "iframe-requested"
	default:
		return "unknown"
	}
}

// Keyframe-request state machine thresholds.
const (
	// StaleBehind is how far behind max_id_seen last_rendered_id must
	// fall before the scheduler starts asking for a keyframe.
	StaleBehind = 3
	// ForceBehind is the stronger stall threshold. Tick treats it the same
	// as StaleBehind: either one makes a request on the current tick, and
	// both are subject to KeyframeRequestInterval.
	ForceBehind = 5
	// KeyframeRequestInterval rate-limits repeated requests while stalled.
	KeyframeRequestInterval = 250 * time.Millisecond
	// SkipDeadline is how long the scheduler waits on a missing next-id
	// before giving up on it arriving at all (its NACK retries exhausted,
	// or its ring slot already overwritten by a newer frame) and jumping
	// ahead to the next frame it actually has, so a single unrecoverable
	// gap cannot stall playback forever.
	SkipDeadline = 2 * KeyframeRequestInterval
)

// RenderSink is the external render callback collaborator.
type RenderSink interface {
	Render(frame reassembly.Frame, present bool) error
}

// KeyframeRequester asks the encoder for a self-contained frame, via the
// bitrate controller's control channel.
type KeyframeRequester interface {
	RequestKeyframe(reinitialize bool) error
}

// VideoScheduler drives a render callback from a video ring buffer,
// requesting keyframes when playback stalls.
type VideoScheduler struct {
	buf       *reassembly.Buffer
	sink      RenderSink
	requester KeyframeRequester

	state VideoState

	lastRendered   int32
	hasRendered    bool
	waitingIframe  bool
	lastKeyframeAt time.Time
	hasRequested   bool

	stalling   bool
	stallSince time.Time
}

// NewVideoScheduler builds a video scheduler over buf.
func NewVideoScheduler(buf *reassembly.Buffer, sink RenderSink, requester KeyframeRequester) *VideoScheduler {
	return &VideoScheduler{buf: buf, sink: sink, requester: requester, state: VideoIdle, lastRendered: -1}
}

// State returns the scheduler's current state, for metrics/logging.
func (v *VideoScheduler) State() VideoState { return v.state }

// Tick advances the scheduler by one step: render the next id if ready,
// otherwise evaluate keyframe-request policy based on how far behind
// max_id_seen playback has fallen. A gap that is still missing once
// SkipDeadline has elapsed is abandoned: the scheduler jumps lastRendered
// ahead to the next id it actually has, rather than waiting on it forever.
func (v *VideoScheduler) Tick(now time.Time) error {
	next := v.lastRendered + 1
	maxSeen := v.buf.MaxIDSeen()

	if !v.buf.Ready(next) && maxSeen > v.lastRendered {
		if !v.stalling {
			v.stalling = true
			v.stallSince = now
		} else if now.Sub(v.stallSince) >= SkipDeadline {
			if skipTo, ok := v.nextReadyFrom(next, maxSeen); ok {
				v.lastRendered = skipTo - 1
				next = skipTo
			}
		}
	}

	if v.buf.Ready(next) {
		frame, ok := v.buf.Consume(next)
		if !ok {
			return nil
		}
		v.lastRendered = next
		v.hasRendered = true
		v.waitingIframe = false
		v.stalling = false
		v.state = VideoRendering

		// Catch-up: if the following frame is already ready too, render
		// this one without presenting it so the sink does not fall
		// further behind real time.
		present := !v.buf.Ready(next + 1)
		return v.sink.Render(frame, present)
	}

	behind := maxSeen - v.lastRendered
	if behind >= ForceBehind {
		v.state = VideoWaiting
		return v.maybeRequestKeyframe(now, false)
	}
	if behind >= StaleBehind {
		v.state = VideoWaiting
		return v.maybeRequestKeyframe(now, false)
	}
	return nil
}

// nextReadyFrom returns the lowest fully-arrived frame id in [start, maxSeen],
// or false if nothing in that range is ready yet.
func (v *VideoScheduler) nextReadyFrom(start, maxSeen int32) (int32, bool) {
	for id := start; id <= maxSeen; id++ {
		if v.buf.Ready(id) {
			return id, true
		}
	}
	return 0, false
}

func (v *VideoScheduler) maybeRequestKeyframe(now time.Time, reinitialize bool) error {
	if v.waitingIframe && v.hasRequested && now.Sub(v.lastKeyframeAt) < KeyframeRequestInterval {
		return nil
	}
	v.waitingIframe = true
	v.hasRequested = true
	v.lastKeyframeAt = now
	v.state = VideoIframeRequested
	return v.requester.RequestKeyframe(reinitialize)
}

// LastRendered returns the highest frame id rendered so far, or -1 if none.
func (v *VideoScheduler) LastRendered() int32 { return v.lastRendered }
