// Package playback implements the audio and video playback schedulers: the
// audio side trades latency for continuity against a byte-queue backlog,
// the video side drives a render callback and a keyframe-request state
// machine.
//
// Grounded on rustyguts-bken/client/internal/jitter/jitter.go's
// priming/draining ring buffer (buffering≈"not primed", flush≈dropping a
// stale sender's backlog) and client/audio.go's sink lifecycle, generalized
// from single-Opus-frame granularity to the reassembly ring buffer's
// multi-segment frames.
package playback

import (
	"rdcast/reassembly"
)

// Default byte-queue thresholds.
const (
	DefaultLowerBytes  = 18 * 1024
	DefaultUpperBytes  = 59 * 1024
	DefaultTargetBytes = 28 * 1024
)

// AudioGroupSize is the number of consecutive frame ids that form one
// playback group; flush and resume only ever happen on a group boundary.
// Flush drops whole groups, never partial segments; see DESIGN.md.
const AudioGroupSize = 3

// Sink is the external audio output collaborator: it receives reassembled
// PCM and is told when to reopen for a new format.
type Sink interface {
	Push(payload []byte) error
	Reconfigure(format AudioFormat) error
}

// AudioFormat describes the sink's expected PCM layout.
type AudioFormat struct {
	SampleRate int
	Channels   int
}

// AudioScheduler is the byte-queue-driven audio playback scheduler.
type AudioScheduler struct {
	buf  *reassembly.Buffer
	sink Sink

	lower, upper, target int

	queued    int
	buffering bool

	nextGroupStart int32
	format         AudioFormat
	hasFormat      bool
	reopenPending  bool

	droppedGroups []int32
}

// NewAudioScheduler builds a scheduler over buf feeding sink, using the
// given byte thresholds.
func NewAudioScheduler(buf *reassembly.Buffer, sink Sink, lower, upper, target int) *AudioScheduler {
	return &AudioScheduler{buf: buf, sink: sink, lower: lower, upper: upper, target: target}
}

// Drained reports that the external sink has consumed n bytes of what was
// previously pushed, decrementing the tracked backlog. The network/reassembly
// side has no other way to learn how fast the sink is actually draining.
func (a *AudioScheduler) Drained(n int) {
	a.queued -= n
	if a.queued < 0 {
		a.queued = 0
	}
}

// SetFormat updates the expected output format; Tick reopens the sink
// before the next push if it differs from what is already configured.
func (a *AudioScheduler) SetFormat(format AudioFormat) {
	if a.hasFormat && a.format == format {
		return
	}
	a.format = format
	a.hasFormat = true
	a.reopenPending = true
}

// Buffering reports whether the scheduler is currently withholding output
// while it refills toward target.
func (a *AudioScheduler) Buffering() bool { return a.buffering }

// QueuedBytes returns the scheduler's current estimate of sink backlog.
func (a *AudioScheduler) QueuedBytes() int { return a.queued }

// DroppedGroups drains and returns the frame ids of groups discarded by
// the most recent flush, for logging.
func (a *AudioScheduler) DroppedGroups() []int32 {
	out := a.droppedGroups
	a.droppedGroups = nil
	return out
}

// Tick advances the scheduler by one step: it resyncs past any groups lost
// to ring overwrite, then either discards ready-but-unpushed backlog while
// over the upper threshold (flush), withholds output while buffering, or
// pushes every consecutive ready group. queued only ever falls through an
// explicit Drained call; flush's job is to stop digging the hole deeper
// while real playback drains what has already reached the sink.
func (a *AudioScheduler) Tick() error {
	a.resync()

	if a.buffering {
		if a.queued >= a.target {
			a.buffering = false
		} else {
			return nil
		}
	}

	for {
		if a.queued > a.upper {
			if !a.dropOneGroup() {
				break
			}
			continue
		}
		group, ok := a.tryConsumeGroup(a.nextGroupStart)
		if !ok {
			break
		}
		if a.reopenPending {
			if err := a.sink.Reconfigure(a.format); err != nil {
				return err
			}
			a.reopenPending = false
		}
		if err := a.sink.Push(group); err != nil {
			return err
		}
		a.queued += len(group)
		a.nextGroupStart += AudioGroupSize
	}

	if a.queued < a.lower && !a.buffering {
		a.buffering = true
	}
	return nil
}

func (a *AudioScheduler) tryConsumeGroup(start int32) ([]byte, bool) {
	for i := int32(0); i < AudioGroupSize; i++ {
		if !a.buf.Ready(start + i) {
			return nil, false
		}
	}
	out := make([]byte, 0, AudioGroupSize*512)
	for i := int32(0); i < AudioGroupSize; i++ {
		frame, ok := a.buf.Consume(start + i)
		if !ok {
			return nil, false
		}
		out = append(out, frame.Payload...)
	}
	return out, true
}

// dropOneGroup discards the oldest ready-but-unpushed group without
// handing it to the sink, for use while over the upper threshold. It
// returns false if that group has not fully arrived yet, in which case
// there is nothing left to discard this tick.
func (a *AudioScheduler) dropOneGroup() bool {
	start := a.nextGroupStart
	for i := int32(0); i < AudioGroupSize; i++ {
		if !a.buf.Ready(start + i) {
			return false
		}
	}
	for i := int32(0); i < AudioGroupSize; i++ {
		a.buf.Consume(start + i)
	}
	a.droppedGroups = append(a.droppedGroups, start)
	a.nextGroupStart += AudioGroupSize
	return true
}

// resync advances nextGroupStart past any group that the ring buffer has
// already rendered or discarded out from under the scheduler (e.g. via
// RingOverwrite), so the scheduler never waits forever on an id that can
// no longer arrive.
func (a *AudioScheduler) resync() {
	last := a.buf.LastRenderedID()
	if last < a.nextGroupStart {
		return
	}
	diff := last - a.nextGroupStart + 1
	groups := diff / AudioGroupSize
	if diff%AudioGroupSize != 0 {
		groups++
	}
	a.nextGroupStart += groups * AudioGroupSize
}
