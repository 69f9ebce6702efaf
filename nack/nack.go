// Package nack implements the receive-side NACK engine: it scans a
// reassembly.Buffer for eligible gaps, rate-limits
// how often it scans and how many requests it emits per scan, and leaves
// the per-segment retry bookkeeping inside the buffer's frame slots so a
// completed or superseded frame silently drops its own pending records.
//
// Grounded on nishisan-dev-n-backup/internal/server/gap_tracker.go's
// firstSeen/notifiedGaps map bookkeeping and retry backoff, and on
// rustyguts-bken/server/client.go's cachedDatagram-driven NACK handling on
// the sender side (served by segmenter.Segmenter.HandleNACK, not by this
// package).
package nack

import (
	"sort"
	"time"

	"rdcast/reassembly"
	"rdcast/wire"
)

// Config bundles the per-stream-kind eligibility policy. Video and audio
// use different constants because video's
// retry threshold grows with retry count while audio's does not.
type Config struct {
	// Stream is the stream kind this engine's buffer was constructed
	// for; it stamps outgoing NACK messages.
	Stream wire.StreamKind
	// SafetyMargin is how far behind max_id_seen a frame must be before
	// its gaps are even considered (reference: 5 video, 4 audio).
	SafetyMargin int32
	// T1Base is the minimum time since a frame's first segment arrived
	// before an index within it becomes NACK-eligible.
	T1Base time.Duration
	// T1PerRetry is added to T1Base once per prior retry on that index
	// (reference: video only, ~8ms per retry; zero for audio).
	T1PerRetry time.Duration
	// RetryCap is the maximum nack_count before an index is abandoned.
	RetryCap int
	// MaxPerScan bounds how many NACKs a single tick may emit (reference:
	// K=1 for audio, tighter pacing for video).
	MaxPerScan int
	// ScanInterval is the global rate limit between scans (reference
	// T2 ~6ms for both).
	ScanInterval time.Duration
}

// DefaultVideoConfig matches the reference constants for the video stream.
func DefaultVideoConfig() Config {
	return Config{
		Stream:       wire.StreamVideo,
		SafetyMargin: 5,
		T1Base:       8 * time.Millisecond,
		T1PerRetry:   8 * time.Millisecond,
		RetryCap:     2,
		MaxPerScan:   2,
		ScanInterval: 6 * time.Millisecond,
	}
}

// DefaultAudioConfig matches the reference constants for the audio stream.
func DefaultAudioConfig() Config {
	return Config{
		Stream:       wire.StreamAudio,
		SafetyMargin: 4,
		T1Base:       6 * time.Millisecond,
		T1PerRetry:   0,
		RetryCap:     2,
		MaxPerScan:   1,
		ScanInterval: 6 * time.Millisecond,
	}
}

// Engine is the receive-side half of the NACK contract: it owns no state
// of its own beyond rate limiting, reading and writing per-segment retry
// bookkeeping through the buffer it was built with.
type Engine struct {
	cfg Config
	buf *reassembly.Buffer

	lastScan time.Time
	hasScan  bool
}

// New builds a NACK engine over buf using cfg's eligibility policy.
func New(cfg Config, buf *reassembly.Buffer) *Engine {
	return &Engine{cfg: cfg, buf: buf}
}

// Tick scans for eligible gaps and returns the NACKs to send, honoring the
// global scan rate limit and the per-tick emission cap. It returns nil
// (not an error) when called before ScanInterval has elapsed since the
// last scan.
func (e *Engine) Tick(now time.Time) []wire.NACK {
	if e.hasScan && now.Sub(e.lastScan) < e.cfg.ScanInterval {
		return nil
	}
	e.lastScan = now
	e.hasScan = true

	candidates := e.buf.MissingSegments(e.cfg.SafetyMargin)
	eligible := candidates[:0:0]
	for _, c := range candidates {
		if c.Pending.NackCount >= e.cfg.RetryCap {
			continue
		}
		threshold := e.cfg.T1Base + time.Duration(c.Pending.NackCount)*e.cfg.T1PerRetry
		if now.Sub(c.FirstArrival) < threshold {
			continue
		}
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		return nil
	}

	// Deterministic order: oldest frame first, then lowest index, so
	// retransmission requests for a stalling frame are not starved by
	// newer ones.
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].FrameID != eligible[j].FrameID {
			return eligible[i].FrameID < eligible[j].FrameID
		}
		return eligible[i].Index < eligible[j].Index
	})

	if len(eligible) > e.cfg.MaxPerScan {
		eligible = eligible[:e.cfg.MaxPerScan]
	}

	out := make([]wire.NACK, 0, len(eligible))
	for _, c := range eligible {
		if !e.buf.RecordNackSent(c.FrameID, c.Index, now) {
			// Slot changed under us (overwritten/consumed) between the
			// scan and the send decision; the request is moot.
			continue
		}
		out = append(out, wire.NACK{Stream: e.cfg.Stream, FrameID: c.FrameID, Index: c.Index})
	}
	return out
}
