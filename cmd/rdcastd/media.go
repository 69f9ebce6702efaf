package main

import (
	"context"
	"encoding/binary"
	"time"

	"rdcast/playback"
	"rdcast/reassembly"
)

// VideoEncoder and AudioSource are the capture/encode collaborators a real
// deployment supplies from outside this binary: screen capture plus a
// hardware encoder, and a system audio loopback plus an Opus encoder.
// Neither is implemented here; rdcastd only ever sees encoded bytes.
type VideoEncoder interface {
	// NextFrame blocks until the next encoded frame is ready, or ctx is
	// done. keyframe is true when the returned bytes are self-contained.
	NextFrame(ctx context.Context) (payload []byte, keyframe bool, err error)
	// RequestKeyframe asks the encoder to emit a self-contained frame on
	// its next NextFrame call. reinitialize additionally asks it to reset
	// any internal prediction state.
	RequestKeyframe(reinitialize bool) error
	// SetBitrate adjusts the encoder's target and burst ceiling.
	SetBitrate(targetBPS, burstBPS int64)
}

// AudioSource supplies encoded audio frames on the same cadence contract
// as VideoEncoder.
type AudioSource interface {
	NextFrame(ctx context.Context) ([]byte, error)
}

// toneGenerator is a headless stand-in for both collaborators above, used
// when no real capture/encoder is wired up (e.g. local smoke testing).
// It synthesizes a fixed-size payload on a ticker rather than touching any
// device, mirroring the virtual test client's synthetic-source role.
type toneGenerator struct {
	interval time.Duration
	size     int
	seq      uint32
}

func newToneGenerator(interval time.Duration, size int) *toneGenerator {
	return &toneGenerator{interval: interval, size: size}
}

func (g *toneGenerator) NextFrame(ctx context.Context) ([]byte, error) {
	t := time.NewTimer(g.interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
	}
	payload := make([]byte, g.size)
	binary.BigEndian.PutUint32(payload, g.seq)
	g.seq++
	return payload, nil
}

type toneEncoder struct {
	*toneGenerator
	keyframeEvery int
	frameCount    int
}

func newToneEncoder(interval time.Duration, size, keyframeEvery int) *toneEncoder {
	return &toneEncoder{toneGenerator: newToneGenerator(interval, size), keyframeEvery: keyframeEvery}
}

func (e *toneEncoder) NextFrame(ctx context.Context) ([]byte, bool, error) {
	payload, err := e.toneGenerator.NextFrame(ctx)
	if err != nil {
		return nil, false, err
	}
	e.frameCount++
	keyframe := e.frameCount%e.keyframeEvery == 1
	return payload, keyframe, nil
}

func (e *toneEncoder) RequestKeyframe(reinitialize bool) error {
	e.frameCount = 0
	return nil
}

func (e *toneEncoder) SetBitrate(targetBPS, burstBPS int64) {}

// discardAudioSink, discardVideoSink and discardKeyframer stand in for the
// platform render callbacks a real client wires up (audio device output,
// frame buffer blit, encoder control channel). rdcastd has nothing to
// render, so its peers use these rather than leaving the scheduler fields
// nil.
type discardAudioSink struct{}

func (discardAudioSink) Push(payload []byte) error                    { return nil }
func (discardAudioSink) Reconfigure(format playback.AudioFormat) error { return nil }

type discardVideoSink struct{}

func (discardVideoSink) Render(frame reassembly.Frame, present bool) error { return nil }

type discardKeyframer struct{}

func (discardKeyframer) RequestKeyframe(reinitialize bool) error { return nil }
