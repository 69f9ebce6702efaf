package segmenter

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"rdcast/cipher"
	"rdcast/wire"
)

type fakeSender struct {
	mu  sync.Mutex
	out [][]byte
}

func (f *fakeSender) Send(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(b))
	copy(cp, b)
	f.out = append(f.out, cp)
	return nil
}

func (f *fakeSender) segments(t *testing.T, c *cipher.Cipher) []wire.Segment {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.Segment, 0, len(f.out))
	for _, raw := range f.out {
		seg, err := wire.DecodeDatagram(c, raw)
		if err != nil {
			t.Fatalf("DecodeDatagram: %v", err)
		}
		out = append(out, seg)
	}
	return out
}

func testCipher(t *testing.T) *cipher.Cipher {
	t.Helper()
	c, err := cipher.New(bytes.Repeat([]byte{0x07}, cipher.KeySize))
	if err != nil {
		t.Fatalf("cipher.New: %v", err)
	}
	return c
}

func TestEmitSplitsIntoStrictlyIncreasingIndices(t *testing.T) {
	c := testCipher(t)
	sender := &fakeSender{}
	s := New(c, sender)

	frame := bytes.Repeat([]byte{0xAB}, wire.MaxPayload*2+37)
	if err := s.Emit(frame, 7, wire.StreamVideo, 0); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	segs := sender.segments(t, c)
	if len(segs) != 3 {
		t.Fatalf("got %d segments, want 3", len(segs))
	}
	for i, seg := range segs {
		if seg.Index != uint16(i) {
			t.Fatalf("segment %d has index %d", i, seg.Index)
		}
		if seg.FrameID != 7 || seg.Count != 3 {
			t.Fatalf("segment %d has frame id %d count %d", i, seg.FrameID, seg.Count)
		}
	}
	reassembled := append(append(append([]byte{}, segs[0].Payload...), segs[1].Payload...), segs[2].Payload...)
	if !bytes.Equal(reassembled, frame) {
		t.Fatal("reassembled payload does not match original frame")
	}
}

func TestEmitSingleSegmentFrame(t *testing.T) {
	c := testCipher(t)
	sender := &fakeSender{}
	s := New(c, sender)

	if err := s.Emit([]byte("small"), 1, wire.StreamAudio, 0); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	segs := sender.segments(t, c)
	if len(segs) != 1 || segs[0].Count != 1 || segs[0].Index != 0 {
		t.Fatalf("unexpected segments: %+v", segs)
	}
}

func TestHandleNACKResealsWithRetransmissionFlag(t *testing.T) {
	c := testCipher(t)
	sender := &fakeSender{}
	s := New(c, sender)

	frame := bytes.Repeat([]byte{0x01}, wire.MaxPayload+10)
	if err := s.Emit(frame, 3, wire.StreamVideo, 0); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	raw, ok := s.HandleNACK(3, 1)
	if !ok {
		t.Fatal("HandleNACK should find frame 3 index 1")
	}
	seg, err := wire.DecodeDatagram(c, raw)
	if err != nil {
		t.Fatalf("DecodeDatagram: %v", err)
	}
	if !seg.Retransmitted {
		t.Fatal("retransmitted segment should carry the retransmission flag")
	}
	if seg.FrameID != 3 || seg.Index != 1 {
		t.Fatalf("seg = %+v, want frame 3 index 1", seg)
	}

	originalSegs := sender.segments(t, c)
	if !bytes.Equal(seg.Payload, originalSegs[1].Payload) {
		t.Fatal("retransmitted payload must byte-match the original")
	}
}

func TestHandleNACKUnknownFrameFails(t *testing.T) {
	c := testCipher(t)
	s := New(c, &fakeSender{})

	if _, ok := s.HandleNACK(99, 0); ok {
		t.Fatal("HandleNACK should fail for a frame never emitted")
	}
}

func TestHandleNACKEvictedByNewerFrameInSameSlot(t *testing.T) {
	c := testCipher(t)
	sender := &fakeSender{}
	s := New(c, sender)

	if err := s.Emit([]byte("old"), 1, wire.StreamVideo, 0); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := s.Emit([]byte("new"), int32(1+RetainedFrames), wire.StreamVideo, 0); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	if _, ok := s.HandleNACK(1, 0); ok {
		t.Fatal("frame 1 should have been evicted by the frame sharing its ring slot")
	}
}

func TestEmitPacesToBurstBitrate(t *testing.T) {
	c := testCipher(t)
	sender := &fakeSender{}
	s := New(c, sender)

	// Five segments (6500 bytes) overrun the 5000-byte Slack, so at 50,000
	// bytes/sec the fourth and fifth segments must wait (~4ms + ~26ms).
	frame := bytes.Repeat([]byte{0x02}, wire.MaxPayload*5)
	start := time.Now()
	if err := s.Emit(frame, 1, wire.StreamVideo, 400_000); err != nil { // 50,000 bytes/sec
		t.Fatalf("Emit: %v", err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected pacing to introduce delay, took %v", time.Since(start))
	}
}

func TestEmitDisablesPacingWhenBurstNonPositive(t *testing.T) {
	c := testCipher(t)
	sender := &fakeSender{}
	s := New(c, sender)

	frame := bytes.Repeat([]byte{0x03}, wire.MaxPayload*4)
	start := time.Now()
	if err := s.Emit(frame, 1, wire.StreamVideo, 0); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if time.Since(start) > 20*time.Millisecond {
		t.Fatalf("pacing should be disabled for burst<=0, took %v", time.Since(start))
	}
}
