package reassembly

import (
	"testing"
	"time"

	"rdcast/wire"
)

func seg(id int32, idx, count uint16, payload string) wire.Segment {
	return wire.Segment{
		Stream:  wire.StreamVideo,
		FrameID: id,
		Index:   idx,
		Count:   count,
		Payload: []byte(payload),
	}
}

func TestReceiveSingleSegmentFrameIsReadyImmediately(t *testing.T) {
	b := New(wire.StreamVideo, 16)
	now := time.Now()

	if outcome := b.Receive(seg(1, 0, 1, "abc"), now); outcome != Accepted {
		t.Fatalf("outcome = %v, want Accepted", outcome)
	}
	if !b.Ready(1) {
		t.Fatal("frame 1 should be ready")
	}
	frame, ok := b.Consume(1)
	if !ok {
		t.Fatal("Consume(1) failed")
	}
	if string(frame.Payload) != "abc" {
		t.Fatalf("payload = %q", frame.Payload)
	}
	if b.LastRenderedID() != 1 {
		t.Fatalf("last rendered = %d, want 1", b.LastRenderedID())
	}
}

func TestReceiveMultiSegmentFrameOrdersPayload(t *testing.T) {
	b := New(wire.StreamVideo, 16)
	now := time.Now()

	b.Receive(seg(5, 1, 3, "B"), now)
	if b.Ready(5) {
		t.Fatal("frame should not be ready with only one of three segments")
	}
	b.Receive(seg(5, 0, 3, "A"), now)
	b.Receive(seg(5, 2, 3, "C"), now)

	if !b.Ready(5) {
		t.Fatal("frame should be ready once all three segments arrive")
	}
	frame, ok := b.Consume(5)
	if !ok || string(frame.Payload) != "ABC" {
		t.Fatalf("frame = %+v ok=%v, want payload ABC", frame, ok)
	}
}

func TestDuplicateSegmentDropped(t *testing.T) {
	b := New(wire.StreamVideo, 16)
	now := time.Now()

	b.Receive(seg(1, 0, 2, "A"), now)
	outcome := b.Receive(seg(1, 0, 2, "A-again"), now)
	if outcome != DroppedDuplicate {
		t.Fatalf("outcome = %v, want DroppedDuplicate", outcome)
	}
}

func TestOldSegmentDroppedAfterRender(t *testing.T) {
	b := New(wire.StreamVideo, 16)
	now := time.Now()

	b.Receive(seg(1, 0, 1, "x"), now)
	b.Consume(1)

	if outcome := b.Receive(seg(1, 0, 1, "stale"), now); outcome != DroppedOld {
		t.Fatalf("outcome = %v, want DroppedOld", outcome)
	}
}

func TestOverwriteDiscardsIncompleteOlderFrame(t *testing.T) {
	n := 4
	b := New(wire.StreamVideo, n)
	now := time.Now()

	// Frame 1 partially arrives, then frame 1+n collides in the same slot
	// and must overwrite it, advancing last_rendered_id past 1.
	b.Receive(seg(1, 0, 2, "only-first"), now)
	outcome := b.Receive(seg(int32(1+n), 0, 1, "newer"), now)
	if outcome != Overwrote {
		t.Fatalf("outcome = %v, want Overwrote", outcome)
	}
	if b.LastRenderedID() != 1 {
		t.Fatalf("last rendered = %d, want 1 (the discarded frame)", b.LastRenderedID())
	}
	if !b.Ready(int32(1 + n)) {
		t.Fatal("newer frame should be ready")
	}
}

func TestMissingSegmentsRespectsSafetyMargin(t *testing.T) {
	b := New(wire.StreamVideo, 32)
	now := time.Now()

	b.Receive(seg(1, 0, 2, "a"), now) // missing index 1
	for id := int32(2); id <= 6; id++ {
		b.Receive(seg(id, 0, 1, "x"), now)
	}

	// max_id_seen is now 6. With a safety margin of 5, frame 1 qualifies
	// (1 <= 6-5).
	missing := b.MissingSegments(5)
	if len(missing) != 1 {
		t.Fatalf("missing = %+v, want exactly one gap", missing)
	}
	if missing[0].FrameID != 1 || missing[0].Index != 1 {
		t.Fatalf("missing[0] = %+v, want frame 1 index 1", missing[0])
	}

	// With a larger safety margin, frame 1 is still too recent to nack.
	if got := b.MissingSegments(10); len(got) != 0 {
		t.Fatalf("missing = %+v, want none (safety margin not elapsed)", got)
	}
}

func TestMissingSegmentsExcludesReadyFrames(t *testing.T) {
	b := New(wire.StreamVideo, 32)
	now := time.Now()

	b.Receive(seg(1, 0, 1, "complete"), now)
	for id := int32(2); id <= 10; id++ {
		b.Receive(seg(id, 0, 1, "x"), now)
	}

	if got := b.MissingSegments(1); len(got) != 0 {
		t.Fatalf("missing = %+v, want none (frame 1 already complete)", got)
	}
}

func TestRecordNackSentTracksRetryState(t *testing.T) {
	b := New(wire.StreamVideo, 16)
	now := time.Now()

	b.Receive(seg(1, 0, 2, "a"), now)
	if !b.RecordNackSent(1, 1, now) {
		t.Fatal("RecordNackSent should succeed for a pending index")
	}

	missing := b.MissingSegments(0)
	if len(missing) != 1 || missing[0].Pending.NackCount != 1 {
		t.Fatalf("missing = %+v, want NackCount 1", missing)
	}

	// Once the segment arrives, its pending record is gone.
	b.Receive(seg(1, 1, 2, "b"), now)
	if b.RecordNackSent(1, 1, now) {
		t.Fatal("RecordNackSent should fail once the index has arrived")
	}
}

func TestRecordNackSentFailsAfterOverwrite(t *testing.T) {
	n := 4
	b := New(wire.StreamVideo, n)
	now := time.Now()

	b.Receive(seg(1, 0, 2, "a"), now)
	b.Receive(seg(int32(1+n), 0, 1, "newer"), now)

	if b.RecordNackSent(1, 1, now) {
		t.Fatal("RecordNackSent should fail once the frame has been overwritten")
	}
}

func TestConsumeFailsWhenIncomplete(t *testing.T) {
	b := New(wire.StreamVideo, 16)
	now := time.Now()

	b.Receive(seg(1, 0, 2, "a"), now)
	if _, ok := b.Consume(1); ok {
		t.Fatal("Consume should fail while a segment is still missing")
	}
}

func TestLastNackedIDMonotonic(t *testing.T) {
	b := New(wire.StreamVideo, 16)

	b.UpdateLastNacked(5)
	b.UpdateLastNacked(3)
	if got := b.LastNackedID(); got != 5 {
		t.Fatalf("LastNackedID = %d, want 5 (monotonic)", got)
	}
}
