package wire

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	seg := Segment{
		Stream:        StreamVideo,
		FrameID:       1234,
		Index:         3,
		Count:         10,
		Retransmitted: true,
		Payload:       []byte("hello segment"),
	}

	buf, err := Encode(seg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.Stream != seg.Stream || got.FrameID != seg.FrameID || got.Index != seg.Index ||
		got.Count != seg.Count || got.Retransmitted != seg.Retransmitted {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, seg)
	}
	if string(got.Payload) != string(seg.Payload) {
		t.Fatalf("payload mismatch: got %q, want %q", got.Payload, seg.Payload)
	}
}

func TestEncodeRejectsOversizePayload(t *testing.T) {
	seg := Segment{Payload: make([]byte, MaxPayload+1)}
	if _, err := Encode(seg); err != ErrPayloadTooLarge {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestDecodeRejectsTruncatedHeader(t *testing.T) {
	if _, err := Decode([]byte{0, 1, 2}); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestDecodeRejectsTruncatedPayload(t *testing.T) {
	seg := Segment{Stream: StreamAudio, Payload: []byte("abcdef")}
	buf, err := Encode(seg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	buf = buf[:len(buf)-2] // chop off two payload bytes, header still claims 6
	if _, err := Decode(buf); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	original := []byte{1, 2, 3}
	seg := Segment{Payload: original}
	clone := seg.Clone()
	original[0] = 0xFF
	if clone.Payload[0] == 0xFF {
		t.Fatal("Clone shares backing array with the original payload")
	}
}

func TestStreamKindString(t *testing.T) {
	cases := map[StreamKind]string{
		StreamVideo:      "video",
		StreamAudio:      "audio",
		StreamControl:    "control",
		StreamKind(0xFF): "unknown",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("StreamKind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
