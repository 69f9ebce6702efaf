// Package wire implements the binary codec for media segments and control
// messages carried in the ciphertext payload of a media datagram.
package wire

import (
	"encoding/binary"
	"errors"
)

// StreamKind identifies which logical stream a segment belongs to.
type StreamKind uint8

const (
	StreamVideo StreamKind = iota
	StreamAudio
	StreamControl
)

func (k StreamKind) String() string {
	switch k {
	case StreamVideo:
		return "video"
	case StreamAudio:
		return "audio"
	case StreamControl:
		return "control"
	default:
		return "unknown"
	}
}

// MaxPayload is the largest segment payload in bytes, chosen to fit within
// a common path MTU once the segment header, IV and AEAD tag are added.
const MaxPayload = 1300

// FlagRetransmission marks a segment re-sent in response to a NACK.
const FlagRetransmission = 1 << 0

// headerLen is the size in bytes of the fixed-width segment header that
// precedes the payload in the ciphertext (stream, frame_id, index, count,
// payload_len, flags).
const headerLen = 1 + 4 + 2 + 2 + 2 + 1

var (
	// ErrTruncated is returned when a buffer is too short to hold a
	// well-formed segment header or its declared payload.
	ErrTruncated = errors.New("wire: truncated segment")
	// ErrPayloadTooLarge is returned by Encode when the payload exceeds
	// MaxPayload.
	ErrPayloadTooLarge = errors.New("wire: payload exceeds MaxPayload")
)

// Segment is the unit on the wire. Once built by Encode or Decode it is
// treated as immutable by callers.
type Segment struct {
	Stream        StreamKind
	FrameID       int32
	Index         uint16
	Count         uint16
	Retransmitted bool
	Payload       []byte
}

// Encode serializes a Segment into its ciphertext layout: stream(u8)
// frame_id(i32) index(u16) count(u16) payload_len(u16) flags(u8) payload.
func Encode(seg Segment) ([]byte, error) {
	if len(seg.Payload) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, headerLen+len(seg.Payload))
	buf[0] = byte(seg.Stream)
	binary.BigEndian.PutUint32(buf[1:5], uint32(seg.FrameID))
	binary.BigEndian.PutUint16(buf[5:7], seg.Index)
	binary.BigEndian.PutUint16(buf[7:9], seg.Count)
	binary.BigEndian.PutUint16(buf[9:11], uint16(len(seg.Payload)))
	var flags byte
	if seg.Retransmitted {
		flags |= FlagRetransmission
	}
	buf[11] = flags
	copy(buf[headerLen:], seg.Payload)
	return buf, nil
}

// Decode parses a ciphertext payload produced by Encode. The returned
// Segment's Payload aliases buf; callers that retain it past the lifetime
// of buf must copy it first.
func Decode(buf []byte) (Segment, error) {
	if len(buf) < headerLen {
		return Segment{}, ErrTruncated
	}
	payloadLen := binary.BigEndian.Uint16(buf[9:11])
	if len(buf) < headerLen+int(payloadLen) {
		return Segment{}, ErrTruncated
	}
	flags := buf[11]
	seg := Segment{
		Stream:        StreamKind(buf[0]),
		FrameID:       int32(binary.BigEndian.Uint32(buf[1:5])),
		Index:         binary.BigEndian.Uint16(buf[5:7]),
		Count:         binary.BigEndian.Uint16(buf[7:9]),
		Retransmitted: flags&FlagRetransmission != 0,
		Payload:       buf[headerLen : headerLen+int(payloadLen)],
	}
	return seg, nil
}

// Clone returns a Segment whose Payload is an independent copy of the
// original's, safe to retain past the lifetime of any shared buffer.
func (s Segment) Clone() Segment {
	cp := make([]byte, len(s.Payload))
	copy(cp, s.Payload)
	s.Payload = cp
	return s
}
