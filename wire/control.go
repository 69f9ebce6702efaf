package wire

import (
	"encoding/binary"
	"errors"
)

// ControlType identifies the kind of control message carried in a
// StreamControl segment's payload.
type ControlType uint8

const (
	ControlPing ControlType = iota
	ControlPong
	ControlNACK
	ControlKeyframeRequest
	ControlBitrate
	ControlDimensions
	ControlClipboard
)

// ErrUnknownControl is returned by DecodeControl when the first byte does
// not match a known ControlType.
var ErrUnknownControl = errors.New("wire: unknown control message type")

// Ping/Pong carry a caller-chosen correlation id, echoed back unchanged.
type Ping struct{ ID uint32 }
type Pong struct{ ID uint32 }

// NACK names a single missing (stream, frame_id, index) the receiver wants
// retransmitted.
type NACK struct {
	Stream  StreamKind
	FrameID int32
	Index   uint16
}

// KeyframeRequest asks the encoder for a self-contained frame. Reinitialize
// additionally asks the encoder to rebuild its internal state (e.g. after a
// format change), not just emit an I-frame.
type KeyframeRequest struct {
	Reinitialize bool
}

// Bitrate carries a new target and pacing ceiling from the bitrate
// controller to the encoder (bits per second).
type Bitrate struct {
	BitsPerSecond      uint32
	BurstBitsPerSecond uint32
}

// Dimensions announces the video frame geometry and codec in use.
type Dimensions struct {
	Width   uint16
	Height  uint16
	DPI     uint16
	CodecID uint8
}

// Clipboard carries an opaque clipboard payload. Sent only on the reliable
// socket, never as a datagram segment.
type Clipboard struct {
	Data []byte
}

// EncodeControl serializes one of the control message types above into a
// StreamControl segment payload: a one-byte ControlType tag followed by the
// message's fixed fields.
func EncodeControl(msg any) ([]byte, error) {
	switch m := msg.(type) {
	case Ping:
		buf := make([]byte, 5)
		buf[0] = byte(ControlPing)
		binary.BigEndian.PutUint32(buf[1:], m.ID)
		return buf, nil
	case Pong:
		buf := make([]byte, 5)
		buf[0] = byte(ControlPong)
		binary.BigEndian.PutUint32(buf[1:], m.ID)
		return buf, nil
	case NACK:
		buf := make([]byte, 8)
		buf[0] = byte(ControlNACK)
		buf[1] = byte(m.Stream)
		binary.BigEndian.PutUint32(buf[2:6], uint32(m.FrameID))
		binary.BigEndian.PutUint16(buf[6:8], m.Index)
		return buf, nil
	case KeyframeRequest:
		buf := make([]byte, 2)
		buf[0] = byte(ControlKeyframeRequest)
		if m.Reinitialize {
			buf[1] = 1
		}
		return buf, nil
	case Bitrate:
		buf := make([]byte, 9)
		buf[0] = byte(ControlBitrate)
		binary.BigEndian.PutUint32(buf[1:5], m.BitsPerSecond)
		binary.BigEndian.PutUint32(buf[5:9], m.BurstBitsPerSecond)
		return buf, nil
	case Dimensions:
		buf := make([]byte, 8)
		buf[0] = byte(ControlDimensions)
		binary.BigEndian.PutUint16(buf[1:3], m.Width)
		binary.BigEndian.PutUint16(buf[3:5], m.Height)
		binary.BigEndian.PutUint16(buf[5:7], m.DPI)
		buf[7] = m.CodecID
		return buf, nil
	case Clipboard:
		buf := make([]byte, 1+len(m.Data))
		buf[0] = byte(ControlClipboard)
		copy(buf[1:], m.Data)
		return buf, nil
	default:
		return nil, errors.New("wire: unsupported control message type")
	}
}

// DecodeControl parses a control message payload produced by EncodeControl,
// returning the concrete message type as an any. Callers type-switch on the
// result.
func DecodeControl(buf []byte) (any, error) {
	if len(buf) < 1 {
		return nil, ErrTruncated
	}
	switch ControlType(buf[0]) {
	case ControlPing:
		if len(buf) < 5 {
			return nil, ErrTruncated
		}
		return Ping{ID: binary.BigEndian.Uint32(buf[1:5])}, nil
	case ControlPong:
		if len(buf) < 5 {
			return nil, ErrTruncated
		}
		return Pong{ID: binary.BigEndian.Uint32(buf[1:5])}, nil
	case ControlNACK:
		if len(buf) < 8 {
			return nil, ErrTruncated
		}
		return NACK{
			Stream:  StreamKind(buf[1]),
			FrameID: int32(binary.BigEndian.Uint32(buf[2:6])),
			Index:   binary.BigEndian.Uint16(buf[6:8]),
		}, nil
	case ControlKeyframeRequest:
		if len(buf) < 2 {
			return nil, ErrTruncated
		}
		return KeyframeRequest{Reinitialize: buf[1] != 0}, nil
	case ControlBitrate:
		if len(buf) < 9 {
			return nil, ErrTruncated
		}
		return Bitrate{
			BitsPerSecond:      binary.BigEndian.Uint32(buf[1:5]),
			BurstBitsPerSecond: binary.BigEndian.Uint32(buf[5:9]),
		}, nil
	case ControlDimensions:
		if len(buf) < 8 {
			return nil, ErrTruncated
		}
		return Dimensions{
			Width:   binary.BigEndian.Uint16(buf[1:3]),
			Height:  binary.BigEndian.Uint16(buf[3:5]),
			DPI:     binary.BigEndian.Uint16(buf[5:7]),
			CodecID: buf[7],
		}, nil
	case ControlClipboard:
		data := make([]byte, len(buf)-1)
		copy(data, buf[1:])
		return Clipboard{Data: data}, nil
	default:
		return nil, ErrUnknownControl
	}
}
