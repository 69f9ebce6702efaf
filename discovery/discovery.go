// Package discovery implements the session envelope exchanged on the
// reliable socket before a peer's media sockets are considered
// established: a client announces itself and the server replies with the
// ports and identifiers the client needs to open its datagram socket.
//
// Grounded on nishisan-dev-n-backup/internal/protocol/frames.go and
// writer.go/reader.go's handshake framing style (a version/type tag
// followed by fixed binary fields, each write wrapped with %w context);
// adapted here to the reliable socket's own length-prefixed framing
// (transport.Reliable already re-frames, so no magic bytes or delimiters
// are needed on top of it) and reusing wire's single-byte-tag-plus-fields
// encoding convention.
package discovery

import (
	"encoding/binary"
	"errors"
	"fmt"

	"rdcast/transport"
)

// EnvelopeVersion is the discovery envelope's wire version. Bumped when
// the fixed field layout changes.
const EnvelopeVersion byte = 1

// EnvelopeType identifies which envelope message follows the version byte.
type EnvelopeType uint8

const (
	TypeDiscoveryRequest EnvelopeType = iota
	TypeDiscoveryReply
)

var (
	ErrTruncated       = errors.New("discovery: truncated envelope")
	ErrUnknownEnvelope = errors.New("discovery: unknown envelope type")
	ErrWrongVersion    = errors.New("discovery: unsupported envelope version")
)

// Capability bits a client may advertise in DISCOVERY_REQUEST.
const (
	CapAudio uint32 = 1 << iota
	CapVideo
	CapClipboard
)

// Request is DISCOVERY_REQUEST: a client announcing itself and what it
// supports.
type Request struct {
	UserID       uint32
	Capabilities uint32
}

// Reply is DISCOVERY_REPLY: the server's answer, naming the ports and
// identifiers the client needs to complete the handshake.
type Reply struct {
	ClientID        uint32
	UDPPort         uint16
	TCPPort         uint16
	ConnectionID    uint32
	AudioSampleRate uint32
}

// encodeRequest serializes req into an envelope body.
func encodeRequest(req Request) []byte {
	buf := make([]byte, 2+4+4)
	buf[0] = EnvelopeVersion
	buf[1] = byte(TypeDiscoveryRequest)
	binary.BigEndian.PutUint32(buf[2:6], req.UserID)
	binary.BigEndian.PutUint32(buf[6:10], req.Capabilities)
	return buf
}

func decodeRequest(buf []byte) (Request, error) {
	if len(buf) < 8 {
		return Request{}, ErrTruncated
	}
	return Request{
		UserID:       binary.BigEndian.Uint32(buf[0:4]),
		Capabilities: binary.BigEndian.Uint32(buf[4:8]),
	}, nil
}

// encodeReply serializes rep into an envelope body.
func encodeReply(rep Reply) []byte {
	buf := make([]byte, 2+4+2+2+4+4)
	buf[0] = EnvelopeVersion
	buf[1] = byte(TypeDiscoveryReply)
	off := 2
	binary.BigEndian.PutUint32(buf[off:], rep.ClientID)
	off += 4
	binary.BigEndian.PutUint16(buf[off:], rep.UDPPort)
	off += 2
	binary.BigEndian.PutUint16(buf[off:], rep.TCPPort)
	off += 2
	binary.BigEndian.PutUint32(buf[off:], rep.ConnectionID)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], rep.AudioSampleRate)
	return buf
}

func decodeReply(buf []byte) (Reply, error) {
	if len(buf) < 16 {
		return Reply{}, ErrTruncated
	}
	return Reply{
		ClientID:        binary.BigEndian.Uint32(buf[0:4]),
		UDPPort:         binary.BigEndian.Uint16(buf[4:6]),
		TCPPort:         binary.BigEndian.Uint16(buf[6:8]),
		ConnectionID:    binary.BigEndian.Uint32(buf[8:12]),
		AudioSampleRate: binary.BigEndian.Uint32(buf[12:16]),
	}, nil
}

// SendRequest writes a DISCOVERY_REQUEST envelope to the reliable socket.
func SendRequest(sock *transport.Reliable, req Request) error {
	if err := sock.Send(encodeRequest(req)); err != nil {
		return fmt.Errorf("discovery: sending request: %w", err)
	}
	return nil
}

// SendReply writes a DISCOVERY_REPLY envelope to the reliable socket.
func SendReply(sock *transport.Reliable, rep Reply) error {
	if err := sock.Send(encodeReply(rep)); err != nil {
		return fmt.Errorf("discovery: sending reply: %w", err)
	}
	return nil
}

// RecvRequest reads and decodes one DISCOVERY_REQUEST envelope.
func RecvRequest(sock *transport.Reliable, buf []byte) (Request, error) {
	body, err := recvEnvelope(sock, buf, TypeDiscoveryRequest)
	if err != nil {
		return Request{}, err
	}
	return decodeRequest(body)
}

// RecvReply reads and decodes one DISCOVERY_REPLY envelope.
func RecvReply(sock *transport.Reliable, buf []byte) (Reply, error) {
	body, err := recvEnvelope(sock, buf, TypeDiscoveryReply)
	if err != nil {
		return Reply{}, err
	}
	return decodeReply(body)
}

func recvEnvelope(sock *transport.Reliable, buf []byte, want EnvelopeType) ([]byte, error) {
	n, err := sock.Recv(buf)
	if err != nil {
		return nil, fmt.Errorf("discovery: receiving envelope: %w", err)
	}
	if n < 2 {
		return nil, ErrTruncated
	}
	if buf[0] != EnvelopeVersion {
		return nil, ErrWrongVersion
	}
	if EnvelopeType(buf[1]) != want {
		return nil, ErrUnknownEnvelope
	}
	return buf[2:n], nil
}
