package wire

import (
	"encoding/binary"
	"errors"

	"rdcast/cipher"
)

// datagramHeaderLen is the size of the AUTH TAG + IV + ciphertext-length
// fields that precede every sealed datagram on the wire.
const datagramHeaderLen = cipher.TagSize + cipher.IVSize + 4

// ErrTruncatedDatagram is returned by DecodeDatagram when buf is shorter
// than its own declared header or ciphertext length.
var ErrTruncatedDatagram = errors.New("wire: truncated datagram")

// EncodeDatagram encodes seg and seals it under c, producing the full
// wire-format datagram: AUTH TAG (16) | IV (16) | ciphertext length (u32) |
// ciphertext.
func EncodeDatagram(c *cipher.Cipher, seg Segment) ([]byte, error) {
	plain, err := Encode(seg)
	if err != nil {
		return nil, err
	}
	sealed, err := c.Seal(plain)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, datagramHeaderLen+len(sealed.Ciphertext))
	copy(buf, sealed.Tag[:])
	copy(buf[cipher.TagSize:], sealed.IV[:])
	binary.BigEndian.PutUint32(buf[cipher.TagSize+cipher.IVSize:], uint32(len(sealed.Ciphertext)))
	copy(buf[datagramHeaderLen:], sealed.Ciphertext)
	return buf, nil
}

// DecodeDatagram verifies and opens a wire-format datagram produced by
// EncodeDatagram, then decodes the resulting plaintext as a Segment.
func DecodeDatagram(c *cipher.Cipher, buf []byte) (Segment, error) {
	if len(buf) < datagramHeaderLen {
		return Segment{}, ErrTruncatedDatagram
	}

	var sealed cipher.Sealed
	copy(sealed.Tag[:], buf[:cipher.TagSize])
	copy(sealed.IV[:], buf[cipher.TagSize:cipher.TagSize+cipher.IVSize])
	ctLen := binary.BigEndian.Uint32(buf[cipher.TagSize+cipher.IVSize : datagramHeaderLen])
	if uint32(len(buf)-datagramHeaderLen) < ctLen {
		return Segment{}, ErrTruncatedDatagram
	}
	sealed.Ciphertext = buf[datagramHeaderLen : datagramHeaderLen+int(ctLen)]

	plain, err := c.Open(sealed)
	if err != nil {
		return Segment{}, err
	}
	return Decode(plain)
}
