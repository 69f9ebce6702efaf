// Package cipher provides authenticated symmetric encryption of media
// datagrams. It is built on the standard library's AES-GCM (see DESIGN.md
// for why no third-party AEAD package is used here): callers need a block
// cipher with a 128-bit key and an externally visible IV plus detached tag,
// which is exactly AES-GCM.
package cipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
)

// KeySize is the required symmetric key length in bytes (128 bits).
const KeySize = 16

// IVSize is the nonce length in bytes. Non-standard for GCM (which
// defaults to 12), but the wire format reserves 16 bytes for the IV;
// crypto/cipher supports arbitrary GCM nonce sizes via
// NewGCMWithNonceSize.
const IVSize = 16

// TagSize is the length in bytes of the detached authentication tag.
const TagSize = 16

// ErrAuthenticationFailed is returned by Open when the tag does not verify.
// This must happen before the plaintext buffer is touched by the caller;
// crypto/cipher's GCM.Open already guarantees this by only returning
// plaintext after the tag check passes.
var ErrAuthenticationFailed = errors.New("cipher: authentication failed")

// ErrMalformedPacket names a framing violation. Open does not return it:
// Sealed's fixed-size Tag and IV arrays cannot carry a wrong size, and
// wire.DecodeDatagram rejects inconsistent length fields with its own
// ErrTruncatedDatagram before Open is called.
var ErrMalformedPacket = errors.New("cipher: malformed packet")

// ErrInvalidKeySize is returned when a key is not exactly KeySize bytes.
var ErrInvalidKeySize = errors.New("cipher: key must be 16 bytes")

// Cipher seals and opens datagrams under a single fixed key.
type Cipher struct {
	aead cipher.AEAD
}

// New constructs a Cipher from a 128-bit key.
func New(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// Sealed holds the three independently-framed pieces of a sealed datagram:
// the detached tag, the IV, and the ciphertext. The wire format places
// these in AUTH TAG / IV / ciphertext-length / ciphertext order; Seal and
// Open operate on the logical triple, leaving wire layout to the transport
// layer.
type Sealed struct {
	Tag        [TagSize]byte
	IV         [IVSize]byte
	Ciphertext []byte
}

// Seal encrypts and authenticates plaintext under a freshly generated IV.
// It never fails on valid inputs.
func (c *Cipher) Seal(plaintext []byte) (Sealed, error) {
	var iv [IVSize]byte
	if _, err := rand.Read(iv[:]); err != nil {
		return Sealed{}, err
	}

	sealed := c.aead.Seal(nil, iv[:], plaintext, nil)
	// crypto/cipher appends the tag to the end of the ciphertext; split it
	// out so callers get the detached-tag framing the wire format expects.
	ctLen := len(sealed) - TagSize
	out := Sealed{IV: iv, Ciphertext: make([]byte, ctLen)}
	copy(out.Ciphertext, sealed[:ctLen])
	copy(out.Tag[:], sealed[ctLen:])
	return out, nil
}

// Open verifies the tag over (iv || ciphertext) and, only if it verifies,
// decrypts and returns the plaintext. The MAC is checked before any
// plaintext bytes are produced.
func (c *Cipher) Open(s Sealed) ([]byte, error) {
	combined := make([]byte, len(s.Ciphertext)+TagSize)
	copy(combined, s.Ciphertext)
	copy(combined[len(s.Ciphertext):], s.Tag[:])

	plaintext, err := c.aead.Open(nil, s.IV[:], combined, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}
