package wire

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"

	"github.com/chunghany/wireauto/internal/wgkey"
)

// NonceSize is the length of the random nonce prepended to every envelope.
const NonceSize = 24

// Overhead is the Poly1305 MAC length nacl/box appends to the ciphertext.
const Overhead = box.Overhead

// EnvelopeSize is the total size of a sealed ControlMessage on the wire:
// nonce || ciphertext(ClearTextSize + Overhead).
const EnvelopeSize = NonceSize + ClearTextSize + Overhead

// ErrDecrypt is returned when an envelope fails authentication — either it
// is the wrong length or the Poly1305 MAC does not verify. Session handlers
// treat this as garbage traffic: drop and keep the connection open.
var ErrDecrypt = errors.New("wire: envelope failed authentication")

// Seal encrypts cleartext for peerPublic, authenticated with ourSecret,
// using X25519 + XSalsa20 + Poly1305 (the Go equivalent of libsodium's
// crypto_box_easy). A fresh random 24-byte nonce is generated and
// prepended to the returned envelope.
func Seal(cleartext []byte, peerPublic, ourSecret wgkey.Key) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	peerPub := [32]byte(peerPublic)
	ourSec := [32]byte(ourSecret)

	out := make([]byte, 0, NonceSize+len(cleartext)+Overhead)
	out = append(out, nonce[:]...)
	out = box.Seal(out, cleartext, &nonce, &peerPub, &ourSec)
	return out, nil
}

// Open authenticates and decrypts an envelope produced by Seal. peerPublic
// is the sender's long-term public key; ourSecret is our own long-term
// secret key. Returns ErrDecrypt if the envelope is malformed or the MAC
// does not verify — callers must not treat a partially-decrypted message
// as valid.
func Open(envelope []byte, peerPublic, ourSecret wgkey.Key) ([]byte, error) {
	if len(envelope) < NonceSize+Overhead {
		return nil, ErrDecrypt
	}

	var nonce [NonceSize]byte
	copy(nonce[:], envelope[:NonceSize])
	ciphertext := envelope[NonceSize:]

	peerPub := [32]byte(peerPublic)
	ourSec := [32]byte(ourSecret)

	cleartext, ok := box.Open(nil, ciphertext, &nonce, &peerPub, &ourSec)
	if !ok {
		return nil, ErrDecrypt
	}
	return cleartext, nil
}

// SealMessage encodes and seals a ControlMessage in one step.
func SealMessage(m ControlMessage, peerPublic, ourSecret wgkey.Key) ([]byte, error) {
	cleartext, err := Encode(m)
	if err != nil {
		return nil, err
	}
	return Seal(cleartext, peerPublic, ourSecret)
}

// OpenMessage opens and decodes an envelope in one step.
func OpenMessage(envelope []byte, peerPublic, ourSecret wgkey.Key) (ControlMessage, error) {
	cleartext, err := Open(envelope, peerPublic, ourSecret)
	if err != nil {
		return ControlMessage{}, err
	}
	if len(cleartext) != ClearTextSize {
		return ControlMessage{}, ErrDecrypt
	}
	return Decode(cleartext)
}
