// Package wgkey implements the X25519 keypairs used to authenticate the
// coordinator-client control channel. Key persistence and libsodium-style
// initialization live outside this module; wgkey only generates, derives,
// and parses keys.
package wgkey

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// Size is the length in bytes of a Curve25519 key.
const Size = 32

// Key is a long-term X25519 key (private or public).
type Key [Size]byte

// Generate creates a new random private key, clamped per RFC 7748 §5.
func Generate() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return Key{}, fmt.Errorf("generating random key: %w", err)
	}
	clamp(&k)
	return k, nil
}

// Public derives the Curve25519 public key from a private key.
func Public(private Key) Key {
	var pub Key
	curve25519.ScalarBaseMult((*[32]byte)(&pub), (*[32]byte)(&private))
	return pub
}

// Parse decodes a standard base64 key string (the 44-character WireGuard
// encoding, no NUL padding) into a Key.
func Parse(s string) (Key, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Key{}, fmt.Errorf("decoding base64 key: %w", err)
	}
	if len(b) != Size {
		return Key{}, fmt.Errorf("invalid key length: got %d, want %d", len(b), Size)
	}
	var k Key
	copy(k[:], b)
	return k, nil
}

// String returns the base64-encoded representation of the key.
func (k Key) String() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// IsZero reports whether the key is the zero value.
func (k Key) IsZero() bool {
	var zero Key
	return k == zero
}

// MarshalText implements encoding.TextMarshaler.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Key) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// clamp applies the Curve25519 clamping from RFC 7748 §5.
func clamp(k *Key) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}
