// Package crypto provides the symmetric and asymmetric primitives the
// group-keys engine is built on: Ed25519 signing identities, X25519 key
// agreement derived from those same Ed25519 keys, an AEAD for sealing
// wrapped keys and application messages, BLAKE2b-based hashing, and
// general-purpose compression.
package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/ed25519"
)

const (
	// SeedSize is the length of an Ed25519 seed.
	SeedSize = ed25519.SeedSize
	// PublicKeySize is the length of an Ed25519 public key.
	PublicKeySize = ed25519.PublicKeySize
	// PrivateKeySize is the length of an expanded Ed25519 private key
	// (32-byte seed || 32-byte public key), the 64-byte "secret key" form
	// used for both personal and group signing identities.
	PrivateKeySize = ed25519.PrivateKeySize
	// SignatureSize is the length of an Ed25519 signature.
	SignatureSize = ed25519.SignatureSize
)

// SigningKey is an Ed25519 keypair. It is the representation used for both
// a participant's personal identity and, when present, the group's signing
// identity.
type SigningKey struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// GenerateSigningKey creates a fresh random Ed25519 identity.
func GenerateSigningKey() (SigningKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return SigningKey{}, fmt.Errorf("groupkeys/crypto: generate signing key: %w", err)
	}
	return SigningKey{Private: priv, Public: pub}, nil
}

// NewSigningKeyFromSecret wraps a caller-supplied 64-byte expanded Ed25519
// secret key (seed || public key), as held by admins for the group signing
// identity or by any participant for their personal identity.
func NewSigningKeyFromSecret(secret []byte) (SigningKey, error) {
	if len(secret) != PrivateKeySize {
		return SigningKey{}, fmt.Errorf("groupkeys/crypto: secret key must be %d bytes, got %d", PrivateKeySize, len(secret))
	}
	priv := make(ed25519.PrivateKey, PrivateKeySize)
	copy(priv, secret)
	pub := make(ed25519.PublicKey, PublicKeySize)
	copy(pub, priv[SeedSize:])
	return SigningKey{Private: priv, Public: pub}, nil
}

// Sign produces an Ed25519 signature over message using the private key.
func (k SigningKey) Sign(message []byte) []byte {
	return ed25519.Sign(k.Private, message)
}

// Verify checks an Ed25519 signature against a raw 32-byte public key.
func Verify(public []byte, message, signature []byte) bool {
	if len(public) != PublicKeySize || len(signature) != SignatureSize {
		return false
	}
	return ed25519.Verify(public, message, signature)
}

// Zeroize overwrites secret-bearing byte slices in place. It is a no-op on
// a nil or empty slice. Callers should invoke this on personal/group secret
// keys and group keys once they are no longer needed.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
