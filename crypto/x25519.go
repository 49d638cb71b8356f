package crypto

import (
	"crypto/sha512"
	"fmt"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/curve25519"
)

// SessionIDTag is the fixed first byte of a session id.
const SessionIDTag = 0x05

// SessionIDSize is the length of the binary session id: tag || x25519 pub.
const SessionIDSize = 1 + 32

// SessionID is the 33-byte participant identifier: 0x05 followed by the
// X25519 public key derived from the participant's Ed25519 public key.
type SessionID [SessionIDSize]byte

// DeriveSessionID computes the session id for an Ed25519 public key,
// converting it to its Montgomery (X25519) form via the standard
// birational map between the Edwards and Montgomery curve models — the
// same conversion libsodium exposes as crypto_sign_ed25519_pk_to_curve25519.
func DeriveSessionID(edPublic []byte) (SessionID, error) {
	x25519Pub, err := EdPublicToX25519(edPublic)
	if err != nil {
		return SessionID{}, err
	}
	var sid SessionID
	sid[0] = SessionIDTag
	copy(sid[1:], x25519Pub)
	return sid, nil
}

// String renders the session id as lowercase hex.
func (s SessionID) String() string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 2*SessionIDSize)
	for i, b := range s {
		out[2*i] = hextable[b>>4]
		out[2*i+1] = hextable[b&0xf]
	}
	return string(out)
}

// ParseSessionID parses the hex form of a session id. Input is
// case-insensitive: hex digits of either case are accepted.
func ParseSessionID(hexStr string) (SessionID, error) {
	var sid SessionID
	if len(hexStr) != 2*SessionIDSize {
		return sid, fmt.Errorf("groupkeys/crypto: session id must be %d hex chars, got %d", 2*SessionIDSize, len(hexStr))
	}
	for i := 0; i < SessionIDSize; i++ {
		hi, ok1 := hexNibble(hexStr[2*i])
		lo, ok2 := hexNibble(hexStr[2*i+1])
		if !ok1 || !ok2 {
			return sid, fmt.Errorf("groupkeys/crypto: invalid session id hex %q", hexStr)
		}
		sid[i] = hi<<4 | lo
	}
	return sid, nil
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

// EdPublicToX25519 converts an Ed25519 public key to its Montgomery
// (X25519) u-coordinate.
func EdPublicToX25519(edPublic []byte) ([]byte, error) {
	if len(edPublic) != PublicKeySize {
		return nil, fmt.Errorf("groupkeys/crypto: ed25519 public key must be %d bytes, got %d", PublicKeySize, len(edPublic))
	}
	p, err := new(edwards25519.Point).SetBytes(edPublic)
	if err != nil {
		return nil, fmt.Errorf("groupkeys/crypto: invalid ed25519 point: %w", err)
	}
	return p.BytesMontgomery(), nil
}

// EdPrivateToX25519 converts an expanded (64-byte) Ed25519 private key to
// its corresponding X25519 scalar, by hashing the Ed25519 seed with
// SHA-512 and taking the clamped low half — again mirroring libsodium's
// crypto_sign_ed25519_sk_to_curve25519.
func EdPrivateToX25519(edPrivate []byte) ([]byte, error) {
	if len(edPrivate) != PrivateKeySize {
		return nil, fmt.Errorf("groupkeys/crypto: ed25519 private key must be %d bytes, got %d", PrivateKeySize, len(edPrivate))
	}
	h := sha512.Sum512(edPrivate[:SeedSize])
	scalar := make([]byte, curve25519.ScalarSize)
	copy(scalar, h[:curve25519.ScalarSize])
	scalar[0] &= 248
	scalar[31] &= 127
	scalar[31] |= 64
	return scalar, nil
}

// X25519 performs a Diffie-Hellman scalar multiplication, returning the
// shared point's u-coordinate.
func X25519(scalar, point []byte) ([]byte, error) {
	out, err := curve25519.X25519(scalar, point)
	if err != nil {
		return nil, fmt.Errorf("groupkeys/crypto: x25519: %w", err)
	}
	return out, nil
}
