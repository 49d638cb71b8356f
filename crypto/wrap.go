package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// WrapKeySize is the size, in bytes, of a derived per-recipient wrapping key.
const WrapKeySize = 32

const wrapDomain = "groupkeys-wrap-v1"
const adminWrapDomain = "groupkeys-admin-wrap-v1"

// DeriveWrapKey derives the symmetric key used to seal (or open) a single
// recipient's wrap within a key message: an X25519 shared secret between
// the sender's identity and the recipient's session id, mixed through
// HKDF together with the generation so that a wrap from one generation
// can never be reused to open another.
//
// senderSecret and recipientPublic must be X25519 scalar/point pairs
// already derived from Ed25519 identities via EdPrivateToX25519 /
// EdPublicToX25519 (or, for the recipient side, the 32 bytes that follow
// the tag byte of a DeriveSessionID result).
func DeriveWrapKey(senderSecret, recipientPublic []byte, generation uint64) ([]byte, error) {
	shared, err := X25519(senderSecret, recipientPublic)
	if err != nil {
		return nil, fmt.Errorf("groupkeys/crypto: wrap key dh: %w", err)
	}
	return hkdfExpand(shared, wrapDomain, generation, WrapKeySize)
}

// DeriveAdminWrapKey derives the key used to seal the single wrap shared
// by every holder of the group secret key. Unlike DeriveWrapKey it needs
// no recipient-specific Diffie-Hellman step: any participant who holds
// groupSecret can derive it directly, which is exactly the set of
// participants it is meant to be openable by.
func DeriveAdminWrapKey(groupSecret []byte, generation uint64) ([]byte, error) {
	return hkdfExpand(groupSecret, adminWrapDomain, generation, WrapKeySize)
}

func hkdfExpand(secret []byte, domain string, generation uint64, size int) ([]byte, error) {
	info := appendUint64(([]byte)(domain), generation)
	r := hkdf.New(sha256.New, secret, nil, info)
	out := make([]byte, size)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("groupkeys/crypto: hkdf expand: %w", err)
	}
	return out, nil
}

func appendUint64(prefix []byte, v uint64) []byte {
	out := make([]byte, len(prefix)+8)
	copy(out, prefix)
	for i := 0; i < 8; i++ {
		out[len(prefix)+i] = byte(v >> (56 - 8*i))
	}
	return out
}
