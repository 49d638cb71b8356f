package crypto

import (
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// RecipientHashSize is the length of a wrap's recipient-addressing hash.
const RecipientHashSize = 8

// FingerprintSize is the length of a group key's deterministic fingerprint,
// used to deduplicate keys in a participant's history.
const FingerprintSize = 8

const (
	recipientHashDomain  = "groupkeys-recipient-v1"
	fingerprintDomain    = "groupkeys-fingerprint-v1"
	adminRecipientDomain = "groupkeys-admin-recipient-v1"
)

// RecipientHash computes the truncated, domain-separated BLAKE2b hash of a
// recipient's session id used to address a wrap within a key message.
func RecipientHash(sessionID SessionID) [RecipientHashSize]byte {
	return truncatedBlake2b(recipientHashDomain, sessionID[:])
}

// AdminRecipientHash is the fixed recipient-hash value that marks the
// single wrap shared by every holder of the group secret key, as
// opposed to a per-session-id member wrap. It is derived from its own
// domain rather than any session id, so it cannot collide with a real
// recipient hash in practice.
func AdminRecipientHash() [RecipientHashSize]byte {
	return truncatedBlake2b(adminRecipientDomain, nil)
}

// Fingerprint computes the deterministic fingerprint of a group key, used
// to deduplicate keys recovered from different key messages.
func Fingerprint(key []byte) [FingerprintSize]byte {
	return truncatedBlake2b(fingerprintDomain, key)
}

func truncatedBlake2b(domain string, data []byte) [8]byte {
	h, err := blake2b.New(8, nil)
	if err != nil {
		// Only possible if the requested size is out of blake2b's
		// supported range, which never happens for our fixed constant.
		panic(fmt.Sprintf("groupkeys/crypto: blake2b: %v", err))
	}
	h.Write([]byte(domain))
	h.Write(data)
	var out [8]byte
	copy(out[:], h.Sum(nil))
	return out
}
