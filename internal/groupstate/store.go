// Package groupstate is the small mergeable-snapshot primitive shared by
// the info and members configs: a single logical value, encrypted under
// whatever group key is currently active, with push/merge semantics keyed
// by generation. The deeper CRDT merge machinery a full Info/Members
// implementation would need (multi-writer conflict resolution, vector
// clocks) is out of scope here; this type gives both configs a common,
// independently-testable core for the encrypt-on-push / decrypt-on-merge
// contract and the throws-vs-returns-0 policy around key availability.
package groupstate

import (
	"fmt"

	"github.com/nous-group/groupkeys/crypto"
	"github.com/nous-group/groupkeys/errs"
	"github.com/nous-group/groupkeys/wire"
)

// KeyProvider is the subset of the keys engine that a Store needs: the
// active key for new pushes, lookup by generation for merges, and
// whether the participant has ever held any key at all (the fact that
// decides whether an unresolved merge is a hard error or a silent 0).
type KeyProvider interface {
	ActiveKey() (key [crypto.KeySize]byte, generation uint64, ok bool)
	KeyForGeneration(generation uint64) (key [crypto.KeySize]byte, ok bool)
	HasAnyKey() bool
}

// Entry is a single (hash, encrypted blob) pair as received from the
// config's backing transport.
type Entry struct {
	Hash [crypto.FingerprintSize]byte
	Blob []byte
}

// Store holds one logical value, dirty-tracked between pushes, plus any
// entries merge couldn't resolve yet because the generation they were
// encrypted under wasn't in the local key history.
type Store struct {
	keys KeyProvider

	payload    []byte
	hasValue   bool
	generation uint64
	dirty      bool

	nextSeq       uint64
	hasPending    bool
	pendingSeq    uint64
	pendingHash   [crypto.FingerprintSize]byte
	hasConfirmed  bool
	confirmedHash [crypto.FingerprintSize]byte

	unresolved []Entry
}

// New returns an empty Store backed by keys.
func New(keys KeyProvider) *Store {
	return &Store{keys: keys}
}

// Payload returns the current decrypted value and whether one has ever
// been merged or set locally.
func (s *Store) Payload() ([]byte, bool) {
	return s.payload, s.hasValue
}

// Set installs a new local value (e.g. after set_name), marking the
// store dirty so the next Push encrypts it under the current key.
func (s *Store) Set(payload []byte) {
	s.payload = payload
	s.hasValue = true
	s.dirty = true
}

// NeedsPush reports whether there is local, unpushed content.
func (s *Store) NeedsPush() bool {
	return s.dirty
}

// Push encrypts the current value under the active key and returns it
// along with a sequence number and the hashes of blobs it supersedes.
// Calling Push again before ConfirmPushed replaces the outstanding
// pending blob; its hash is reported as obsoleted.
func (s *Store) Push() (seq uint64, blob []byte, obsoleted [][crypto.FingerprintSize]byte, err error) {
	if !s.hasValue {
		return 0, nil, nil, fmt.Errorf("groupkeys/groupstate: push with no value set")
	}

	key, generation, ok := s.keys.ActiveKey()
	if !ok {
		return 0, nil, nil, fmt.Errorf("groupkeys/groupstate: push: %w", errs.ErrNoKey)
	}

	nonce, err := crypto.NewNonce()
	if err != nil {
		return 0, nil, nil, fmt.Errorf("groupkeys/groupstate: push: %w", err)
	}
	ciphertext, err := crypto.Seal(key[:], nonce, s.payload, nil)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("groupkeys/groupstate: push: %w", err)
	}

	blob = wire.EncodeEnvelope(wire.Envelope{
		HasGeneration:  true,
		GenerationHint: generation,
		Nonce:          nonce,
		Ciphertext:     ciphertext,
	})

	if s.hasPending {
		obsoleted = append(obsoleted, s.pendingHash)
	} else if s.hasConfirmed {
		obsoleted = append(obsoleted, s.confirmedHash)
	}

	seq = s.nextSeq
	s.nextSeq++
	s.hasPending = true
	s.pendingSeq = seq
	s.pendingHash = crypto.Fingerprint(blob)
	s.generation = generation
	s.dirty = false

	return seq, blob, obsoleted, nil
}

// Rewrap discards any outstanding pending push and, if a value is held,
// marks it dirty so the next Push re-encrypts it under whatever key is
// now active. Callers use this after a rekey: a push still in flight
// under the old generation is stale and would never be confirmable by
// a peer who only holds the new one.
func (s *Store) Rewrap() {
	if s.hasValue {
		s.dirty = true
	}
	s.hasPending = false
}

// ConfirmPushed records that the blob from sequence seq with the given
// hash was durably pushed, resetting pending state.
func (s *Store) ConfirmPushed(seq uint64, hash [crypto.FingerprintSize]byte) {
	if !s.hasPending || s.pendingSeq != seq {
		return
	}
	s.hasPending = false
	s.hasConfirmed = true
	s.confirmedHash = hash
}

// Merge attempts to decrypt and install each entry. It returns the
// number of entries that decrypted and were applied.
//
// An entry whose generation is unknown is silently skipped (and kept
// for a later Retry) when the participant already holds some key,
// matching the "no longer in the group" case: the generation simply
// isn't one this participant will ever receive. The same situation
// before any key has ever been loaded is treated as a hard error,
// matching the pre-load merge-throws case.
func (s *Store) Merge(entries []Entry) (int, error) {
	merged := 0
	for _, e := range entries {
		applied, resolvable, err := s.mergeOne(e)
		if err != nil {
			return merged, err
		}
		if applied {
			merged++
			continue
		}
		if resolvable {
			s.unresolved = append(s.unresolved, e)
		}
	}
	return merged, nil
}

// Retry re-attempts every previously unresolved entry, typically called
// after the owning keys engine has recovered a new generation.
func (s *Store) Retry() (int, error) {
	pending := s.unresolved
	s.unresolved = nil
	merged, err := s.Merge(pending)
	return merged, err
}

func (s *Store) mergeOne(e Entry) (applied bool, resolvable bool, err error) {
	env, err := wire.DecodeEnvelope(e.Blob)
	if err != nil {
		return false, false, fmt.Errorf("groupkeys/groupstate: merge: %w", err)
	}
	if !env.HasGeneration {
		return false, false, fmt.Errorf("groupkeys/groupstate: merge: blob missing generation: %w", errs.ErrParse)
	}

	key, ok := s.keys.KeyForGeneration(env.GenerationHint)
	if !ok {
		if !s.keys.HasAnyKey() {
			return false, false, fmt.Errorf("groupkeys/groupstate: merge: %w", errs.ErrNoKey)
		}
		return false, true, nil
	}

	plaintext, err := crypto.Open(key[:], env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return false, false, fmt.Errorf("groupkeys/groupstate: merge: %w", err)
	}

	s.payload = plaintext
	s.hasValue = true
	s.generation = env.GenerationHint
	return true, false, nil
}
