// Package keys implements the group keys engine: key history, rekey and
// supplement production, key-message ingestion, and message encryption
// bound to the active group key.
package keys

import (
	"fmt"
	"sort"
	"time"

	"github.com/nous-group/groupkeys/crypto"
	"github.com/nous-group/groupkeys/errs"
	"github.com/nous-group/groupkeys/info"
	"github.com/nous-group/groupkeys/members"
	"github.com/nous-group/groupkeys/wire"
)

// retentionWindow bounds how many past generations a participant keeps.
const retentionWindow = 5

// stalenessWindow bounds how old an incoming key message's timestamp may
// be relative to the caller-supplied "now" before it is rejected.
const stalenessWindow = 7 * 24 * time.Hour

// GroupKey is a single symmetric key tagged with the generation and
// timestamp it was issued at.
type GroupKey struct {
	Key        [crypto.KeySize]byte
	Generation uint64
	Timestamp  int64
}

// Fingerprint returns the key's deterministic identity hash.
func (k GroupKey) Fingerprint() [crypto.FingerprintSize]byte {
	return crypto.Fingerprint(k.Key[:])
}

// Engine is one participant's view of a group's key history. The zero
// value is not usable; construct with New.
type Engine struct {
	personalX   []byte
	groupPublic [crypto.PublicKeySize]byte
	groupX      []byte
	groupSecret *crypto.SigningKey

	history []GroupKey // newest first
	pending []byte
}

// New constructs an Engine for one participant.
//
// personalSecret is this participant's own 64-byte Ed25519 secret key.
// groupPublic is gpk. groupSecret is gsk, non-nil only for admins. persisted
// is a blob previously returned by Persist, or nil for a fresh engine; if it
// carries an admin key and groupSecret was not supplied, admin status is
// restored from the persisted blob.
func New(personalSecret []byte, groupPublic [crypto.PublicKeySize]byte, groupSecret []byte, persisted []byte) (*Engine, error) {
	personalX, err := crypto.EdPrivateToX25519(personalSecret)
	if err != nil {
		return nil, fmt.Errorf("groupkeys/keys: new: %w", errs.ErrCrypto)
	}
	groupX, err := crypto.EdPublicToX25519(groupPublic[:])
	if err != nil {
		return nil, fmt.Errorf("groupkeys/keys: new: %w", errs.ErrCrypto)
	}

	e := &Engine{
		personalX:   personalX,
		groupPublic: groupPublic,
		groupX:      groupX,
	}

	if len(groupSecret) > 0 {
		key, err := crypto.NewSigningKeyFromSecret(groupSecret)
		if err != nil {
			return nil, fmt.Errorf("groupkeys/keys: new: invalid group secret: %w", errs.ErrCrypto)
		}
		e.groupSecret = &key
	}

	if len(persisted) > 0 {
		state, err := wire.DecodeStateBlob(persisted)
		if err != nil {
			return nil, fmt.Errorf("groupkeys/keys: new: %w", err)
		}
		for _, k := range state.Keys {
			e.history = append(e.history, GroupKey{Key: k.Key, Generation: k.Generation})
		}
		sortHistoryDesc(e.history)
		if state.HasPendingRekey {
			e.pending = state.PendingKeyMessage
		}
		if state.HasAdminKey && e.groupSecret == nil {
			key, err := crypto.NewSigningKeyFromSecret(state.AdminKey[:])
			if err != nil {
				return nil, fmt.Errorf("groupkeys/keys: new: invalid persisted admin key: %w", errs.ErrCrypto)
			}
			e.groupSecret = &key
		}
	}

	return e, nil
}

// IsAdmin reports whether this participant holds the group secret key.
func (e *Engine) IsAdmin() bool {
	return e.groupSecret != nil
}

// PendingConfig returns the most recently produced key message blob that
// has not yet been confirmed as pushed.
func (e *Engine) PendingConfig() ([]byte, bool) {
	if e.pending == nil {
		return nil, false
	}
	return e.pending, true
}

// ConfirmPushed clears the pending key message.
func (e *Engine) ConfirmPushed() {
	e.pending = nil
}

// GroupEncKey returns the active group key.
func (e *Engine) GroupEncKey() ([crypto.KeySize]byte, bool) {
	if len(e.history) == 0 {
		return [crypto.KeySize]byte{}, false
	}
	return e.history[0].Key, true
}

// GroupKeys returns the current key history, newest first.
func (e *Engine) GroupKeys() []GroupKey {
	out := make([]GroupKey, len(e.history))
	copy(out, e.history)
	return out
}

// ActiveKey implements groupstate.KeyProvider.
func (e *Engine) ActiveKey() ([crypto.KeySize]byte, uint64, bool) {
	if len(e.history) == 0 {
		return [crypto.KeySize]byte{}, 0, false
	}
	return e.history[0].Key, e.history[0].Generation, true
}

// KeyForGeneration implements groupstate.KeyProvider.
func (e *Engine) KeyForGeneration(generation uint64) ([crypto.KeySize]byte, bool) {
	if k, ok := e.findGeneration(generation); ok {
		return k.Key, true
	}
	return [crypto.KeySize]byte{}, false
}

// HasAnyKey implements groupstate.KeyProvider.
func (e *Engine) HasAnyKey() bool {
	return len(e.history) > 0
}

func (e *Engine) findGeneration(generation uint64) (GroupKey, bool) {
	for _, k := range e.history {
		if k.Generation == generation {
			return k, true
		}
	}
	return GroupKey{}, false
}

// Rekey generates a fresh group key, wraps it once for every holder of
// gsk and once for each non-admin member record, signs the envelope with
// gsk, and installs it as this participant's new active key. Admin only.
func (e *Engine) Rekey(infoCfg *info.Config, membersCfg *members.Config) ([]byte, error) {
	if e.groupSecret == nil {
		return nil, fmt.Errorf("groupkeys/keys: rekey: %w", errs.ErrNotAdmin)
	}

	key, err := crypto.NewKey()
	if err != nil {
		return nil, fmt.Errorf("groupkeys/keys: rekey: %w", errs.ErrCrypto)
	}

	generation := uint64(1)
	if len(e.history) > 0 {
		generation = e.history[0].Generation + 1
	}
	timestamp := time.Now().Unix()

	gskX, err := crypto.EdPrivateToX25519(e.groupSecret.Private)
	if err != nil {
		return nil, fmt.Errorf("groupkeys/keys: rekey: %w", errs.ErrCrypto)
	}

	adminWrap, err := sealAdminWrap(e.groupSecret.Private, generation, key[:])
	if err != nil {
		return nil, fmt.Errorf("groupkeys/keys: rekey: %w", errs.ErrCrypto)
	}
	wraps := make([]wire.Wrap, 0, membersCfg.Size()+1)
	wraps = append(wraps, adminWrap)
	for _, rec := range membersCfg.All() {
		if rec.Admin {
			continue
		}
		wrap, err := sealWrap(gskX, rec.SessionID, generation, key[:])
		if err != nil {
			return nil, fmt.Errorf("groupkeys/keys: rekey: %w", errs.ErrCrypto)
		}
		wraps = append(wraps, wrap)
	}

	msg := wire.KeyMessage{
		Tag:        wire.FormatFull,
		Generation: generation,
		Timestamp:  timestamp,
		Wraps:      wraps,
	}
	blob := wire.EncodeKeyMessage(msg, e.groupSecret.Sign)

	e.insertKey(GroupKey{Key: key, Generation: generation, Timestamp: timestamp})
	infoCfg.Rewrap()
	membersCfg.Rewrap()

	e.pending = blob
	return blob, nil
}

// KeySupplement wraps the admin's currently retained key window (oldest
// to newest, contiguous) for each named recipient, without rotating the
// active key. Admin only.
func (e *Engine) KeySupplement(recipients []crypto.SessionID) ([]byte, error) {
	if e.groupSecret == nil {
		return nil, fmt.Errorf("groupkeys/keys: key_supplement: %w", errs.ErrNotAdmin)
	}
	if len(e.history) == 0 {
		return nil, fmt.Errorf("groupkeys/keys: key_supplement: %w", errs.ErrNoKey)
	}

	generation := e.history[0].Generation
	keysPerWrap := uint64(len(e.history))

	plainKeys := make([]byte, 0, int(keysPerWrap)*crypto.KeySize)
	for i := len(e.history) - 1; i >= 0; i-- {
		plainKeys = append(plainKeys, e.history[i].Key[:]...)
	}

	gskX, err := crypto.EdPrivateToX25519(e.groupSecret.Private)
	if err != nil {
		return nil, fmt.Errorf("groupkeys/keys: key_supplement: %w", errs.ErrCrypto)
	}

	seen := map[crypto.SessionID]bool{}
	wraps := make([]wire.Wrap, 0, len(recipients))
	for _, sid := range recipients {
		if seen[sid] {
			continue
		}
		seen[sid] = true

		wrap, err := sealWrap(gskX, sid, generation, plainKeys)
		if err != nil {
			return nil, fmt.Errorf("groupkeys/keys: key_supplement: %w", errs.ErrCrypto)
		}
		wraps = append(wraps, wrap)
	}

	msg := wire.KeyMessage{
		Tag:         wire.FormatSupplement,
		Generation:  generation,
		Timestamp:   time.Now().Unix(),
		KeysPerWrap: keysPerWrap,
		Wraps:       wraps,
	}
	blob := wire.EncodeKeyMessage(msg, e.groupSecret.Sign)

	e.pending = blob
	return blob, nil
}

// LoadKeyMessage parses and verifies blob, recovers any keys it can
// decrypt for this participant, and returns whether it found at least
// one. On success it re-offers the active key to info and members so
// they can retry merges that previously failed for lack of a key.
func (e *Engine) LoadKeyMessage(blob []byte, now int64, infoCfg *info.Config, membersCfg *members.Config) (bool, error) {
	msg, signedPrefix, err := wire.DecodeKeyMessage(blob)
	if err != nil {
		return false, err
	}

	if !crypto.Verify(e.groupPublic[:], signedPrefix, msg.Signature[:]) {
		return false, fmt.Errorf("groupkeys/keys: load_key_message: %w", errs.ErrInvalidSignature)
	}

	if now-msg.Timestamp > int64(stalenessWindow.Seconds()) {
		return false, fmt.Errorf("groupkeys/keys: load_key_message: %w", errs.ErrStaleMessage)
	}
	if len(e.history) > 0 && msg.Generation < e.history[len(e.history)-1].Generation {
		return false, fmt.Errorf("groupkeys/keys: load_key_message: %w", errs.ErrStaleMessage)
	}

	adminHash := crypto.AdminRecipientHash()

	var recovered []GroupKey
	for _, w := range msg.Wraps {
		var wrapKey []byte
		if w.RecipientHash == adminHash {
			if e.groupSecret == nil {
				continue
			}
			wrapKey, err = crypto.DeriveAdminWrapKey(e.groupSecret.Private, msg.Generation)
		} else {
			wrapKey, err = crypto.DeriveWrapKey(e.personalX, e.groupX, msg.Generation)
		}
		if err != nil {
			return false, fmt.Errorf("groupkeys/keys: load_key_message: %w", errs.ErrCrypto)
		}
		aad := wrapAAD(w.RecipientHash, msg.Generation)
		plaintext, err := crypto.Open(wrapKey, w.Nonce, w.Ciphertext, aad)
		if err != nil {
			continue
		}

		switch msg.Tag {
		case wire.FormatFull:
			if len(plaintext) != crypto.KeySize {
				continue
			}
			var k GroupKey
			copy(k.Key[:], plaintext)
			k.Generation = msg.Generation
			k.Timestamp = msg.Timestamp
			recovered = append(recovered, k)
		case wire.FormatSupplement:
			n := msg.KeysPerWrap
			if uint64(len(plaintext)) != n*crypto.KeySize || n == 0 || msg.Generation+1 < n {
				continue
			}
			base := msg.Generation - n + 1
			for i := uint64(0); i < n; i++ {
				var k GroupKey
				copy(k.Key[:], plaintext[i*crypto.KeySize:(i+1)*crypto.KeySize])
				k.Generation = base + i
				k.Timestamp = msg.Timestamp
				recovered = append(recovered, k)
			}
		}
	}

	if len(recovered) == 0 {
		return false, nil
	}

	for _, k := range recovered {
		e.insertKey(k)
	}

	if infoCfg != nil {
		if _, err := infoCfg.Retry(); err != nil {
			return true, err
		}
	}
	if membersCfg != nil {
		if _, err := membersCfg.Retry(); err != nil {
			return true, err
		}
	}

	return true, nil
}

// EncryptMessage seals plaintext under the active group key. When
// compress is true the plaintext is zstd-compressed first, but only the
// compressed form is used when it is strictly smaller.
func (e *Engine) EncryptMessage(plaintext []byte, compress bool) ([]byte, error) {
	if len(e.history) == 0 {
		return nil, fmt.Errorf("groupkeys/keys: encrypt_message: %w", errs.ErrNoKey)
	}
	active := e.history[0]

	data := plaintext
	compressed := false
	if compress {
		if c, err := crypto.Compress(plaintext); err == nil && len(c) < len(plaintext) {
			data = c
			compressed = true
		}
	}

	nonce, err := crypto.NewNonce()
	if err != nil {
		return nil, fmt.Errorf("groupkeys/keys: encrypt_message: %w", errs.ErrCrypto)
	}
	ciphertext, err := crypto.Seal(active.Key[:], nonce, data, nil)
	if err != nil {
		return nil, fmt.Errorf("groupkeys/keys: encrypt_message: %w", errs.ErrCrypto)
	}

	env := wire.Envelope{
		Compressed:     compressed,
		HasGeneration:  true,
		GenerationHint: active.Generation,
		Nonce:          nonce,
		Ciphertext:     ciphertext,
	}
	return wire.EncodeEnvelope(env), nil
}

// DecryptMessage reverses EncryptMessage using whichever retained key
// the envelope's generation hint names, or every retained key in turn
// if the hint is absent.
func (e *Engine) DecryptMessage(blob []byte) ([]byte, error) {
	env, err := wire.DecodeEnvelope(blob)
	if err != nil {
		return nil, err
	}

	if env.HasGeneration {
		k, ok := e.findGeneration(env.GenerationHint)
		if !ok {
			return nil, fmt.Errorf("groupkeys/keys: decrypt_message: %w", errs.ErrNoKey)
		}
		plaintext, err := crypto.Open(k.Key[:], env.Nonce, env.Ciphertext, nil)
		if err != nil {
			return nil, fmt.Errorf("groupkeys/keys: decrypt_message: %w", errs.ErrAuthFailure)
		}
		return finishDecrypt(plaintext, env.Compressed)
	}

	for _, k := range e.history {
		plaintext, err := crypto.Open(k.Key[:], env.Nonce, env.Ciphertext, nil)
		if err != nil {
			continue
		}
		return finishDecrypt(plaintext, env.Compressed)
	}
	return nil, fmt.Errorf("groupkeys/keys: decrypt_message: %w", errs.ErrNoKey)
}

func finishDecrypt(plaintext []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return plaintext, nil
	}
	out, err := crypto.Decompress(plaintext)
	if err != nil {
		return nil, fmt.Errorf("groupkeys/keys: decrypt_message: %w", err)
	}
	return out, nil
}

// Persist serializes this participant's key history, group secret if
// held, and pending key message into the opaque blob New accepts.
func (e *Engine) Persist() []byte {
	var state wire.StateBlob
	for _, k := range e.history {
		state.Keys = append(state.Keys, wire.GenerationKey{Generation: k.Generation, Key: k.Key})
	}
	if e.groupSecret != nil {
		state.HasAdminKey = true
		copy(state.AdminKey[:], e.groupSecret.Private)
	}
	if e.pending != nil {
		state.HasPendingRekey = true
		state.PendingKeyMessage = e.pending
	}
	return wire.EncodeStateBlob(state)
}

// Zeroize wipes this engine's secret-bearing memory in place: the X25519
// conversion of the personal key, the group secret key if held, and
// every retained group key. Call it once the engine is no longer needed;
// the engine must not be used afterward.
func (e *Engine) Zeroize() {
	crypto.Zeroize(e.personalX)
	if e.groupSecret != nil {
		crypto.Zeroize(e.groupSecret.Private)
	}
	for i := range e.history {
		crypto.Zeroize(e.history[i].Key[:])
	}
	e.history = nil
}

func (e *Engine) insertKey(k GroupKey) {
	fp := k.Fingerprint()
	for _, existing := range e.history {
		if existing.Fingerprint() == fp {
			return
		}
	}
	e.history = append(e.history, k)
	sortHistoryDesc(e.history)
	if len(e.history) > retentionWindow {
		pruned := e.history[retentionWindow:]
		for i := range pruned {
			crypto.Zeroize(pruned[i].Key[:])
		}
		e.history = e.history[:retentionWindow]
	}
}

func sortHistoryDesc(history []GroupKey) {
	sort.Slice(history, func(i, j int) bool {
		return history[i].Generation > history[j].Generation
	})
}

func sealWrap(senderSecretX []byte, recipient crypto.SessionID, generation uint64, plaintext []byte) (wire.Wrap, error) {
	recipientHash := crypto.RecipientHash(recipient)
	wrapKey, err := crypto.DeriveWrapKey(senderSecretX, recipient[1:], generation)
	if err != nil {
		return wire.Wrap{}, err
	}
	nonce, err := crypto.NewNonce()
	if err != nil {
		return wire.Wrap{}, err
	}
	ciphertext, err := crypto.Seal(wrapKey, nonce, plaintext, wrapAAD(recipientHash, generation))
	if err != nil {
		return wire.Wrap{}, err
	}
	return wire.Wrap{RecipientHash: recipientHash, Nonce: nonce, Ciphertext: ciphertext}, nil
}

func sealAdminWrap(groupSecret []byte, generation uint64, plaintext []byte) (wire.Wrap, error) {
	recipientHash := crypto.AdminRecipientHash()
	wrapKey, err := crypto.DeriveAdminWrapKey(groupSecret, generation)
	if err != nil {
		return wire.Wrap{}, err
	}
	nonce, err := crypto.NewNonce()
	if err != nil {
		return wire.Wrap{}, err
	}
	ciphertext, err := crypto.Seal(wrapKey, nonce, plaintext, wrapAAD(recipientHash, generation))
	if err != nil {
		return wire.Wrap{}, err
	}
	return wire.Wrap{RecipientHash: recipientHash, Nonce: nonce, Ciphertext: ciphertext}, nil
}

func wrapAAD(recipientHash [crypto.RecipientHashSize]byte, generation uint64) []byte {
	w := wire.NewWriteStream()
	w.WriteBytes(recipientHash[:])
	w.WriteUvarint(generation)
	return w.Data()
}
