package wire

import (
	"fmt"

	"github.com/nous-group/groupkeys/crypto"
	"github.com/nous-group/groupkeys/errs"
)

const stateVersion = 1

// GenerationKey pairs a group encryption key with the generation it was
// issued at.
type GenerationKey struct {
	Generation uint64
	Key        [crypto.KeySize]byte
}

// StateBlob is the opaque persisted-state container: a participant's
// retained key history, the group's signing key if held (admin only),
// and a not-yet-confirmed rekey message if one is pending.
type StateBlob struct {
	Keys              []GenerationKey
	HasAdminKey       bool
	AdminKey          [crypto.PrivateKeySize]byte
	HasPendingRekey   bool
	PendingKeyMessage []byte
}

// EncodeStateBlob serializes a StateBlob.
func EncodeStateBlob(s StateBlob) []byte {
	w := NewWriteStream()
	w.WriteByte(stateVersion)

	w.WriteUvarint(uint64(len(s.Keys)))
	for _, k := range s.Keys {
		w.WriteUvarint(k.Generation)
		w.WriteBytes(k.Key[:])
	}

	if s.HasAdminKey {
		w.WriteByte(1)
		w.WriteBytes(s.AdminKey[:])
	} else {
		w.WriteByte(0)
	}

	if s.HasPendingRekey {
		w.WriteByte(1)
		w.WriteLP(s.PendingKeyMessage)
	} else {
		w.WriteByte(0)
	}

	return w.Data()
}

// DecodeStateBlob parses a StateBlob.
func DecodeStateBlob(blob []byte) (StateBlob, error) {
	r := NewReadStream(blob)

	version, err := r.ReadByte()
	if err != nil {
		return StateBlob{}, err
	}
	if version != stateVersion {
		return StateBlob{}, fmt.Errorf("groupkeys/wire: unsupported state version %d: %w", version, errs.ErrParse)
	}

	keyCount, err := r.ReadUvarint()
	if err != nil {
		return StateBlob{}, err
	}

	var keys []GenerationKey
	for i := uint64(0); i < keyCount; i++ {
		gen, err := r.ReadUvarint()
		if err != nil {
			return StateBlob{}, err
		}
		keyBytes, err := r.ReadBytes(crypto.KeySize)
		if err != nil {
			return StateBlob{}, err
		}
		var gk GenerationKey
		gk.Generation = gen
		copy(gk.Key[:], keyBytes)
		keys = append(keys, gk)
	}

	out := StateBlob{Keys: keys}

	adminFlag, err := r.ReadByte()
	if err != nil {
		return StateBlob{}, err
	}
	if adminFlag != 0 {
		adminBytes, err := r.ReadBytes(crypto.PrivateKeySize)
		if err != nil {
			return StateBlob{}, err
		}
		out.HasAdminKey = true
		copy(out.AdminKey[:], adminBytes)
	}

	pendingFlag, err := r.ReadByte()
	if err != nil {
		return StateBlob{}, err
	}
	if pendingFlag != 0 {
		pending, err := r.ReadLP()
		if err != nil {
			return StateBlob{}, err
		}
		out.HasPendingRekey = true
		out.PendingKeyMessage = pending
	}

	return out, nil
}
