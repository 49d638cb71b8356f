package wire

import (
	"fmt"

	"github.com/nous-group/groupkeys/errs"
)

const envelopeVersion = 1

const flagCompressed = 1 << 0

// Envelope is the encrypted message envelope carrying an application
// message sealed under the active group key.
type Envelope struct {
	Compressed     bool
	GenerationHint uint64
	HasGeneration  bool
	Nonce          []byte
	Ciphertext     []byte
}

// EncodeEnvelope serializes an Envelope.
func EncodeEnvelope(e Envelope) []byte {
	w := NewWriteStream()
	w.WriteByte(envelopeVersion)

	var flags byte
	if e.Compressed {
		flags |= flagCompressed
	}
	w.WriteByte(flags)

	if e.HasGeneration {
		w.WriteUvarint(e.GenerationHint + 1)
	} else {
		w.WriteUvarint(0)
	}

	w.WriteLP(e.Nonce)
	w.WriteBytes(e.Ciphertext)
	return w.Data()
}

// DecodeEnvelope parses an Envelope.
func DecodeEnvelope(blob []byte) (Envelope, error) {
	r := NewReadStream(blob)

	version, err := r.ReadByte()
	if err != nil {
		return Envelope{}, err
	}
	if version != envelopeVersion {
		return Envelope{}, fmt.Errorf("groupkeys/wire: unsupported envelope version %d: %w", version, errs.ErrParse)
	}

	flags, err := r.ReadByte()
	if err != nil {
		return Envelope{}, err
	}

	genField, err := r.ReadUvarint()
	if err != nil {
		return Envelope{}, err
	}

	nonce, err := r.ReadLP()
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{
		Compressed:     flags&flagCompressed != 0,
		HasGeneration:  genField != 0,
		GenerationHint: genField - boolToUint64(genField != 0),
		Nonce:          nonce,
		Ciphertext:     r.Rest(),
	}, nil
}

func boolToUint64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
