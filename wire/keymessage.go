package wire

import (
	"fmt"

	syntax "github.com/cisco/go-tls-syntax"

	"github.com/nous-group/groupkeys/crypto"
	"github.com/nous-group/groupkeys/errs"
)

// FormatTag distinguishes the two KeyMessage variants.
type FormatTag byte

const (
	// FormatFull tags a full rekey: one fresh key wrapped for everyone.
	FormatFull FormatTag = 0
	// FormatSupplement tags a supplement: a window of existing keys
	// wrapped for a subset of recipients.
	FormatSupplement FormatTag = 1
)

// Wrap is a single recipient-addressed AEAD ciphertext carrying one or
// more group keys.
type Wrap struct {
	RecipientHash [crypto.RecipientHashSize]byte
	Nonce         []byte
	Ciphertext    []byte
}

// wrapBody is the self-delimiting TLS-syntax encoding of a Wrap's
// variable-length part: struct-tag length prefixes rather than a
// hand-rolled length field.
type wrapBody struct {
	Nonce      []byte `tls:"head=1"`
	Ciphertext []byte `tls:"head=3"`
}

// KeyMessage is the parsed form of the on-wire key-message envelope.
type KeyMessage struct {
	Tag         FormatTag
	Generation  uint64
	Timestamp   int64
	KeysPerWrap uint64 // encoded only for FormatSupplement; decoded as 1 for FormatFull
	Wraps       []Wrap
	Signature   [crypto.SignatureSize]byte
}

// EncodeKeyMessage serializes a KeyMessage, signing the preceding bytes
// with sign. The returned blob is self-describing.
func EncodeKeyMessage(msg KeyMessage, sign func([]byte) []byte) []byte {
	w := NewWriteStream()
	w.WriteByte(byte(msg.Tag))
	w.WriteUvarint(msg.Generation)
	w.WriteUvarint(uint64(msg.Timestamp))
	w.WriteUvarint(uint64(len(msg.Wraps)))
	for _, wrap := range msg.Wraps {
		w.WriteBytes(wrap.RecipientHash[:])
		body, err := syntax.Marshal(wrapBody{Nonce: wrap.Nonce, Ciphertext: wrap.Ciphertext})
		if err != nil {
			// Only possible if a Wrap was built with an oversized
			// Ciphertext (>2^24-1 bytes), which never happens for our
			// AEAD-sealed group keys.
			panic(fmt.Sprintf("groupkeys/wire: marshal wrap: %v", err))
		}
		w.WriteBytes(body)
	}
	if msg.Tag == FormatSupplement {
		w.WriteUvarint(msg.KeysPerWrap)
	}

	signed := sign(w.Data())
	w.WriteBytes(signed)
	return w.Data()
}

// DecodeKeyMessage parses a KeyMessage without verifying its signature;
// callers verify separately against the group's public key, since
// verification requires the signed prefix, which this function also
// returns.
func DecodeKeyMessage(blob []byte) (KeyMessage, []byte, error) {
	r := NewReadStream(blob)

	tagByte, err := r.ReadByte()
	if err != nil {
		return KeyMessage{}, nil, err
	}
	tag := FormatTag(tagByte)
	if tag != FormatFull && tag != FormatSupplement {
		return KeyMessage{}, nil, fmt.Errorf("groupkeys/wire: unknown format tag %d: %w", tagByte, errs.ErrParse)
	}

	generation, err := r.ReadUvarint()
	if err != nil {
		return KeyMessage{}, nil, err
	}
	timestamp, err := r.ReadUvarint()
	if err != nil {
		return KeyMessage{}, nil, err
	}

	wrapCount, err := r.ReadUvarint()
	if err != nil {
		return KeyMessage{}, nil, err
	}

	wraps := make([]Wrap, 0, wrapCount)
	for i := uint64(0); i < wrapCount; i++ {
		hashBytes, err := r.ReadBytes(crypto.RecipientHashSize)
		if err != nil {
			return KeyMessage{}, nil, err
		}

		var body wrapBody
		read, err := syntax.Unmarshal(r.Rest(), &body)
		if err != nil {
			return KeyMessage{}, nil, fmt.Errorf("groupkeys/wire: malformed wrap: %w", errs.ErrParse)
		}
		if err := r.Advance(read); err != nil {
			return KeyMessage{}, nil, err
		}

		var wrap Wrap
		copy(wrap.RecipientHash[:], hashBytes)
		wrap.Nonce = body.Nonce
		wrap.Ciphertext = body.Ciphertext
		wraps = append(wraps, wrap)
	}

	keysPerWrap := uint64(1)
	if tag == FormatSupplement {
		keysPerWrap, err = r.ReadUvarint()
		if err != nil {
			return KeyMessage{}, nil, err
		}
	}

	signedLen := len(blob) - r.Remaining()
	signedPrefix := blob[:signedLen]

	sigBytes, err := r.ReadBytes(crypto.SignatureSize)
	if err != nil {
		return KeyMessage{}, nil, fmt.Errorf("groupkeys/wire: missing signature: %w", errs.ErrParse)
	}

	msg := KeyMessage{
		Tag:         tag,
		Generation:  generation,
		Timestamp:   int64(timestamp),
		KeysPerWrap: keysPerWrap,
		Wraps:       wraps,
	}
	copy(msg.Signature[:], sigBytes)

	return msg, signedPrefix, nil
}
