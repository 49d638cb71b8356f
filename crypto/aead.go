package crypto

import (
	"crypto/rand"
	"fmt"

	"github.com/nous-group/groupkeys/errs"
	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the size, in bytes, of a group key and of any AEAD key used
// in this package.
const KeySize = 32

// NonceSize is the size, in bytes, of the extended nonce used by Seal/Open
// (XChaCha20-Poly1305's 24-byte nonce, chosen so random nonces can be used
// safely without a counter).
const NonceSize = chacha20poly1305.NonceSizeX

// TagSize is the size, in bytes, of the AEAD authentication tag.
const TagSize = chacha20poly1305.Overhead

// NewKey returns a fresh random group key.
func NewKey() ([KeySize]byte, error) {
	var key [KeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return key, fmt.Errorf("groupkeys/crypto: generate key: %w", err)
	}
	return key, nil
}

// NewNonce returns a fresh random nonce suitable for Seal.
func NewNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("groupkeys/crypto: generate nonce: %w", err)
	}
	return nonce, nil
}

// Seal authenticates and encrypts plaintext under key with the given
// nonce and additional data, returning ciphertext||tag.
func Seal(key, nonce, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("groupkeys/crypto: new aead: %w", err)
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// Open verifies and decrypts a Seal-produced ciphertext.
func Open(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("groupkeys/crypto: new aead: %w", err)
	}
	pt, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("groupkeys/crypto: open: %w", errs.ErrAuthFailure)
	}
	return pt, nil
}
