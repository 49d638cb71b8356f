// Package errs defines the error kinds shared across the group-keys
// engine and its companion configs. Callers distinguish failure modes
// with errors.Is against these sentinels. Errors from the keys engine and
// the wire decoders wrap one of them; some errors from the crypto helpers
// and from a config Push (for example a Push with no value set) wrap none.
package errs

import "errors"

var (
	// ErrNotAdmin is returned when an operation requiring the group
	// secret key is attempted by a participant that does not hold one.
	ErrNotAdmin = errors.New("not an admin")

	// ErrInvalidSignature is returned when a key message's signature does
	// not verify against the group's public identity.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrStaleMessage is returned when a key message's timestamp falls
	// outside the configured staleness window, or its generation is
	// older than the smallest retained generation.
	ErrStaleMessage = errors.New("stale key message")

	// ErrUnknownGeneration is returned when an operation references a
	// key generation not present in the local history.
	ErrUnknownGeneration = errors.New("unknown generation")

	// ErrAuthFailure is returned when AEAD decryption fails
	// authentication.
	ErrAuthFailure = errors.New("authentication failure")

	// ErrNoKey is returned when no usable key is available to decrypt a
	// message or config blob — including the first-ever merge attempt by
	// a participant that has not yet loaded any key message at all.
	ErrNoKey = errors.New("no usable key")

	// ErrDecompress is returned when a compressed payload fails to
	// decompress.
	ErrDecompress = errors.New("decompression failure")

	// ErrParse is returned when a wire blob is malformed.
	ErrParse = errors.New("parse failure")

	// ErrCrypto is returned when an underlying cryptographic primitive
	// fails for a reason other than authentication (e.g. key generation).
	ErrCrypto = errors.New("cryptographic failure")
)
