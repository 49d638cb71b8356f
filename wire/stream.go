// Package wire implements the binary encodings the group-keys engine
// exchanges over the network and persists to disk: the KeyMessage
// envelope, the encrypted message envelope, and the opaque
// persisted-state blob.
//
// The WriteStream/ReadStream helpers below accumulate a byte stream
// manually, mixing raw, length-prefixed, and varint-encoded fields —
// varints for generation/timestamp/counts aren't something
// github.com/cisco/go-tls-syntax's struct-tag reflection expresses on
// its own. That package is still used directly for self-delimiting
// sub-blobs (see Wrap in keymessage.go).
package wire

import (
	"fmt"

	varint "github.com/multiformats/go-varint"

	"github.com/nous-group/groupkeys/errs"
)

// WriteStream accumulates bytes for a wire-format message.
type WriteStream struct {
	buffer []byte
}

// NewWriteStream returns an empty WriteStream.
func NewWriteStream() *WriteStream {
	return &WriteStream{}
}

// Data returns the accumulated bytes.
func (s *WriteStream) Data() []byte {
	return s.buffer
}

// WriteByte appends a single byte.
func (s *WriteStream) WriteByte(b byte) {
	s.buffer = append(s.buffer, b)
}

// WriteBytes appends raw bytes with no length prefix.
func (s *WriteStream) WriteBytes(b []byte) {
	s.buffer = append(s.buffer, b...)
}

// WriteUvarint appends v as an unsigned varint.
func (s *WriteStream) WriteUvarint(v uint64) {
	s.buffer = append(s.buffer, varint.ToUvarint(v)...)
}

// WriteLP appends b prefixed by its length as an unsigned varint
// ("length-prefixed").
func (s *WriteStream) WriteLP(b []byte) {
	s.WriteUvarint(uint64(len(b)))
	s.WriteBytes(b)
}

// ReadStream consumes bytes from a wire-format message in order.
type ReadStream struct {
	buffer []byte
	cursor int
}

// NewReadStream wraps data for sequential reading.
func NewReadStream(data []byte) *ReadStream {
	return &ReadStream{buffer: data}
}

// Remaining returns the number of unread bytes.
func (s *ReadStream) Remaining() int {
	return len(s.buffer) - s.cursor
}

// ReadByte consumes a single byte.
func (s *ReadStream) ReadByte() (byte, error) {
	if s.Remaining() < 1 {
		return 0, fmt.Errorf("groupkeys/wire: truncated byte: %w", errs.ErrParse)
	}
	b := s.buffer[s.cursor]
	s.cursor++
	return b, nil
}

// ReadBytes consumes exactly n raw bytes.
func (s *ReadStream) ReadBytes(n int) ([]byte, error) {
	if s.Remaining() < n {
		return nil, fmt.Errorf("groupkeys/wire: truncated read of %d bytes: %w", n, errs.ErrParse)
	}
	out := make([]byte, n)
	copy(out, s.buffer[s.cursor:s.cursor+n])
	s.cursor += n
	return out, nil
}

// ReadUvarint consumes an unsigned varint.
func (s *ReadStream) ReadUvarint() (uint64, error) {
	v, n, err := varint.FromUvarint(s.buffer[s.cursor:])
	if err != nil {
		return 0, fmt.Errorf("groupkeys/wire: malformed varint: %w", errs.ErrParse)
	}
	s.cursor += n
	return v, nil
}

// ReadLP consumes a varint-length-prefixed byte string.
func (s *ReadStream) ReadLP() ([]byte, error) {
	n, err := s.ReadUvarint()
	if err != nil {
		return nil, err
	}
	return s.ReadBytes(int(n))
}

// Rest returns all remaining unread bytes without consuming them.
func (s *ReadStream) Rest() []byte {
	return s.buffer[s.cursor:]
}

// Advance consumes n bytes without returning them, for use after decoding
// a self-delimiting sub-blob (e.g. one produced by github.com/cisco/go-tls-syntax)
// directly from Rest().
func (s *ReadStream) Advance(n int) error {
	if s.Remaining() < n {
		return fmt.Errorf("groupkeys/wire: truncated advance of %d bytes: %w", n, errs.ErrParse)
	}
	s.cursor += n
	return nil
}
