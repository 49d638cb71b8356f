package crypto

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/nous-group/groupkeys/errs"
)

// Compress returns the zstd-compressed form of data.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("groupkeys/crypto: new zstd writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("groupkeys/crypto: zstd write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("groupkeys/crypto: zstd close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	r, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("groupkeys/crypto: new zstd reader: %w", err)
	}
	defer r.Close()
	out, err := r.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("groupkeys/crypto: zstd decode: %w", errs.ErrDecompress)
	}
	return out, nil
}
