// Package info implements the group's small mergeable metadata config:
// currently just the group name, encrypted under the active group key
// and merged the same way across participants.
package info

import (
	"fmt"

	"github.com/nous-group/groupkeys/errs"
	"github.com/nous-group/groupkeys/internal/groupstate"
	"github.com/nous-group/groupkeys/wire"
)

// Config is a participant's view of the group's info blob.
type Config struct {
	store *groupstate.Store
	name  string
}

// New returns an empty Config backed by keys.
func New(keys groupstate.KeyProvider) *Config {
	return &Config{store: groupstate.New(keys)}
}

// GetName returns the group's current name.
func (c *Config) GetName() string {
	return c.name
}

// SetName sets the group's name locally and marks the config dirty.
func (c *Config) SetName(name string) {
	c.name = name
	c.store.Set(encodeInfo(name))
}

// NeedsPush reports whether there is a local edit not yet pushed.
func (c *Config) NeedsPush() bool {
	return c.store.NeedsPush()
}

// Rewrap discards any outstanding pending push, marking the current
// value dirty so it is re-encrypted under the new active key.
func (c *Config) Rewrap() {
	c.store.Rewrap()
}

// Push encrypts the current value under the active group key.
func (c *Config) Push() (seq uint64, blob []byte, obsoleted [][8]byte, err error) {
	return c.store.Push()
}

// ConfirmPushed acknowledges that the blob from Push was durably stored.
func (c *Config) ConfirmPushed(seq uint64, hash [8]byte) {
	c.store.ConfirmPushed(seq, hash)
}

// Merge applies incoming (hash, blob) pairs, decrypting each with
// whatever group key its generation requires.
func (c *Config) Merge(entries []groupstate.Entry) (int, error) {
	n, err := c.store.Merge(entries)
	if err != nil {
		return n, err
	}
	c.syncFromStore()
	return n, nil
}

// Retry re-attempts entries that a prior Merge couldn't decrypt yet.
func (c *Config) Retry() (int, error) {
	n, err := c.store.Retry()
	if err != nil {
		return n, err
	}
	c.syncFromStore()
	return n, nil
}

func (c *Config) syncFromStore() {
	payload, ok := c.store.Payload()
	if !ok {
		return
	}
	name, err := decodeInfo(payload)
	if err != nil {
		return
	}
	c.name = name
}

func encodeInfo(name string) []byte {
	w := wire.NewWriteStream()
	w.WriteLP([]byte(name))
	return w.Data()
}

func decodeInfo(payload []byte) (string, error) {
	r := wire.NewReadStream(payload)
	name, err := r.ReadLP()
	if err != nil {
		return "", fmt.Errorf("groupkeys/info: decode: %w", errs.ErrParse)
	}
	return string(name), nil
}
