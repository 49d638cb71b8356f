// Package members implements the group's authoritative participant list:
// same push/merge shape as info, plus per-member records keyed by
// session id.
package members

import (
	"fmt"

	"github.com/nous-group/groupkeys/crypto"
	"github.com/nous-group/groupkeys/errs"
	"github.com/nous-group/groupkeys/internal/groupstate"
	"github.com/nous-group/groupkeys/wire"
)

// InvitationState tracks where a member is in the invite flow.
type InvitationState byte

const (
	InvitationNone InvitationState = iota
	InvitationInvited
	InvitationAccepted
	InvitationFailed
)

// Record is one participant's entry in the members list.
type Record struct {
	SessionID  crypto.SessionID
	Admin      bool
	Name       string
	Invitation InvitationState
	Promoted   bool
}

// Config is a participant's view of the group's members list.
type Config struct {
	store   *groupstate.Store
	records map[crypto.SessionID]Record
	order   []crypto.SessionID
}

// New returns an empty Config backed by keys.
func New(keys groupstate.KeyProvider) *Config {
	return &Config{
		store:   groupstate.New(keys),
		records: map[crypto.SessionID]Record{},
	}
}

// GetOrConstruct returns the existing record for sid, or a fresh
// non-admin, uninvited record if none exists yet. It does not insert
// the record; call Set to persist it.
func (c *Config) GetOrConstruct(sid crypto.SessionID) Record {
	if r, ok := c.records[sid]; ok {
		return r
	}
	return Record{SessionID: sid}
}

// Set inserts or replaces a member record and marks the config dirty.
func (c *Config) Set(r Record) {
	if _, exists := c.records[r.SessionID]; !exists {
		c.order = append(c.order, r.SessionID)
	}
	c.records[r.SessionID] = r
	c.markDirty()
}

// Erase removes a member record, reporting whether one was present.
func (c *Config) Erase(sid crypto.SessionID) bool {
	if _, ok := c.records[sid]; !ok {
		return false
	}
	delete(c.records, sid)
	for i, s := range c.order {
		if s == sid {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.markDirty()
	return true
}

// Size returns the current member count.
func (c *Config) Size() int {
	return len(c.records)
}

// All returns every record, in insertion order.
func (c *Config) All() []Record {
	out := make([]Record, 0, len(c.order))
	for _, sid := range c.order {
		out = append(out, c.records[sid])
	}
	return out
}

func (c *Config) markDirty() {
	c.store.Set(encodeMembers(c.order, c.records))
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

// Push encrypts the current member list under the active group key.
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
	order, records, err := decodeMembers(payload)
	if err != nil {
		return
	}
	c.order = order
	c.records = records
}

func encodeMembers(order []crypto.SessionID, records map[crypto.SessionID]Record) []byte {
	w := wire.NewWriteStream()
	w.WriteUvarint(uint64(len(order)))
	for _, sid := range order {
		r := records[sid]
		w.WriteBytes(sid[:])
		var flags byte
		if r.Admin {
			flags |= 1 << 0
		}
		if r.Promoted {
			flags |= 1 << 1
		}
		w.WriteByte(flags)
		w.WriteByte(byte(r.Invitation))
		w.WriteLP([]byte(r.Name))
	}
	return w.Data()
}

func decodeMembers(payload []byte) ([]crypto.SessionID, map[crypto.SessionID]Record, error) {
	r := wire.NewReadStream(payload)
	count, err := r.ReadUvarint()
	if err != nil {
		return nil, nil, fmt.Errorf("groupkeys/members: decode: %w", errs.ErrParse)
	}

	order := make([]crypto.SessionID, 0, count)
	records := make(map[crypto.SessionID]Record, count)
	for i := uint64(0); i < count; i++ {
		sidBytes, err := r.ReadBytes(crypto.SessionIDSize)
		if err != nil {
			return nil, nil, fmt.Errorf("groupkeys/members: decode: %w", errs.ErrParse)
		}
		var sid crypto.SessionID
		copy(sid[:], sidBytes)

		flags, err := r.ReadByte()
		if err != nil {
			return nil, nil, fmt.Errorf("groupkeys/members: decode: %w", errs.ErrParse)
		}
		invitationByte, err := r.ReadByte()
		if err != nil {
			return nil, nil, fmt.Errorf("groupkeys/members: decode: %w", errs.ErrParse)
		}
		name, err := r.ReadLP()
		if err != nil {
			return nil, nil, fmt.Errorf("groupkeys/members: decode: %w", errs.ErrParse)
		}

		records[sid] = Record{
			SessionID:  sid,
			Admin:      flags&(1<<0) != 0,
			Promoted:   flags&(1<<1) != 0,
			Invitation: InvitationState(invitationByte),
			Name:       string(name),
		}
		order = append(order, sid)
	}

	return order, records, nil
}
