package keys

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nous-group/groupkeys/crypto"
	"github.com/nous-group/groupkeys/errs"
	"github.com/nous-group/groupkeys/info"
	"github.com/nous-group/groupkeys/internal/groupstate"
	"github.com/nous-group/groupkeys/members"
)

type participant struct {
	engine  *Engine
	info    *info.Config
	members *members.Config
	sid     crypto.SessionID
}

func newParticipant(t *testing.T, personal crypto.SigningKey, groupPublic [crypto.PublicKeySize]byte, groupSecret []byte) *participant {
	t.Helper()
	eng, err := New(personal.Private, groupPublic, groupSecret, nil)
	require.NoError(t, err)
	sid, err := crypto.DeriveSessionID(personal.Public)
	require.NoError(t, err)
	return &participant{
		engine:  eng,
		info:    info.New(eng),
		members: members.New(eng),
		sid:     sid,
	}
}

func mergeOne(t *testing.T, c *info.Config, blob []byte) (int, error) {
	t.Helper()
	return c.Merge([]groupstate.Entry{{Hash: crypto.Fingerprint(blob), Blob: blob}})
}

func mergeOneMembers(t *testing.T, c *members.Config, blob []byte) (int, error) {
	t.Helper()
	return c.Merge([]groupstate.Entry{{Hash: crypto.Fingerprint(blob), Blob: blob}})
}

// TestSixScenarios reproduces, in order, the six concrete acceptance
// scenarios: bootstrapping an admin, admitting members, renaming the
// group, removing members, compression, and supplementing new members
// with a window of historical keys.
func TestSixScenarios(t *testing.T) {
	now := time.Now().Unix()

	groupIdentity, err := crypto.GenerateSigningKey()
	require.NoError(t, err)
	var gpk [crypto.PublicKeySize]byte
	copy(gpk[:], groupIdentity.Public)

	admin1Personal, err := crypto.GenerateSigningKey()
	require.NoError(t, err)
	admin2Personal, err := crypto.GenerateSigningKey()
	require.NoError(t, err)
	member1Personal, err := crypto.GenerateSigningKey()
	require.NoError(t, err)
	member2Personal, err := crypto.GenerateSigningKey()
	require.NoError(t, err)
	member3Personal, err := crypto.GenerateSigningKey()
	require.NoError(t, err)
	member4Personal, err := crypto.GenerateSigningKey()
	require.NoError(t, err)

	admin1 := newParticipant(t, admin1Personal, gpk, groupIdentity.Private)
	admin2 := newParticipant(t, admin2Personal, gpk, groupIdentity.Private)
	member1 := newParticipant(t, member1Personal, gpk, nil)
	member2 := newParticipant(t, member2Personal, gpk, nil)
	member3 := newParticipant(t, member3Personal, gpk, nil)
	member4 := newParticipant(t, member4Personal, gpk, nil)

	// 1. Bootstrap admin.
	admin1.members.Set(members.Record{SessionID: admin1.sid, Admin: true, Name: "Admin1"})
	admin1.info.SetName("")

	k1, err := admin1.engine.Rekey(admin1.info, admin1.members)
	require.NoError(t, err)
	_, infoBlob1, _, err := admin1.info.Push()
	require.NoError(t, err)
	_, membersBlob1, _, err := admin1.members.Push()
	require.NoError(t, err)

	found, err := admin2.engine.LoadKeyMessage(k1, now, admin2.info, admin2.members)
	require.NoError(t, err)
	require.True(t, found)

	infoCount, err := mergeOne(t, admin2.info, infoBlob1)
	require.NoError(t, err)
	require.Equal(t, 1, infoCount)
	membersCount, err := mergeOneMembers(t, admin2.members, membersBlob1)
	require.NoError(t, err)
	require.Equal(t, 1, membersCount)
	require.Equal(t, 1, admin2.members.Size())

	found, err = member1.engine.LoadKeyMessage(k1, now, member1.info, member1.members)
	require.NoError(t, err)
	require.False(t, found)

	_, err = mergeOneMembers(t, member1.members, membersBlob1)
	require.Error(t, err)
	require.ErrorIs(t, err, errs.ErrNoKey)
	require.Equal(t, 0, member1.members.Size())

	// 2. Admit members.
	newMembers := []struct {
		p *participant
		n string
	}{
		{member1, "Member1"},
		{member2, "Member2"},
		{member3, "Member3"},
		{member4, "Member4"},
	}
	for _, m := range newMembers {
		admin1.members.Set(members.Record{SessionID: m.p.sid, Name: m.n, Invitation: members.InvitationAccepted})
	}

	k2, err := admin1.engine.Rekey(admin1.info, admin1.members)
	require.NoError(t, err)
	_, infoBlob2, _, err := admin1.info.Push()
	require.NoError(t, err)
	_, membersBlob2, _, err := admin1.members.Push()
	require.NoError(t, err)
	require.Equal(t, 5, admin1.members.Size())

	others := []*participant{admin2, member1, member2, member3, member4}
	for _, p := range others {
		found, err := p.engine.LoadKeyMessage(k2, now, p.info, p.members)
		require.NoError(t, err)
		require.True(t, found)

		_, err = mergeOne(t, p.info, infoBlob2)
		require.NoError(t, err)
		_, err = mergeOneMembers(t, p.members, membersBlob2)
		require.NoError(t, err)
		require.Equal(t, 5, p.members.Size())
	}

	// 3. Rename group.
	admin1.info.SetName("tomatosauce")
	k3, err := admin1.engine.Rekey(admin1.info, admin1.members)
	require.NoError(t, err)
	_, infoBlob3, _, err := admin1.info.Push()
	require.NoError(t, err)
	_, membersBlob3, _, err := admin1.members.Push()
	require.NoError(t, err)

	for _, p := range others {
		found, err := p.engine.LoadKeyMessage(k3, now, p.info, p.members)
		require.NoError(t, err)
		require.True(t, found)

		_, err = mergeOne(t, p.info, infoBlob3)
		require.NoError(t, err)
		_, err = mergeOneMembers(t, p.members, membersBlob3)
		require.NoError(t, err)
		require.Equal(t, "tomatosauce", p.info.GetName())
	}

	// 4. Remove members.
	require.True(t, admin1.members.Erase(member3.sid))
	require.True(t, admin1.members.Erase(member4.sid))

	k4, err := admin1.engine.Rekey(admin1.info, admin1.members)
	require.NoError(t, err)
	_, infoBlob4, _, err := admin1.info.Push()
	require.NoError(t, err)
	_, membersBlob4, _, err := admin1.members.Push()
	require.NoError(t, err)
	require.Equal(t, 3, admin1.members.Size())

	remaining := []*participant{admin2, member1, member2}
	for _, p := range remaining {
		found, err := p.engine.LoadKeyMessage(k4, now, p.info, p.members)
		require.NoError(t, err)
		require.True(t, found)

		_, err = mergeOne(t, p.info, infoBlob4)
		require.NoError(t, err)
		_, err = mergeOneMembers(t, p.members, membersBlob4)
		require.NoError(t, err)
		require.Equal(t, 3, p.members.Size())
	}

	for _, p := range []*participant{member3, member4} {
		found, err := p.engine.LoadKeyMessage(k4, now, p.info, p.members)
		require.NoError(t, err)
		require.False(t, found)

		count, err := mergeOneMembers(t, p.members, membersBlob4)
		require.NoError(t, err)
		require.Equal(t, 0, count)
		require.Equal(t, 5, p.members.Size())
	}

	// 5. Compression.
	msg := []byte(strings.Repeat("hello to all my friends sitting in the tomato sauce", 32))
	require.Equal(t, 1632, len(msg))

	compressedEnv, err := admin1.engine.EncryptMessage(msg, true)
	require.NoError(t, err)
	uncompressedEnv, err := admin1.engine.EncryptMessage(msg, false)
	require.NoError(t, err)
	require.Less(t, len(compressedEnv), len(msg))
	require.Less(t, len(compressedEnv), len(uncompressedEnv))

	decoded, err := admin1.engine.DecryptMessage(compressedEnv)
	require.NoError(t, err)
	require.Equal(t, msg, decoded)

	// 6. Supplement.
	member3b := newParticipant(t, mustGenerate(t), gpk, nil)
	member4b := newParticipant(t, mustGenerate(t), gpk, nil)

	admin1.members.Set(members.Record{SessionID: member3b.sid, Name: "Member3b", Invitation: members.InvitationInvited})
	admin1.members.Set(members.Record{SessionID: member4b.sid, Name: "Member4b", Invitation: members.InvitationInvited})
	_, membersBlob5, _, err := admin1.members.Push()
	require.NoError(t, err)
	require.Equal(t, 5, admin1.members.Size())

	supplement, err := admin1.engine.KeySupplement([]crypto.SessionID{member1.sid, member3b.sid, member4b.sid, member1.sid})
	require.NoError(t, err)

	require.Equal(t, 3, len(member1.engine.GroupKeys()))
	found, err = member1.engine.LoadKeyMessage(supplement, now, nil, nil)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 4, len(member1.engine.GroupKeys()))

	for _, p := range []*participant{member3b, member4b} {
		found, err := p.engine.LoadKeyMessage(supplement, now, nil, nil)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, 4, len(p.engine.GroupKeys()))

		count, err := mergeOneMembers(t, p.members, membersBlob5)
		require.NoError(t, err)
		require.Equal(t, 1, count)
		require.Equal(t, 5, p.members.Size())

		count, err = mergeOne(t, p.info, infoBlob4)
		require.NoError(t, err)
		require.Equal(t, 1, count)
		require.Equal(t, "tomatosauce", p.info.GetName())
	}
}

// TestPersistRestoresAdminCapability covers the persist-load-persist
// round trip at the engine level, not just the wire codec: an admin's
// engine, reconstructed from its own Persist() output with no
// groupSecret passed to New, must still be able to rekey.
func TestPersistRestoresAdminCapability(t *testing.T) {
	groupIdentity, err := crypto.GenerateSigningKey()
	require.NoError(t, err)
	var gpk [crypto.PublicKeySize]byte
	copy(gpk[:], groupIdentity.Public)

	adminPersonal, err := crypto.GenerateSigningKey()
	require.NoError(t, err)
	admin := newParticipant(t, adminPersonal, gpk, groupIdentity.Private)

	admin.members.Set(members.Record{SessionID: admin.sid, Admin: true, Name: "Admin"})
	_, err = admin.engine.Rekey(admin.info, admin.members)
	require.NoError(t, err)
	require.True(t, admin.engine.IsAdmin())
	require.Equal(t, 1, len(admin.engine.GroupKeys()))

	persisted := admin.engine.Persist()

	restored, err := New(adminPersonal.Private, gpk, nil, persisted)
	require.NoError(t, err)
	require.True(t, restored.IsAdmin())
	require.Equal(t, admin.engine.GroupKeys(), restored.GroupKeys())

	restoredMembers := members.New(restored)
	restoredMembers.Set(members.Record{SessionID: admin.sid, Admin: true, Name: "Admin"})
	restoredInfo := info.New(restored)

	k2, err := restored.Rekey(restoredInfo, restoredMembers)
	require.NoError(t, err)
	require.Equal(t, 2, len(restored.GroupKeys()))

	rePersisted := restored.Persist()
	reRestored, err := New(adminPersonal.Private, gpk, nil, rePersisted)
	require.NoError(t, err)
	require.True(t, reRestored.IsAdmin())
	require.Equal(t, restored.GroupKeys(), reRestored.GroupKeys())
	require.Equal(t, rePersisted, reRestored.Persist())

	found, err := admin.engine.LoadKeyMessage(k2, time.Now().Unix(), admin.info, admin.members)
	require.NoError(t, err)
	require.True(t, found)
}

func mustGenerate(t *testing.T) crypto.SigningKey {
	t.Helper()
	key, err := crypto.GenerateSigningKey()
	require.NoError(t, err)
	return key
}
