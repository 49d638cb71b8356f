package crypto

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ed25519"
)

func unhex(t *testing.T, s string) []byte {
	t.Helper()
	b := make([]byte, len(s)/2)
	for i := 0; i < len(b); i++ {
		hi, ok1 := hexNibble(s[2*i])
		lo, ok2 := hexNibble(s[2*i+1])
		require.True(t, ok1 && ok2)
		b[i] = hi<<4 | lo
	}
	return b
}

// Session ids here are taken directly from the reference implementation's
// test vectors: an Ed25519 keypair derived from a known seed, converted to
// an X25519-based session id.
func TestDeriveSessionIDMatchesReferenceVectors(t *testing.T) {
	cases := []struct {
		seed string
		sid  string
	}{
		{
			"0123456789abcdef0123456789abcdeffedcba9876543210fedcba9876543210",
			"05f1e8b64bbf761edf8f7b47e3a1f369985644cce0a62adb8e21604474bdd49627",
		},
		{
			"00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff",
			"05c5ba413c336f2fe1fb9a2c525f8a86a412a1db128a7841b4e0e217fa9eb7fd5e",
		},
		{
			"000111222333444555666777888999aaabbbcccdddeeefff0123456789abcdef",
			"05ece06dd8e02fb2f7d9497f956a1996e199953c651f4016a2f79a3b3e38d55628",
		},
	}

	for _, c := range cases {
		seed := unhex(t, c.seed)
		priv := ed25519.NewKeyFromSeed(seed)
		pub := priv.Public().(ed25519.PublicKey)

		sid, err := DeriveSessionID(pub)
		require.NoError(t, err)
		require.Equal(t, c.sid, sid.String())

		parsed, err := ParseSessionID(c.sid)
		require.NoError(t, err)
		require.Equal(t, sid, parsed)

		// Upper-case hex parses to the same id.
		parsedUpper, err := ParseSessionID(strings.ToUpper(c.sid))
		require.NoError(t, err)
		require.Equal(t, sid, parsedUpper)
	}
}

func TestEdToX25519RoundTripsDH(t *testing.T) {
	a, err := GenerateSigningKey()
	require.NoError(t, err)
	b, err := GenerateSigningKey()
	require.NoError(t, err)

	aX, err := EdPrivateToX25519(a.Private)
	require.NoError(t, err)
	bX, err := EdPrivateToX25519(b.Private)
	require.NoError(t, err)

	aXPub, err := EdPublicToX25519(a.Public)
	require.NoError(t, err)
	bXPub, err := EdPublicToX25519(b.Public)
	require.NoError(t, err)

	sharedAB, err := X25519(aX, bXPub)
	require.NoError(t, err)
	sharedBA, err := X25519(bX, aXPub)
	require.NoError(t, err)

	require.Equal(t, sharedAB, sharedBA)
}

func TestSignVerify(t *testing.T) {
	key, err := GenerateSigningKey()
	require.NoError(t, err)

	message := []byte("rekey envelope")
	sig := key.Sign(message)
	require.True(t, Verify(key.Public, message, sig))
	require.False(t, Verify(key.Public, []byte("tampered"), sig))
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := make([]byte, KeySize)
	nonce, err := NewNonce()
	require.NoError(t, err)

	plaintext := []byte("hello to all my friends sitting in the tomato sauce")
	aad := []byte("aad")

	ct, err := Seal(key, nonce, plaintext, aad)
	require.NoError(t, err)

	pt, err := Open(key, nonce, ct, aad)
	require.NoError(t, err)
	require.Equal(t, plaintext, pt)

	_, err = Open(key, nonce, ct, []byte("wrong-aad"))
	require.Error(t, err)
}

func TestDeriveWrapKeyDeterministicAndGenerationBound(t *testing.T) {
	sender, err := GenerateSigningKey()
	require.NoError(t, err)
	recipient, err := GenerateSigningKey()
	require.NoError(t, err)

	senderX, err := EdPrivateToX25519(sender.Private)
	require.NoError(t, err)
	recipientSID, err := DeriveSessionID(recipient.Public)
	require.NoError(t, err)

	k1, err := DeriveWrapKey(senderX, recipientSID[1:], 1)
	require.NoError(t, err)
	k1Again, err := DeriveWrapKey(senderX, recipientSID[1:], 1)
	require.NoError(t, err)
	k2, err := DeriveWrapKey(senderX, recipientSID[1:], 2)
	require.NoError(t, err)

	require.Equal(t, k1, k1Again)
	require.False(t, bytes.Equal(k1, k2))
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	msg := []byte(strings.Repeat("hello to all my friends sitting in the tomato sauce", 32))

	compressed, err := Compress(msg)
	require.NoError(t, err)
	require.Less(t, len(compressed), len(msg))

	out, err := Decompress(compressed)
	require.NoError(t, err)
	require.Equal(t, msg, out)
}

func TestRecipientHashAndFingerprintAreDeterministic(t *testing.T) {
	key, err := GenerateSigningKey()
	require.NoError(t, err)
	sid, err := DeriveSessionID(key.Public)
	require.NoError(t, err)

	h1 := RecipientHash(sid)
	h2 := RecipientHash(sid)
	require.Equal(t, h1, h2)

	groupKey := make([]byte, KeySize)
	f1 := Fingerprint(groupKey)
	f2 := Fingerprint(groupKey)
	require.Equal(t, f1, f2)
}
