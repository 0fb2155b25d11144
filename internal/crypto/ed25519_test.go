package crypto_test

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"beacon/internal/crypto"
	"beacon/internal/domain"
)

func TestAgentID_DerivesFromPubkey(t *testing.T) {
	id, err := crypto.NewIdentity()
	require.NoError(t, err)

	sum := sha256.Sum256(id.Public.Slice())
	want := "bcn_" + hex.EncodeToString(sum[:])[:12]

	require.Equal(t, domain.AgentID(want), id.AgentID)
	require.Equal(t, id.AgentID, crypto.AgentIDFromPubkey(id.Public.Slice()))
	require.True(t, id.AgentID.IsDerived())

	fromHex, err := crypto.AgentIDFromPubkeyHex(hex.EncodeToString(id.Public.Slice()))
	require.NoError(t, err)
	require.Equal(t, id.AgentID, fromHex)
}

func TestAgentIDFromPubkeyHex_RejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "zz", strings.Repeat("ab", 31), strings.Repeat("ab", 33)} {
		_, err := crypto.AgentIDFromPubkeyHex(in)
		require.ErrorIs(t, err, domain.ErrMalformed, "input %q", in)
	}
}

func TestIdentityFromSeed_IsDeterministic(t *testing.T) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}
	a, err := crypto.IdentityFromSeed(seed)
	require.NoError(t, err)
	b, err := crypto.IdentityFromSeed(seed)
	require.NoError(t, err)
	require.Equal(t, a, b)

	_, err = crypto.IdentityFromSeed(seed[:31])
	require.Error(t, err)
}

func TestVerifyHex_RoundTrip(t *testing.T) {
	id, err := crypto.NewIdentity()
	require.NoError(t, err)
	msg := []byte("hello beacon")

	sig := crypto.SignHex(id.Private, msg)
	pub := hex.EncodeToString(id.Public.Slice())

	require.True(t, crypto.VerifyHex(pub, sig, msg))
	require.False(t, crypto.VerifyHex(pub, sig, []byte("hello beacon!")))
}

func TestVerifyHex_FailsClosed(t *testing.T) {
	id, err := crypto.NewIdentity()
	require.NoError(t, err)
	msg := []byte("m")
	pub := hex.EncodeToString(id.Public.Slice())
	sig := crypto.SignHex(id.Private, msg)

	cases := map[string]struct{ pub, sig string }{
		"bad pub hex":       {"not-hex", sig},
		"short pub":         {pub[:62], sig},
		"bad sig hex":       {pub, "zz"},
		"short sig":         {pub, sig[:126]},
		"zero sig":          {pub, strings.Repeat("0", 128)},
		"empty":             {"", ""},
		"well formed wrong": {strings.Repeat("11", 32), sig},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			require.NotPanics(t, func() {
				require.False(t, crypto.VerifyHex(tc.pub, tc.sig, msg))
			})
		})
	}
}

func TestNewRelayToken_Unique(t *testing.T) {
	a, err := crypto.NewRelayToken()
	require.NoError(t, err)
	b, err := crypto.NewRelayToken()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.True(t, strings.HasPrefix(a, "relay_"))

	n, err := crypto.NewNonce()
	require.NoError(t, err)
	require.Len(t, n, 12)
}
