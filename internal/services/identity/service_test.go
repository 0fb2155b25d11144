package identity_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"beacon/internal/crypto"
	"beacon/internal/services/identity"
	"beacon/internal/store"
)

const pass = "Correct-Horse-9"

func TestGenerateIdentity_PersistsAndLoads(t *testing.T) {
	svc := identity.New(store.NewIdentityFileStore(t.TempDir()), nil)

	id, err := svc.GenerateIdentity(pass, false)
	require.NoError(t, err)
	require.Equal(t, crypto.AgentIDFromPubkey(id.Public.Slice()), id.AgentID)

	got, err := svc.LoadIdentity(pass)
	require.NoError(t, err)
	require.Equal(t, id, got)

	_, err = svc.GenerateIdentity(pass, false)
	require.ErrorIs(t, err, identity.ErrIdentityExists)
}

func TestGenerateIdentity_WeakPassphrase(t *testing.T) {
	svc := identity.New(store.NewIdentityFileStore(t.TempDir()), nil)
	for _, p := range []string{"short", "alllowercase123!", "NoDigitsHere!!", "NoSymbols12345"} {
		_, err := svc.GenerateIdentity(p, false)
		require.ErrorIs(t, err, identity.ErrWeakPassphrase, p)
	}
}

func TestImportSeed_Deterministic(t *testing.T) {
	seed := make([]byte, 32)
	seed[0] = 7
	svc := identity.New(store.NewIdentityFileStore(t.TempDir()), nil)

	a, err := svc.ImportSeed(pass, seed, false)
	require.NoError(t, err)
	b, err := crypto.IdentityFromSeed(seed)
	require.NoError(t, err)
	require.Equal(t, b.AgentID, a.AgentID)

	got, err := svc.LoadIdentity(pass)
	require.NoError(t, err)
	require.Equal(t, a, got)
}

func TestGenerateIdentity_OtherPassphraseDoesNotOverwrite(t *testing.T) {
	svc := identity.New(store.NewIdentityFileStore(t.TempDir()), nil)
	const other = "Other-Horse-42!"

	id, err := svc.GenerateIdentity(pass, false)
	require.NoError(t, err)

	_, err = svc.GenerateIdentity(other, false)
	require.ErrorIs(t, err, identity.ErrIdentityExists)
	_, err = svc.ImportSeed(other, make([]byte, 32), false)
	require.ErrorIs(t, err, identity.ErrIdentityExists)

	got, err := svc.LoadIdentity(pass)
	require.NoError(t, err)
	require.Equal(t, id.AgentID, got.AgentID)

	replaced, err := svc.GenerateIdentity(other, true)
	require.NoError(t, err)
	require.NotEqual(t, id.AgentID, replaced.AgentID)
	got, err = svc.LoadIdentity(other)
	require.NoError(t, err)
	require.Equal(t, replaced.AgentID, got.AgentID)
}
