package trust_test

import (
	"encoding/hex"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"beacon/internal/codec"
	"beacon/internal/crypto"
	"beacon/internal/domain"
	"beacon/internal/services/trust"
	"beacon/internal/store"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newService(t *testing.T) (*trust.Service, *clock, string) {
	t.Helper()
	dir := t.TempDir()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	return trust.New(store.NewKnownKeyFileStore(dir, nil), trust.WithClock(c.now)), c, dir
}

func newIdentity(t *testing.T) (domain.Identity, string) {
	t.Helper()
	id, err := crypto.NewIdentity()
	require.NoError(t, err)
	return id, hex.EncodeToString(id.Public.Slice())
}

func TestTrust_PinsAndRefuses(t *testing.T) {
	svc, c, _ := newService(t)
	a, aHex := newIdentity(t)
	_, bHex := newIdentity(t)

	ok, err := svc.Trust(a.AgentID, aHex, false)
	require.NoError(t, err)
	require.True(t, ok)

	c.advance(time.Minute)
	ok, err = svc.Trust(a.AgentID, aHex, false)
	require.NoError(t, err)
	require.True(t, ok)
	rec, found, err := svc.Get(a.AgentID)
	require.NoError(t, err)
	require.True(t, found)
	require.Greater(t, rec.LastSeen, rec.FirstSeen)

	ok, err = svc.Trust(a.AgentID, bHex, false)
	require.NoError(t, err)
	require.False(t, ok)
	rec, _, _ = svc.Get(a.AgentID)
	require.Equal(t, aHex, rec.PubkeyHex)

	ok, err = svc.Trust(a.AgentID, bHex, true)
	require.NoError(t, err)
	require.True(t, ok)
	rec, _, _ = svc.Get(a.AgentID)
	require.Equal(t, bHex, rec.PubkeyHex)
	require.Equal(t, 1, rec.RotationCount)
	require.Equal(t, []string{aHex}, rec.PreviousKeys)
}

func TestTrust_RejectsMalformedKey(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.Trust("bcn_aaaaaaaaaaaa", "nothex", false)
	require.ErrorIs(t, err, domain.ErrMalformed)
}

func TestRotate_RequiresOldKeySignature(t *testing.T) {
	svc, _, _ := newService(t)
	old, oldHex := newIdentity(t)
	next, nextHex := newIdentity(t)

	ok, err := svc.Rotate(old.AgentID, nextHex, crypto.SignEd25519(old.Private, next.Public.Slice()))
	require.NoError(t, err)
	require.False(t, ok, "unknown agent cannot rotate")

	_, err = svc.Trust(old.AgentID, oldHex, false)
	require.NoError(t, err)

	ok, err = svc.Rotate(old.AgentID, nextHex, crypto.SignEd25519(next.Private, next.Public.Slice()))
	require.NoError(t, err)
	require.False(t, ok, "proof by the new key is not accepted")

	ok, err = svc.Rotate(old.AgentID, nextHex, []byte("short"))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = svc.Rotate(old.AgentID, nextHex, crypto.SignEd25519(old.Private, next.Public.Slice()))
	require.NoError(t, err)
	require.True(t, ok)

	rec, _, err := svc.Get(old.AgentID)
	require.NoError(t, err)
	require.Equal(t, nextHex, rec.PubkeyHex)
	require.Equal(t, []string{oldHex}, rec.PreviousKeys)
	require.Equal(t, 1, rec.RotationCount)
}

func TestRevoke(t *testing.T) {
	svc, _, _ := newService(t)
	a, aHex := newIdentity(t)

	ok, err := svc.Revoke(a.AgentID)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = svc.Trust(a.AgentID, aHex, false)
	require.NoError(t, err)
	ok, err = svc.Revoke(a.AgentID)
	require.NoError(t, err)
	require.True(t, ok)

	_, found, err := svc.Get(a.AgentID)
	require.NoError(t, err)
	require.False(t, found)
}

func TestList_HidesExpiredUnlessAsked(t *testing.T) {
	svc, c, _ := newService(t)
	a, aHex := newIdentity(t)
	b, bHex := newIdentity(t)

	_, err := svc.Trust(a.AgentID, aHex, false)
	require.NoError(t, err)
	c.advance(31 * 24 * time.Hour)
	_, err = svc.Trust(b.AgentID, bHex, false)
	require.NoError(t, err)

	live, err := svc.List(false)
	require.NoError(t, err)
	require.Len(t, live, 1)
	require.Contains(t, live, b.AgentID)

	all, err := svc.List(true)
	require.NoError(t, err)
	require.Len(t, all, 2)

	trusted, err := svc.TrustedKeys()
	require.NoError(t, err)
	require.Equal(t, map[domain.AgentID]string{b.AgentID: bHex}, trusted)
}

func TestIsExpired(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	rec := domain.KnownKeyRecord{FirstSeen: 1_000_000 - 100, TTLSeconds: 60}
	require.True(t, trust.IsExpired(rec, now))
	rec.LastSeen = 1_000_000 - 30
	require.False(t, trust.IsExpired(rec, now))
}

func decodeOne(t *testing.T, wire string) domain.Envelope {
	t.Helper()
	envs := codec.DecodeEnvelopes(wire)
	require.Len(t, envs, 1)
	return envs[0]
}

func TestLearn_PinsOnlyVerifiedSelfCertifyingKeys(t *testing.T) {
	svc, _, _ := newService(t)
	a, aHex := newIdentity(t)
	b, _ := newIdentity(t)

	wire, err := codec.Encode(map[string]any{"kind": "hello"}, a, true)
	require.NoError(t, err)
	good := decodeOne(t, wire)

	tampered := decodeOne(t, wire)
	tampered.Fields["text"] = "injected"

	noPub, err := codec.Encode(map[string]any{"kind": "hello"}, b, false)
	require.NoError(t, err)

	n, err := svc.Learn(tampered, decodeOne(t, noPub))
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = svc.Learn(good)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rec, found, err := svc.Get(a.AgentID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, aHex, rec.PubkeyHex)
}

func TestLearn_DifferentKeyNeedsRotationProof(t *testing.T) {
	svc, _, _ := newService(t)
	pinned, pinnedHex := newIdentity(t)
	agent, agentHex := newIdentity(t)

	// Pin an unrelated key for agent's id, as a manual trust would.
	_, err := svc.Trust(agent.AgentID, pinnedHex, false)
	require.NoError(t, err)

	wire, err := codec.Encode(map[string]any{"kind": "hello"}, agent, true)
	require.NoError(t, err)
	n, err := svc.Learn(decodeOne(t, wire))
	require.NoError(t, err)
	require.Zero(t, n, "sig by the new key is not a rotation proof")

	proof := crypto.SignHex(pinned.Private, agent.Public.Slice())
	wire, err = codec.Encode(map[string]any{"kind": "hello", "rotation_sig": proof}, agent, true)
	require.NoError(t, err)
	n, err = svc.Learn(decodeOne(t, wire))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rec, _, err := svc.Get(agent.AgentID)
	require.NoError(t, err)
	require.Equal(t, agentHex, rec.PubkeyHex)
	require.Equal(t, []string{pinnedHex}, rec.PreviousKeys)
}

func TestTrust_ConcurrentWritersAllPersist(t *testing.T) {
	svc, _, _ := newService(t)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, pub := newIdentity(t)
			_, err := svc.Trust(domain.AgentID(fmt.Sprintf("agent-%02d", i)), pub, false)
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	all, err := svc.List(true)
	require.NoError(t, err)
	require.Len(t, all, n)
}

func TestLearn_ForgedSightingDoesNotRevive(t *testing.T) {
	svc, c, _ := newService(t)
	a, _ := newIdentity(t)

	wire, err := codec.Encode(map[string]any{"kind": "hello"}, a, true)
	require.NoError(t, err)
	n, err := svc.Learn(decodeOne(t, wire))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	c.advance(40 * 24 * time.Hour)
	live, err := svc.List(false)
	require.NoError(t, err)
	require.Empty(t, live)

	forged := decodeOne(t, wire)
	forged.Sig = "00"
	n, err = svc.Learn(forged)
	require.NoError(t, err)
	require.Zero(t, n)

	live, err = svc.List(false)
	require.NoError(t, err)
	require.Empty(t, live)

	// A genuine sighting still refreshes it.
	n, err = svc.Learn(decodeOne(t, wire))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	live, err = svc.List(false)
	require.NoError(t, err)
	require.Len(t, live, 1)
}
