package guard_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"beacon/internal/domain"
	"beacon/internal/guard"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newGuard(now time.Time) *guard.Guard {
	return guard.New(guard.NewMemoryStore(0), guard.WithClock(func() time.Time { return now }))
}

func env(nonce string, ts time.Time) domain.Envelope {
	return domain.Envelope{Kind: "hello", AgentID: "bcn_aaaaaaaaaaaa", Nonce: nonce, TS: ts.Unix(), Sig: "00"}
}

func TestCheck_AdmitsOnceThenReplay(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := newGuard(now)

	ok, reason := g.Check("inbox", env("n1", now))
	require.True(t, ok)
	require.Equal(t, guard.ReasonOK, reason)

	ok, reason = g.Check("inbox", env("n1", now))
	require.False(t, ok)
	require.Equal(t, guard.ReasonReplay, reason)

	// Scopes are independent.
	ok, _ = g.Check("bcn_other", env("n1", now))
	require.True(t, ok)
}

func TestCheck_Freshness(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := newGuard(now)

	cases := []struct {
		name string
		ts   time.Time
		ok   bool
		want guard.Reason
	}{
		{"hour old", now.Add(-time.Hour), false, guard.ReasonStale},
		{"just past max age", now.Add(-301 * time.Second), false, guard.ReasonStale},
		{"at max age", now.Add(-300 * time.Second), true, guard.ReasonOK},
		{"at max skew", now.Add(120 * time.Second), true, guard.ReasonOK},
		{"beyond skew", now.Add(121 * time.Second), false, guard.ReasonFuture},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, reason := g.Check("s", env(string(rune('a'+i)), tc.ts))
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.want, reason)
		})
	}
}

func TestCheck_StaleDoesNotBurnNonce(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := newGuard(now)

	ok, reason := g.Check("s", env("n", now.Add(-time.Hour)))
	require.False(t, ok)
	require.Equal(t, guard.ReasonStale, reason)

	ok, _ = g.Check("s", env("n", now))
	require.True(t, ok)
}

func TestCheck_MissingNonce(t *testing.T) {
	g := newGuard(time.Now())
	ok, reason := g.Check("s", env("", time.Now()))
	require.False(t, ok)
	require.Equal(t, guard.ReasonMissingNonce, reason)
}

func TestCheck_ConcurrentSameNonceAdmitsExactlyOne(t *testing.T) {
	now := time.Now()
	g := newGuard(now)

	const workers = 32
	var admitted atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if ok, _ := g.Check("s", env("race", now)); ok {
				admitted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), admitted.Load())
}

func TestMemoryStore_ExpiredNonceCanBeReserved(t *testing.T) {
	s := guard.NewMemoryStore(0)
	ok, err := s.Reserve("s", "n", time.Now(), 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Reserve("s", "n", time.Now(), 10*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)

	time.Sleep(30 * time.Millisecond)
	ok, err = s.Reserve("s", "n", time.Now(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestWindow_Retention(t *testing.T) {
	require.Equal(t, 420*time.Second, guard.DefaultWindow().Retention())
}
