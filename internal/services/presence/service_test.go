package presence_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"beacon/internal/domain"
	"beacon/internal/relay"
	"beacon/internal/services/presence"
	"beacon/internal/store"
)

const relayURL = "http://relay.test"

type fakeRelay struct {
	seen    []domain.PingRequest
	replies []func(domain.PingRequest) (domain.PingResponse, error)
}

func (f *fakeRelay) Ping(_ context.Context, req domain.PingRequest) (domain.PingResponse, error) {
	f.seen = append(f.seen, req)
	next := f.replies[0]
	f.replies = f.replies[1:]
	return next(req)
}

func issued(token string) func(domain.PingRequest) (domain.PingResponse, error) {
	return func(domain.PingRequest) (domain.PingResponse, error) {
		return domain.PingResponse{OK: true, RelayToken: token, TokenExpires: 2_000_000_000}, nil
	}
}

func TestBeat_RegistersThenUsesToken(t *testing.T) {
	sessions := store.NewRelaySessionFileStore(t.TempDir())
	fake := &fakeRelay{replies: []func(domain.PingRequest) (domain.PingResponse, error){
		issued("relay_one"),
		func(domain.PingRequest) (domain.PingResponse, error) {
			return domain.PingResponse{OK: true, BeatCount: 2}, nil
		},
	}}
	svc := presence.New(sessions, fake, relayURL, "bcn_aaaaaaaaaaaa")

	_, err := svc.Beat(context.Background(), domain.PingRequest{Name: "scout"})
	require.NoError(t, err)
	require.True(t, fake.seen[0].Register)
	require.Empty(t, fake.seen[0].RelayToken)

	resp, err := svc.Beat(context.Background(), domain.PingRequest{Status: "busy"})
	require.NoError(t, err)
	require.Equal(t, int64(2), resp.BeatCount)
	require.Equal(t, "relay_one", fake.seen[1].RelayToken)
	require.False(t, fake.seen[1].Register)
}

func TestBeat_ReRegistersWhenTokenRefused(t *testing.T) {
	sessions := store.NewRelaySessionFileStore(t.TempDir())
	require.NoError(t, sessions.SaveSession(domain.RelaySession{
		RelayURL: relayURL, AgentID: "bcn_aaaaaaaaaaaa", RelayToken: "relay_old",
	}))
	fake := &fakeRelay{replies: []func(domain.PingRequest) (domain.PingResponse, error){
		func(domain.PingRequest) (domain.PingResponse, error) {
			return domain.PingResponse{}, &relay.StatusError{Status: http.StatusForbidden, Message: "relay_token expired"}
		},
		issued("relay_new"),
	}}
	svc := presence.New(sessions, fake, relayURL, "bcn_aaaaaaaaaaaa")

	_, err := svc.Beat(context.Background(), domain.PingRequest{})
	require.NoError(t, err)
	require.Len(t, fake.seen, 2)
	require.True(t, fake.seen[1].Register)
	require.Empty(t, fake.seen[1].RelayToken)

	sess, ok, err := sessions.LoadSession(relayURL)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "relay_new", sess.RelayToken)
}

func TestBeat_SkipsExpiredOrForeignToken(t *testing.T) {
	sessions := store.NewRelaySessionFileStore(t.TempDir())
	now := time.Unix(1_700_000_000, 0)
	require.NoError(t, sessions.SaveSession(domain.RelaySession{
		RelayURL: relayURL, AgentID: "bcn_aaaaaaaaaaaa", RelayToken: "relay_old", TokenExpires: float64(now.Unix() - 1),
	}))
	fake := &fakeRelay{replies: []func(domain.PingRequest) (domain.PingResponse, error){issued("relay_new")}}
	svc := presence.New(sessions, fake, relayURL, "bcn_aaaaaaaaaaaa", presence.WithClock(func() time.Time { return now }))

	_, err := svc.Beat(context.Background(), domain.PingRequest{})
	require.NoError(t, err)
	require.Empty(t, fake.seen[0].RelayToken)
	require.True(t, fake.seen[0].Register)
}

func TestBeat_PropagatesOtherErrors(t *testing.T) {
	sessions := store.NewRelaySessionFileStore(t.TempDir())
	fake := &fakeRelay{replies: []func(domain.PingRequest) (domain.PingResponse, error){
		func(domain.PingRequest) (domain.PingResponse, error) {
			return domain.PingResponse{}, &relay.StatusError{Status: http.StatusConflict, Message: "nonce replay detected"}
		},
	}}
	_, err := presence.New(sessions, fake, relayURL, "bcn_aaaaaaaaaaaa").Beat(context.Background(), domain.PingRequest{})
	require.ErrorContains(t, err, "nonce replay detected")
	require.Len(t, fake.seen, 1)
}
