package commands_test

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"beacon/cmd/beacon/commands"
	"beacon/internal/app"
)

const pass = "Correct-Horse-9"

type cli struct {
	t     *testing.T
	home  string
	relay string
}

func (c cli) run(stdin string, args ...string) (string, error) {
	c.t.Helper()
	cmd := commands.NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	full := append([]string{"--home", c.home, "-p", pass}, args...)
	if c.relay != "" {
		full = append(full, "--relay", c.relay)
	}
	cmd.SetArgs(full)
	err := cmd.Execute()
	return out.String(), err
}

func (c cli) must(stdin string, args ...string) string {
	c.t.Helper()
	out, err := c.run(stdin, args...)
	require.NoError(c.t, err, out)
	return out
}

func TestCLI_EnvelopeInboxAndKeys(t *testing.T) {
	c := cli{t: t, home: t.TempDir()}

	out := c.must("", "init")
	require.Contains(t, out, "Agent ID: bcn_")
	_, err := c.run("", "init")
	require.ErrorContains(t, err, "already exists")
	_, err = c.run("", "init", "--passphrase", "Other-Horse-42!")
	require.ErrorContains(t, err, "already exists")

	wire := c.must("", "encode", "--kind", "hello", "--text", "online", "--field", "value=0.10")
	require.True(t, strings.HasPrefix(wire, "[BEACON v2]"))

	out = c.must(wire, "decode")
	require.Contains(t, out, `"verified":true`, "embedded key derives to the agent id")
	require.Contains(t, out, `"value":0.10`)

	bare := c.must("", "encode", "--kind", "hello", "--no-pubkey")
	out = c.must(bare, "decode")
	require.Contains(t, out, `"verified":null`, "no key pinned yet")

	out = c.must(wire, "inbox", "ingest", "--text")
	require.Contains(t, out, "stored 1, dropped 0")
	out = c.must(wire, "inbox", "ingest", "--text")
	require.Contains(t, out, "stored 0, dropped 1")

	out = c.must("", "inbox", "read")
	require.Contains(t, out, "[hello]")
	require.Contains(t, out, " verified nonce=")

	// Reading pinned the sender's embedded key.
	out = c.must("", "keys", "list")
	require.Contains(t, out, "bcn_")
	require.Contains(t, out, "live")

	out = c.must(bare, "decode")
	require.Contains(t, out, `"verified":true`, "pinned key verifies bare envelopes")

	require.Equal(t, "1\n", c.must("", "inbox", "count", "--unread"))
	entry := c.must("", "inbox", "read", "--json")
	nonce := between(entry, `"nonce":"`, `"`)
	require.NotEmpty(t, nonce)
	c.must("", "inbox", "mark-read", nonce)
	require.Equal(t, "0\n", c.must("", "inbox", "count", "--unread"))
}

func TestCLI_KeysTrustAndRevoke(t *testing.T) {
	c := cli{t: t, home: t.TempDir()}
	const agent = "bcn_0123456789ab"
	pub := strings.Repeat("ab", 32)

	c.must("", "keys", "trust", agent, pub)
	_, err := c.run("", "keys", "trust", agent, strings.Repeat("cd", 32))
	require.ErrorContains(t, err, "--rotate")
	c.must("", "keys", "trust", "--rotate", agent, strings.Repeat("cd", 32))

	c.must("", "keys", "revoke", agent)
	_, err = c.run("", "keys", "revoke", agent)
	require.Error(t, err)
}

func TestCLI_PingRelay(t *testing.T) {
	cfg := app.DefaultRelayConfig()
	cfg.Database = filepath.Join(t.TempDir(), "relay.db")
	srv, err := app.NewRelayServer(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c := cli{t: t, home: t.TempDir(), relay: ts.URL}
	c.must("", "init")

	require.Contains(t, c.must("", "ping", "--name", "scout"), "Registered bcn_")
	require.Contains(t, c.must("", "ping", "--status", "busy"), "Heartbeat 2")

	out := c.must("", "ping", "--list")
	require.Contains(t, out, "busy\tscout\tbeats=2")
}

func TestCLI_RequiresPassphrase(t *testing.T) {
	cmd := commands.NewRootCmd()
	cmd.SetArgs([]string{"--home", t.TempDir(), "id"})
	t.Setenv("BEACON_PASSPHRASE", "")
	require.ErrorContains(t, cmd.Execute(), "passphrase required")
}

func between(s, start, end string) string {
	_, rest, ok := strings.Cut(s, start)
	if !ok {
		return ""
	}
	v, _, _ := strings.Cut(rest, end)
	return v
}
