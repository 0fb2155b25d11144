package commands

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"beacon/internal/domain"
)

func inboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Read and track inbound envelopes",
	}
	cmd.AddCommand(inboxReadCmd(), inboxCountCmd(), inboxMarkReadCmd(), inboxIngestCmd())
	return cmd
}

func inboxReadCmd() *cobra.Command {
	var (
		f      domain.InboxFilter
		agent  string
		since  time.Duration
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Show inbox entries, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.AgentID = domain.AgentID(agent)
			if since > 0 {
				f.Since = float64(time.Now().Add(-since).Unix())
			}
			entries, err := appCtx.Inbox.Read(f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				for _, e := range entries {
					if err := enc.Encode(e); err != nil {
						return err
					}
				}
				return nil
			}
			for _, e := range entries {
				fmt.Fprintln(out, formatEntry(e))
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.Kind, "kind", "", "only envelopes of this kind")
	fl.StringVar(&agent, "agent", "", "only envelopes from this agent id")
	fl.DurationVar(&since, "since", 0, "only entries received within this long")
	fl.BoolVar(&f.UnreadOnly, "unread", false, "only unread entries")
	fl.IntVar(&f.Limit, "limit", 0, "keep the last N entries")
	fl.BoolVar(&asJSON, "json", false, "print one JSON object per entry")
	return cmd
}

func formatEntry(e domain.InboxEntry) string {
	at := unixTime(e.ReceivedAt).Format(time.RFC3339)
	mark := " "
	if !e.IsRead {
		mark = "*"
	}
	if e.Envelope == nil {
		return fmt.Sprintf("%s %s [raw] %s", mark, at, oneLine(e.Text))
	}
	env := e.Envelope
	return fmt.Sprintf("%s %s [%s] %s %s nonce=%s %s",
		mark, at, env.Kind, env.AgentID, verificationLabel(e.Verification), env.Nonce, oneLine(env.Text))
}

func verificationLabel(v domain.Verification) string {
	switch v {
	case domain.Verified:
		return "verified"
	case domain.VerificationFailed:
		return "BAD-SIGNATURE"
	default:
		return "unverified"
	}
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 120 {
		return s[:117] + "..."
	}
	return s
}

func inboxCountCmd() *cobra.Command {
	var unread bool
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count inbox entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := appCtx.Inbox.Count(unread)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "count unread entries only")
	return cmd
}

func inboxMarkReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark-read <nonce>...",
		Short: "Mark envelopes read by nonce",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, n := range args {
				if err := appCtx.Inbox.MarkRead(n); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

const maxIngestLine = 1 << 20

func inboxIngestCmd() *cobra.Command {
	var (
		platform string
		from     string
		text     bool
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Append inbox records read from stdin",
		Long: "Reads one JSON inbox record per line from stdin, or with --text the whole of\n" +
			"stdin as a single message. Replayed or stale envelopes are dropped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			var recs []domain.InboxRecord
			if text {
				b, err := io.ReadAll(io.LimitReader(in, maxIngestLine))
				if err != nil {
					return err
				}
				recs = append(recs, domain.InboxRecord{Text: string(b)})
			} else {
				sc := bufio.NewScanner(in)
				sc.Buffer(make([]byte, 0, 64<<10), maxIngestLine)
				for line := 1; sc.Scan(); line++ {
					raw := strings.TrimSpace(sc.Text())
					if raw == "" {
						continue
					}
					var rec domain.InboxRecord
					dec := json.NewDecoder(strings.NewReader(raw))
					dec.UseNumber()
					if err := dec.Decode(&rec); err != nil {
						return fmt.Errorf("stdin line %d: %w", line, err)
					}
					recs = append(recs, rec)
				}
				if err := sc.Err(); err != nil {
					return err
				}
			}

			var stored, dropped int
			for _, rec := range recs {
				if rec.Platform == "" {
					rec.Platform = platform
				}
				if rec.From == "" {
					rec.From = from
				}
				_, ok, err := appCtx.Inbox.Ingest(rec)
				if err != nil {
					return err
				}
				if ok {
					stored++
				} else {
					dropped++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %d, dropped %d\n", stored, dropped)
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&platform, "platform", "stdin", "platform recorded for records that lack one")
	fl.StringVar(&from, "from", "", "sender address recorded for records that lack one")
	fl.BoolVar(&text, "text", false, "treat stdin as one plain-text message")
	return cmd
}
