package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"beacon/internal/codec"
)

func encodeCmd() *cobra.Command {
	var (
		kind     string
		text     string
		to       string
		extra    []string
		noPubkey bool
		unsigned bool
	)
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Print a signed envelope",
		Example: "  beacon encode --kind hello --text 'online' -p ...\n" +
			"  beacon encode --kind bounty --field value=25 --field urgency=high -p ...",
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := map[string]any{"kind": kind}
			if text != "" {
				fields["text"] = text
			}
			if to != "" {
				fields["to"] = to
			}
			for _, kv := range extra {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return fmt.Errorf("--field %q: want key=value", kv)
				}
				fields[k] = fieldValue(v)
			}

			var (
				wire string
				err  error
			)
			if unsigned {
				wire, err = codec.EncodeUnsigned(fields)
			} else {
				id, lerr := loadIdentity()
				if lerr != nil {
					return lerr
				}
				wire, err = codec.Encode(fields, id, !noPubkey)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), wire)
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&kind, "kind", "hello", "envelope kind")
	fl.StringVar(&text, "text", "", "message text")
	fl.StringVar(&to, "to", "", "recipient")
	fl.StringArrayVar(&extra, "field", nil, "extra key=value field (numbers and booleans are typed)")
	fl.BoolVar(&noPubkey, "no-pubkey", false, "omit the embedded public key")
	fl.BoolVar(&unsigned, "unsigned", false, "emit a legacy v1 envelope without a signature")
	return cmd
}

// fieldValue types numbers and booleans; everything else stays a string.
func fieldValue(v string) any {
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil && json.Valid([]byte(v)) {
		return json.Number(v)
	}
	return v
}

func decodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode",
		Short: "Parse envelopes from stdin and verify them against pinned keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), maxIngestLine))
			if err != nil {
				return err
			}
			trusted, err := appCtx.Trust.TrustedKeys()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			envs := codec.DecodeEnvelopes(string(b))
			if len(envs) == 0 {
				return fmt.Errorf("no envelopes found")
			}
			enc := json.NewEncoder(out)
			enc.SetEscapeHTML(false)
			for _, env := range envs {
				err := enc.Encode(map[string]any{
					"envelope": env,
					"verified": codec.VerifyEnvelope(env, trusted),
				})
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
}
