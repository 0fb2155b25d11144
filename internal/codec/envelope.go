package codec

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"beacon/internal/crypto"
	"beacon/internal/domain"
)

// Envelope field names.
const (
	fieldKind        = "kind"
	fieldAgentID     = "agent_id"
	fieldPubkey      = "pubkey"
	fieldNonce       = "nonce"
	fieldTS          = "ts"
	fieldVersion     = "v"
	fieldText        = "text"
	fieldTags        = "tags"
	fieldHealth      = "health"
	fieldValue       = "value"
	fieldUrgency     = "urgency"
	fieldTo          = "to"
	fieldFrom        = "from"
	fieldRotationSig = "rotation_sig"
	fieldSig         = "sig"
)

// CurrentVersion is the signed envelope version emitted by Encode.
const CurrentVersion = 2

const closeTag = "[/BEACON]"

var openRe = regexp.MustCompile(`\[BEACON v(\d+)\]`)

// Encode signs fields as a v2 envelope and returns the wire block.
//
// agent_id and v are always overwritten. nonce and ts are filled in when
// absent. A sig already present in fields is discarded.
func Encode(fields map[string]any, id domain.Identity, includePubkey bool) (string, error) {
	out := make(map[string]any, len(fields)+6)
	for k, v := range fields {
		out[k] = v
	}
	delete(out, fieldSig)
	out[fieldAgentID] = id.AgentID.String()
	out[fieldVersion] = CurrentVersion
	if s, _ := out[fieldNonce].(string); s == "" {
		nonce, err := crypto.NewNonce()
		if err != nil {
			return "", fmt.Errorf("nonce: %w", err)
		}
		out[fieldNonce] = nonce
	}
	if _, ok := out[fieldTS]; !ok {
		out[fieldTS] = time.Now().Unix()
	}
	if includePubkey {
		out[fieldPubkey] = hex.EncodeToString(id.Public.Slice())
	}

	msg, err := Canonical(out)
	if err != nil {
		return "", fmt.Errorf("canonical: %w", err)
	}
	out[fieldSig] = crypto.SignHex(id.Private, msg)
	return wrap(CurrentVersion, out)
}

// EncodeUnsigned returns a v1 block. v1 carries no signature and no nonce.
func EncodeUnsigned(fields map[string]any) (string, error) {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	delete(out, fieldSig)
	out[fieldVersion] = 1
	return wrap(1, out)
}

func wrap(version int, fields map[string]any) (string, error) {
	body, err := Canonical(fields)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("[BEACON v%d]\n%s\n[/BEACON]", version, body), nil
}

// DecodeEnvelopes returns every well-formed envelope found in text, in
// order. Blocks with bad JSON, a non-object payload or missing required
// fields are skipped.
func DecodeEnvelopes(text string) []domain.Envelope {
	var envs []domain.Envelope
	for _, b := range blocks(text) {
		version, err := strconv.Atoi(b.version)
		if err != nil {
			continue
		}
		fields, err := decodeObject(b.body)
		if err != nil {
			continue
		}
		env, err := FromFields(fields)
		if err != nil {
			continue
		}
		if env.Version == 0 {
			env.Version = version
		}
		if err := validate(env, version); err != nil {
			continue
		}
		envs = append(envs, env)
	}
	return envs
}

type block struct {
	version string
	body    string
}

// blocks splits text at each closing tag and pairs it with the last opening
// tag before it, so a truncated block cannot swallow the one after it.
func blocks(text string) []block {
	var out []block
	for {
		end := strings.Index(text, closeTag)
		if end < 0 {
			return out
		}
		if opens := openRe.FindAllStringSubmatchIndex(text[:end], -1); len(opens) > 0 {
			o := opens[len(opens)-1]
			out = append(out, block{
				version: text[o[2]:o[3]],
				body:    strings.TrimSpace(text[o[1]:end]),
			})
		}
		text = text[end+len(closeTag):]
	}
}

func decodeObject(s string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, fmt.Errorf("payload: %w", domain.ErrMalformed)
	}
	return fields, nil
}

// DecodeObject parses one JSON object with numbers kept literal, the way
// envelope fields must be held for signature checks.
func DecodeObject(data []byte) (map[string]any, error) {
	return decodeObject(string(bytes.TrimSpace(data)))
}

func validate(env domain.Envelope, version int) error {
	if env.Kind == "" {
		return fmt.Errorf("kind: %w", domain.ErrMalformed)
	}
	if version >= CurrentVersion {
		if env.AgentID == "" || env.Nonce == "" || env.Sig == "" {
			return fmt.Errorf("v%d envelope missing agent_id, nonce or sig: %w", version, domain.ErrMalformed)
		}
	}
	return nil
}

// FromFields builds the typed view of a decoded field map. Fields is kept
// as given; unknown keys stay in it.
func FromFields(fields map[string]any) (domain.Envelope, error) {
	env := domain.Envelope{Fields: fields}
	var err error
	str := func(key string) string {
		v, ok := fields[key]
		if !ok || v == nil {
			return ""
		}
		s, ok := v.(string)
		if !ok && err == nil {
			err = fmt.Errorf("%s: want string: %w", key, domain.ErrMalformed)
		}
		return s
	}

	env.Kind = str(fieldKind)
	env.AgentID = domain.AgentID(str(fieldAgentID))
	env.Pubkey = str(fieldPubkey)
	env.Nonce = str(fieldNonce)
	env.Text = str(fieldText)
	env.Urgency = str(fieldUrgency)
	env.To = str(fieldTo)
	env.From = str(fieldFrom)
	env.RotationSig = str(fieldRotationSig)
	env.Sig = str(fieldSig)
	if err != nil {
		return domain.Envelope{}, err
	}

	if n, ok := number(fields[fieldTS]); ok {
		env.TS = int64(n)
	}
	if n, ok := number(fields[fieldVersion]); ok {
		env.Version = int(n)
	}
	if n, ok := number(fields[fieldValue]); ok {
		env.Value = n
	}
	if tags, ok := fields[fieldTags].([]any); ok {
		for _, t := range tags {
			if s, ok := t.(string); ok {
				env.Tags = append(env.Tags, s)
			}
		}
	}
	if h, ok := fields[fieldHealth].(map[string]any); ok {
		env.Health = h
	}
	return env, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// VerifyEnvelope checks env's signature.
//
// trusted maps agent ids to pinned hex keys. A pinned key always wins. The
// embedded pubkey is used only when no key is pinned and it derives to the
// claimed agent id. With no signature or no usable key the result is
// VerificationUnknown.
func VerifyEnvelope(env domain.Envelope, trusted map[domain.AgentID]string) domain.Verification {
	if env.Sig == "" {
		return domain.VerificationUnknown
	}
	key := trusted[env.AgentID]
	if key == "" && env.Pubkey != "" {
		derived, err := crypto.AgentIDFromPubkeyHex(env.Pubkey)
		if err == nil && derived == env.AgentID {
			key = env.Pubkey
		}
	}
	if key == "" {
		return domain.VerificationUnknown
	}
	msg, err := SigningBytes(env.Fields)
	if err != nil {
		return domain.VerificationFailed
	}
	if crypto.VerifyHex(key, env.Sig, msg) {
		return domain.Verified
	}
	return domain.VerificationFailed
}
