package relay

import (
	"encoding/hex"
	"encoding/json"
	"net/http"

	"beacon/internal/codec"
	"beacon/internal/crypto"
	"beacon/internal/domain"
)

// Ping is one decoded POST /relay/ping.
type Ping struct {
	domain.PingRequest

	// Fields is the raw body with numbers kept literal. Signatures cover
	// its canonical form, including keys PingRequest does not model.
	Fields map[string]any

	// Bearer is the token from the Authorization header, if any. It takes
	// precedence over relay_token in the body.
	Bearer   string
	OriginIP string
}

// Body keys left out of the signed payload.
var unsignedKeys = []string{"signature", "sig", "relay_token"}

// SigningPayload returns the canonical bytes a ping signature covers.
func SigningPayload(fields map[string]any) ([]byte, error) {
	return codec.Canonical(fields, unsignedKeys...)
}

// ParsePing decodes a request body. pubkey and sig are accepted as aliases
// of pubkey_hex and signature.
func ParsePing(body []byte) (Ping, error) {
	fields, err := codec.DecodeObject(body)
	if err != nil {
		return Ping{}, errInvalidJSON
	}
	p := Ping{Fields: fields}
	r := &p.PingRequest

	var bad string
	str := func(keys ...string) string {
		for _, k := range keys {
			v, ok := fields[k]
			if !ok || v == nil {
				continue
			}
			s, ok := v.(string)
			if !ok {
				if bad == "" {
					bad = k
				}
				continue
			}
			if s != "" {
				return s
			}
		}
		return ""
	}
	r.AgentID = domain.AgentID(str("agent_id"))
	r.PubkeyHex = str("pubkey_hex", "pubkey")
	r.Signature = str("signature", "sig")
	r.Nonce = str("nonce")
	r.RelayToken = str("relay_token")
	r.Name = str("name")
	r.Status = str("status")
	r.Provider = str("provider")

	if v, ok := fields["ts"]; ok && v != nil {
		ts, ok := unixField(v)
		if !ok {
			return Ping{}, reject(http.StatusBadRequest, domain.ErrMalformed, "invalid field: ts")
		}
		r.TS = ts
	}
	if v, ok := fields["register"].(bool); ok {
		r.Register = v
	}
	if m, ok := fields["metadata"].(map[string]any); ok {
		r.Metadata = m
	}
	if bad != "" {
		return Ping{}, reject(http.StatusBadRequest, domain.ErrMalformed, "invalid field: %s", bad)
	}
	return p, nil
}

func unixField(v any) (int64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	if i, err := n.Int64(); err == nil {
		return i, true
	}
	f, err := n.Float64()
	if err != nil {
		return 0, false
	}
	return int64(f), true
}

// SignPing signs req with id and returns the wire body. agent_id and
// pubkey_hex are filled from id.
func SignPing(req domain.PingRequest, id domain.Identity) ([]byte, error) {
	req.AgentID = id.AgentID
	req.Signature = ""
	if req.PubkeyHex == "" {
		req.PubkeyHex = hex.EncodeToString(id.Public.Slice())
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	fields, err := codec.DecodeObject(raw)
	if err != nil {
		return nil, err
	}
	msg, err := SigningPayload(fields)
	if err != nil {
		return nil, err
	}
	fields["signature"] = crypto.SignHex(id.Private, msg)
	return codec.Canonical(fields)
}
