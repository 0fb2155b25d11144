package codec

import (
	"bytes"
	"encoding/json"
)

// Canonical serializes fields with the given keys left out.
//
// encoding/json already sorts map keys and emits compact output; the
// encoder is only needed to turn HTML escaping off.
func Canonical(fields map[string]any, exclude ...string) ([]byte, error) {
	view := fields
	if len(exclude) > 0 {
		view = make(map[string]any, len(fields))
		for k, v := range fields {
			view[k] = v
		}
		for _, k := range exclude {
			delete(view, k)
		}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(view); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// SigningBytes returns the bytes an envelope signature covers.
func SigningBytes(fields map[string]any) ([]byte, error) {
	return Canonical(fields, fieldSig)
}
