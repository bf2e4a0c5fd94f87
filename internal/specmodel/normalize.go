package specmodel

import (
	"bytes"
	"encoding/json"

	"github.com/vk/vegaprecompute/internal/verr"
)

// Normalize re-encodes a document canonically: object keys sorted, no
// insignificant whitespace. Equivalent documents normalize to equal bytes.
func Normalize(text []byte) ([]byte, error) {
	var decoded any
	if err := json.Unmarshal(text, &decoded); err != nil {
		return nil, verr.Wrap(verr.KindMalformedDocument, err, "specification is not valid JSON")
	}
	return Encode(decoded)
}

// Encode marshals v without HTML escaping. encoding/json sorts map keys,
// which makes the output deterministic.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// CloneRaw returns a deep copy of the decoded document.
func (s *Spec) CloneRaw() map[string]any {
	return DeepCopy(s.Raw).(map[string]any)
}

// DeepCopy copies a decoded JSON value.
func DeepCopy(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = DeepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = DeepCopy(e)
		}
		return out
	default:
		return v
	}
}
