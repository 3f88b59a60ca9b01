// Package canon implements canonical JSON serialization: keys sorted
// lexicographically, no insignificant whitespace. Every hash computed
// anywhere in the system (specHash, contentHash, manifestHash, idempotency
// keys) goes through this package, so its output format is load-bearing.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Marshal serializes v as canonical JSON: object keys sorted
// lexicographically, no insignificant whitespace anywhere.
func Marshal(v any) ([]byte, error) {
	// Round-trip through encoding/json first so struct tags, omitempty, and
	// custom MarshalJSON methods are honored; the result is then re-walked
	// as a generic any so key order can be normalized.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal: %w", err)
	}

	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canon: decode for canonicalization: %w", err)
	}

	var buf bytes.Buffer
	if err := write(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MustMarshal panics on error; useful for constants derived from literals.
func MustMarshal(v any) []byte {
	b, err := Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Hash returns the hex-encoded SHA-256 digest of v's canonical JSON form.
func Hash(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the hex-encoded SHA-256 digest of raw bytes.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashString returns the hex-encoded SHA-256 digest of s.
func HashString(s string) string {
	return HashBytes([]byte(s))
}

func write(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case map[string]any:
		return writeObject(buf, v)
	case []any:
		return writeArray(buf, v)
	case string:
		return writeJSONValue(buf, v)
	case json.Number:
		buf.WriteString(v.String())
		return nil
	case json.RawMessage:
		buf.Write(v)
		return nil
	case bool:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case nil:
		buf.WriteString("null")
		return nil
	default:
		return writeJSONValue(buf, v)
	}
}

func writeObject(buf *bytes.Buffer, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONValue(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := write(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeArray(buf *bytes.Buffer, a []any) error {
	buf.WriteByte('[')
	for i, elem := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := write(buf, elem); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

// writeJSONValue serializes a scalar using encoding/json, which already
// produces no insignificant whitespace for scalars (strings are escaped
// correctly, numbers are rendered without surrounding spaces).
func writeJSONValue(buf *bytes.Buffer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("canon: marshal scalar: %w", err)
	}
	buf.Write(b)
	return nil
}
