package jobs

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// CanonicalJSON renders a decoded JSON value deterministically: object
// keys sorted lexicographically, no insignificant whitespace. Two
// payloads that decode equal encode byte-equal.
func CanonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer

	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}

			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')

			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("canonical json: %w", err)
		}
		buf.Write(b)
		return nil
	}
}

// ExecutionHash is the idempotency key for deterministic processes:
// SHA-512 over canonical inputs, the process version, and the subject.
func ExecutionHash(inputs map[string]any, processVersion, userID string) (string, error) {
	canonical, err := CanonicalJSON(inputs)

	if err != nil {
		return "", err
	}

	h := sha512.New()
	h.Write(canonical)
	h.Write([]byte(processVersion))
	h.Write([]byte(userID))

	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// InputsChecksum is the SHA-256 hex digest stored next to the inputs.
func InputsChecksum(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
