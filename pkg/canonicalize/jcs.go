// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization so that audit hashes are reproducible across processes.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// JCS returns the RFC 8785 canonical JSON representation of v.
// Struct tags are honoured; keys are sorted and HTML is not escaped.
func JCS(v any) ([]byte, error) {
	raw, ok := v.(json.RawMessage)
	if !ok {
		var err error
		raw, err = json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("jcs: marshal: %w", err)
		}
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform: %w", err)
	}
	return out, nil
}

// CanonicalHash returns the hex SHA-256 of the canonical form of v.
func CanonicalHash(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the hex SHA-256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString returns the hex SHA-256 of s.
func HashString(s string) string {
	return HashBytes([]byte(s))
}
