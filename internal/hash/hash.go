// Package hash provides the normalized content hasher used for document
// identity and change detection.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/bytedance/sonic"
)

// Hasher implements feed.Hasher using SHA-256 over a normalized payload.
// Normalization makes the digest stable across whitespace and key-ordering
// differences introduced by re-serialization: JSON payloads are decoded and
// re-encoded with sorted keys before hashing, anything else is hashed after
// a whitespace trim.
type Hasher struct{}

// New returns a normalizing SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash normalizes the payload and returns a hex digest. Pure function, no
// I/O.
func (h *Hasher) Hash(data []byte) (string, error) {
	normalized := Normalize(data)
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:]), nil
}

// Normalize returns the canonical byte form of a payload. sonic's
// std-compatible config sorts object keys on marshal, which gives the
// canonical form for JSON.
func Normalize(data []byte) []byte {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return []byte{}
	}

	var decoded any
	if err := sonic.ConfigStd.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return []byte(trimmed)
	}
	canonical, err := sonic.ConfigStd.Marshal(decoded)
	if err != nil {
		return []byte(trimmed)
	}
	return canonical
}
