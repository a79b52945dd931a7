// Package identity derives deterministic identifiers from source URLs.
// The same cleaned URL always yields the same canonical id and hash, across
// processes and time, which is what makes cross-service idempotency work
// without a coordinating lock.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// namespace for UUIDv5 derivation. Fixed forever: changing it would change
// every canonical id in the system.
var namespace = uuid.MustParse("5c1a2f24-9b3e-5d44-8fd0-6c64be1aa001")

// volatileParams are query parameters stripped before hashing because they
// vary per request without changing the resource identity.
var volatileParams = map[string]struct{}{
	"lang":      {},
	"locale":    {},
	"api_key":   {},
	"apikey":    {},
	"region":    {},
	"timestamp": {},
}

// Identity is the deterministic identity of a source URL.
type Identity struct {
	CanonicalID string
	URLHash     string
	CleanedURL  string
}

// Generator computes identities. Pure and stateless.
type Generator struct{}

// New returns an identity Generator.
func New() *Generator {
	return &Generator{}
}

// Identity cleans the URL, hashes the cleaned form, and derives the
// canonical identifier from it.
func (g *Generator) Identity(rawURL string) (Identity, error) {
	cleaned, err := CleanURL(rawURL)
	if err != nil {
		return Identity{}, err
	}
	sum := sha256.Sum256([]byte(cleaned))
	hash := hex.EncodeToString(sum[:])
	return Identity{
		CanonicalID: uuid.NewSHA1(namespace, []byte(cleaned)).String(),
		URLHash:     hash,
		CleanedURL:  cleaned,
	}, nil
}

// CleanURL standardizes a source URL: lowercases scheme and host, removes
// default ports and fragments, drops volatile query parameters, and sorts
// the remainder.
func CleanURL(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", errors.New("url is empty")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", errors.Wrap(err, "parse url")
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	q := u.Query()
	for param := range q {
		if _, volatile := volatileParams[strings.ToLower(param)]; volatile {
			q.Del(param)
		}
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
