// Package digest implements RFC 2617 MD5 digest authentication for both
// the UAS challenge-issuing side (registrar, INVITE auth) and the UAC
// challenge-response side (registrant, 401/407 retry), per spec §4.5.
//
// The outbound (UAC) retry path builds on github.com/icholy/digest, the
// pack's idiomatic digest-auth library (flowpbx's internal/sip/auth.go,
// sipgo's client.go/dialog_client.go digestAuthApply/digestProxyAuthRequest).
// The inbound (UAS) nonce lifecycle — minting, staleness tracking — needs
// exact control the library doesn't expose a hook for, so that half adds a
// NonceCache on top of the same library's Challenge/Digest types.
package digest

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	idigest "github.com/icholy/digest"
)

// MaxAuthTries bounds the UAC-side challenge-response retry loop (spec §4.5).
const MaxAuthTries = 3

// NewChallenge builds a fresh WWW-Authenticate/Proxy-Authenticate challenge
// for realm, using nonce as minted by a NonceCache. qop is "auth" or "".
func NewChallenge(realm, nonce, opaque, qop string, stale bool) idigest.Challenge {
	return idigest.Challenge{
		Realm:     realm,
		Nonce:     nonce,
		Opaque:    opaque,
		Algorithm: "MD5",
		QOP:       qop,
		Stale:     stale,
	}
}

// ParseCredentials parses an Authorization/Proxy-Authorization header value.
func ParseCredentials(header string) (idigest.Credentials, error) {
	return idigest.ParseCredentials(header)
}

// ParseChallenge parses a WWW-Authenticate/Proxy-Authenticate header value.
func ParseChallenge(header string) (*idigest.Challenge, error) {
	return idigest.ParseChallenge(header)
}

// Verify recomputes the expected digest response server-side and compares it
// against what the client sent, per the spec §4.5 formula.
func Verify(cred idigest.Credentials, chal idigest.Challenge, method, password string) (bool, error) {
	expected, err := idigest.Digest(&chal, idigest.Options{
		Method:   method,
		URI:      cred.URI,
		Username: cred.Username,
		Password: password,
	})
	if err != nil {
		return false, err
	}
	return cred.Response == expected.Response, nil
}

// BuildResponse computes the UAC-side digest answer to chal for method/uri
// using username/password, delegating the RFC 2617 arithmetic to
// icholy/digest — the same call shape as sipgo's digestAuthApply.
func BuildResponse(chal *idigest.Challenge, method, uri, username, password string) (idigest.Credentials, error) {
	return idigest.Digest(chal, idigest.Options{
		Method:   method,
		URI:      uri,
		Username: username,
		Password: password,
	})
}

// NonceCache mints and tracks server-issued nonces per dialogue/peer, so a
// later request carrying a stale nonce can be told "stale=true" instead of
// flatly rejected (spec §4.5 "Server-side" staleness rule), and so expired
// nonces (spec: authentication retry bookkeeping) are rejected with a fresh
// challenge rather than accepted forever.
type NonceCache struct {
	mu      sync.Mutex
	entries map[string]nonceEntry
	ttl     time.Duration
}

type nonceEntry struct {
	nonce     string
	issued    time.Time
}

// NewNonceCache creates a cache whose minted nonces are considered stale
// after ttl (0 disables expiry-based staleness; only replacement makes a
// nonce stale).
func NewNonceCache(ttl time.Duration) *NonceCache {
	return &NonceCache{entries: make(map[string]nonceEntry), ttl: ttl}
}

// Mint generates a fresh nonce for key (typically call-id or peer name) and
// remembers it as the current nonce for future staleness comparisons.
func (c *NonceCache) Mint(key string) string {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	nonce := fmt.Sprintf("%x%x", time.Now().UnixNano(), buf)

	c.mu.Lock()
	c.entries[key] = nonceEntry{nonce: nonce, issued: time.Now()}
	c.mu.Unlock()
	return nonce
}

// IsStale reports whether nonce is not the most recently minted nonce for
// key, or has outlived the cache's ttl.
func (c *NonceCache) IsStale(key, nonce string) bool {
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return true
	}
	if e.nonce != nonce {
		return true
	}
	if c.ttl > 0 && time.Since(e.issued) > c.ttl {
		return true
	}
	return false
}

// Forget removes the cached nonce for key, e.g. once a dialogue is destroyed.
func (c *NonceCache) Forget(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}
