package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// defaultJWKSCacheTTL controls how long fetched signing keys are trusted
// before the next lookup triggers a refresh.
const defaultJWKSCacheTTL = 5 * time.Minute

// JWKSKey is one entry of a JSON Web Key Set. Only RSA signature keys are
// used; anything else in the set is skipped.
type JWKSKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSResponse is the document served by a JWKS endpoint.
type JWKSResponse struct {
	Keys []JWKSKey `json:"keys"`
}

// JWKSCache resolves RSA public keys by key ID, refreshing from the remote
// endpoint when the cached set is stale or does not contain the requested
// kid.
type JWKSCache struct {
	url    string
	ttl    time.Duration
	client *http.Client

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time

	// fetchMu serializes refreshes so a burst of unknown-kid lookups does
	// not become a burst of HTTP calls.
	fetchMu sync.Mutex
}

// NewJWKSCache creates a cache for the given JWKS endpoint.
func NewJWKSCache(jwksURL string, ttl time.Duration) *JWKSCache {
	return &JWKSCache{
		url:    jwksURL,
		ttl:    ttl,
		client: &http.Client{Timeout: 10 * time.Second},
		keys:   make(map[string]*rsa.PublicKey),
	}
}

func (c *JWKSCache) lookup(kid string) (key *rsa.PublicKey, ok bool, fresh bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok = c.keys[kid]
	return key, ok, time.Since(c.fetchedAt) <= c.ttl
}

// GetKey returns the public key for kid. Rotation at the provider is picked
// up by refreshing on unknown kids; if the endpoint is unreachable and a
// stale key exists, the stale key is served.
func (c *JWKSCache) GetKey(kid string) (*rsa.PublicKey, error) {
	key, ok, fresh := c.lookup(kid)
	if ok && fresh {
		return key, nil
	}

	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	// Another caller may have refreshed while we waited for the lock.
	key, ok, fresh = c.lookup(kid)
	if ok && fresh {
		return key, nil
	}

	if err := c.refresh(); err != nil {
		if ok {
			return key, nil
		}
		return nil, err
	}

	key, ok, _ = c.lookup(kid)
	if !ok {
		return nil, fmt.Errorf("jwks has no key %q", kid)
	}
	return key, nil
}

// refresh replaces the cached key set with the endpoint's current one.
func (c *JWKSCache) refresh() error {
	resp, err := c.client.Get(c.url)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var doc JWKSResponse
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := rsaKeyFromJWK(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

// rsaKeyFromJWK builds an rsa.PublicKey from the base64url modulus and
// exponent of a JWK. Exponents over four bytes are rejected rather than
// silently truncated.
func rsaKeyFromJWK(k JWKSKey) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	if len(nb) == 0 {
		return nil, fmt.Errorf("empty modulus")
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	if len(eb) == 0 || len(eb) > 4 {
		return nil, fmt.Errorf("exponent length %d out of range", len(eb))
	}

	e := 0
	for _, b := range eb {
		e = e<<8 | int(b)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
}

// jwksKeyFunc adapts a JWKSCache to the jwt parser. The cache lives as long
// as the returned Keyfunc.
func jwksKeyFunc(jwksURL string) jwt.Keyfunc {
	cache := NewJWKSCache(jwksURL, defaultJWKSCacheTTL)
	return func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token header has no kid")
		}
		return cache.GetKey(kid)
	}
}
