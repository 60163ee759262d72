package identity

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"
)

const (
	defaultJWKSTTL = 5 * time.Minute
	// unknown kids trigger a refetch at most this often
	minJWKSRefresh = 30 * time.Second
)

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

// keyCache holds the RSA keys published at a JWKS endpoint.
type keyCache struct {
	url    string
	ttl    time.Duration
	client *http.Client
	now    func() time.Time

	fetchMu   sync.Mutex
	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func newKeyCache(url string, ttl time.Duration, client *http.Client) *keyCache {
	if ttl <= 0 {
		ttl = defaultJWKSTTL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &keyCache{
		url:    url,
		ttl:    ttl,
		client: client,
		now:    time.Now,
		keys:   map[string]*rsa.PublicKey{},
	}
}

// key returns the public key for kid, refreshing the set when it is stale
// or does not contain kid.
func (c *keyCache) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	k, ok := c.keys[kid]
	age := c.now().Sub(c.fetchedAt)
	c.mu.RUnlock()

	if ok && age < c.ttl {
		return k, nil
	}

	if err := c.refresh(ctx, ok); err != nil {
		if ok {
			// endpoint down: keep serving the key we already have
			return k, nil
		}
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	k, ok = c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("kid %q not in key set", kid)
	}
	return k, nil
}

func (c *keyCache) refresh(ctx context.Context, known bool) error {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	// another caller may have refreshed while we waited
	c.mu.RLock()
	age := c.now().Sub(c.fetchedAt)
	c.mu.RUnlock()
	if known && age < c.ttl {
		return nil
	}
	if !known && !c.fetchedAt.IsZero() && age < minJWKSRefresh {
		return nil
	}

	keys, err := c.fetch(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = c.now()
	c.mu.Unlock()
	return nil
}

func (c *keyCache) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build jwks request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", c.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}

	var set jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := parseRSAPublicKey(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	return keys, nil
}

func parseRSAPublicKey(k jwk) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	e := new(big.Int).SetBytes(eb)
	if !e.IsInt64() || e.Int64() < 3 || e.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("exponent out of range")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(e.Int64())}, nil
}
