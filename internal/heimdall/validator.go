package heimdall

import (
	"container/list"
	"crypto/ed25519"
	"sync"
	"time"
)

// RevocationSet tracks revoked token ids. The validator consults it on
// every call, per spec.md §4.4.
type RevocationSet interface {
	IsRevoked(tokenID string) bool
	Revoke(tokenID string) error
}

// InMemoryRevocationSet is a simple in-process RevocationSet, used in tests
// and as the default single-instance implementation; production deployments
// may back this with Postgres per SPEC_FULL.md's persistence row.
type InMemoryRevocationSet struct {
	mu      sync.RWMutex
	revoked map[string]struct{}
}

// NewInMemoryRevocationSet creates an empty set.
func NewInMemoryRevocationSet() *InMemoryRevocationSet {
	return &InMemoryRevocationSet{revoked: make(map[string]struct{})}
}

func (s *InMemoryRevocationSet) IsRevoked(tokenID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.revoked[tokenID]
	return ok
}

func (s *InMemoryRevocationSet) Revoke(tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[tokenID] = struct{}{}
	return nil
}

// validationCache is a small positive/negative LRU cache keyed by the raw
// wire-form token, avoiding re-verifying signatures for repeat validations
// of the same token within its lifetime.
type validationCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

type cacheEntry struct {
	key     string
	payload *TokenPayload
	err     error
}

func newValidationCache(capacity int) *validationCache {
	return &validationCache{capacity: capacity, ll: list.New(), items: make(map[string]*list.Element)}
}

func (c *validationCache) get(key string) (*TokenPayload, error, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, nil, false
	}
	c.ll.MoveToFront(el)
	e := el.Value.(*cacheEntry)
	return e.payload, e.err, true
}

func (c *validationCache) put(key string, payload *TokenPayload, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*cacheEntry).payload = payload
		el.Value.(*cacheEntry).err = err
		return
	}
	el := c.ll.PushFront(&cacheEntry{key: key, payload: payload, err: err})
	c.items[key] = el
	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).key)
		}
	}
}

func (c *validationCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.ll.Remove(el)
		delete(c.items, key)
	}
}

// AuthorityKeys resolves the current (and, during grace, deprecated) public
// key used to verify tokens, mirroring ratatoskr.PublicKeyLookup for the
// authority's own signing key rather than a device key.
type AuthorityKeys func() (current ed25519.PublicKey, deprecated ed25519.PublicKey)

// TokenValidator validates wire-form tokens: signature, expiry, revocation,
// with an LRU cache. Grounded on
// original_source/heimdall/src/token/validator.rs.
type TokenValidator struct {
	keys   AuthorityKeys
	revoke RevocationSet
	cache  *validationCache

	ProactiveRenewalThreshold time.Duration

	now func() time.Time
}

// NewTokenValidator creates a TokenValidator with an LRU cache of the given
// capacity.
func NewTokenValidator(keys AuthorityKeys, revoke RevocationSet, cacheCapacity int, proactiveThreshold time.Duration) *TokenValidator {
	return &TokenValidator{
		keys:                      keys,
		revoke:                    revoke,
		cache:                     newValidationCache(cacheCapacity),
		ProactiveRenewalThreshold: proactiveThreshold,
		now:                       time.Now,
	}
}

// Validate splits, decodes, verifies signature against the authority's
// current (and deprecated) key, checks expiry, and consults the revocation
// set, per spec.md §4.4. Expired tokens invalidate their own cache entry.
func (v *TokenValidator) Validate(wire string) (*TokenPayload, error) {
	if payload, err, ok := v.cache.get(wire); ok {
		if err == nil && v.revoke.IsRevoked(payload.TokenID) {
			v.cache.put(wire, nil, errTokenRevoked)
			return nil, errTokenRevoked
		}
		if err == nil && v.now().Unix() > payload.ExpiresAt {
			v.cache.invalidate(wire)
			return nil, errTokenExpired
		}
		return payload, err
	}

	payload, body, sig, err := decodeToken(wire)
	if err != nil {
		v.cache.put(wire, nil, err)
		return nil, err
	}

	current, deprecated := v.keys()
	if !ed25519.Verify(current, body, sig) && (deprecated == nil || !ed25519.Verify(deprecated, body, sig)) {
		v.cache.put(wire, nil, errTokenSignature)
		return nil, errTokenSignature
	}

	if v.revoke.IsRevoked(payload.TokenID) {
		v.cache.put(wire, nil, errTokenRevoked)
		return nil, errTokenRevoked
	}

	if v.now().Unix() > payload.ExpiresAt {
		v.cache.put(wire, payload, errTokenExpired)
		return nil, errTokenExpired
	}

	v.cache.put(wire, payload, nil)
	return payload, nil
}

// ShouldRenew reports whether payload is within the proactive renewal
// threshold of expiry.
func (v *TokenValidator) ShouldRenew(payload *TokenPayload) bool {
	remaining := time.Unix(payload.ExpiresAt, 0).Sub(v.now())
	return remaining <= v.ProactiveRenewalThreshold
}

// RenewWithRefreshToken validates a refresh-type token (not revoked, not
// expired) and mints a fresh access token via gen. It does not rotate the
// refresh token itself unless the caller also calls Mint for a new one.
func (v *TokenValidator) RenewWithRefreshToken(refreshWire string, gen *TokenGenerator) (string, *TokenPayload, error) {
	payload, err := v.Validate(refreshWire)
	if err != nil {
		return "", nil, err
	}
	if payload.TokenType != TokenRefresh {
		return "", nil, &TokenValidationError{Code: "WrongType", Message: "renewal requires a refresh token"}
	}
	return gen.Mint(payload.DeviceID, payload.UserID, TokenAccess, payload.Permissions)
}
