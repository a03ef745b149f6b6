package daraja

import (
	"context"
	"sync"
	"time"
)

// DefaultTokenMargin is subtracted from the stated token lifetime so a
// refresh happens before the upstream token truly expires. Daraja tokens
// live for one hour.
const DefaultTokenMargin = 5 * time.Minute

// Credential is a short-lived bearer token issued by the Daraja OAuth
// endpoint. It is replaced, never mutated, on refresh.
type Credential struct {
	Token    string
	IssuedAt time.Time
	TTL      time.Duration
}

// ValidAt reports whether the credential can still be used at the given
// instant, leaving the safety margin before the real expiry. A margin that
// would consume the whole lifetime is clamped to half of it.
func (c Credential) ValidAt(now time.Time, margin time.Duration) bool {
	if c.Token == "" || c.TTL <= 0 {
		return false
	}
	if margin >= c.TTL {
		margin = c.TTL / 2
	}
	return now.Before(c.IssuedAt.Add(c.TTL - margin))
}

type CredentialFetcher interface {
	FetchCredential(ctx context.Context) (Credential, error)
}

// TokenCache holds the single cached credential. Reads of a still-valid
// credential take only the read lock; at most one refresh is in flight at
// a time, and callers arriving during a refresh wait for its result
// instead of issuing a duplicate upstream call.
type TokenCache struct {
	margin time.Duration

	mu         sync.RWMutex
	credential Credential

	refreshMu sync.Mutex
}

func NewTokenCache(margin time.Duration) *TokenCache {
	if margin <= 0 {
		margin = DefaultTokenMargin
	}
	return &TokenCache{margin: margin}
}

// Get returns the cached credential when it is still inside its validity
// window, otherwise fetches a fresh one. A failed fetch keeps the previous
// slot untouched and propagates the fetcher's error.
func (c *TokenCache) Get(ctx context.Context, fetcher CredentialFetcher) (Credential, error) {
	if cred, ok := c.cached(); ok {
		return cred, nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another caller may have completed the refresh while we waited.
	if cred, ok := c.cached(); ok {
		return cred, nil
	}

	cred, err := fetcher.FetchCredential(ctx)
	if err != nil {
		return Credential{}, err
	}

	c.mu.Lock()
	c.credential = cred
	c.mu.Unlock()

	return cred, nil
}

func (c *TokenCache) cached() (Credential, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.credential.ValidAt(time.Now(), c.margin) {
		return c.credential, true
	}
	return Credential{}, false
}
