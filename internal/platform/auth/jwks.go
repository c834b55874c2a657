package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"golang.org/x/sync/singleflight"
)

var (
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	// ErrJWKSFetchFailed wraps transport and decoding failures; callers map it to 503, not 401.
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

const (
	defaultJWKSRefreshInterval = 15 * time.Minute
	defaultJWKSFetchTimeout    = 5 * time.Second
	// minJWKSRefetchGap stops a stream of tokens with unknown kids from hammering the issuer.
	minJWKSRefetchGap = 30 * time.Second
)

// JWKSCache holds the signing keys of the service-token issuer. The set is refetched once its
// Cache-Control max-age (or the fallback interval) passes, or when a token names an unknown kid.
// Concurrent refreshes collapse into one request.
type JWKSCache struct {
	url      string
	client   *http.Client
	logger   Logger
	now      func() time.Time
	fallback time.Duration

	group singleflight.Group

	mu        sync.RWMutex
	set       jose.JSONWebKeySet
	validTo   time.Time
	fetchedAt time.Time
}

type JWKSOption func(*JWKSCache)

// NewJWKSCache builds an empty cache; nothing is fetched until the first lookup.
func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	c := &JWKSCache{
		url:      url,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   discardLogger{},
		now:      time.Now,
		fallback: defaultJWKSRefreshInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

func WithJWKSLogger(logger Logger) JWKSOption {
	return func(c *JWKSCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithJWKSRefreshInterval sets the validity used when the issuer sends no max-age.
func WithJWKSRefreshInterval(d time.Duration) JWKSOption {
	return func(c *JWKSCache) {
		if d > 0 {
			c.fallback = d
		}
	}
}

func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

// Key returns the public key published under kid.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	now := c.now()
	stale, recentlyFetched := c.state(now)
	if stale {
		if err := c.refresh(ctx); err != nil {
			return nil, err
		}
	}
	if key, ok := c.lookup(kid); ok {
		return key, nil
	}
	if !stale && !recentlyFetched {
		if err := c.refresh(ctx); err != nil {
			return nil, err
		}
		if key, ok := c.lookup(kid); ok {
			return key, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) state(now time.Time) (stale, recentlyFetched bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stale = len(c.set.Keys) == 0 || !now.Before(c.validTo)
	recentlyFetched = !c.fetchedAt.IsZero() && now.Sub(c.fetchedAt) < minJWKSRefetchGap
	return stale, recentlyFetched
}

func (c *JWKSCache) lookup(kid string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, jwk := range c.set.Key(kid) {
		if jwk.Valid() && jwk.IsPublic() {
			return jwk.Key, true
		}
	}
	return nil, false
}

func (c *JWKSCache) refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("jwks", func() (any, error) {
		return nil, c.fetch(context.WithoutCancel(ctx))
	})
	return err
}

func (c *JWKSCache) fetch(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultJWKSFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d", ErrJWKSFetchFailed, c.url, resp.StatusCode)
	}

	var doc jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrJWKSFetchFailed, err)
	}
	usable := doc.Keys[:0]
	for _, jwk := range doc.Keys {
		if jwk.KeyID != "" && jwk.Valid() {
			usable = append(usable, jwk)
		}
	}
	if len(usable) == 0 {
		return fmt.Errorf("%w: no usable keys", ErrJWKSFetchFailed)
	}

	ttl := maxAge(resp.Header.Get("Cache-Control"))
	if ttl <= 0 {
		ttl = c.fallback
	}
	now := c.now()

	c.mu.Lock()
	c.set = jose.JSONWebKeySet{Keys: usable}
	c.fetchedAt = now
	c.validTo = now.Add(ttl)
	c.mu.Unlock()

	c.logger.Printf("auth: loaded %d jwks keys from %s, valid %s", len(usable), c.url, ttl)
	return nil
}

func maxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		if seconds, err := strconv.Atoi(strings.Trim(value, `" `)); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}
