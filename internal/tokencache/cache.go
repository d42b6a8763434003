package tokencache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultSafetyMargin = 60 * time.Second
	DefaultTimeout      = 10 * time.Second

	refreshKey = "token"
)

// Token is a bearer token and the instant after which it must not be reused.
type Token struct {
	Value     string
	Type      string
	ExpiresAt time.Time
}

// Grant is what the token endpoint returned. ExpiresIn takes precedence over
// Expiry; a grant with neither is handed to the caller but never reused.
type Grant struct {
	AccessToken string
	TokenType   string
	ExpiresIn   time.Duration
	Expiry      time.Time
}

// Fetcher performs one token exchange against the provider.
type Fetcher interface {
	Fetch(ctx context.Context) (Grant, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) (Grant, error)

func (f FetcherFunc) Fetch(ctx context.Context) (Grant, error) {
	return f(ctx)
}

// Option configures a Cache.
type Option func(*Cache)

func WithSafetyMargin(d time.Duration) Option {
	return func(c *Cache) {
		if d >= 0 {
			c.margin = d
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Cache holds a single bearer token and refreshes it lazily. Concurrent
// callers that find it stale share one in-flight exchange.
type Cache struct {
	fetcher Fetcher
	margin  time.Duration
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger

	mu      sync.RWMutex
	current *Token

	group singleflight.Group
}

func New(fetcher Fetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher: fetcher,
		margin:  DefaultSafetyMargin,
		timeout: DefaultTimeout,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns a bearer token valid for at least the safety margin, fetching
// a new one when needed. If ctx ends first the caller gets ctx.Err(), but the
// shared exchange keeps running and still fills the cache.
func (c *Cache) Token(ctx context.Context) (string, error) {
	if tok, ok := c.valid(); ok {
		lookups.WithLabelValues("hit").Inc()
		return tok.Value, nil
	}
	lookups.WithLabelValues("miss").Inc()

	ch := c.group.DoChan(refreshKey, func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(Token).Value, nil
	}
}

// Invalidate drops the cached token if it still holds value, so a token the
// provider rejected is not served again. A newer token is left alone.
func (c *Cache) Invalidate(value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && c.current.Value == value {
		c.current = nil
	}
}

func (c *Cache) valid() (Token, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return Token{}, false
	}
	if !c.now().Before(c.current.ExpiresAt.Add(-c.margin)) {
		return Token{}, false
	}
	return *c.current, true
}

func (c *Cache) refresh(ctx context.Context) (Token, error) {
	// A flight that finished just before this one may already have refreshed.
	if tok, ok := c.valid(); ok {
		return tok, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	grant, err := c.fetcher.Fetch(ctx)
	if err != nil {
		exchanges.WithLabelValues("failure").Inc()
		c.logger.Warn("token exchange failed", "error", err)
		return Token{}, err
	}
	exchanges.WithLabelValues("success").Inc()

	now := c.now()
	tok := Token{
		Value:     grant.AccessToken,
		Type:      grant.TokenType,
		ExpiresAt: now,
	}
	switch {
	case grant.ExpiresIn > 0:
		tok.ExpiresAt = now.Add(grant.ExpiresIn)
	case !grant.Expiry.IsZero():
		tok.ExpiresAt = grant.Expiry
	}

	c.mu.Lock()
	c.current = &tok
	c.mu.Unlock()

	c.logger.Debug("token refreshed", "expires_at", tok.ExpiresAt)
	return tok, nil
}
