package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a fetched rule set is served before refetching.
const DefaultTTL = 5 * time.Minute

// DefaultKey names the rule document fetched when none is configured.
const DefaultKey = "default"

// Source loads a rule set by key.
type Source interface {
	Name() string
	Fetch(ctx context.Context, key string) (*Set, error)
}

// Provider hands the current rule set to validators.
type Provider interface {
	Get(ctx context.Context) (*Set, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (*Set, error)

// Get calls f.
func (f ProviderFunc) Get(ctx context.Context) (*Set, error) { return f(ctx) }

// FailMode decides what a provider does when its source is unreachable and
// nothing is cached.
type FailMode string

const (
	// FailOpen falls back to the builtin table.
	FailOpen FailMode = "open"
	// FailClosed refuses to validate.
	FailClosed FailMode = "closed"
)

// ParseFailMode maps a settings value onto a FailMode.
func ParseFailMode(s string) (FailMode, error) {
	switch FailMode(s) {
	case "", FailOpen:
		return FailOpen, nil
	case FailClosed:
		return FailClosed, nil
	}
	return "", fmt.Errorf("unknown rules fail mode %q (want open or closed)", s)
}

// UnavailableError is returned under FailClosed when no rule set can be
// obtained.
type UnavailableError struct {
	Source string
	Err    error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("policy configuration unavailable from %s: %v", e.Source, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err carries an UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// CachedProvider wraps a Source with a TTL cache.
type CachedProvider struct {
	source   Source
	key      string
	ttl      time.Duration
	failMode FailMode
	logger   *zap.Logger
	now      func() time.Time
	observe  func(source, result string)

	fetches singleflight.Group

	mu         sync.Mutex
	cached     *Set
	fetchedAt  time.Time
	refreshing bool
	generation uint64 // bumped by Invalidate
}

// ProviderOption configures a CachedProvider.
type ProviderOption func(*CachedProvider)

// WithTTL overrides DefaultTTL. Non-positive values disable caching.
func WithTTL(ttl time.Duration) ProviderOption {
	return func(p *CachedProvider) { p.ttl = ttl }
}

// WithKey selects the rule document to fetch.
func WithKey(key string) ProviderOption {
	return func(p *CachedProvider) {
		if key != "" {
			p.key = key
		}
	}
}

// WithFailMode sets the fallback policy.
func WithFailMode(m FailMode) ProviderOption {
	return func(p *CachedProvider) { p.failMode = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ProviderOption {
	return func(p *CachedProvider) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithObserver is called once per fetch with result "ok", "stale",
// "fallback" or "error".
func WithObserver(fn func(source, result string)) ProviderOption {
	return func(p *CachedProvider) { p.observe = fn }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) ProviderOption {
	return func(p *CachedProvider) { p.now = now }
}

// NewCachedProvider builds a provider over src. It fails open by default.
func NewCachedProvider(src Source, opts ...ProviderOption) *CachedProvider {
	p := &CachedProvider{
		source:   src,
		key:      DefaultKey,
		ttl:      DefaultTTL,
		failMode: FailOpen,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Get returns the cached set while it is fresh and refetches otherwise. The
// fetch runs outside the lock: while it is in flight, callers that already
// have a set are served the cached one, and callers without one share the
// same fetch. On fetch failure a stale set is preferred over the fail-mode
// fallback.
func (p *CachedProvider) Get(ctx context.Context) (*Set, error) {
	p.mu.Lock()
	if p.cached != nil && (p.refreshing || p.freshLocked()) {
		set := p.cached
		p.mu.Unlock()
		return set, nil
	}
	p.refreshing = true
	p.mu.Unlock()

	v, err, _ := p.fetches.Do(p.key, func() (interface{}, error) {
		return p.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Set), nil
}

func (p *CachedProvider) freshLocked() bool {
	return p.ttl > 0 && p.now().Sub(p.fetchedAt) < p.ttl
}

// refresh fetches from the source and updates the cache.
func (p *CachedProvider) refresh(ctx context.Context) (*Set, error) {
	p.mu.Lock()
	gen := p.generation
	p.mu.Unlock()

	set, err := p.source.Fetch(ctx, p.key)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshing = false

	if err == nil {
		if p.cached == nil || p.cached.Version != set.Version {
			p.logger.Info("policy rules loaded",
				zap.String("source", p.source.Name()),
				zap.String("key", p.key),
				zap.String("version", set.Version),
				zap.Int("rules", set.Count()))
		}
		p.cached = set
		// An Invalidate during the fetch means the source changed after it
		// began, so the set is kept but not marked fresh.
		if gen == p.generation {
			p.fetchedAt = p.now()
		}
		p.report("ok")
		return set, nil
	}

	if p.cached != nil {
		p.logger.Warn("rule fetch failed, serving stale rules",
			zap.String("source", p.source.Name()),
			zap.String("version", p.cached.Version),
			zap.Error(err))
		p.report("stale")
		return p.cached, nil
	}

	if p.failMode == FailClosed {
		p.report("error")
		return nil, &UnavailableError{Source: p.source.Name(), Err: err}
	}
	p.logger.Warn("rule fetch failed, falling back to builtin rules",
		zap.String("source", p.source.Name()),
		zap.Error(err))
	p.report("fallback")
	return Default(), nil
}

func (p *CachedProvider) report(result string) {
	if p.observe != nil {
		p.observe(p.source.Name(), result)
	}
}

// Invalidate drops the cached set so the next Get refetches.
func (p *CachedProvider) Invalidate() {
	p.mu.Lock()
	p.fetchedAt = time.Time{}
	p.generation++
	p.mu.Unlock()
}

// SourceName reports the wrapped source's name.
func (p *CachedProvider) SourceName() string { return p.source.Name() }
