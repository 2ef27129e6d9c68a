package tts

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// catalogCache guards a provider's live voice catalog with single-flight
// fetch semantics: concurrent cache misses collapse into one upstream call,
// and the last good catalog is retained for the process lifetime so a later
// upstream outage degrades to stale data instead of an error. An optional
// fallback list serves providers that ship a static catalog alongside the
// live one; without a fallback, a failed first fetch surfaces its error.
type catalogCache struct {
	group    singleflight.Group
	fallback []Voice

	mu     sync.RWMutex
	voices []Voice
}

// get returns the cached catalog or fetches it. A fetch failure returns the
// cached copy if one exists, then the static fallback, then the error.
func (c *catalogCache) get(ctx context.Context, fetch func(context.Context) ([]Voice, error)) ([]Voice, error) {
	c.mu.RLock()
	cached := c.voices
	c.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	v, err, _ := c.group.Do("voices", func() (any, error) {
		// Re-check under the flight: a concurrent caller may have
		// populated the cache while this one waited.
		c.mu.RLock()
		cached := c.voices
		c.mu.RUnlock()
		if cached != nil {
			return cached, nil
		}

		voices, err := fetch(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.voices = voices
		c.mu.Unlock()
		return voices, nil
	})
	if err != nil {
		if c.fallback != nil {
			return c.fallback, nil
		}
		return nil, err
	}
	return v.([]Voice), nil
}
