package ifunny

import (
	"context"
	"encoding/json"
	"sync"

	"golang.org/x/sync/singleflight"
)

// fetchFunc re-fetches an entity's raw payload from the backend.
type fetchFunc func(ctx context.Context) (map[string]json.RawMessage, error)

// payload is the shared field cache behind the chat entities: read fields by
// key with a fallback, mark the cache stale with Refresh, and the next read
// re-fetches before answering. Entities that can't re-fetch (push-only
// values) construct it with a nil fetch and Refresh is a no-op for them.
//
// Concurrent refreshes collapse into one network call via singleflight.
type payload struct {
	mu    sync.RWMutex
	data  map[string]json.RawMessage
	stale bool

	fetch fetchFunc
	group singleflight.Group
}

func newPayload(raw json.RawMessage, fetch fetchFunc) *payload {
	data := make(map[string]json.RawMessage)
	if len(raw) > 0 {
		// A payload that fails to parse stays empty; reads fall back.
		json.Unmarshal(raw, &data)
	}
	return &payload{data: data, fetch: fetch}
}

// Refresh marks the cache stale. The next get re-fetches.
func (p *payload) Refresh() {
	p.mu.Lock()
	p.stale = p.fetch != nil
	p.mu.Unlock()
}

// get returns the raw value for key, re-fetching first when stale.
func (p *payload) get(ctx context.Context, key string) (json.RawMessage, error) {
	p.mu.RLock()
	stale := p.stale
	p.mu.RUnlock()

	if stale {
		_, err, _ := p.group.Do("fetch", func() (any, error) {
			fresh, err := p.fetch(ctx)
			if err != nil {
				return nil, err
			}
			p.replace(fresh)
			return nil, nil
		})
		if err != nil {
			return nil, err
		}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.data[key], nil
}

func (p *payload) getString(ctx context.Context, key, fallback string) (string, error) {
	raw, err := p.get(ctx, key)
	if err != nil {
		return "", err
	}
	if len(raw) == 0 {
		return fallback, nil
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return fallback, nil
	}
	return v, nil
}

func (p *payload) getInt(ctx context.Context, key string, fallback int64) (int64, error) {
	raw, err := p.get(ctx, key)
	if err != nil {
		return 0, err
	}
	if len(raw) == 0 {
		return fallback, nil
	}
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return fallback, nil
	}
	return v, nil
}

// peekString reads a cached field without triggering a refresh. Used where
// a synchronous identity (the channel name) is needed.
func (p *payload) peekString(key string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	raw, ok := p.data[key]
	if !ok {
		return ""
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v
}

// replace swaps in a complete fresh payload and clears staleness.
func (p *payload) replace(data map[string]json.RawMessage) {
	p.mu.Lock()
	p.data = data
	p.stale = false
	p.mu.Unlock()
}
