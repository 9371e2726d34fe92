package ifunny

import (
	"sync"
	"time"
)

const (
	dedupWindowSize = 1000
	dedupWindowTTL  = 5 * time.Minute
)

// dedupEntry tracks a seen message id.
type dedupEntry struct {
	id   string
	seen time.Time
}

// dedupWindow is a sliding-window deduplicator over message ids. The chats
// demultiplexer runs every pushed message id through it so repeated
// deliveries and self-originated echoes (recognized by our own local_id)
// are dropped. It remembers up to dedupWindowSize ids or dedupWindowTTL,
// whichever is reached first.
type dedupWindow struct {
	mu      sync.Mutex
	entries []dedupEntry
}

func newDedupWindow() *dedupWindow {
	return &dedupWindow{
		entries: make([]dedupEntry, 0, dedupWindowSize),
	}
}

// isDuplicate returns true if the id has already been seen. If not a
// duplicate, it records the id. Empty ids are never duplicates.
func (d *dedupWindow) isDuplicate(id string) bool {
	if id == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()

	// Evict expired entries
	cutoff := now.Add(-dedupWindowTTL)
	start := 0
	for start < len(d.entries) && d.entries[start].seen.Before(cutoff) {
		start++
	}
	if start > 0 {
		d.entries = d.entries[start:]
	}

	for _, e := range d.entries {
		if e.id == id {
			return true
		}
	}

	// Evict oldest if at capacity
	if len(d.entries) >= dedupWindowSize {
		d.entries = d.entries[1:]
	}

	d.entries = append(d.entries, dedupEntry{id: id, seen: now})
	return false
}

// remember records an id without checking it, used for outbound local ids.
func (d *dedupWindow) remember(id string) {
	d.isDuplicate(id)
}

// len returns the current number of tracked ids.
func (d *dedupWindow) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
