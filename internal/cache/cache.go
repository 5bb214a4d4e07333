package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/campusride/livelocation/pkg/streaming"
)

// Entry is the latest accepted location for one bus.
type Entry struct {
	Location  streaming.LocationMessage
	UpdatedAt time.Time
}

// LocationCache keeps the latest location per bus so the feed and late
// subscribers can answer without a storage round-trip.
type LocationCache struct {
	m       sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

func NewLocationCache() *LocationCache {
	return &LocationCache{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// Put stores loc unless an entry with a newer capture time is already held.
// It reports whether the entry changed.
func (c *LocationCache) Put(loc streaming.LocationMessage) bool {
	c.m.Lock()
	defer c.m.Unlock()
	if cur, ok := c.entries[loc.BusID]; ok && cur.Location.Timestamp > loc.Timestamp {
		return false
	}
	c.entries[loc.BusID] = Entry{Location: loc, UpdatedAt: c.now()}
	return true
}

func (c *LocationCache) Get(busID string) (Entry, bool) {
	c.m.RLock()
	defer c.m.RUnlock()
	e, ok := c.entries[busID]
	return e, ok
}

// All returns every entry ordered by bus id.
func (c *LocationCache) All() []Entry {
	c.m.RLock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	c.m.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Location.BusID < out[j].Location.BusID })
	return out
}

// Prune drops entries not updated within maxAge and returns how many were removed.
func (c *LocationCache) Prune(maxAge time.Duration) int {
	c.m.Lock()
	defer c.m.Unlock()
	cutoff := c.now().Add(-maxAge)
	n := 0
	for id, e := range c.entries {
		if e.UpdatedAt.Before(cutoff) {
			delete(c.entries, id)
			n++
		}
	}
	return n
}

func (c *LocationCache) Len() int {
	c.m.RLock()
	defer c.m.RUnlock()
	return len(c.entries)
}

func (c *LocationCache) Reset() {
	c.m.Lock()
	defer c.m.Unlock()
	c.entries = make(map[string]Entry)
}
