package memory

import (
	"context"

	"github.com/campusride/livelocation/internal/cache"
	"github.com/campusride/livelocation/pkg/streaming"
)

// Backend keeps snapshots in a LocationCache. Nothing survives a restart.
type Backend struct {
	cache *cache.LocationCache
}

// New creates a memory backend over c, or a fresh cache when c is nil.
func New(c *cache.LocationCache) *Backend {
	if c == nil {
		c = cache.NewLocationCache()
	}
	return &Backend{cache: c}
}

func (b *Backend) Init() error {
	return nil
}

func (b *Backend) Close() error {
	return nil
}

func (b *Backend) Record(loc streaming.LocationMessage) error {
	b.cache.Put(loc)
	return nil
}

func (b *Backend) Latest(_ context.Context, busID string) (streaming.LocationMessage, bool, error) {
	e, ok := b.cache.Get(busID)
	return e.Location, ok, nil
}

func (b *Backend) All(context.Context) ([]streaming.LocationMessage, error) {
	entries := b.cache.All()
	out := make([]streaming.LocationMessage, len(entries))
	for i, e := range entries {
		out[i] = e.Location
	}
	return out, nil
}
