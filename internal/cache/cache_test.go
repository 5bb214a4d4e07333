package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusride/livelocation/pkg/streaming"
)

func loc(bus string, ts int64) streaming.LocationMessage {
	return streaming.LocationMessage{BusID: bus, Lat: 12.97, Lng: 77.59, Timestamp: ts}
}

func TestLocationCache_PutAndGet(t *testing.T) {
	c := NewLocationCache()

	_, ok := c.Get("bus-1")
	assert.False(t, ok)

	assert.True(t, c.Put(loc("bus-1", 1000)))
	e, ok := c.Get("bus-1")
	require.True(t, ok)
	assert.Equal(t, int64(1000), e.Location.Timestamp)
	assert.False(t, e.UpdatedAt.IsZero())
}

func TestLocationCache_IgnoresOlderSamples(t *testing.T) {
	c := NewLocationCache()
	c.Put(loc("bus-1", 2000))

	assert.False(t, c.Put(loc("bus-1", 1000)))
	assert.True(t, c.Put(loc("bus-1", 2000)), "equal timestamps replace")

	e, _ := c.Get("bus-1")
	assert.Equal(t, int64(2000), e.Location.Timestamp)
}

func TestLocationCache_AllSorted(t *testing.T) {
	c := NewLocationCache()
	c.Put(loc("bus-3", 1))
	c.Put(loc("bus-1", 1))
	c.Put(loc("bus-2", 1))

	all := c.All()
	require.Len(t, all, 3)
	assert.Equal(t, "bus-1", all[0].Location.BusID)
	assert.Equal(t, "bus-3", all[2].Location.BusID)
}

func TestLocationCache_Prune(t *testing.T) {
	c := NewLocationCache()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }
	c.Put(loc("old", 1))

	c.now = func() time.Time { return base.Add(10 * time.Minute) }
	c.Put(loc("fresh", 1))

	assert.Equal(t, 1, c.Prune(5*time.Minute))
	_, ok := c.Get("old")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	c.Reset()
	assert.Equal(t, 0, c.Len())
}

func TestLocationCache_ThreadSafety(t *testing.T) {
	c := NewLocationCache()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(id int) {
			defer wg.Done()
			c.Put(loc(fmt.Sprintf("bus-%d", id%5), int64(id)))
		}(i)
		go func(id int) {
			defer wg.Done()
			_, _ = c.Get(fmt.Sprintf("bus-%d", id%5))
			_ = c.All()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 5, c.Len())
}
