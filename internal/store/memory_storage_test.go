package store

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStorage(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	storage := NewMemoryStorageWithClock(clock.Now)
	t.Cleanup(func() { storage.Close() })

	runStorageSuite(t, storage, clock.Advance)
}
