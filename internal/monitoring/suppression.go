package monitoring

import (
	"sync"
	"time"
)

type suppressionEntry struct {
	alertID   string
	expiresAt time.Time
}

// suppressionCache maps suppression keys to the alert that holds them until
// the window expires. A janitor goroutine purges expired entries.
type suppressionCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]suppressionEntry
	now     func() time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newSuppressionCache(ttl time.Duration, now func() time.Time) *suppressionCache {
	return &suppressionCache{
		ttl:     ttl,
		entries: make(map[string]suppressionEntry),
		now:     now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// get returns the alert holding key, if the entry has not expired
func (c *suppressionCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return "", false
	}
	return entry.alertID, true
}

// set stores key for the window starting at createdAt
func (c *suppressionCache) set(key, alertID string, createdAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = suppressionEntry{alertID: alertID, expiresAt: createdAt.Add(c.ttl)}
}

// release drops key if it is still held by alertID
func (c *suppressionCache) release(key, alertID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[key]; ok && entry.alertID == alertID {
		delete(c.entries, key)
	}
}

func (c *suppressionCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *suppressionCache) purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	purged := 0
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
			purged++
		}
	}
	return purged
}

// startJanitor purges expired entries every interval until close
func (c *suppressionCache) startJanitor(interval time.Duration) {
	if interval <= 0 {
		close(c.done)
		return
	}
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.purge()
			case <-c.stop:
				return
			}
		}
	}()
}

func (c *suppressionCache) close() {
	c.stopOnce.Do(func() {
		close(c.stop)
		<-c.done
	})
}

// keyedLock serializes work per key; entries are dropped when unused
type keyedLock struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedLock() *keyedLock {
	return &keyedLock{locks: make(map[string]*refLock)}
}

// lock acquires the lock for key and returns its release function
func (k *keyedLock) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
