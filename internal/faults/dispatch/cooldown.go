package dispatch

import (
	"sync"
	"time"
)

// CooldownState tracks the last notification time per (device, fault type).
// Process-local: it rebuilds empty on restart, which at worst allows one
// duplicate notification per key after a restart. Entries are independent
// per key; the mutex guards only map access, never I/O.
type CooldownState struct {
	mu   sync.Mutex
	last map[string]time.Time
}

// NewCooldownState constructs an empty cooldown map.
func NewCooldownState() *CooldownState {
	return &CooldownState{last: make(map[string]time.Time)}
}

// Allow reports whether a notification for the key may be sent at now,
// and records the send time when it may. Check and mark are one atomic
// step so concurrent workers on the same key cannot both pass.
func (c *CooldownState) Allow(key string, now time.Time, window time.Duration) bool {
	if c == nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if sent, ok := c.last[key]; ok && now.Sub(sent) < window {
		return false
	}
	c.last[key] = now
	return true
}

// Release clears the mark for key when it still carries the given send
// time, handing the window back after a failed send. The time match keeps a
// stale release from clobbering a newer mark on the same key.
func (c *CooldownState) Release(key string, marked time.Time) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if sent, ok := c.last[key]; ok && sent.Equal(marked) {
		delete(c.last, key)
	}
}

// Len returns the number of tracked keys.
func (c *CooldownState) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.last)
}
