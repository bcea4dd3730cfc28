// Package clock provides a server-time-synchronized clock for adapters that
// sign requests with venue timestamps. It is an explicitly constructed
// service injected where needed, created once at application start.
package clock

import (
	"sync"
	"time"
)

// Clock tracks the offset between local and venue server time.
type Clock struct {
	mu     sync.RWMutex
	offset time.Duration
}

func New() *Clock {
	return &Clock{}
}

// Sync records the offset implied by a server-reported time.
func (c *Clock) Sync(serverTime time.Time) {
	c.mu.Lock()
	c.offset = time.Until(serverTime)
	c.mu.Unlock()
}

// SyncMillis records the offset from a server-reported unix millisecond
// timestamp, the form most venue REST APIs use.
func (c *Clock) SyncMillis(ms int64) {
	c.Sync(time.UnixMilli(ms))
}

// Now returns the current time adjusted by the last synced offset.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Now().Add(c.offset)
}

// Offset returns the current local-to-server offset.
func (c *Clock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}
