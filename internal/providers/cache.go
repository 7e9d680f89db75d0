package providers

import (
	"sync"
	"time"

	"github.com/teamarr/teamarr/internal/sports"
)

// TTL tiers by calendar distance from today. Near days carry live statuses
// and change quickly; far days barely move; past days are final.
const (
	ttlToday = 5 * time.Minute
	ttlNear  = time.Hour // 1-2 days out
	ttlFar   = 6 * time.Hour
	ttlPast  = 24 * time.Hour
)

type cacheEntry struct {
	events    []sports.Event
	provider  string
	fetchedAt time.Time
}

// eventCache holds fetched (league, day) event lists with tiered TTLs.
type eventCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry

	now func() time.Time // test hook
}

func newEventCache() *eventCache {
	return &eventCache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func cacheKey(league string, day time.Time) string {
	return league + "|" + day.Format("2006-01-02")
}

// ttlFor returns how long a day's events stay fresh, by calendar distance
// between the day and now.
func ttlFor(day, now time.Time) time.Duration {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	d := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	days := int(d.Sub(today).Hours() / 24)
	switch {
	case days < 0:
		return ttlPast
	case days == 0:
		return ttlToday
	case days <= 2:
		return ttlNear
	default:
		return ttlFar
	}
}

func (c *eventCache) get(league string, day time.Time) ([]sports.Event, bool) {
	c.mu.RLock()
	e, ok := c.entries[cacheKey(league, day)]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	now := c.now()
	if now.Sub(e.fetchedAt) > ttlFor(day, now) {
		return nil, false
	}
	return e.events, true
}

func (c *eventCache) put(league string, day time.Time, provider string, events []sports.Event) {
	c.mu.Lock()
	c.entries[cacheKey(league, day)] = cacheEntry{
		events:    events,
		provider:  provider,
		fetchedAt: c.now(),
	}
	c.mu.Unlock()
}

func (c *eventCache) invalidate(league string, day time.Time) {
	c.mu.Lock()
	delete(c.entries, cacheKey(league, day))
	c.mu.Unlock()
}

// size returns the number of cached (league, day) entries, expired included.
func (c *eventCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
