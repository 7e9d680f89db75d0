package tsdb

import (
	"context"
	"sync"
	"time"
)

// Free-tier budget: 30 requests per rolling minute. A saturated window parks
// the caller for a full cooldown rather than busy-polling the edge of the
// window.
const (
	windowLimit    = 30
	windowDuration = time.Minute
	cooldown       = 30 * time.Second
)

// RateLimitStats is the cumulative wait accounting surfaced to the service
// API. Preemptive waits come from the sliding window; reactive waits from
// 429 backoff.
type RateLimitStats struct {
	Requests         int64         `json:"requests"`
	WindowSize       int           `json:"window_size"`
	PreemptiveWaits  int64         `json:"preemptive_waits"`
	PreemptiveWaited time.Duration `json:"preemptive_waited"`
	ReactiveWaits    int64         `json:"reactive_waits"`
	ReactiveWaited   time.Duration `json:"reactive_waited"`
	LastWaitAt       time.Time     `json:"last_wait_at,omitzero"`
	LastWaitDuration time.Duration `json:"last_wait_duration"`
}

// TotalWaited returns the sum of preemptive and reactive wait time.
func (s RateLimitStats) TotalWaited() time.Duration {
	return s.PreemptiveWaited + s.ReactiveWaited
}

// slidingWindow tracks request instants over the last minute and blocks
// callers in cooldown-sized sleeps while saturated.
type slidingWindow struct {
	mu    sync.Mutex
	sent  []time.Time
	stats RateLimitStats

	now   func() time.Time                           // test hook
	sleep func(context.Context, time.Duration) error // test hook
}

func newSlidingWindow() *slidingWindow {
	return &slidingWindow{
		now:   time.Now,
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// acquire blocks until the window has room, then records the request.
// The call sleeps, it does not fail, unless ctx is cancelled.
func (w *slidingWindow) acquire(ctx context.Context) error {
	for {
		w.mu.Lock()
		now := w.now()
		w.prune(now)
		if len(w.sent) < windowLimit {
			w.sent = append(w.sent, now)
			w.stats.Requests++
			w.stats.WindowSize = len(w.sent)
			w.mu.Unlock()
			return nil
		}
		w.stats.PreemptiveWaits++
		w.stats.PreemptiveWaited += cooldown
		w.stats.LastWaitAt = now
		w.stats.LastWaitDuration = cooldown
		w.mu.Unlock()
		if err := w.sleep(ctx, cooldown); err != nil {
			return err
		}
	}
}

// addReactiveWait records a 429-driven backoff sleep.
func (w *slidingWindow) addReactiveWait(d time.Duration) {
	w.mu.Lock()
	w.stats.ReactiveWaits++
	w.stats.ReactiveWaited += d
	w.stats.LastWaitAt = w.now()
	w.stats.LastWaitDuration = d
	w.mu.Unlock()
}

// snapshot returns a copy of the stats with the current window occupancy.
func (w *slidingWindow) snapshot() RateLimitStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.now())
	s := w.stats
	s.WindowSize = len(w.sent)
	return s
}

// prune drops request instants older than the window. Caller holds mu.
func (w *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-windowDuration)
	i := 0
	for i < len(w.sent) && !w.sent[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.sent = append(w.sent[:0], w.sent[i:]...)
	}
}
