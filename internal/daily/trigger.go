// Package daily detects the start of a new operating day and forces a
// full resync, as a fallback for a missed server dailyReset event.
package daily

import (
	"context"
	"log"
	"sync"
	"time"
)

// Resetter clears local state and re-requests the snapshot.
type Resetter interface {
	ResetAndResync(ctx context.Context, reason string) error
}

// Trigger polls the clock in a reference timezone.
type Trigger struct {
	reset    Resetter
	loc      *time.Location
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last civilDate
}

type civilDate struct {
	year  int
	month time.Month
	day   int
}

func dateOf(t time.Time, loc *time.Location) civilDate {
	y, m, d := t.In(loc).Date()
	return civilDate{y, m, d}
}

// New creates a trigger seeded with today's date in loc.
func New(reset Resetter, loc *time.Location, interval time.Duration) *Trigger {
	if loc == nil {
		loc = time.UTC
	}
	if interval <= 0 {
		interval = time.Minute
	}
	t := &Trigger{reset: reset, loc: loc, interval: interval, now: time.Now}
	t.last = dateOf(t.now(), loc)
	return t
}

// Check compares today's date with the last one seen and resets on change.
// It reports whether a reset was issued.
func (t *Trigger) Check(ctx context.Context) bool {
	today := dateOf(t.now(), t.loc)

	t.mu.Lock()
	changed := today != t.last
	t.last = today
	t.mu.Unlock()

	if !changed {
		return false
	}
	log.Printf("daily: new day %04d-%02d-%02d, resetting room state", today.year, today.month, today.day)
	if err := t.reset.ResetAndResync(ctx, "clock"); err != nil {
		log.Printf("daily: reset failed: %v", err)
	}
	return true
}

// Mark records today as already reset, so a reset that arrived another
// way is not repeated by the next poll.
func (t *Trigger) Mark() {
	today := dateOf(t.now(), t.loc)
	t.mu.Lock()
	t.last = today
	t.mu.Unlock()
}

// Run polls until ctx is cancelled.
func (t *Trigger) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	log.Printf("daily: watching for day change every %s", t.interval)
	for {
		select {
		case <-ticker.C:
			t.Check(ctx)
		case <-ctx.Done():
			log.Printf("daily: stopping")
			return
		}
	}
}
