// Package feed keeps a newest-first narration of room activity, seeded
// from the backend's history and extended by live events.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"housekeeping-sync/internal/backend"
	"housekeeping-sync/internal/protocol"
)

// ErrThrottled is returned by LoadOlder when called again too soon.
var ErrThrottled = errors.New("load older throttled")

// History is the backend's feed history endpoint.
type History interface {
	FetchLiveFeed(ctx context.Context, before time.Time, limit int) ([]backend.FeedEvent, error)
}

// Entry is one line of the feed.
type Entry struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	TS      time.Time       `json:"ts"`
}

// Card renders the entry.
func (e Entry) Card() Card { return Describe(e.Type, e.Payload) }

// Options sizes the feed.
type Options struct {
	Capacity       int
	PageSize       int
	LoadOlderEvery time.Duration
}

// Live event types narrated by the feed.
var narrated = map[protocol.EventType]bool{
	protocol.EventRoomUpdate:     true,
	protocol.EventRoomChecked:    true,
	protocol.EventDndUpdate:      true,
	protocol.EventPriorityUpdate: true,
	protocol.EventNoteUpdate:     true,
}

// Projector owns the feed list. Live entries are capped; history pages
// loaded on demand are kept behind them.
type Projector struct {
	history History
	opts    Options
	limiter *rate.Limiter
	now     func() time.Time

	mu      sync.RWMutex
	live    []Entry
	older   []Entry
	seen    map[string]struct{}
	loading bool
	// seeded is set once a history fetch succeeds; epoch advances on
	// Clear and Unseed so a fetch that straddles them is discarded.
	seeded bool
	epoch  uint64
}

// New creates an empty projector.
func New(h History, opts Options) *Projector {
	if opts.Capacity <= 0 {
		opts.Capacity = 200
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.LoadOlderEvery <= 0 {
		opts.LoadOlderEvery = time.Second
	}
	return &Projector{
		history: h,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Every(opts.LoadOlderEvery), 1),
		now:     time.Now,
		seen:    make(map[string]struct{}),
	}
}

// historyID keeps ids stable across pages for entries the backend sends
// without one.
func historyID(ev backend.FeedEvent) string {
	if ev.ID != "" {
		return ev.ID
	}
	key := ev.Type + "|" + ev.TS.UTC().Format(time.RFC3339Nano) + "|" + string(ev.Payload)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

func (p *Projector) fromHistory(ev backend.FeedEvent) Entry {
	ts := ev.TS.Time
	if ts.IsZero() {
		ts = p.now()
	}
	return Entry{ID: historyID(ev), Type: ev.Type, Payload: ev.Payload, TS: ts}
}

// Seed loads the most recent history page. On failure the feed keeps
// what it has and stays unseeded, so the next EnsureSeeded tries again.
func (p *Projector) Seed(ctx context.Context) error {
	p.mu.RLock()
	epoch := p.epoch
	p.mu.RUnlock()

	events, err := p.history.FetchLiveFeed(ctx, time.Time{}, p.opts.PageSize)
	if err != nil {
		log.Printf("feed: failed to fetch initial activity: %v", err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.epoch != epoch {
		return nil
	}
	p.older = p.older[:0]
	p.seen = make(map[string]struct{}, len(p.live)+len(events))
	for _, e := range p.live {
		p.seen[e.ID] = struct{}{}
	}
	p.appendLocked(events)
	p.seeded = true
	return nil
}

// EnsureSeeded seeds the feed unless a previous seed succeeded.
func (p *Projector) EnsureSeeded(ctx context.Context) {
	p.mu.RLock()
	seeded := p.seeded
	p.mu.RUnlock()
	if !seeded {
		_ = p.Seed(ctx)
	}
}

// Unseed makes the next EnsureSeeded fetch history again. Entries stay.
func (p *Projector) Unseed() {
	p.mu.Lock()
	p.seeded = false
	p.epoch++
	p.mu.Unlock()
}

// Clear drops every entry and unseeds the feed.
func (p *Projector) Clear() {
	p.mu.Lock()
	p.live = nil
	p.older = nil
	p.seen = make(map[string]struct{})
	p.seeded = false
	p.epoch++
	p.mu.Unlock()
}

func (p *Projector) appendLocked(events []backend.FeedEvent) int {
	added := 0
	for _, ev := range events {
		e := p.fromHistory(ev)
		if _, dup := p.seen[e.ID]; dup {
			continue
		}
		p.seen[e.ID] = struct{}{}
		p.older = append(p.older, e)
		added++
	}
	return added
}

// Push prepends a live entry, dropping the oldest live one past capacity.
func (p *Projector) Push(eventType string, payload json.RawMessage) Entry {
	e := Entry{ID: uuid.NewString(), Type: eventType, Payload: payload, TS: p.now()}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.live = append([]Entry{e}, p.live...)
	if len(p.live) > p.opts.Capacity {
		for _, dropped := range p.live[p.opts.Capacity:] {
			delete(p.seen, dropped.ID)
		}
		p.live = p.live[:p.opts.Capacity]
	}
	p.seen[e.ID] = struct{}{}
	return e
}

// Handle is a conn subscriber.
func (p *Projector) Handle(msg protocol.Message) {
	if !narrated[msg.Type] {
		return
	}
	p.Push(string(msg.Type), msg.Payload)
}

// Entries returns the feed newest first.
func (p *Projector) Entries() []Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Entry, 0, len(p.live)+len(p.older))
	out = append(out, p.live...)
	return append(out, p.older...)
}

// Oldest returns the timestamp of the last entry, zero when empty.
func (p *Projector) Oldest() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.oldestLocked()
}

func (p *Projector) oldestLocked() time.Time {
	if n := len(p.older); n > 0 {
		return p.older[n-1].TS
	}
	if n := len(p.live); n > 0 {
		return p.live[n-1].TS
	}
	return time.Time{}
}

// LoadOlder fetches the page before the oldest entry held and appends the
// entries not already present. It returns how many were added. Fetch
// failures are logged and add nothing.
func (p *Projector) LoadOlder(ctx context.Context) (int, error) {
	if !p.limiter.Allow() {
		return 0, ErrThrottled
	}

	p.mu.Lock()
	if p.loading {
		p.mu.Unlock()
		return 0, ErrThrottled
	}
	p.loading = true
	before := p.oldestLocked()
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.loading = false
		p.mu.Unlock()
	}()

	events, err := p.history.FetchLiveFeed(ctx, before, p.opts.PageSize)
	if err != nil {
		log.Printf("feed: failed to load older activity before %s: %v", before.Format(time.RFC3339), err)
		return 0, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.appendLocked(events), nil
}
