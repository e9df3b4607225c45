// Package ratelimit implements a per-identity fixed-window counter.
//
// A window opens on the first decision for an identity and lasts for the
// configured duration; up to maxHits decisions inside it are allowed. Denied
// decisions do not count. Bursts across a window boundary are accepted.
package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/okian/intelsync/pkg/logger"
	"github.com/okian/intelsync/pkg/metrics"
)

const (
	defaultMaxHits = 3
	defaultWindow  = time.Hour
)

// Entry is the window state of one identity.
type Entry struct {
	WindowStart time.Time
	Hits        int
}

type item struct {
	identity string
	entry    Entry
}

// Limiter is safe for concurrent use.
type Limiter struct {
	mu         sync.Mutex
	maxHits    int
	window     time.Duration
	maxEntries int
	entries    map[string]*list.Element // identity -> element in lru
	lru        *list.List               // front is most recently used
	log        logger.Logger
}

// New creates a Limiter allowing 3 hits per hour unless configured otherwise.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		maxHits: defaultMaxHits,
		window:  defaultWindow,
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		log:     logger.Get().Named("ratelimit"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow decides whether identity may proceed at now and records the hit if so.
func (l *Limiter) Allow(identity string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	el, ok := l.entries[identity]
	if !ok {
		el = l.lru.PushFront(&item{identity: identity, entry: Entry{WindowStart: now}})
		l.entries[identity] = el
		l.evictLocked()
	} else {
		l.lru.MoveToFront(el)
	}

	it := el.Value.(*item)
	if now.Sub(it.entry.WindowStart) >= l.window {
		it.entry = Entry{WindowStart: now}
	}

	if it.entry.Hits < l.maxHits {
		it.entry.Hits++
		return true
	}
	return false
}

// evictLocked drops least recently used entries above the cap.
func (l *Limiter) evictLocked() {
	if l.maxEntries <= 0 {
		return
	}
	evicted := 0
	for l.lru.Len() > l.maxEntries {
		back := l.lru.Back()
		l.lru.Remove(back)
		delete(l.entries, back.Value.(*item).identity)
		evicted++
	}
	if evicted > 0 {
		metrics.RecordLimiterEvictions(evicted)
	}
}

// Peek returns the entry for identity without touching its recency.
func (l *Limiter) Peek(identity string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	el, ok := l.entries[identity]
	if !ok {
		return Entry{}, false
	}
	return el.Value.(*item).entry, true
}

// Len returns the number of tracked identities.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lru.Len()
}

// Sweep removes entries whose window has expired at now and returns how many were removed.
// An expired entry would be reset on its next decision, so removing it changes no outcome.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for el := l.lru.Back(); el != nil; {
		prev := el.Prev()
		it := el.Value.(*item)
		if now.Sub(it.entry.WindowStart) >= l.window {
			l.lru.Remove(el)
			delete(l.entries, it.identity)
			removed++
		}
		el = prev
	}
	metrics.RecordLimiterEvictions(removed)
	metrics.UpdateLimiterEntries(l.lru.Len())
	return removed
}

// StartSweeper runs Sweep every interval until ctx is done.
func (l *Limiter) StartSweeper(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = l.window
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := l.Sweep(now); n > 0 {
					l.log.Debug(ctx, "swept expired limiter entries",
						logger.Int("removed", n),
						logger.Int("remaining", l.Len()),
					)
				}
			}
		}
	}()
}
