package ratelimit

import (
	"time"

	"github.com/okian/intelsync/pkg/logger"
)

// Option applies a configuration option to the Limiter.
type Option func(*Limiter)

// WithMaxHits sets how many sightings one identity may report per window.
// Zero denies everything.
func WithMaxHits(n int) Option {
	return func(l *Limiter) {
		if n >= 0 {
			l.maxHits = n
		}
	}
}

// WithWindow sets the fixed window length.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.window = d
		}
	}
}

// WithMaxEntries bounds the number of tracked identities.
// If n > 0: least recently used identities are evicted beyond n.
// If n <= 0: unbounded; only Sweep removes entries.
func WithMaxEntries(n int) Option {
	return func(l *Limiter) {
		l.maxEntries = n
	}
}

// WithLogger sets the logger.
func WithLogger(lg logger.Logger) Option {
	return func(l *Limiter) {
		if lg != nil {
			l.log = lg
		}
	}
}
