package scheduler

import (
	"strings"
	"time"

	"github.com/okian/intelsync/pkg/logger"
)

// GenericSearch configures the filtered search unit.
type GenericSearch struct {
	Tags          []string
	Types         []string
	ExcludeEvents []string
	ToIDs         *bool
	// Lookback limits results to attributes changed within this duration. Zero disables it.
	Lookback time.Duration
	// Limit caps the result size. Zero defers to the client default.
	Limit int
}

// Option applies a configuration option to the Scheduler.
type Option func(*Scheduler)

// WithInterval sets the period between cycles.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithFixedEvents sets the event ids fetched individually every cycle.
func WithFixedEvents(ids ...string) Option {
	return func(s *Scheduler) {
		s.fixed = s.fixed[:0]
		for _, id := range ids {
			if id = strings.TrimSpace(id); id != "" {
				s.fixed = append(s.fixed, id)
			}
		}
	}
}

// WithGenericSearch enables the filtered search unit.
func WithGenericSearch(g GenericSearch) Option {
	return func(s *Scheduler) {
		s.generic = &g
	}
}

// WithCallTimeout bounds each fetch unit.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}
