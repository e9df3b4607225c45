package sighting

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/intelsync/pkg/logger"
)

// Option applies a configuration option to the Handler.
type Option func(*Handler)

// WithEnabled turns sighting reports on or off globally.
func WithEnabled(enabled bool) Option {
	return func(h *Handler) {
		h.enabled = enabled
	}
}

// WithGlobalRate caps outbound sighting calls across all indicators.
// A non-positive rps disables the cap.
func WithGlobalRate(rps float64, burst int) Option {
	return func(h *Handler) {
		if rps <= 0 {
			h.global = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		h.global = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCallTimeout bounds each sighting call.
func WithCallTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.callTimeout = d
		}
	}
}

// WithClock replaces time.Now for limiter decisions.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}
