// Package sighting reports indicator matches back to the remote platform.
//
// Each matched item is reported at most once per allowed limiter slot. A
// denied item is dropped; there is no retry. Remote failures are logged once
// per batch and never propagate to the match source.
package sighting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/intelsync/internal/domain/model"
	"github.com/okian/intelsync/pkg/logger"
	"github.com/okian/intelsync/pkg/metrics"
)

const defaultCallTimeout = 30 * time.Second

// Reporter sends one sighting.
type Reporter interface {
	AddSighting(ctx context.Context, attributeID string) (*model.Sighting, error)
}

// Limiter decides whether an identity may report now.
type Limiter interface {
	Allow(identity string, now time.Time) bool
}

// Report summarizes the handling of one match batch.
type Report struct {
	Items       int `json:"items"`
	Reported    int `json:"reported"`
	RateLimited int `json:"rate_limited"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
}

// Handler is safe for concurrent use.
type Handler struct {
	reporter    Reporter
	limiter     Limiter
	enabled     bool
	global      *rate.Limiter
	callTimeout time.Duration
	now         func() time.Time
	log         logger.Logger
}

// New creates a Handler. A nil reporter leaves every item unreported.
func New(reporter Reporter, limiter Limiter, opts ...Option) *Handler {
	h := &Handler{
		reporter:    reporter,
		limiter:     limiter,
		enabled:     true,
		callTimeout: defaultCallTimeout,
		now:         time.Now,
		log:         logger.Get().Named("sighting"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Enabled reports whether sightings are sent at all.
func (h *Handler) Enabled() bool { return h.enabled && h.reporter != nil }

// Handle processes one match batch and waits for the sighting calls it started.
func (h *Handler) Handle(ctx context.Context, ev model.MatchEvent) Report {
	start := time.Now()
	rep := Report{Items: len(ev.Items)}
	defer func() {
		metrics.RecordMatchBatch(float64(time.Since(start).Microseconds()) / 1000.0)
		if l, ok := h.limiter.(interface{ Len() int }); ok {
			metrics.UpdateLimiterEntries(l.Len())
		}
	}()

	if !h.Enabled() {
		rep.Skipped = len(ev.Items)
		for range ev.Items {
			metrics.RecordSighting(metrics.OutcomeSkipped)
		}
		h.log.Debug(ctx, "sighting reports disabled",
			logger.String("indicator", ev.Seen.Indicator),
			logger.Int("items", len(ev.Items)),
		)
		return rep
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	now := h.now()

	for _, item := range ev.Items {
		if !item.Meta.Reportable() {
			rep.Skipped++
			metrics.RecordSighting(metrics.OutcomeSkipped)
			continue
		}

		uid := item.Meta.MISPAttributeUID
		if !h.limiter.Allow(uid, now) {
			rep.RateLimited++
			metrics.RecordSighting(metrics.OutcomeRateLimited)
			h.log.Info(ctx, "sighting rate limited",
				logger.String("indicator", item.Indicator),
				logger.String("attribute_uid", uid),
			)
			continue
		}
		if h.global != nil && !h.global.AllowN(now, 1) {
			rep.RateLimited++
			metrics.RecordSighting(metrics.OutcomeRateLimited)
			h.log.Warn(ctx, "global sighting rate exceeded",
				logger.String("indicator", item.Indicator),
				logger.String("attribute_uid", uid),
			)
			continue
		}

		wg.Add(1)
		go func(indicator, uid string) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, h.callTimeout)
			defer cancel()

			_, err := h.reporter.AddSighting(callCtx, uid)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rep.Failed++
				metrics.RecordSighting(metrics.OutcomeFailure)
				errs = append(errs, fmt.Errorf("%s (%s): %w", indicator, uid, err))
				return
			}
			rep.Reported++
			metrics.RecordSighting(metrics.OutcomeReported)
		}(item.Indicator, uid)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		h.log.Error(ctx, "failed to report sightings",
			logger.String("seen", ev.Seen.Indicator),
			logger.Int("failed", rep.Failed),
			logger.Error(err),
		)
	}
	if rep.Reported > 0 {
		h.log.Debug(ctx, "sightings reported",
			logger.String("seen", ev.Seen.Indicator),
			logger.String("where", ev.Seen.Where),
			logger.Int("reported", rep.Reported),
		)
	}
	return rep
}
