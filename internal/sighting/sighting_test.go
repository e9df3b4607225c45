package sighting_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/intelsync/internal/domain/model"
	"github.com/okian/intelsync/internal/domain/ratelimit"
	"github.com/okian/intelsync/internal/sighting"
	"github.com/okian/intelsync/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

type fakeReporter struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	delay time.Duration
}

func (f *fakeReporter) AddSighting(ctx context.Context, id string) (*model.Sighting, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	if err := f.fail[id]; err != nil {
		return nil, err
	}
	return &model.Sighting{ID: "s-" + id}, nil
}

func (f *fakeReporter) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == id {
			n++
		}
	}
	return n
}

func item(indicator, uid string, report bool) model.MatchItem {
	return model.MatchItem{
		Indicator: indicator,
		Kind:      model.KindAddr,
		Meta:      model.Metadata{Source: "MISP-1", ReportSightings: report, MISPAttributeUID: uid},
	}
}

func event(items ...model.MatchItem) model.MatchEvent {
	return model.MatchEvent{Seen: model.SeenInfo{Indicator: "1.2.3.4", IndicatorType: model.KindAddr}, Items: items}
}

func TestHandle(t *testing.T) {
	Convey("Given a handler with a limiter of 3 per minute", t, func() {
		reporter := &fakeReporter{fail: map[string]error{}}
		limiter := ratelimit.New(ratelimit.WithMaxHits(3), ratelimit.WithWindow(time.Minute))
		clock := time.Unix(1_700_000_000, 0)
		h := sighting.New(reporter, limiter, sighting.WithClock(func() time.Time { return clock }))
		ctx := context.Background()

		Convey("When a batch mixes reportable and non-reportable items", func() {
			rep := h.Handle(ctx, event(
				item("1.2.3.4", "u1", true),
				item("5.6.7.8", "", true),
				item("9.9.9.9", "u3", false),
			))

			Convey("Then only the reportable item is sent", func() {
				So(rep, ShouldResemble, sighting.Report{Items: 3, Reported: 1, Skipped: 2})
				So(reporter.count("u1"), ShouldEqual, 1)
				So(reporter.count("u3"), ShouldEqual, 0)
			})
		})

		Convey("When the same indicator matches four times in a window", func() {
			var reps []sighting.Report
			for i := 0; i < 4; i++ {
				reps = append(reps, h.Handle(ctx, event(item("1.2.3.4", "u1", true))))
			}

			Convey("Then the fourth is rate limited and no call is made for it", func() {
				So(reps[3].RateLimited, ShouldEqual, 1)
				So(reps[3].Reported, ShouldEqual, 0)
				So(reporter.count("u1"), ShouldEqual, 3)
			})

			Convey("Then a match after the window is reported again", func() {
				clock = clock.Add(61 * time.Second)
				rep := h.Handle(ctx, event(item("1.2.3.4", "u1", true)))
				So(rep.Reported, ShouldEqual, 1)
				So(reporter.count("u1"), ShouldEqual, 4)
			})
		})

		Convey("When one remote call fails", func() {
			reporter.fail["u2"] = errors.New("500")
			rep := h.Handle(ctx, event(item("a", "u1", true), item("b", "u2", true), item("c", "u3", true)))

			Convey("Then the others still succeed and the failure is counted", func() {
				So(rep.Reported, ShouldEqual, 2)
				So(rep.Failed, ShouldEqual, 1)
			})
		})
	})

	Convey("Given reporting is disabled", t, func() {
		reporter := &fakeReporter{}
		h := sighting.New(reporter, ratelimit.New(), sighting.WithEnabled(false))

		rep := h.Handle(context.Background(), event(item("1.2.3.4", "u1", true)))

		Convey("Then nothing is sent", func() {
			So(h.Enabled(), ShouldBeFalse)
			So(rep.Skipped, ShouldEqual, 1)
			So(reporter.count("u1"), ShouldEqual, 0)
		})
	})

	Convey("Given no remote client", t, func() {
		h := sighting.New(nil, ratelimit.New())

		rep := h.Handle(context.Background(), event(item("1.2.3.4", "u1", true)))

		Convey("Then items are skipped", func() {
			So(h.Enabled(), ShouldBeFalse)
			So(rep.Skipped, ShouldEqual, 1)
		})
	})

	Convey("Given a global outbound cap of one call", t, func() {
		reporter := &fakeReporter{}
		clock := time.Unix(1_700_000_000, 0)
		h := sighting.New(reporter, ratelimit.New(),
			sighting.WithGlobalRate(0.001, 1),
			sighting.WithClock(func() time.Time { return clock }),
		)

		rep := h.Handle(context.Background(), event(item("a", "u1", true), item("b", "u2", true)))

		Convey("Then calls beyond the cap are rate limited", func() {
			So(rep.Reported, ShouldEqual, 1)
			So(rep.RateLimited, ShouldEqual, 1)
		})
	})

	Convey("Given a slow remote platform", t, func() {
		reporter := &fakeReporter{delay: time.Second}
		h := sighting.New(reporter, ratelimit.New(), sighting.WithCallTimeout(20*time.Millisecond))

		start := time.Now()
		rep := h.Handle(context.Background(), event(item("a", "u1", true), item("b", "u2", true)))

		Convey("Then calls are bounded by the timeout and run concurrently", func() {
			So(rep.Failed, ShouldEqual, 2)
			So(time.Since(start), ShouldBeLessThan, 500*time.Millisecond)
		})
	})
}
