// Package scheduler runs the periodic pull from the remote platform into the
// matching engine.
//
// A single ticker drives the loop and is never re-armed by a cycle, so cycle
// duration does not shift the schedule. Only one cycle runs at a time: a tick
// that finds a cycle in flight is dropped, not queued.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/intelsync/internal/adapters/misp"
	"github.com/okian/intelsync/internal/domain/mapping"
	"github.com/okian/intelsync/internal/domain/model"
	"github.com/okian/intelsync/pkg/logger"
	"github.com/okian/intelsync/pkg/metrics"
)

// Scheduler states.
const (
	Idle int32 = iota
	Running
)

const (
	defaultInterval    = 2 * time.Minute
	defaultCallTimeout = 30 * time.Second
)

// Unit kinds.
const (
	KindFixed  = "fixed"
	KindSearch = "search"
)

// ErrStopped is returned when a cycle is requested after Stop.
var ErrStopped = errors.New("scheduler stopped")

// Searcher fetches attributes from the remote platform.
type Searcher interface {
	Search(ctx context.Context, q misp.Query) ([]model.RemoteAttribute, error)
}

// Inserter hands converted records to the matching engine.
type Inserter interface {
	Insert(ctx context.Context, li model.LocalIndicator) error
}

// UnitReport is the outcome of one fetch unit.
type UnitReport struct {
	Kind         string        `json:"kind"`
	EventID      string        `json:"event_id,omitempty"`
	Fetched      int           `json:"fetched"`
	Mapping      mapping.Stats `json:"mapping"`
	Inserted     int           `json:"inserted"`
	InsertErrors int           `json:"insert_errors"`
	Truncated    bool          `json:"truncated,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
	Err          string        `json:"error,omitempty"`
}

// Failed reports whether the fetch itself failed.
func (u UnitReport) Failed() bool { return u.Err != "" }

// Report summarizes one cycle.
type Report struct {
	CycleID  string        `json:"cycle_id"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration_ns"`
	Outcome  string        `json:"outcome"`
	Units    []UnitReport  `json:"units"`
}

// Inserted sums inserted records over all units.
func (r Report) Inserted() int {
	n := 0
	for _, u := range r.Units {
		n += u.Inserted
	}
	return n
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	client   Searcher
	mapper   *mapping.Mapper
	inserter Inserter

	interval    time.Duration
	callTimeout time.Duration
	fixed       []string
	generic     *GenericSearch
	now         func() time.Time
	log         logger.Logger

	state   atomic.Int32
	last    atomic.Pointer[Report]
	stopped atomic.Bool

	// lifeMu orders wg.Add against Stop.
	lifeMu   sync.Mutex
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Scheduler.
func New(client Searcher, mapper *mapping.Mapper, inserter Inserter, opts ...Option) *Scheduler {
	s := &Scheduler{
		client:      client,
		mapper:      mapper,
		inserter:    inserter,
		interval:    defaultInterval,
		callTimeout: defaultCallTimeout,
		now:         time.Now,
		log:         logger.Get().Named("scheduler"),
		stop:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns Idle or Running.
func (s *Scheduler) State() int32 { return s.state.Load() }

// StateString returns the state name.
func (s *Scheduler) StateString() string {
	if s.State() == Running {
		return "running"
	}
	return "idle"
}

// LastReport returns the report of the last finished cycle.
func (s *Scheduler) LastReport() (Report, bool) {
	r := s.last.Load()
	if r == nil {
		return Report{}, false
	}
	return *r, true
}

// Start runs one cycle immediately and then one per interval until ctx is
// done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.lifeMu.Lock()
	if s.stopped.Load() {
		s.lifeMu.Unlock()
		return
	}
	s.wg.Add(1)
	s.lifeMu.Unlock()

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.Trigger(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.Trigger(ctx)
			}
		}
	}()

	s.log.Info(ctx, "scheduler started",
		logger.Duration("interval", s.interval),
		logger.Strings("fixed_events", s.fixed),
		logger.Bool("generic_search", s.generic != nil),
	)
}

// Trigger starts a cycle in the background unless one is running.
// It returns whether a cycle was started.
func (s *Scheduler) Trigger(ctx context.Context) bool {
	s.lifeMu.Lock()
	if s.stopped.Load() || !s.begin(ctx) {
		s.lifeMu.Unlock()
		return false
	}
	s.wg.Add(1)
	s.lifeMu.Unlock()

	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
	return true
}

// RunCycle runs one cycle synchronously unless one is running.
func (s *Scheduler) RunCycle(ctx context.Context) (Report, bool) {
	if s.stopped.Load() || !s.begin(ctx) {
		return Report{}, false
	}
	return s.run(ctx), true
}

// Stop ends the ticker loop and waits for an in-flight cycle.
func (s *Scheduler) Stop() {
	s.lifeMu.Lock()
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		close(s.stop)
	})
	s.lifeMu.Unlock()
	s.wg.Wait()
}

// begin moves Idle to Running. A request that loses the race is dropped.
func (s *Scheduler) begin(ctx context.Context) bool {
	if s.state.CompareAndSwap(Idle, Running) {
		metrics.SetSyncRunning(true)
		return true
	}
	metrics.RecordSyncCycleDropped()
	s.log.Info(ctx, "sync cycle still running, skipping")
	return false
}

// run executes one cycle. The caller must have won begin.
func (s *Scheduler) run(ctx context.Context) Report {
	defer func() {
		s.state.Store(Idle)
		metrics.SetSyncRunning(false)
	}()

	report := Report{CycleID: uuid.NewString(), Started: s.now()}
	queries := s.units(report.Started)
	if len(queries) == 0 {
		s.log.Warn(ctx, "nothing to sync: no fixed events and generic search disabled")
	}

	report.Units = make([]UnitReport, len(queries))
	var wg sync.WaitGroup
	for i, u := range queries {
		wg.Add(1)
		go func(i int, u unit) {
			defer wg.Done()
			report.Units[i] = s.runUnit(ctx, report.CycleID, u)
		}(i, u)
	}
	wg.Wait()

	failed := 0
	for _, u := range report.Units {
		if u.Failed() {
			failed++
		}
	}
	switch {
	case failed == 0:
		report.Outcome = metrics.OutcomeSuccess
	case failed == len(report.Units):
		report.Outcome = metrics.OutcomeFailure
	default:
		report.Outcome = metrics.OutcomePartial
	}
	report.Duration = max(s.now().Sub(report.Started), 0)

	metrics.RecordSyncCycle(report.Outcome, float64(report.Duration.Milliseconds()))
	fields := []logger.Field{
		logger.String("cycle_id", report.CycleID),
		logger.Int("units", len(report.Units)),
		logger.Int("failed_units", failed),
		logger.Int("inserted", report.Inserted()),
		logger.Duration("took", report.Duration),
	}
	if report.Outcome == metrics.OutcomeFailure {
		s.log.Error(ctx, "sync cycle failed", fields...)
	} else {
		s.log.Info(ctx, "sync cycle done", fields...)
	}

	s.last.Store(&report)
	return report
}

type unit struct {
	kind    string
	eventID string
	query   misp.Query
}

// units builds the fetch units of one cycle.
func (s *Scheduler) units(now time.Time) []unit {
	out := make([]unit, 0, len(s.fixed)+1)
	for _, id := range s.fixed {
		out = append(out, unit{kind: KindFixed, eventID: id, query: misp.Query{EventID: []string{id}}})
	}
	if s.generic == nil {
		return out
	}

	g := s.generic
	q := misp.Query{
		Tags:  g.Tags,
		Types: g.Types,
		ToIDs: g.ToIDs,
		Limit: g.Limit,
	}
	seen := make(map[string]struct{}, len(s.fixed)+len(g.ExcludeEvents))
	for _, id := range append(append([]string{}, s.fixed...), g.ExcludeEvents...) {
		id = strings.TrimPrefix(strings.TrimSpace(id), "!")
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		q.EventID = append(q.EventID, "!"+id)
	}
	if g.Lookback > 0 {
		q.From = now.Add(-g.Lookback).Unix()
	}
	return append(out, unit{kind: KindSearch, query: q})
}

// runUnit fetches, converts and inserts one unit. Failures stay inside the report.
func (s *Scheduler) runUnit(ctx context.Context, cycleID string, u unit) UnitReport {
	start := time.Now()
	rep := UnitReport{Kind: u.kind, EventID: u.eventID}
	fields := []logger.Field{
		logger.String("cycle_id", cycleID),
		logger.String("unit", u.kind),
		logger.String("event_id", u.eventID),
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	attrs, err := s.client.Search(callCtx, u.query)
	cancel()
	requestTook := time.Since(start)
	if err != nil {
		rep.Err = err.Error()
		rep.Duration = time.Since(start)
		metrics.RecordSyncUnit(u.kind, metrics.OutcomeFailure)
		s.log.Error(ctx, "fetch failed", append(fields, logger.Error(err))...)
		return rep
	}

	rep.Fetched = len(attrs)
	metrics.RecordAttributesFetched(len(attrs))
	if u.query.Limit > 0 && len(attrs) >= u.query.Limit {
		rep.Truncated = true
		s.log.Warn(ctx, "result size reached the limit, results are possibly truncated",
			append(fields, logger.Int("limit", u.query.Limit))...)
	}

	records, stats := s.mapper.Convert(ctx, attrs)
	rep.Mapping = stats

	insertStart := time.Now()
	var insertErr error
	for _, li := range records {
		if err := s.inserter.Insert(ctx, li); err != nil {
			rep.InsertErrors++
			metrics.RecordInsertError()
			if insertErr == nil {
				insertErr = fmt.Errorf("insert %s: %w", li.Indicator, err)
			}
			continue
		}
		rep.Inserted++
	}
	metrics.RecordIndicatorsInserted(rep.Inserted)
	if insertErr != nil {
		s.log.Warn(ctx, "some indicators were not inserted",
			append(fields, logger.Int("insert_errors", rep.InsertErrors), logger.Error(insertErr))...)
	}

	rep.Duration = time.Since(start)
	metrics.RecordSyncUnit(u.kind, metrics.OutcomeSuccess)
	s.log.Info(ctx, "unit done", append(fields,
		logger.Int("fetched", rep.Fetched),
		logger.Int("items", rep.Inserted),
		logger.Int("ignored", stats.Ignored),
		logger.Int("unmapped", stats.Unmapped),
		logger.Duration("request", requestTook),
		logger.Duration("insert", time.Since(insertStart)),
	)...)
	return rep
}
