// Package service wires the sync scheduler, the sighting handler and their
// transports into one runnable unit and implements the dependencies
// required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/okian/intelsync/internal/adapters/misp"
	"github.com/okian/intelsync/internal/adapters/mq/natsbus"
	eventqueue "github.com/okian/intelsync/internal/adapters/mq/queue"
	workerpool "github.com/okian/intelsync/internal/adapters/mq/worker"
	"github.com/okian/intelsync/internal/config"
	"github.com/okian/intelsync/internal/domain/mapping"
	"github.com/okian/intelsync/internal/domain/model"
	"github.com/okian/intelsync/internal/domain/ratelimit"
	"github.com/okian/intelsync/internal/scheduler"
	"github.com/okian/intelsync/internal/sighting"
	"github.com/okian/intelsync/pkg/logger"
	"github.com/okian/intelsync/pkg/metrics"
)

// Sentinel kinds for service errors.
var (
	ErrNotStarted     = errors.New("service not started")
	ErrSightingFailed = errors.New("sighting report failed")
)

// Remote is the subset of the remote platform client the service needs.
type Remote interface {
	scheduler.Searcher
	sighting.Reporter
}

// Service owns every long-running component of the process.
type Service struct {
	mu sync.RWMutex

	cfg *config.Config

	// Injected or built on Start
	remote   Remote
	breaker  *misp.BreakerClient
	inserter scheduler.Inserter
	bus      *natsbus.Bus

	mapper    *mapping.Mapper
	sched     *scheduler.Scheduler
	limiter   *ratelimit.Limiter
	sightings *sighting.Handler
	queue     *eventqueue.InMemoryQueue
	pool      *workerpool.Pool

	// State
	started bool
	cancel  context.CancelFunc

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the process configuration. Defaults to config.New().
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithRemote replaces the remote platform client built from the configuration.
func WithRemote(r Remote) Option {
	return func(s *Service) {
		if r != nil {
			s.remote = r
		}
	}
}

// WithInserter replaces the matching engine bus as the destination of converted records.
func WithInserter(in scheduler.Inserter) Option {
	return func(s *Service) {
		if in != nil {
			s.inserter = in
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a new Service.
func New(opts ...Option) *Service {
	s := &Service{cfg: config.New()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds and starts all components. A remote platform that is not
// configured disables the sync subsystem only.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	cfg := s.cfg

	s.logger.Info(ctx, "starting intelsync service...")

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.buildRemote(ctx)

	s.limiter = ratelimit.New(
		ratelimit.WithMaxHits(cfg.SightingMaxPerWindow),
		ratelimit.WithWindow(cfg.SightingWindow),
		ratelimit.WithMaxEntries(cfg.SightingLimiterMaxEntries),
		ratelimit.WithLogger(s.logger.Named("ratelimit")),
	)
	s.limiter.StartSweeper(runCtx, cfg.SightingWindow)

	var reporter sighting.Reporter
	if s.remote != nil {
		reporter = s.remote
	}
	s.sightings = sighting.New(reporter, s.limiter,
		sighting.WithEnabled(cfg.ReportSightings),
		sighting.WithGlobalRate(cfg.SightingGlobalRPS, cfg.SightingGlobalBurst),
		sighting.WithCallTimeout(cfg.MISPTimeout),
		sighting.WithLogger(s.logger.Named("sighting")),
	)

	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(cfg.EventQueueSize))
	s.pool = workerpool.NewPool(cfg.WorkerCount, s.queue, workerpool.HandlerFunc(s.handleMatch))
	s.pool.Start(runCtx)

	if s.inserter == nil && cfg.NATSURL != "" {
		if err := s.connectBus(ctx); err != nil {
			_ = s.pool.Shutdown(ctx)
			cancel()
			return err
		}
	}
	if s.inserter == nil {
		s.logger.Warn(ctx, "no matching engine bus configured; converted indicators are only logged")
		s.inserter = logInserter{log: s.logger.Named("dry-run")}
	}

	s.mapper = mapping.New(
		mapping.WithIgnoredTypes(cfg.IgnoredTypes...),
		mapping.WithReportSightings(cfg.ReportSightings),
		mapping.WithBaseURL(cfg.MISPURL),
		mapping.WithLogger(s.logger.Named("mapping")),
	)
	if s.remote != nil {
		s.sched = scheduler.New(s.remote, s.mapper, s.inserter, s.schedulerOptions()...)
		s.sched.Start(runCtx)
	}

	s.cancel = cancel
	s.started = true
	s.logger.Info(ctx, "intelsync service started",
		logger.Bool("sync", s.sched != nil),
		logger.Bool("sightings", s.sightings.Enabled()),
		logger.Bool("bus", s.bus != nil),
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", cfg.EventQueueSize),
	)
	return nil
}

func (s *Service) buildRemote(ctx context.Context) {
	if s.remote != nil {
		return
	}
	if err := s.cfg.SyncReady(); err != nil {
		s.logger.Error(ctx, "remote platform not configured; sync and sighting reports disabled", logger.Error(err))
		return
	}
	client, err := misp.New(s.cfg.MISPURL, s.cfg.MISPAPIKey,
		misp.WithInsecure(s.cfg.MISPInsecure),
		misp.WithTimeout(s.cfg.MISPTimeout),
		misp.WithMaxConns(s.cfg.MISPMaxConns),
		misp.WithDefaultLimit(s.cfg.MISPSearchLimit),
		misp.WithLogger(s.logger.Named("misp")),
	)
	if err != nil {
		s.logger.Error(ctx, "remote client rejected configuration; sync and sighting reports disabled", logger.Error(err))
		return
	}
	s.breaker = misp.NewBreakerClient(client, misp.DefaultBreakerSettings(), s.logger.Named("breaker"))
	s.remote = s.breaker
}

func (s *Service) connectBus(ctx context.Context) error {
	busCfg := natsbus.DefaultConfig()
	busCfg.URL = s.cfg.NATSURL
	busCfg.InsertSubject = s.cfg.NATSInsertSubject
	busCfg.MatchSubject = s.cfg.NATSMatchSubject

	bus, err := natsbus.Connect(busCfg, s.logger.Named("natsbus"))
	if err != nil {
		return fmt.Errorf("connect matching engine bus: %w", err)
	}
	if err := bus.SubscribeMatches(s.Enqueue); err != nil {
		_ = bus.Close()
		return fmt.Errorf("subscribe matches: %w", err)
	}
	s.bus = bus
	s.inserter = bus
	s.logger.Info(ctx, "matching engine bus connected",
		logger.String("insert_subject", busCfg.InsertSubject),
		logger.String("match_subject", busCfg.MatchSubject),
	)
	return nil
}

func (s *Service) schedulerOptions() []scheduler.Option {
	cfg := s.cfg
	opts := []scheduler.Option{
		scheduler.WithInterval(cfg.RefreshInterval),
		scheduler.WithFixedEvents(cfg.FixedEvents...),
		scheduler.WithCallTimeout(cfg.MISPTimeout),
		scheduler.WithLogger(s.logger.Named("scheduler")),
	}
	if cfg.SearchEnabled {
		// Validate already rejected malformed values.
		toIDs, _ := cfg.ToIDs()
		opts = append(opts, scheduler.WithGenericSearch(scheduler.GenericSearch{
			Tags:          cfg.SearchTags,
			Types:         cfg.SearchTypes,
			ExcludeEvents: cfg.SearchExcludeEvents,
			ToIDs:         toIDs,
			Lookback:      cfg.SearchLookback,
			Limit:         cfg.MISPSearchLimit,
		}))
	}
	return opts
}

// Stop gracefully shuts down the service. Inbound match traffic stops first,
// queued batches are drained, then background loops end.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping intelsync service...")

	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			s.logger.Warn(ctx, "closing matching engine bus", logger.Error(err))
		}
		s.bus = nil
		s.inserter = nil
	}
	if s.sched != nil {
		s.sched.Stop()
		s.sched = nil
	}
	if s.pool != nil {
		if err := s.pool.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, "worker pool shutdown", logger.Error(err))
		}
	}
	if s.cancel != nil {
		s.cancel()
	}

	s.started = false
	s.logger.Info(ctx, "intelsync service stopped")
}

// Enqueue submits a match batch for asynchronous sighting handling.
// It returns false when the batch was dropped.
func (s *Service) Enqueue(ctx context.Context, ev model.MatchEvent) bool {
	if err := s.TryEnqueue(ctx, ev); err != nil {
		s.logger.Warn(ctx, "dropping match batch",
			logger.String("indicator", ev.Seen.Indicator),
			logger.Int("items", len(ev.Items)),
			logger.Error(err),
		)
		return false
	}
	return true
}

// TryEnqueue submits a match batch without blocking.
func (s *Service) TryEnqueue(ctx context.Context, ev model.MatchEvent) error {
	s.mu.RLock()
	q := s.queue
	started := s.started
	s.mu.RUnlock()

	if !started || q == nil {
		return ErrNotStarted
	}
	return q.TryEnqueue(ctx, ev)
}

// TriggerSync starts a sync cycle now unless one is running.
func (s *Service) TriggerSync(ctx context.Context) bool {
	s.mu.RLock()
	sched := s.sched
	s.mu.RUnlock()

	if sched == nil {
		return false
	}
	return sched.Trigger(ctx)
}

// LastSync returns the report of the last finished sync cycle.
func (s *Service) LastSync() (scheduler.Report, bool) {
	s.mu.RLock()
	sched := s.sched
	s.mu.RUnlock()

	if sched == nil {
		return scheduler.Report{}, false
	}
	return sched.LastReport()
}

func (s *Service) handleMatch(ctx context.Context, ev model.MatchEvent) error {
	rep := s.sightings.Handle(ctx, ev)
	if rep.Failed > 0 {
		return fmt.Errorf("%w: %d of %d items", ErrSightingFailed, rep.Failed, rep.Items)
	}
	return nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.cfg.WorkerCount,
		"queueSize":   s.cfg.EventQueueSize,
		"syncEnabled": s.sched != nil,
	}
	if !s.started {
		return stats
	}

	queueLen := s.queue.Len()
	stats["queueLength"] = queueLen
	stats["processed"] = s.pool.Processed()
	stats["limiterEntries"] = s.limiter.Len()
	stats["sightingsEnabled"] = s.sightings.Enabled()
	stats["busConnected"] = s.bus != nil && s.bus.IsConnected()
	if s.breaker != nil {
		stats["circuitBreaker"] = s.breaker.State()
	}
	if s.sched != nil {
		stats["syncState"] = s.sched.StateString()
		if rep, ok := s.sched.LastReport(); ok {
			stats["lastSync"] = rep
		}
	}

	metrics.UpdateQueueSize(queueLen)
	metrics.UpdateWorkerCount(s.pool.Size())
	return stats
}

// logInserter stands in for the matching engine when no bus is configured.
type logInserter struct {
	log logger.Logger
}

func (l logInserter) Insert(ctx context.Context, li model.LocalIndicator) error {
	l.log.Debug(ctx, "indicator",
		logger.String("indicator", li.Indicator),
		logger.String("indicator_type", string(li.Kind)),
		logger.String("source", li.Meta.Source),
	)
	return nil
}
