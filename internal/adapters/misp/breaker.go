package misp

import (
	"context"
	"errors"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/okian/intelsync/internal/domain/model"
	"github.com/okian/intelsync/pkg/logger"
	"github.com/okian/intelsync/pkg/metrics"
)

// BreakerSettings tunes the circuit breaker.
type BreakerSettings struct {
	Name        string
	MaxRequests uint32        // concurrent probes while half-open
	Interval    time.Duration // closed-state counting window
	Timeout     time.Duration // open -> half-open delay
	MinRequests uint32        // requests needed before tripping
	FailureRate float64       // ratio at or above which the breaker opens
}

// DefaultBreakerSettings opens at 60% failures over at least 10 requests
// within one minute and probes again after two minutes.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:        "misp",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		MinRequests: 10,
		FailureRate: 0.6,
	}
}

// BreakerClient wraps an API with a circuit breaker. It never retries.
type BreakerClient struct {
	next API
	cb   *gobreaker.CircuitBreaker[any]
	name string
	log  logger.Logger
}

var _ API = (*BreakerClient)(nil)

// NewBreakerClient wraps next.
func NewBreakerClient(next API, s BreakerSettings, log logger.Logger) *BreakerClient {
	if log == nil {
		log = logger.Get().Named("misp-breaker")
	}
	b := &BreakerClient{next: next, name: s.Name, log: log}

	metrics.UpdateCircuitBreakerState(s.Name, stateToFloat(gobreaker.StateClosed))

	b.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= s.FailureRate
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, toStr := stateToString(from), stateToString(to)
			log.Warn(context.Background(), "circuit breaker state change",
				logger.String("breaker", name),
				logger.String("from", fromStr),
				logger.String("to", toStr),
			)
			metrics.UpdateCircuitBreakerState(name, stateToFloat(to))
			metrics.RecordCircuitBreakerTransition(name, fromStr, toStr)
		},
		IsSuccessful: isSuccessful,
	})
	return b
}

// isSuccessful treats client-side rejections as proof the remote side is up.
func isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var re *RemoteError
	if errors.As(err, &re) && errors.Is(re.Kind, ErrProtocol) {
		return re.StatusCode >= http.StatusBadRequest && re.StatusCode < http.StatusInternalServerError &&
			re.StatusCode != http.StatusTooManyRequests
	}
	return false
}

// State returns the breaker state as a string.
func (b *BreakerClient) State() string {
	return stateToString(b.cb.State())
}

func (b *BreakerClient) execute(op string, fn func() (any, error)) (any, error) {
	res, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.RecordRemoteRequest(op, metrics.OutcomeRejected, 0)
		return nil, &RemoteError{Op: op, Kind: ErrTransport, Err: errors.Join(ErrCircuitOpen, err)}
	}
	return res, err
}

// Search runs next.Search behind the breaker.
func (b *BreakerClient) Search(ctx context.Context, q Query) ([]model.RemoteAttribute, error) {
	res, err := b.execute(OpSearch, func() (any, error) {
		return b.next.Search(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	attrs, _ := res.([]model.RemoteAttribute)
	return attrs, nil
}

// AddSighting runs next.AddSighting behind the breaker.
func (b *BreakerClient) AddSighting(ctx context.Context, attributeID string) (*model.Sighting, error) {
	res, err := b.execute(OpAddSighting, func() (any, error) {
		return b.next.AddSighting(ctx, attributeID)
	})
	if err != nil {
		return nil, err
	}
	s, _ := res.(*model.Sighting)
	return s, nil
}

// AddSightingValues runs next.AddSightingValues behind the breaker.
func (b *BreakerClient) AddSightingValues(ctx context.Context, values []string) (*model.Sighting, error) {
	res, err := b.execute(OpAddSightingVal, func() (any, error) {
		return b.next.AddSightingValues(ctx, values)
	})
	if err != nil {
		return nil, err
	}
	s, _ := res.(*model.Sighting)
	return s, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
