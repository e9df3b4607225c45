// Package natsbus connects the service to the matching engine over NATS.
//
// Converted indicators are published to the insert subject and match batches
// are consumed from the match subject. Both payloads are JSON.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/okian/intelsync/internal/domain/model"
	"github.com/okian/intelsync/pkg/logger"
	"github.com/okian/intelsync/pkg/metrics"
)

// Sentinel error kinds for this package.
var (
	ErrConnect = errors.New("nats connect failed")
	ErrClosed  = errors.New("nats bus closed")
)

// Config holds NATS bus configuration.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for connection identification.
	Name string

	// MaxReconnects is the maximum number of reconnection attempts.
	// Use -1 for infinite reconnects.
	MaxReconnects int

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// Timeout is the connection timeout.
	Timeout time.Duration

	// Token for token-based authentication (optional).
	Token string

	// InsertSubject receives converted indicators.
	InsertSubject string

	// MatchSubject carries match batches from the engine.
	MatchSubject string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "intelsync",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
		InsertSubject: "intel.insert",
		MatchSubject:  "intel.match",
	}
}

// MatchHandler receives one decoded match batch and reports whether it was accepted.
type MatchHandler func(ctx context.Context, ev model.MatchEvent) bool

// Bus is safe for concurrent use.
type Bus struct {
	conn *nats.Conn
	cfg  Config
	log  logger.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// Connect dials NATS.
func Connect(cfg Config, log logger.Logger) (*Bus, error) {
	if log == nil {
		log = logger.Get().Named("natsbus")
	}
	ctx := context.Background()

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn(ctx, "nats disconnected", logger.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info(ctx, "nats reconnected", logger.String("url", c.ConnectedUrlRedacted()))
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	return &Bus{conn: conn, cfg: cfg, log: log}, nil
}

// Insert publishes one indicator to the engine. Delivery is fire-and-forget.
func (b *Bus) Insert(ctx context.Context, li model.LocalIndicator) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(li)
	if err != nil {
		metrics.RecordBusMessage("out", metrics.OutcomeFailure)
		return fmt.Errorf("marshal indicator: %w", err)
	}
	if err := b.conn.Publish(b.cfg.InsertSubject, data); err != nil {
		metrics.RecordBusMessage("out", metrics.OutcomeFailure)
		if errors.Is(err, nats.ErrConnectionClosed) {
			return ErrClosed
		}
		return fmt.Errorf("publish indicator: %w", err)
	}
	metrics.RecordBusMessage("out", metrics.OutcomeSuccess)
	return nil
}

// SubscribeMatches decodes batches from the match subject and passes them to h.
// Undecodable messages are logged and dropped.
func (b *Bus) SubscribeMatches(h MatchHandler) error {
	sub, err := b.conn.Subscribe(b.cfg.MatchSubject, func(msg *nats.Msg) {
		ctx := context.Background()
		var ev model.MatchEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			metrics.RecordBusMessage("in", metrics.OutcomeRejected)
			b.log.Warn(ctx, "dropping undecodable match event",
				logger.String("subject", msg.Subject),
				logger.Int("bytes", len(msg.Data)),
				logger.Error(err),
			)
			return
		}
		if !h(ctx, ev) {
			metrics.RecordBusMessage("in", metrics.OutcomeFailure)
			return
		}
		metrics.RecordBusMessage("in", metrics.OutcomeSuccess)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.cfg.MatchSubject, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return nil
}

// Flush blocks until the server has processed everything published so far.
func (b *Bus) Flush(ctx context.Context) error {
	return b.conn.FlushWithContext(ctx)
}

// IsConnected returns true if connected to NATS.
func (b *Bus) IsConnected() bool {
	return b.conn.IsConnected()
}

// Close unsubscribes, drains and closes the connection.
func (b *Bus) Close() error {
	b.mu.Lock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	b.mu.Unlock()

	if err := b.conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		b.conn.Close()
		return err
	}
	return nil
}
