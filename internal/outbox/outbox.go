// Package outbox relays events committed to the outbox table to Kafka.
//
// Events are written in the same transaction as the state change they
// describe, so a committed apply is always published at least once.
package outbox

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// Event types.
const (
	EventPromotionApplied = "promotion.applied"
)

// Message is one pending outbox row.
type Message struct {
	ID        int64
	EventType string
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

// Store claims pending messages. Process locks up to limit unpublished rows,
// passes them to fn, and marks them published only if fn succeeds.
type Store interface {
	Process(ctx context.Context, limit int, fn func(ctx context.Context, msgs []Message) error) (int, error)
}

// Publisher writes messages to the broker. *kafka.Writer implements it.
type Publisher interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// BreakerConfig tunes the circuit breaker guarding the publisher.
type BreakerConfig struct {
	MaxRequests  uint32        `default:"1"`
	Interval     time.Duration `default:"1m"`
	Timeout      time.Duration `default:"30s"`
	MinRequests  uint32        `default:"3"`
	FailureRatio float64       `default:"0.5"`
}

// Config configures a Relay.
type Config struct {
	Brokers      []string      `default:"localhost:9092"`
	Topic        string        `default:"promotion-events"`
	BatchSize    int           `default:"100"`
	PollInterval time.Duration `default:"1s"`
	Breaker      BreakerConfig
}

// NewWriter returns a synchronous writer for cfg.Topic.
func NewWriter(cfg Config) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
	}
}

// Relay periodically moves pending outbox rows to Kafka.
type Relay struct {
	store     Store
	pub       Publisher
	breaker   *gobreaker.CircuitBreaker[int]
	batchSize int
	interval  time.Duration
	lg        *zap.Logger
}

// NewRelay creates a Relay. A zero BatchSize or PollInterval falls back to
// 100 rows and one second.
func NewRelay(store Store, pub Publisher, cfg Config, lg *zap.Logger) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	bc := cfg.Breaker

	settings := gobreaker.Settings{
		Name:        "outbox-publisher",
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < bc.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= bc.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	}

	return &Relay{
		store:     store,
		pub:       pub,
		breaker:   gobreaker.NewCircuitBreaker[int](settings),
		batchSize: cfg.BatchSize,
		interval:  cfg.PollInterval,
		lg:        lg,
	}
}

// Run drains the outbox every poll interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	r.lg.Info("Outbox relay started", zap.Duration("interval", r.interval))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.lg.Info("Outbox relay stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
				if errors.Is(err, gobreaker.ErrOpenState) {
					r.lg.Debug("Publisher unavailable, skipping poll")
					continue
				}
				r.lg.Error("Outbox relay failed", zap.Error(err))
			}
		}
	}
}

// Drain publishes batches until the outbox is empty or a batch fails. It
// returns the number of messages published.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	var total int
	for {
		n, err := r.Flush(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n < r.batchSize {
			return total, nil
		}
	}
}

// Flush publishes a single batch.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	n, err := r.store.Process(ctx, r.batchSize, func(ctx context.Context, msgs []Message) error {
		_, err := r.breaker.Execute(func() (int, error) {
			if err := r.pub.WriteMessages(ctx, toKafka(msgs)...); err != nil {
				return 0, err
			}
			return len(msgs), nil
		})
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, "flush outbox")
	}
	if n > 0 {
		r.lg.Debug("Outbox batch published", zap.Int("count", n))
	}
	return n, nil
}

func toKafka(msgs []Message) []kafka.Message {
	out := make([]kafka.Message, len(msgs))
	for i, m := range msgs {
		out[i] = kafka.Message{
			Key:   []byte(m.Key),
			Value: m.Payload,
			Time:  m.CreatedAt,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(m.EventType)},
			},
		}
	}
	return out
}
