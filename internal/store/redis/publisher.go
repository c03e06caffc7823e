package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"crypto-signalv1/internal/model"
)

const (
	defaultLatestTTL   = 30 * time.Minute
	signalStreamMaxLen = 5000
	flushTimeout       = 10 * time.Second
)

// Config configures the Redis connection.
type Config struct {
	Addr     string `yaml:"addr" validate:"omitempty,hostname_port"` // empty disables Redis
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Connect creates a client and pings the server.
func Connect(ctx context.Context, cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Info().Str("component", "redis").Str("addr", cfg.Addr).Msg("connected")
	return client, nil
}

// LatestKey holds the newest cycle of an instrument.
func LatestKey(symbol, interval string) string { return "cycle:latest:" + symbol + ":" + interval }

// SignalStream is the per-symbol signal log stream.
func SignalStream(symbol string) string { return "signal:" + symbol }

// CycleChannel is the PubSub channel carrying every cycle of an instrument.
func CycleChannel(symbol, interval string) string { return "pub:cycle:" + symbol + ":" + interval }

// Publisher is a model.Sink that writes each cycle to Redis in one pipeline:
// SET latest, XADD signal log, PUBLISH. Writes go through a circuit breaker;
// while it is open, or after a failed write, only the newest cycle per
// instrument is kept. The next successful Publish flushes the parked cycles
// before it returns, so every write happens on the caller's goroutine in
// publish order.
type Publisher struct {
	client *goredis.Client
	cb     *CircuitBreaker
	logger zerolog.Logger
	write  func(context.Context, model.Cycle) error

	mu      sync.Mutex
	pending map[string]model.Cycle

	// OnBuffer is called when a cycle is parked during an open circuit.
	OnBuffer func()
	// OnWrite reports pipeline latency.
	OnWrite func(time.Duration)
}

// NewPublisher wraps client with cb.
func NewPublisher(client *goredis.Client, cb *CircuitBreaker) *Publisher {
	p := &Publisher{
		client:  client,
		cb:      cb,
		logger:  log.With().Str("component", "redis").Logger(),
		pending: make(map[string]model.Cycle),
	}
	p.write = p.pipeline
	return p
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Name implements model.Sink.
func (p *Publisher) Name() string { return "redis" }

// Publish implements model.Sink. It must not be called concurrently; the
// dispatcher runs one worker per sink.
// A newer cycle supersedes any cycle parked for the same instrument, so a
// flush can never roll the latest key back.
func (p *Publisher) Publish(ctx context.Context, c model.Cycle) error {
	p.mu.Lock()
	delete(p.pending, c.Key())
	p.mu.Unlock()

	err := p.cb.Execute(func() error { return p.write(ctx, c) })
	switch {
	case err == nil:
		if p.PendingCount() > 0 {
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
			p.flush(fctx)
			cancel()
		}
		return nil
	case errors.Is(err, ErrCircuitOpen):
		p.park(c)
		return nil
	default:
		p.park(c)
		return err
	}
}

func (p *Publisher) pipeline(ctx context.Context, c model.Cycle) error {
	start := time.Now()
	data, err := c.JSON()
	if err != nil {
		return fmt.Errorf("redis encode %s: %w", c.Key(), err)
	}

	pipe := p.client.Pipeline()
	pipe.Set(ctx, LatestKey(c.Symbol, c.Interval), data, defaultLatestTTL)
	if info, ok := c.Info(); ok {
		infoJSON, err := json.Marshal(info)
		if err != nil {
			return err
		}
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: SignalStream(c.Symbol),
			MaxLen: signalStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": infoJSON},
		})
	}
	pipe.Publish(ctx, CycleChannel(c.Symbol, c.Interval), data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline %s: %w", c.Key(), err)
	}
	if p.OnWrite != nil {
		p.OnWrite(time.Since(start))
	}
	return nil
}

func (p *Publisher) park(c model.Cycle) {
	p.mu.Lock()
	p.pending[c.Key()] = c
	p.mu.Unlock()
	if p.OnBuffer != nil {
		p.OnBuffer()
	}
}

// flush writes the parked cycles after a successful write. Failures stay parked.
func (p *Publisher) flush(ctx context.Context) {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return
	}
	toFlush := p.pending
	p.pending = make(map[string]model.Cycle)
	p.mu.Unlock()

	flushed := 0
	for _, c := range toFlush {
		if err := p.write(ctx, c); err != nil {
			p.logger.Warn().Err(err).Str("key", c.Key()).Msg("flush of parked cycle failed")
			p.mu.Lock()
			p.pending[c.Key()] = c
			p.mu.Unlock()
			continue
		}
		flushed++
	}
	p.logger.Info().Int("flushed", flushed).Msg("parked cycles flushed")
}

// PendingCount returns the number of instruments with a parked cycle.
func (p *Publisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
