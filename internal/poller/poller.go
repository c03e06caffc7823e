// Package poller drives the per-instrument fetch -> merge -> recompute ->
// signal -> dispatch cycle on a cron schedule.
package poller

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"crypto-signalv1/internal/logger"
	"crypto-signalv1/internal/metrics"
	"crypto-signalv1/internal/model"
	"crypto-signalv1/internal/notification"
	"crypto-signalv1/internal/series"
	"crypto-signalv1/internal/tracker"
)

// Dispatcher receives every completed cycle.
type Dispatcher interface {
	Dispatch(c model.Cycle)
}

// Config controls fetching.
type Config struct {
	// InitialLimit is the page size of the first fetch of an instrument.
	InitialLimit int `yaml:"initial_limit" default:"1000" validate:"gte=1,lte=1000"`
	// Timeout bounds one fetch + update.
	Timeout time.Duration `yaml:"timeout" default:"30s"`
}

// Poller owns the cron scheduler and one job per instrument.
type Poller struct {
	cfg      Config
	fetcher  model.Fetcher
	dispatch Dispatcher
	alerts   notification.Notifier
	metrics  *metrics.Metrics
	health   *metrics.HealthStatus
	cron     *cron.Cron
	logger   zerolog.Logger

	mu   sync.Mutex
	ctx  context.Context
	jobs []*tracker.Tracker
}

// New creates a Poller. All arguments are required.
func New(cfg Config, f model.Fetcher, d Dispatcher, alerts notification.Notifier, m *metrics.Metrics, h *metrics.HealthStatus) *Poller {
	if cfg.InitialLimit <= 0 {
		cfg.InitialLimit = 1000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	l := log.With().Str("component", "poller").Logger()
	return &Poller{
		cfg:      cfg,
		fetcher:  f,
		dispatch: d,
		alerts:   alerts,
		metrics:  m,
		health:   h,
		cron: cron.New(
			cron.WithLogger(cronLogger{l}),
			cron.WithChain(cron.Recover(cronLogger{l}), cron.SkipIfStillRunning(cronLogger{l})),
		),
		logger: l,
		ctx:    context.Background(),
	}
}

// Register schedules tr to be polled every interval. A poll still running
// when the next tick fires makes that tick a no-op, so updates to one
// instrument never overlap.
func (p *Poller) Register(tr *tracker.Tracker, every time.Duration) error {
	if every <= 0 {
		return fmt.Errorf("poller %s: poll interval must be positive", tr.Key())
	}
	_, err := p.cron.AddFunc("@every "+every.String(), func() {
		p.mu.Lock()
		ctx := p.ctx
		p.mu.Unlock()
		p.PollOnce(ctx, tr)
	})
	if err != nil {
		return fmt.Errorf("poller %s: %w", tr.Key(), err)
	}
	p.mu.Lock()
	p.jobs = append(p.jobs, tr)
	p.mu.Unlock()
	return nil
}

// Start polls every instrument once, then hands over to the scheduler.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	p.ctx = ctx
	jobs := append([]*tracker.Tracker(nil), p.jobs...)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, tr := range jobs {
		wg.Add(1)
		go func(tr *tracker.Tracker) {
			defer wg.Done()
			p.PollOnce(ctx, tr)
		}(tr)
	}
	wg.Wait()

	p.cron.Start()
	p.logger.Info().Int("instruments", len(jobs)).Msg("scheduler started")
}

// Stop stops scheduling and waits for running polls to finish.
func (p *Poller) Stop() {
	<-p.cron.Stop().Done()
	p.logger.Info().Msg("scheduler stopped")
}

// Seed merges stored bars into tr before the first poll.
func (p *Poller) Seed(tr *tracker.Tracker, bars []model.Bar) error {
	_, err := tr.Update(bars)
	if err != nil && !errors.Is(err, tracker.ErrNoop) {
		return err
	}
	return nil
}

// PollOnce runs one full cycle for tr. The outcome is logged, counted and,
// for a rejected batch, raised as a critical alert; it is also returned for
// callers that drive polls themselves.
func (p *Poller) PollOnce(ctx context.Context, tr *tracker.Tracker) (tracker.Result, error) {
	cfg := tr.Config()
	sym := cfg.Symbol
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(sym, time.Now()))
	l := logger.Ctx(ctx, p.logger.With().Str("symbol", sym).Logger())

	p.metrics.PollsTotal.WithLabelValues(sym).Inc()

	// Re-request the newest bar: it may still be forming.
	var since *time.Time
	limit := p.cfg.InitialLimit
	if last, ok := tr.Last(); ok {
		ts := last.TS
		since = &ts
		limit = 0
	}

	start := time.Now()
	bars, err := p.fetcher.Fetch(ctx, sym, cfg.Interval, since, limit)
	p.metrics.FetchDur.Observe(time.Since(start).Seconds())
	p.health.SetLastPollTime(time.Now())
	if err != nil {
		p.metrics.FetchErrors.WithLabelValues(sym).Inc()
		p.health.SetExchangeOK(false)
		l.Warn().Err(err).Msg("fetch failed")
		return tracker.Result{}, err
	}
	p.health.SetExchangeOK(true)
	p.metrics.BarsReceived.WithLabelValues(sym).Add(float64(len(bars)))

	start = time.Now()
	res, err := tr.Update(bars)
	p.metrics.RecomputeDur.Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
	case errors.Is(err, tracker.ErrNoop):
		p.metrics.NoopCycles.WithLabelValues(sym).Inc()
		l.Debug().Err(err).Int("bars", len(bars)).Msg("nothing new")
		return tracker.Result{}, err
	case errors.Is(err, series.ErrNonMonotonicInput), errors.Is(err, series.ErrInvalidBar):
		reason := "non_monotonic"
		if errors.Is(err, series.ErrInvalidBar) {
			reason = "invalid_bar"
		}
		p.metrics.RejectedBatches.WithLabelValues(sym, reason).Inc()
		l.Error().Err(err).Int("bars", len(bars)).Msg("batch rejected")
		if aerr := p.alerts.Send(ctx, notification.RejectedAlert(sym, err)); aerr != nil {
			l.Warn().Err(aerr).Msg("alert delivery failed")
		}
		return tracker.Result{}, err
	default:
		l.Error().Err(err).Msg("update failed")
		return tracker.Result{}, err
	}

	p.observe(res)
	p.dispatch.Dispatch(res.Cycle)

	c := res.Cycle
	ev := l.Info()
	if c.Change.Inserted == 0 && c.Change.Appended == 0 {
		ev = l.Debug() // forming-bar revision
	}
	ev.Int("rows", len(c.Rows)).
		Int("appended", c.Change.Appended).
		Int("replaced", c.Change.Replaced).
		Str("signal", signalLabel(c)).
		Float64("price", c.Price).
		Msg("cycle complete")
	return res, nil
}

func (p *Poller) observe(res tracker.Result) {
	c := res.Cycle
	p.metrics.CyclesTotal.WithLabelValues(c.Symbol, signalLabel(c)).Inc()
	p.metrics.RecomputedPoints.WithLabelValues("windowed").Add(float64(res.Stats.Windowed))
	p.metrics.RecomputedPoints.WithLabelValues("ema").Add(float64(res.Stats.EMA))
	p.metrics.SeriesLen.WithLabelValues(c.Symbol).Set(float64(len(c.Rows)))
	p.metrics.LastPrice.WithLabelValues(c.Symbol).Set(c.Price)
	gauge := -1.0
	if c.SignalDefined {
		gauge = float64(c.Signal)
	}
	p.metrics.CurrentSignal.WithLabelValues(c.Symbol).Set(gauge)
}

func signalLabel(c model.Cycle) string {
	if !c.SignalDefined {
		return "undefined"
	}
	return c.Signal.String()
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ l zerolog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(kv(keysAndValues)).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(kv(keysAndValues)).Msg(msg)
}

func kv(pairs []interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			key = "arg" + strconv.Itoa(i)
		}
		m[key] = pairs[i+1]
	}
	return m
}
