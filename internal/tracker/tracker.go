// Package tracker owns the bar series and indicator frame of one instrument
// and turns each polled batch into an immutable cycle snapshot.
package tracker

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"crypto-signalv1/internal/indicator"
	"crypto-signalv1/internal/model"
	"crypto-signalv1/internal/risk"
	"crypto-signalv1/internal/series"
	"crypto-signalv1/internal/strategy"
)

// ErrNoop is returned when a batch leaves the series unchanged.
var ErrNoop = errors.New("tracker: nothing to update")

// Config describes one instrument.
type Config struct {
	Symbol     string
	Interval   string
	Principal  float64
	Indicators indicator.Params
	Risk       risk.Params
	Retention  series.Retention
}

// Result is the outcome of one successful update.
type Result struct {
	Cycle model.Cycle
	Stats indicator.Stats
}

// Tracker is the single writer for one instrument. Snapshot may be called
// concurrently with Update.
type Tracker struct {
	cfg      Config
	engine   *indicator.Engine
	strategy strategy.Strategy
	sizer    *risk.Sizer
	clock    model.Clock
	logger   zerolog.Logger

	mu      sync.RWMutex
	series  *series.Series
	frame   *indicator.Frame
	trimmed int
	last    model.Cycle
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithStrategy replaces the default MA + MACD crossover strategy.
func WithStrategy(s strategy.Strategy) Option {
	return func(t *Tracker) { t.strategy = s }
}

// WithClock sets the clock used to stamp cycles.
func WithClock(c model.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// New creates a tracker with an empty series.
func New(cfg Config, opts ...Option) (*Tracker, error) {
	engine, err := indicator.NewEngine(cfg.Indicators)
	if err != nil {
		return nil, fmt.Errorf("tracker %s: %w", cfg.Symbol, err)
	}
	sizer, err := risk.NewSizer(cfg.Principal, cfg.Risk)
	if err != nil {
		return nil, fmt.Errorf("tracker %s: %w", cfg.Symbol, err)
	}
	if cfg.Retention.MaxBars > 0 && cfg.Retention.MaxBars < cfg.Indicators.Window+1 {
		return nil, fmt.Errorf("tracker %s: retention %d bars cannot hold two windowed points", cfg.Symbol, cfg.Retention.MaxBars)
	}

	empty, _ := series.New()
	t := &Tracker{
		cfg:      cfg,
		engine:   engine,
		strategy: strategy.NewMACDCrossover(),
		sizer:    sizer,
		clock:    model.SystemClock{},
		logger: log.With().
			Str("component", "tracker").
			Str("symbol", cfg.Symbol).
			Str("interval", cfg.Interval).
			Logger(),
		series: empty,
	}
	t.frame = engine.Compute(empty)
	for _, opt := range opts {
		opt(t)
	}
	t.last = t.snapshotLocked(model.ChangeSummary{StaleFrom: -1})
	return t, nil
}

// Key returns "symbol:interval".
func (t *Tracker) Key() string { return t.cfg.Symbol + ":" + t.cfg.Interval }

func (t *Tracker) Config() Config { return t.cfg }

// Update merges incoming, recomputes the stale indicator points, applies
// retention and derives the signal. An empty or no-op batch returns ErrNoop;
// a rejected batch leaves every piece of state untouched.
func (t *Tracker) Update(incoming []model.Bar) (Result, error) {
	if err := series.Validate(incoming); err != nil {
		if errors.Is(err, series.ErrEmptyInput) {
			return Result{}, fmt.Errorf("%w: %w", ErrNoop, err)
		}
		return Result{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	incoming = t.clipToHorizon(incoming)
	if len(incoming) == 0 {
		return Result{}, fmt.Errorf("%w: batch precedes the retention horizon", ErrNoop)
	}

	// Work on copies so a failed merge or recompute leaves the tracker as it was.
	next, ch, err := series.Merge(t.series, incoming)
	if err != nil {
		return Result{}, err
	}
	if ch.Empty() {
		return Result{}, ErrNoop
	}

	frame := t.frame.Clone()
	stats, err := t.engine.Apply(frame, next, ch)
	if err != nil {
		return Result{}, fmt.Errorf("tracker %s: %w", t.Key(), err)
	}

	summary := ch.Summary()
	if n := t.cfg.Retention.Excess(next.Len()); n > 0 {
		next.TrimHead(n)
		t.engine.Trim(frame, n)
		t.trimmed += n
		summary.Trimmed = n
	}
	t.series, t.frame = next, frame

	t.last = t.snapshotLocked(summary)

	t.logger.Debug().
		Int("bars", t.series.Len()).
		Int("replaced", ch.Replaced).
		Int("inserted", ch.Inserted).
		Int("appended", ch.Appended).
		Int("windowed_recomputed", stats.Windowed).
		Int("ema_recomputed", stats.EMA).
		Str("signal", t.last.Signal.String()).
		Bool("signal_defined", t.last.SignalDefined).
		Msg("updated")

	return Result{Cycle: t.last, Stats: stats}, nil
}

// Snapshot returns the latest cycle without merging anything.
func (t *Tracker) Snapshot() model.Cycle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

// Last returns the newest bar, used as the next poll's lower bound.
func (t *Tracker) Last() (model.Bar, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.series.Last()
}

// Len returns the number of retained bars.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.series.Len()
}

// clipToHorizon drops bars older than the retained head once trimming has begun.
func (t *Tracker) clipToHorizon(bars []model.Bar) []model.Bar {
	if t.trimmed == 0 || t.series.Len() == 0 {
		return bars
	}
	head := t.series.At(0).Millis()
	i := 0
	for i < len(bars) && bars[i].Millis() < head {
		i++
	}
	if i > 0 {
		t.logger.Warn().Int("dropped", i).Msg("bars older than the retention horizon ignored")
	}
	return bars[i:]
}

// snapshotLocked builds an immutable cycle from the current state.
func (t *Tracker) snapshotLocked(change model.ChangeSummary) model.Cycle {
	c := model.Cycle{
		Symbol:   t.cfg.Symbol,
		Interval: t.cfg.Interval,
		At:       t.clock.Now(),
		Rows:     t.frame.Rows(t.series),
		Change:   change,
	}
	if last, ok := t.series.Last(); ok {
		c.Price = last.Close
	}

	d, err := t.strategy.Evaluate(t.frame)
	switch {
	case err == nil:
		lev := t.sizer.Suggest(d.Signal)
		c.Signal = d.Signal
		c.SignalDefined = true
		c.Reason = d.Reason
		c.Leverage = &lev
	case errors.Is(err, strategy.ErrInsufficientHistory):
		c.Reason = "insufficient history"
	default:
		t.logger.Error().Err(err).Msg("strategy evaluation failed")
		c.Reason = err.Error()
	}
	return c
}
