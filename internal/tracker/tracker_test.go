package tracker

import (
	"errors"
	"math"
	"testing"
	"time"

	"crypto-signalv1/internal/indicator"
	"crypto-signalv1/internal/model"
	"crypto-signalv1/internal/risk"
	"crypto-signalv1/internal/series"
	"crypto-signalv1/internal/strategy"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time               { return c.t }
func (c fixedClock) PollInterval() time.Duration { return 10 * time.Second }

var epoch = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func bar(t int64, close float64) model.Bar {
	return model.NewBar(epoch.UnixMilli()+t*60_000, close, close, close, close, 1)
}

func newTracker(t *testing.T, symbol string, retention int) *Tracker {
	t.Helper()
	tr, err := New(Config{
		Symbol:     symbol,
		Interval:   "1m",
		Principal:  10,
		Indicators: indicator.DefaultParams(),
		Risk:       risk.DefaultParams(),
		Retention:  series.Retention{MaxBars: retention},
	}, WithClock(fixedClock{epoch}))
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

func reversal() []model.Bar {
	bars := make([]model.Bar, 0, 30)
	for i := 0; i < 29; i++ {
		bars = append(bars, bar(int64(i), float64(50-i)))
	}
	return append(bars, bar(29, 60))
}

func TestUpdate_ReplaceAndAppend(t *testing.T) {
	tr := newTracker(t, "BTCUSDT", 0)
	if _, err := tr.Update([]model.Bar{bar(1, 5)}); err != nil {
		t.Fatal(err)
	}
	res, err := tr.Update([]model.Bar{bar(1, 7), bar(2, 8)})
	if err != nil {
		t.Fatal(err)
	}
	rows := res.Cycle.Rows
	if len(rows) != 2 || rows[0].Close != 7 || rows[1].Close != 8 {
		t.Fatalf("rows = %+v", rows)
	}
	if res.Cycle.Change.Replaced != 1 || res.Cycle.Change.Appended != 1 {
		t.Errorf("change = %+v", res.Cycle.Change)
	}
}

func TestUpdate_EmptyIsNoop(t *testing.T) {
	tr := newTracker(t, "BTCUSDT", 0)
	_, err := tr.Update(nil)
	if !errors.Is(err, ErrNoop) || !errors.Is(err, series.ErrEmptyInput) {
		t.Fatalf("expected ErrNoop wrapping ErrEmptyInput, got %v", err)
	}
}

func TestUpdate_IdenticalBatchIsNoop(t *testing.T) {
	tr := newTracker(t, "BTCUSDT", 0)
	batch := []model.Bar{bar(1, 1), bar(2, 2)}
	if _, err := tr.Update(batch); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Update(batch); !errors.Is(err, ErrNoop) {
		t.Fatalf("expected ErrNoop on identical batch, got %v", err)
	}
}

func TestUpdate_NonMonotonicLeavesStateUntouched(t *testing.T) {
	tr := newTracker(t, "BTCUSDT", 0)
	if _, err := tr.Update([]model.Bar{bar(1, 1), bar(2, 2)}); err != nil {
		t.Fatal(err)
	}
	before := tr.Snapshot()

	_, err := tr.Update([]model.Bar{bar(4, 4), bar(3, 3)})
	if !errors.Is(err, series.ErrNonMonotonicInput) {
		t.Fatalf("expected ErrNonMonotonicInput, got %v", err)
	}
	after := tr.Snapshot()
	if len(after.Rows) != len(before.Rows) || tr.Len() != 2 {
		t.Errorf("state changed after rejected batch: %d rows", len(after.Rows))
	}
}

func TestUpdate_FailedRecomputeKeepsSeries(t *testing.T) {
	tr := newTracker(t, "BTCUSDT", 0)
	if _, err := tr.Update([]model.Bar{bar(1, 1), bar(2, 2)}); err != nil {
		t.Fatal(err)
	}
	before := tr.Snapshot()

	// A frame that no longer matches the series makes the recompute fail
	// after the merge itself succeeded.
	empty, _ := series.New()
	stale := tr.engine.Compute(empty)
	tr.frame = stale

	_, err := tr.Update([]model.Bar{bar(2, 5), bar(3, 3)})
	if !errors.Is(err, indicator.ErrMisaligned) {
		t.Fatalf("expected ErrMisaligned, got %v", err)
	}
	if tr.Len() != 2 {
		t.Errorf("series length = %d after failed update", tr.Len())
	}
	if last, _ := tr.Last(); last.Close != 2 || last.Millis() != bar(2, 2).Millis() {
		t.Errorf("last bar = %+v", last)
	}
	if tr.frame != stale || stale.Len() != 0 {
		t.Errorf("frame mutated by failed update: %d points", tr.frame.Len())
	}
	if after := tr.Snapshot(); after.Rows[1].Close != before.Rows[1].Close {
		t.Errorf("snapshot changed: %+v", after.Rows)
	}
}

func TestUpdate_InsufficientHistoryIsNotAnError(t *testing.T) {
	tr := newTracker(t, "BTCUSDT", 0)
	var bars []model.Bar
	for i := int64(0); i < 10; i++ {
		bars = append(bars, bar(i, float64(100+i)))
	}
	res, err := tr.Update(bars)
	if err != nil {
		t.Fatal(err)
	}
	c := res.Cycle
	if c.SignalDefined || c.Leverage != nil {
		t.Errorf("signal must be undefined before warm-up: %+v", c)
	}
	if last, _ := c.LastRow(); last.MA != nil || last.MACD == nil {
		t.Errorf("row fields: %+v", last)
	}
	if _, ok := c.Info(); ok {
		t.Error("Info must report no signal before warm-up")
	}
}

func TestUpdate_ReversalBuysWithLeverage(t *testing.T) {
	tr := newTracker(t, "BTCUSDT", 0)
	res, err := tr.Update(reversal())
	if err != nil {
		t.Fatal(err)
	}
	c := res.Cycle
	if !c.SignalDefined || c.Signal != model.SignalBuy {
		t.Fatalf("signal = %v defined=%v (%s)", c.Signal, c.SignalDefined, c.Reason)
	}
	if c.Leverage == nil || math.Abs(c.Leverage.Multiple-2.0) > 1e-12 {
		t.Errorf("leverage = %+v, want 2.0", c.Leverage)
	}
	if c.Price != 60 {
		t.Errorf("price = %v, want 60", c.Price)
	}
	if !c.At.Equal(epoch) {
		t.Errorf("cycle stamped %v", c.At)
	}
	info, ok := c.Info()
	if !ok || info.Signal != model.SignalBuy || info.Leverage != c.Leverage.Multiple {
		t.Errorf("info = %+v", info)
	}
}

func TestUpdate_PollRevisesFormingBar(t *testing.T) {
	tr := newTracker(t, "BTCUSDT", 0)
	bars := reversal()
	if _, err := tr.Update(bars[:29]); err != nil {
		t.Fatal(err)
	}
	// First look at the forming bar, then its final close.
	if _, err := tr.Update([]model.Bar{bar(28, 22), bar(29, 21)}); err != nil {
		t.Fatal(err)
	}
	res, err := tr.Update([]model.Bar{bar(29, 60)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Cycle.Signal != model.SignalBuy {
		t.Errorf("signal = %v after revision, want buy", res.Cycle.Signal)
	}
	if res.Cycle.Change.Replaced != 1 || res.Stats.EMA != 1 || res.Stats.Windowed != 1 {
		t.Errorf("change = %+v stats = %+v", res.Cycle.Change, res.Stats)
	}
}

func TestUpdate_Retention(t *testing.T) {
	tr := newTracker(t, "BTCUSDT", 50)
	var bars []model.Bar
	for i := int64(0); i < 80; i++ {
		bars = append(bars, bar(i, 100+math.Sin(float64(i))))
	}
	res, err := tr.Update(bars)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Cycle.Rows) != 50 || res.Cycle.Change.Trimmed != 30 {
		t.Fatalf("rows = %d trimmed = %d", len(res.Cycle.Rows), res.Cycle.Change.Trimmed)
	}
	if res.Cycle.Rows[0].MA == nil {
		t.Error("retained head lost its MA")
	}

	// Bars behind the horizon are ignored.
	if _, err := tr.Update([]model.Bar{bar(5, 1)}); !errors.Is(err, ErrNoop) {
		t.Errorf("expected ErrNoop for a bar behind the horizon, got %v", err)
	}
}

func TestNew_RejectsTinyRetention(t *testing.T) {
	_, err := New(Config{
		Symbol: "X", Interval: "1m", Principal: 10,
		Indicators: indicator.DefaultParams(),
		Risk:       risk.DefaultParams(),
		Retention:  series.Retention{MaxBars: 5},
	})
	if err == nil {
		t.Fatal("expected error for retention smaller than the window")
	}
}

func TestTrackers_AreIndependent(t *testing.T) {
	btc := newTracker(t, "BTCUSDT", 0)
	eth := newTracker(t, "ETHUSDT", 0)
	if _, err := btc.Update(reversal()); err != nil {
		t.Fatal(err)
	}
	if eth.Len() != 0 || len(eth.Snapshot().Rows) != 0 {
		t.Error("updating one tracker changed another")
	}

	reg := NewRegistry()
	reg.Add(eth)
	reg.Add(btc)
	if syms := reg.Symbols(); len(syms) != 2 || syms[0] != "BTCUSDT" {
		t.Errorf("symbols = %v", syms)
	}
	if got, ok := reg.Get("BTCUSDT"); !ok || got != btc {
		t.Error("registry lookup failed")
	}
}

func TestSnapshot_EarlierCyclesUnaffected(t *testing.T) {
	tr := newTracker(t, "BTCUSDT", 0)
	bars := reversal()
	first, err := tr.Update(bars[:25])
	if err != nil {
		t.Fatal(err)
	}
	lastBefore := first.Cycle.Rows[24]

	if _, err := tr.Update([]model.Bar{bar(24, 999), bar(25, 1)}); err != nil {
		t.Fatal(err)
	}
	if first.Cycle.Rows[24].Close != lastBefore.Close || len(first.Cycle.Rows) != 25 {
		t.Error("a later update modified an earlier cycle")
	}
	if tr.Snapshot().Rows[24].Close != 999 {
		t.Error("snapshot does not reflect the revision")
	}
}

type alwaysSell struct{ seen int }

func (s *alwaysSell) Name() string { return "always_sell" }

func (s *alwaysSell) Evaluate(f *indicator.Frame) (strategy.Decision, error) {
	s.seen = f.Len()
	return strategy.Decision{Signal: model.SignalSell, Reason: "stub"}, nil
}

func TestWithStrategy_ReplacesCrossover(t *testing.T) {
	stub := &alwaysSell{}
	tr, err := New(Config{
		Symbol:     "BTCUSDT",
		Interval:   "1m",
		Principal:  10,
		Indicators: indicator.DefaultParams(),
		Risk:       risk.DefaultParams(),
	}, WithStrategy(stub))
	if err != nil {
		t.Fatal(err)
	}

	res, err := tr.Update([]model.Bar{bar(0, 1), bar(1, 2)})
	if err != nil {
		t.Fatal(err)
	}
	c := res.Cycle
	if !c.SignalDefined || c.Signal != model.SignalSell || c.Reason != "stub" || stub.seen != 2 {
		t.Fatalf("cycle = %+v seen = %d", c, stub.seen)
	}
	if c.Leverage == nil || math.Abs(c.Leverage.Multiple-2) > 1e-12 {
		t.Errorf("leverage = %+v", c.Leverage)
	}
}
