package notification

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"crypto-signalv1/internal/model"
)

// Alerter is a model.Sink that raises an alert whenever an instrument's
// signal changes. The first defined signal of an instrument only seeds the
// state; a restart does not re-announce the current position.
type Alerter struct {
	notifier Notifier

	mu   sync.Mutex
	last map[string]model.Signal
}

// NewAlerter creates an alerter delivering through n.
func NewAlerter(n Notifier) *Alerter {
	return &Alerter{notifier: n, last: make(map[string]model.Signal)}
}

// Name implements model.Sink.
func (a *Alerter) Name() string { return "alerts" }

// Publish implements model.Sink.
func (a *Alerter) Publish(ctx context.Context, c model.Cycle) error {
	info, ok := c.Info()
	if !ok {
		return nil
	}

	a.mu.Lock()
	prev, seen := a.last[c.Key()]
	a.last[c.Key()] = info.Signal
	a.mu.Unlock()

	if !seen || prev == info.Signal {
		return nil
	}
	return a.notifier.Send(ctx, SignalAlert(info, prev))
}

// SignalAlert describes a signal change.
func SignalAlert(info model.SignalInfo, prev model.Signal) Alert {
	level := AlertInfo
	if info.Signal.IsActionable() {
		level = AlertWarning
	}
	price := decimal.NewFromFloat(info.Price)
	lev := decimal.NewFromFloat(info.Leverage).Round(2)
	return Alert{
		Level:  level,
		Symbol: info.Symbol,
		Title:  fmt.Sprintf("%s %s: %s", info.Symbol, info.Interval, info.Signal),
		Message: fmt.Sprintf("signal %s -> %s at %s, suggested leverage %sx (%s)",
			prev, info.Signal, price.String(), lev.StringFixed(2), info.Reason),
		Signal: &info,
	}
}

// RejectedAlert reports a batch the ingestion layer refused to merge.
func RejectedAlert(symbol string, err error) Alert {
	return Alert{
		Level:   AlertCritical,
		Symbol:  symbol,
		Title:   symbol + ": market data rejected",
		Message: err.Error(),
	}
}
