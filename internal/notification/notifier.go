// Package notification delivers operator alerts: signal changes and
// rejected market data.
package notification

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"crypto-signalv1/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Symbol  string     `json:"symbol,omitempty"`

	// Signal is set on signal change alerts.
	Signal *model.SignalInfo `json:"-"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts. It is always installed so alerts reach the log
// even when no external channel is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: log.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) Send(_ context.Context, alert Alert) error {
	ev := n.logger.Info()
	switch alert.Level {
	case AlertWarning:
		ev = n.logger.Warn()
	case AlertCritical:
		ev = n.logger.Error()
	}
	ev.Str("level", string(alert.Level)).Str("symbol", alert.Symbol).Str("title", alert.Title).Msg(alert.Message)
	return nil
}

// Multi sends every alert to all notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
