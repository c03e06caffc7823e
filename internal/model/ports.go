package model

import (
	"context"
	"time"
)

// ── Port Interfaces ──
// These interfaces keep the indicator core free of I/O. The exchange client,
// the renderers and the scheduler clock each satisfy one of them.

// Fetcher pulls bars for one instrument from an exchange.
type Fetcher interface {
	// Fetch returns up to limit bars in ascending time order. When since is
	// non-nil only bars opening at or after since are returned.
	Fetch(ctx context.Context, symbol, interval string, since *time.Time, limit int) ([]Bar, error)
}

// Sink consumes immutable cycle snapshots (dashboards, stores, buses).
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Publish delivers one cycle. Implementations must not retain Rows
	// beyond the call unless they copy them.
	Publish(ctx context.Context, c Cycle) error
}

// Clock drives the poll loop.
type Clock interface {
	Now() time.Time
	PollInterval() time.Duration
}

// SystemClock is the wall clock with a fixed poll interval.
type SystemClock struct {
	Interval time.Duration
}

func (c SystemClock) Now() time.Time               { return time.Now().UTC() }
func (c SystemClock) PollInterval() time.Duration { return c.Interval }
