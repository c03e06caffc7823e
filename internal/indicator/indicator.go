// Package indicator computes Moving Average, Bollinger Bands and MACD over a
// bar series and keeps the results aligned as bars are revised or added.
package indicator

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParams is returned for unusable indicator periods.
	ErrInvalidParams = errors.New("indicator: invalid params")

	// ErrMisaligned is returned when a frame no longer matches its series.
	ErrMisaligned = errors.New("indicator: frame misaligned with series")
)

// Params configures the indicator set.
type Params struct {
	Window int     `yaml:"window" default:"20" validate:"gte=2"`
	K      float64 `yaml:"k" default:"2" validate:"gte=0"`
	Short  int     `yaml:"short" default:"12" validate:"gte=1"`
	Long   int     `yaml:"long" default:"26" validate:"gte=2"`
	Signal int     `yaml:"signal" default:"9" validate:"gte=1"`
}

// DefaultParams returns window 20, k 2, MACD 12/26/9.
func DefaultParams() Params {
	return Params{Window: 20, K: 2, Short: 12, Long: 26, Signal: 9}
}

// Validate checks that the periods describe a usable indicator set.
func (p Params) Validate() error {
	switch {
	case p.Window < 2:
		return fmt.Errorf("%w: window %d must be at least 2", ErrInvalidParams, p.Window)
	case p.K < 0:
		return fmt.Errorf("%w: k %v must not be negative", ErrInvalidParams, p.K)
	case p.Short < 1 || p.Long < 1 || p.Signal < 1:
		return fmt.Errorf("%w: MACD spans %d/%d/%d must be positive", ErrInvalidParams, p.Short, p.Long, p.Signal)
	case p.Short >= p.Long:
		return fmt.Errorf("%w: short span %d must be below long span %d", ErrInvalidParams, p.Short, p.Long)
	}
	return nil
}
