// Package risk suggests a leverage multiple for a signal.
package risk

import (
	"errors"
	"fmt"
	"math"

	"crypto-signalv1/internal/model"
)

// ErrInvalidPrincipal is returned for a zero, negative or non-finite principal.
var ErrInvalidPrincipal = errors.New("risk: invalid principal")

// Params defines the sizing inputs. No upper bound is applied to the result.
type Params struct {
	RiskRatio        float64 `yaml:"risk_ratio" default:"0.1" validate:"gt=0"`         // share of principal risked per trade
	StopLossFraction float64 `yaml:"stop_loss_fraction" default:"0.05" validate:"gt=0"` // stop distance as a fraction of price
}

// DefaultParams returns risk ratio 0.1 and stop-loss fraction 0.05.
func DefaultParams() Params {
	return Params{RiskRatio: 0.1, StopLossFraction: 0.05}
}

// Validate rejects non-positive fractions.
func (p Params) Validate() error {
	if !(p.RiskRatio > 0) || !(p.StopLossFraction > 0) {
		return fmt.Errorf("risk: risk_ratio %v and stop_loss_fraction %v must be positive", p.RiskRatio, p.StopLossFraction)
	}
	return nil
}

// Leverage returns 1.0 for Hold and
// (principal·RiskRatio) / (StopLossFraction·principal) for Buy or Sell.
func Leverage(principal float64, sig model.Signal, p Params) model.LeverageSuggestion {
	if !sig.IsActionable() {
		return model.LeverageSuggestion{Multiple: 1.0}
	}
	riskAmount := principal * p.RiskRatio
	stopDistance := p.StopLossFraction * principal
	return model.LeverageSuggestion{Multiple: riskAmount / stopDistance}
}

// Sizer applies fixed params to a fixed principal.
type Sizer struct {
	principal float64
	params    Params
}

// NewSizer validates its inputs.
func NewSizer(principal float64, p Params) (*Sizer, error) {
	if !(principal > 0) || math.IsInf(principal, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrincipal, principal)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Sizer{principal: principal, params: p}, nil
}

// Suggest returns the leverage suggestion for sig.
func (s *Sizer) Suggest(sig model.Signal) model.LeverageSuggestion {
	return Leverage(s.principal, sig, s.params)
}

func (s *Sizer) Principal() float64 { return s.principal }
