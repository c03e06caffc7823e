package strategy

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"crypto-signalv1/internal/indicator"
	"crypto-signalv1/internal/model"
)

// Crossover records which lines crossed upward between two points.
// Equality on the newer point is not a cross.
type Crossover struct {
	MACrossUp   bool `json:"ma_cross_up"`
	MACDCrossUp bool `json:"macd_cross_up"`
}

// Detect evaluates both crossovers between prev and cur.
// Every operand must be defined.
func Detect(prev, cur model.Point) (Crossover, error) {
	if !prev.MA.Valid || !cur.MA.Valid ||
		!prev.MACD.Valid || !cur.MACD.Valid ||
		!prev.SignalLine.Valid || !cur.SignalLine.Valid {
		return Crossover{}, ErrInsufficientHistory
	}
	return Crossover{
		MACrossUp:   cur.Close > cur.MA.Val && prev.Close <= prev.MA.Val,
		MACDCrossUp: cur.MACD.Val > cur.SignalLine.Val && prev.MACD.Val <= prev.SignalLine.Val,
	}, nil
}

// Signal maps the crossovers to a decision:
//
//	both crossed up    → Buy
//	neither crossed up → Sell
//	otherwise          → Hold
//
// Sell means "no bullish cross on either line", not a bearish cross.
func (c Crossover) Signal() model.Signal {
	switch {
	case c.MACrossUp && c.MACDCrossUp:
		return model.SignalBuy
	case !c.MACrossUp && !c.MACDCrossUp:
		return model.SignalSell
	default:
		return model.SignalHold
	}
}

// Reason describes the crossover state for alerts and logs.
func (c Crossover) Reason() string {
	switch {
	case c.MACrossUp && c.MACDCrossUp:
		return "close crossed above MA and MACD crossed above signal line"
	case c.MACrossUp:
		return "close crossed above MA without MACD confirmation"
	case c.MACDCrossUp:
		return "MACD crossed above signal line without MA confirmation"
	default:
		return "no bullish crossover on MA or MACD"
	}
}

// Generate derives the signal from two consecutive points.
func Generate(prev, cur model.Point) (model.Signal, Crossover, error) {
	c, err := Detect(prev, cur)
	if err != nil {
		return model.SignalHold, c, err
	}
	return c.Signal(), c, nil
}

// MACDCrossover is the MA + MACD confirmation strategy.
type MACDCrossover struct {
	name   string
	logger zerolog.Logger
}

// NewMACDCrossover creates the strategy.
func NewMACDCrossover() *MACDCrossover {
	return &MACDCrossover{
		name:   "MA_MACD_Crossover",
		logger: log.With().Str("component", "strategy").Logger(),
	}
}

func (s *MACDCrossover) Name() string { return s.name }

// Evaluate reads the two newest points of f.
func (s *MACDCrossover) Evaluate(f *indicator.Frame) (Decision, error) {
	prev, cur, err := lastTwo(f)
	if err != nil {
		return Decision{}, fmt.Errorf("%s: %d points: %w", s.name, f.Len(), err)
	}
	sig, cross, err := Generate(prev, cur)
	if err != nil {
		return Decision{}, fmt.Errorf("%s: %w", s.name, err)
	}

	s.logger.Debug().
		Str("signal", sig.String()).
		Bool("ma_cross_up", cross.MACrossUp).
		Bool("macd_cross_up", cross.MACDCrossUp).
		Msg("evaluated")

	return Decision{
		Signal: sig,
		TS:     cur.TS.UnixMilli(),
		Cross:  cross,
		Reason: cross.Reason(),
	}, nil
}
