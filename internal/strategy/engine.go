// Package strategy turns an indicator frame into a trading signal.
//
// A Strategy reads the newest points of a frame and decides Buy, Sell or Hold.
// Strategies are pure: the same two points always give the same decision.
package strategy

import (
	"errors"

	"crypto-signalv1/internal/indicator"
	"crypto-signalv1/internal/model"
)

// ErrInsufficientHistory is returned when the frame has fewer than two
// points with every required indicator defined.
var ErrInsufficientHistory = errors.New("strategy: insufficient history")

// Decision is a strategy's reading of the newest frame point.
type Decision struct {
	Signal model.Signal `json:"signal"`
	TS     int64        `json:"ts"` // unix ms of the point the decision was read on
	Cross  Crossover    `json:"cross"`
	Reason string       `json:"reason"`
}

// Strategy is the interface that all signal strategies implement.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// Evaluate reads the frame and returns a decision, or
	// ErrInsufficientHistory when the frame is not warmed up.
	Evaluate(f *indicator.Frame) (Decision, error)
}

// lastTwo returns the two newest points of f.
func lastTwo(f *indicator.Frame) (prev, cur model.Point, err error) {
	n := f.Len()
	if n < 2 {
		return prev, cur, ErrInsufficientHistory
	}
	return f.At(n - 2), f.At(n - 1), nil
}
