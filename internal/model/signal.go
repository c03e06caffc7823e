package model

import "fmt"

// Signal is the trading decision derived from the latest two frame points.
type Signal int

const (
	SignalHold Signal = iota
	SignalBuy
	SignalSell
)

func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return "buy"
	case SignalSell:
		return "sell"
	default:
		return "hold"
	}
}

// IsActionable reports whether the signal asks for a position change.
func (s Signal) IsActionable() bool {
	return s == SignalBuy || s == SignalSell
}

// MarshalText encodes the signal as its lowercase name.
func (s Signal) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses "buy", "sell" or "hold".
func (s *Signal) UnmarshalText(text []byte) error {
	v, err := ParseSignal(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSignal parses the lowercase signal name.
func ParseSignal(name string) (Signal, error) {
	switch name {
	case "buy":
		return SignalBuy, nil
	case "sell":
		return SignalSell, nil
	case "hold":
		return SignalHold, nil
	}
	return SignalHold, fmt.Errorf("unknown signal %q", name)
}

// LeverageSuggestion is a non-binding leverage multiple for a signal.
type LeverageSuggestion struct {
	Multiple float64 `json:"multiple"`
}
