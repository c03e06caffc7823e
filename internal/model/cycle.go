package model

import (
	"encoding/json"
	"time"
)

// ChangeSummary describes what a merge did to an instrument's series.
type ChangeSummary struct {
	Replaced  int `json:"replaced"`
	Inserted  int `json:"inserted"`
	Appended  int `json:"appended"`
	StaleFrom int `json:"stale_from"` // -1 when nothing changed
	Trimmed   int `json:"trimmed"`
}

// Cycle is the immutable result of one update for one instrument.
// Sinks receive it by value and must not modify Rows.
type Cycle struct {
	Symbol        string              `json:"symbol"`
	Interval      string              `json:"interval"`
	At            time.Time           `json:"at"`
	Rows          []Row               `json:"rows"`
	Signal        Signal              `json:"signal"`
	SignalDefined bool                `json:"signal_defined"`
	Reason        string              `json:"reason,omitempty"`
	Leverage      *LeverageSuggestion `json:"leverage,omitempty"`
	Price         float64             `json:"current_price"`
	Change        ChangeSummary       `json:"change"`
}

// Key returns the instrument key "symbol:interval".
func (c *Cycle) Key() string {
	return c.Symbol + ":" + c.Interval
}

// LastRow returns the newest row, if any.
func (c *Cycle) LastRow() (Row, bool) {
	if len(c.Rows) == 0 {
		return Row{}, false
	}
	return c.Rows[len(c.Rows)-1], true
}

// StaleRows returns the rows whose bar or indicator values changed in this
// cycle. StaleFrom indexes the series before retention trimming.
func (c *Cycle) StaleRows() []Row {
	if c.Change.StaleFrom < 0 {
		return nil
	}
	from := max(c.Change.StaleFrom-c.Change.Trimmed, 0)
	if from >= len(c.Rows) {
		return nil
	}
	return c.Rows[from:]
}

// SignalInfo is the compact per-cycle decision record.
type SignalInfo struct {
	Symbol   string    `json:"symbol"`
	Interval string    `json:"interval"`
	TS       int64     `json:"ts"` // unix ms of the bar the signal was read on
	Signal   Signal    `json:"signal"`
	Leverage float64   `json:"leverage"`
	Price    float64   `json:"current_price"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// Info extracts the signal record. ok is false when the signal was undefined.
func (c *Cycle) Info() (SignalInfo, bool) {
	last, has := c.LastRow()
	if !c.SignalDefined || !has {
		return SignalInfo{}, false
	}
	info := SignalInfo{
		Symbol:   c.Symbol,
		Interval: c.Interval,
		TS:       last.Timestamp,
		Signal:   c.Signal,
		Price:    c.Price,
		Reason:   c.Reason,
		At:       c.At,
	}
	if c.Leverage != nil {
		info.Leverage = c.Leverage.Multiple
	}
	return info, true
}

// JSON encodes the cycle. Non-finite prices are rejected by encoding/json.
func (c *Cycle) JSON() ([]byte, error) {
	return json.Marshal(c)
}
