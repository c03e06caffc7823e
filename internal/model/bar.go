package model

import (
	"encoding/json"
	"math"
	"time"
)

// Bar is one OHLCV bar for a single instrument.
// TS is the bar open time at millisecond resolution (UTC).
type Bar struct {
	TS     time.Time `json:"-"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// NewBar builds a bar from a unix-millisecond timestamp.
func NewBar(ms int64, open, high, low, closePx, volume float64) Bar {
	return Bar{
		TS:     time.UnixMilli(ms).UTC(),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closePx,
		Volume: volume,
	}
}

// Millis returns the bar timestamp as unix milliseconds, the series ordering key.
func (b Bar) Millis() int64 {
	return b.TS.UnixMilli()
}

// Finite reports whether every price and the volume are finite numbers.
func (b Bar) Finite() bool {
	for _, v := range [...]float64{b.Open, b.High, b.Low, b.Close, b.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Equal compares two bars field by field.
func (b Bar) Equal(o Bar) bool {
	return b.Millis() == o.Millis() &&
		b.Open == o.Open && b.High == o.High && b.Low == o.Low &&
		b.Close == o.Close && b.Volume == o.Volume
}

type barJSON struct {
	TS     int64   `json:"ts"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// MarshalJSON encodes the timestamp as unix milliseconds.
func (b Bar) MarshalJSON() ([]byte, error) {
	return json.Marshal(barJSON{b.Millis(), b.Open, b.High, b.Low, b.Close, b.Volume})
}

// UnmarshalJSON decodes a bar with a unix-millisecond timestamp.
func (b *Bar) UnmarshalJSON(data []byte) error {
	var j barJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*b = NewBar(j.TS, j.Open, j.High, j.Low, j.Close, j.Volume)
	return nil
}
