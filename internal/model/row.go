package model

import "time"

// Point is one aligned indicator frame entry as seen by the signal generator.
type Point struct {
	TS         time.Time
	Close      float64
	MA         Opt
	Upper      Opt
	Lower      Opt
	MACD       Opt
	SignalLine Opt
	Hist       Opt
}

// Row is the display and storage schema for a bar with its indicators.
// Optional fields are omitted until the indicator has warmed up.
type Row struct {
	Timestamp  int64    `json:"timestamp"` // unix ms
	Open       float64  `json:"open"`
	High       float64  `json:"high"`
	Low        float64  `json:"low"`
	Close      float64  `json:"close"`
	Volume     float64  `json:"volume"`
	MA         *float64 `json:"ma,omitempty"`
	UpperBand  *float64 `json:"upper_band,omitempty"`
	LowerBand  *float64 `json:"lower_band,omitempty"`
	MACD       *float64 `json:"macd,omitempty"`
	SignalLine *float64 `json:"signal_line,omitempty"`
	MACDHist   *float64 `json:"macd_hist,omitempty"`
}

// NewRow joins a bar with its aligned point.
func NewRow(b Bar, p Point) Row {
	return Row{
		Timestamp:  b.Millis(),
		Open:       b.Open,
		High:       b.High,
		Low:        b.Low,
		Close:      b.Close,
		Volume:     b.Volume,
		MA:         p.MA.Ptr(),
		UpperBand:  p.Upper.Ptr(),
		LowerBand:  p.Lower.Ptr(),
		MACD:       p.MACD.Ptr(),
		SignalLine: p.SignalLine.Ptr(),
		MACDHist:   p.Hist.Ptr(),
	}
}

// Time returns the row timestamp as UTC time.
func (r Row) Time() time.Time {
	return time.UnixMilli(r.Timestamp).UTC()
}
