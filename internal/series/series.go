// Package series holds the ordered, timestamp-unique bar series of one
// instrument and merges freshly polled batches into it.
package series

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"crypto-signalv1/internal/model"
)

var (
	// ErrEmptyInput is returned for an empty batch. Callers treat it as a no-op.
	ErrEmptyInput = errors.New("series: empty input")

	// ErrNonMonotonicInput is returned when batch timestamps are not strictly increasing.
	ErrNonMonotonicInput = errors.New("series: non-monotonic input")

	// ErrInvalidBar is returned when a bar carries a NaN or infinite value.
	ErrInvalidBar = errors.New("series: invalid bar")
)

// Series is an ordered sequence of bars with unique timestamps.
// It is owned by a single writer.
type Series struct {
	bars []model.Bar
}

// New builds a series from bars that must already be strictly increasing.
func New(bars ...model.Bar) (*Series, error) {
	if len(bars) == 0 {
		return &Series{}, nil
	}
	if err := Validate(bars); err != nil {
		return nil, err
	}
	s := &Series{bars: make([]model.Bar, len(bars))}
	copy(s.bars, bars)
	return s, nil
}

// Validate checks a batch before it touches a series.
func Validate(bars []model.Bar) error {
	if len(bars) == 0 {
		return ErrEmptyInput
	}
	for i, b := range bars {
		if !b.Finite() {
			return fmt.Errorf("%w: bar %d at %d has a non-finite value", ErrInvalidBar, i, b.Millis())
		}
		if i > 0 && b.Millis() <= bars[i-1].Millis() {
			return fmt.Errorf("%w: bar %d at %d does not follow %d", ErrNonMonotonicInput, i, b.Millis(), bars[i-1].Millis())
		}
	}
	return nil
}

func (s *Series) Len() int { return len(s.bars) }

// At returns the bar at index i.
func (s *Series) At(i int) model.Bar { return s.bars[i] }

// Last returns the newest bar.
func (s *Series) Last() (model.Bar, bool) {
	if len(s.bars) == 0 {
		return model.Bar{}, false
	}
	return s.bars[len(s.bars)-1], true
}

// Bars returns a copy of the bars.
func (s *Series) Bars() []model.Bar {
	out := make([]model.Bar, len(s.bars))
	copy(out, s.bars)
	return out
}

// Closes returns the close prices in series order.
func (s *Series) Closes() []float64 {
	out := make([]float64, len(s.bars))
	for i, b := range s.bars {
		out[i] = b.Close
	}
	return out
}

// IndexOf finds the bar opening at ts.
func (s *Series) IndexOf(ts time.Time) (int, bool) {
	ms := ts.UnixMilli()
	i := s.search(ms)
	if i < len(s.bars) && s.bars[i].Millis() == ms {
		return i, true
	}
	return i, false
}

// search returns the first index whose timestamp is >= ms.
func (s *Series) search(ms int64) int {
	return sort.Search(len(s.bars), func(i int) bool {
		return s.bars[i].Millis() >= ms
	})
}

// Clone returns an independent copy.
func (s *Series) Clone() *Series {
	return &Series{bars: s.Bars()}
}

// TrimHead drops the n oldest bars and returns how many were dropped.
func (s *Series) TrimHead(n int) int {
	if n <= 0 {
		return 0
	}
	if n > len(s.bars) {
		n = len(s.bars)
	}
	rest := make([]model.Bar, len(s.bars)-n)
	copy(rest, s.bars[n:])
	s.bars = rest
	return n
}
