package indicator

import (
	"slices"
	"time"

	"crypto-signalv1/internal/model"
	"crypto-signalv1/internal/series"
)

// Frame holds indicator columns aligned one-to-one with a series.
// MA and the bands are undefined until a full window exists; MACD values are
// defined from the first point.
type Frame struct {
	TS         []time.Time
	Close      []float64
	MA         []model.Opt
	Upper      []model.Opt
	Lower      []model.Opt
	MACD       []float64
	SignalLine []float64
	Hist       []float64

	state []State
	head  headContext
}

// headContext remembers what the trimmed head contributed, so points near the
// new head keep the values they had with the full history.
type headContext struct {
	closes []float64 // last window-1 trimmed closes
	state  State     // MACD state of the last trimmed point
	valid  bool
}

func newFrame(s *series.Series) *Frame {
	n := s.Len()
	f := &Frame{
		TS:         make([]time.Time, n),
		Close:      make([]float64, n),
		MA:         make([]model.Opt, n),
		Upper:      make([]model.Opt, n),
		Lower:      make([]model.Opt, n),
		MACD:       make([]float64, n),
		SignalLine: make([]float64, n),
		Hist:       make([]float64, n),
		state:      make([]State, n),
	}
	for i := 0; i < n; i++ {
		b := s.At(i)
		f.TS[i] = b.TS
		f.Close[i] = b.Close
	}
	return f
}

func (f *Frame) Len() int { return len(f.TS) }

// At returns the point at index i.
func (f *Frame) At(i int) model.Point {
	return model.Point{
		TS:         f.TS[i],
		Close:      f.Close[i],
		MA:         f.MA[i],
		Upper:      f.Upper[i],
		Lower:      f.Lower[i],
		MACD:       model.Some(f.MACD[i]),
		SignalLine: model.Some(f.SignalLine[i]),
		Hist:       model.Some(f.Hist[i]),
	}
}

// Last returns the newest point.
func (f *Frame) Last() (model.Point, bool) {
	if f.Len() == 0 {
		return model.Point{}, false
	}
	return f.At(f.Len() - 1), true
}

// Rows joins the frame with its series into display rows.
func (f *Frame) Rows(s *series.Series) []model.Row {
	n := min(f.Len(), s.Len())
	rows := make([]model.Row, n)
	for i := 0; i < n; i++ {
		rows[i] = model.NewRow(s.At(i), f.At(i))
	}
	return rows
}

// Clone returns a deep copy that Apply and Trim can mutate independently.
func (f *Frame) Clone() *Frame {
	return &Frame{
		TS:         slices.Clone(f.TS),
		Close:      slices.Clone(f.Close),
		MA:         slices.Clone(f.MA),
		Upper:      slices.Clone(f.Upper),
		Lower:      slices.Clone(f.Lower),
		MACD:       slices.Clone(f.MACD),
		SignalLine: slices.Clone(f.SignalLine),
		Hist:       slices.Clone(f.Hist),
		state:      slices.Clone(f.state),
		head: headContext{
			closes: slices.Clone(f.head.closes),
			state:  f.head.state,
			valid:  f.head.valid,
		},
	}
}

// insert opens an empty slot at idx in every column.
func (f *Frame) insert(idx int) {
	f.TS = slices.Insert(f.TS, idx, time.Time{})
	f.Close = slices.Insert(f.Close, idx, 0)
	f.MA = slices.Insert(f.MA, idx, model.None)
	f.Upper = slices.Insert(f.Upper, idx, model.None)
	f.Lower = slices.Insert(f.Lower, idx, model.None)
	f.MACD = slices.Insert(f.MACD, idx, 0)
	f.SignalLine = slices.Insert(f.SignalLine, idx, 0)
	f.Hist = slices.Insert(f.Hist, idx, 0)
	f.state = slices.Insert(f.state, idx, State{})
}

// context returns the closes visible to trailing windows, including the
// remembered head, and the offset of index 0 within them.
func (f *Frame) context() ([]float64, int) {
	if len(f.head.closes) == 0 {
		return f.Close, 0
	}
	ctx := make([]float64, 0, len(f.head.closes)+len(f.Close))
	ctx = append(ctx, f.head.closes...)
	ctx = append(ctx, f.Close...)
	return ctx, len(f.head.closes)
}

// dropHead removes the first n points from every column.
func (f *Frame) dropHead(n int) {
	f.TS = slices.Clone(f.TS[n:])
	f.Close = slices.Clone(f.Close[n:])
	f.MA = slices.Clone(f.MA[n:])
	f.Upper = slices.Clone(f.Upper[n:])
	f.Lower = slices.Clone(f.Lower[n:])
	f.MACD = slices.Clone(f.MACD[n:])
	f.SignalLine = slices.Clone(f.SignalLine[n:])
	f.Hist = slices.Clone(f.Hist[n:])
	f.state = slices.Clone(f.state[n:])
}
