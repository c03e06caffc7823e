package indicator

import (
	"fmt"

	"crypto-signalv1/internal/model"
	"crypto-signalv1/internal/series"
)

// Stats counts the points recomputed by one Apply.
type Stats struct {
	Windowed int
	EMA      int
}

// Engine computes indicator frames for one parameter set.
// It is stateless; all state lives in the Frame it is handed.
type Engine struct {
	p Params
}

// NewEngine validates params and returns an engine.
func NewEngine(p Params) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Engine{p: p}, nil
}

func (e *Engine) Params() Params { return e.p }

// Compute builds a frame for the whole series.
func (e *Engine) Compute(s *series.Series) *Frame {
	f := newFrame(s)
	ctx, off := f.context()
	e.fillWindowed(f, ctx, off, 0, f.Len())
	e.replayEMA(f, 0)
	return f
}

// Apply brings f in line with s after the merge described by ch, recomputing
// only the points ch made stale. The result equals Compute(s).
func (e *Engine) Apply(f *Frame, s *series.Series, ch series.Change) (Stats, error) {
	if ch.Empty() {
		return Stats{}, nil
	}
	if f.Len() != ch.PrevLen {
		return Stats{}, fmt.Errorf("%w: frame has %d points, series had %d", ErrMisaligned, f.Len(), ch.PrevLen)
	}

	for _, idx := range ch.Added {
		f.insert(idx)
	}
	n := s.Len()
	if f.Len() != n {
		return Stats{}, fmt.Errorf("%w: frame has %d points, series has %d", ErrMisaligned, f.Len(), n)
	}
	for i := ch.StaleFrom; i < n; i++ {
		b := s.At(i)
		f.TS[i] = b.TS
		f.Close[i] = b.Close
	}

	plan := NewPlan(ch, n, e.p.Window)
	ctx, off := f.context()
	for _, r := range plan.Windowed {
		e.fillWindowed(f, ctx, off, r.From, r.To)
	}
	e.replayEMA(f, plan.EMAFrom)

	return Stats{Windowed: plan.WindowedCount(), EMA: n - plan.EMAFrom}, nil
}

// Trim drops the n oldest points, remembering enough of them that the
// remaining points keep their values on later recomputes.
func (e *Engine) Trim(f *Frame, n int) int {
	if n <= 0 {
		return 0
	}
	if n > f.Len() {
		n = f.Len()
	}

	ctx, off := f.context()
	cut := off + n
	lo := max(cut-(e.p.Window-1), 0)
	f.head.closes = append([]float64(nil), ctx[lo:cut]...)
	f.head.state = f.state[n-1]
	f.head.valid = true

	f.dropHead(n)
	return n
}

// fillWindowed recomputes MA and bands for points [from, to).
func (e *Engine) fillWindowed(f *Frame, ctx []float64, off, from, to int) {
	w := e.p.Window
	for i := from; i < to; i++ {
		end := off + i
		if end+1 < w {
			f.MA[i], f.Upper[i], f.Lower[i] = model.None, model.None, model.None
			continue
		}
		b := bollinger(ctx[end-w+1:end+1], e.p.K)
		f.MA[i] = model.Some(b.MA)
		f.Upper[i] = model.Some(b.Upper)
		f.Lower[i] = model.Some(b.Lower)
	}
}

// replayEMA recomputes the MACD columns from index from to the end.
func (e *Engine) replayEMA(f *Frame, from int) {
	m := NewMACD(e.p.Short, e.p.Long, e.p.Signal)
	switch {
	case from > 0:
		m.Restore(f.state[from-1])
	case f.head.valid:
		m.Restore(f.head.state)
	}
	for i := from; i < f.Len(); i++ {
		f.MACD[i], f.SignalLine[i], f.Hist[i] = m.Update(f.Close[i])
		f.state[i] = m.Snapshot()
	}
}
