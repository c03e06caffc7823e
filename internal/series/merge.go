package series

import (
	"time"

	"crypto-signalv1/internal/model"
)

// Change describes the effect of one merge on a series.
type Change struct {
	PrevLen  int
	Replaced int // existing timestamps whose bar changed
	Inserted int // new timestamps placed before the previous newest bar
	Appended int // new timestamps after the previous newest bar

	// Changed lists post-merge indices whose bar is new or different, ascending.
	Changed []int
	// Added lists post-merge indices of new timestamps, ascending.
	Added []int

	// StaleFrom is the smallest changed index, -1 when nothing changed.
	StaleFrom int
	// StaleSince is the timestamp at StaleFrom.
	StaleSince time.Time
}

// Empty reports whether the merge left the series unchanged.
func (c Change) Empty() bool { return c.StaleFrom < 0 }

// Shifted reports whether a bar was inserted before the previous newest bar,
// which moves every later bar one position to the right.
func (c Change) Shifted() bool { return c.Inserted > 0 }

// Summary converts the change to its wire form.
func (c Change) Summary() model.ChangeSummary {
	return model.ChangeSummary{
		Replaced:  c.Replaced,
		Inserted:  c.Inserted,
		Appended:  c.Appended,
		StaleFrom: c.StaleFrom,
	}
}

// Merge folds incoming into the series by timestamp. Incoming bars replace
// stored bars with the same timestamp, new timestamps are placed in order and
// stored bars absent from incoming are kept. A rejected batch leaves the
// series untouched.
func (s *Series) Merge(incoming []model.Bar) (Change, error) {
	ch := Change{PrevLen: len(s.bars), StaleFrom: -1}
	if err := Validate(incoming); err != nil {
		return ch, err
	}

	var lastMs int64
	if len(s.bars) > 0 {
		lastMs = s.bars[len(s.bars)-1].Millis()
	}

	// Bars before the first incoming timestamp are untouched.
	start := s.search(incoming[0].Millis())
	old := s.bars[start:]
	tail := make([]model.Bar, 0, len(old)+len(incoming))

	i, j := 0, 0
	for i < len(old) || j < len(incoming) {
		idx := start + len(tail)
		switch {
		case j >= len(incoming):
			tail = append(tail, old[i])
			i++

		case i >= len(old) || incoming[j].Millis() < old[i].Millis():
			tail = append(tail, incoming[j])
			ch.Added = append(ch.Added, idx)
			ch.Changed = append(ch.Changed, idx)
			if len(s.bars) > 0 && incoming[j].Millis() < lastMs {
				ch.Inserted++
			} else {
				ch.Appended++
			}
			j++

		case incoming[j].Millis() == old[i].Millis():
			tail = append(tail, incoming[j])
			if !incoming[j].Equal(old[i]) {
				ch.Replaced++
				ch.Changed = append(ch.Changed, idx)
			}
			i++
			j++

		default:
			tail = append(tail, old[i])
			i++
		}
	}

	if len(ch.Changed) == 0 {
		return ch, nil
	}

	merged := make([]model.Bar, 0, start+len(tail))
	merged = append(merged, s.bars[:start]...)
	merged = append(merged, tail...)
	s.bars = merged

	ch.StaleFrom = ch.Changed[0]
	ch.StaleSince = s.bars[ch.StaleFrom].TS
	return ch, nil
}

// Merge is the pure form: existing is left untouched and a new series is returned.
func Merge(existing *Series, incoming []model.Bar) (*Series, Change, error) {
	out := existing.Clone()
	ch, err := out.Merge(incoming)
	if err != nil {
		return existing, ch, err
	}
	return out, ch, nil
}

// Retention bounds the series length. MaxBars 0 means unbounded.
type Retention struct {
	MaxBars int `yaml:"max_bars" validate:"gte=0"`
}

// Excess returns how many of the oldest bars a series of length n must drop.
func (r Retention) Excess(n int) int {
	if r.MaxBars <= 0 || n <= r.MaxBars {
		return 0
	}
	return n - r.MaxBars
}
