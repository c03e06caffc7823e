package indicator

import "crypto-signalv1/internal/series"

// Range is a half-open index range [From, To).
type Range struct {
	From int
	To   int
}

func (r Range) Len() int { return r.To - r.From }

// Plan lists the points a merge made stale.
//
// A changed bar at i affects every trailing window that contains it, i.e.
// points [i, i+window-1]. An insertion shifts all later windows, so
// everything from the insertion point is stale. EMA values depend on the
// whole prefix, so they are stale from the first changed index to the end.
type Plan struct {
	Windowed []Range
	EMAFrom  int
}

// NewPlan derives the invalidation plan for a series of length n.
func NewPlan(ch series.Change, n, window int) Plan {
	if ch.Empty() {
		return Plan{EMAFrom: n}
	}
	p := Plan{EMAFrom: ch.StaleFrom}

	if ch.Shifted() {
		p.Windowed = []Range{{From: ch.StaleFrom, To: n}}
		return p
	}

	for _, i := range ch.Changed {
		r := Range{From: i, To: min(i+window, n)}
		if k := len(p.Windowed) - 1; k >= 0 && r.From <= p.Windowed[k].To {
			p.Windowed[k].To = max(p.Windowed[k].To, r.To)
			continue
		}
		p.Windowed = append(p.Windowed, r)
	}
	return p
}

// WindowedCount returns the number of windowed points to recompute.
func (p Plan) WindowedCount() int {
	total := 0
	for _, r := range p.Windowed {
		total += r.Len()
	}
	return total
}
