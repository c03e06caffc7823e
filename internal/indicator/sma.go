package indicator

import "math"

// windowStats returns the arithmetic mean and the sample (n-1) standard
// deviation of xs. A window of identical values has exactly zero deviation.
func windowStats(xs []float64) (mean, std float64) {
	lo, hi := xs[0], xs[0]
	var sum float64
	for _, x := range xs {
		sum += x
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	if lo == hi {
		return lo, 0
	}

	n := float64(len(xs))
	mean = sum / n

	// Two passes: squared deviations from the settled mean.
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / (n - 1))
}

// Bands is one Moving Average / Bollinger Bands reading.
type Bands struct {
	MA    float64
	Upper float64
	Lower float64
}

// bollinger computes the bands for the trailing window xs.
func bollinger(xs []float64, k float64) Bands {
	ma, std := windowStats(xs)
	return Bands{MA: ma, Upper: ma + k*std, Lower: ma - k*std}
}
