package indicator

// EMA is an exponential moving average seeded with its first input:
// EMA_0 = x_0, EMA_t = EMA_{t-1} + α·(x_t − EMA_{t-1}), α = 2/(span+1).
// O(1) per update, no window storage.
type EMA struct {
	span    int
	alpha   float64
	current float64
	count   int
}

// NewEMA creates an EMA with the given span.
func NewEMA(span int) *EMA {
	return &EMA{
		span:  span,
		alpha: 2.0 / float64(span+1),
	}
}

func (e *EMA) Name() string { return "EMA" }

// Update folds x into the average and returns the new value.
func (e *EMA) Update(x float64) float64 {
	if e.count == 0 {
		e.current = x
	} else {
		e.current += e.alpha * (x - e.current)
	}
	e.count++
	return e.current
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count > 0 }

// Seed resumes the average from a previously computed value.
func (e *EMA) Seed(v float64) {
	e.current = v
	e.count = 1
}

// Reset clears the EMA state for reuse.
func (e *EMA) Reset() {
	e.current = 0
	e.count = 0
}

// MACD combines the short, long and signal-line EMAs.
type MACD struct {
	short  *EMA
	long   *EMA
	signal *EMA
}

// NewMACD creates a MACD from the three spans.
func NewMACD(short, long, signal int) *MACD {
	return &MACD{
		short:  NewEMA(short),
		long:   NewEMA(long),
		signal: NewEMA(signal),
	}
}

// Update folds one close and returns the MACD line, signal line and histogram.
func (m *MACD) Update(x float64) (macd, signal, hist float64) {
	macd = m.short.Update(x) - m.long.Update(x)
	signal = m.signal.Update(macd)
	return macd, signal, macd - signal
}
