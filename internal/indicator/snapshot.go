package indicator

// State is the recursive MACD state after one point. Replays resume from
// the State of the point just before the first stale index.
type State struct {
	Short  float64 `json:"ema_short"`
	Long   float64 `json:"ema_long"`
	Signal float64 `json:"signal"`
}

// Snapshot captures the current EMA values.
func (m *MACD) Snapshot() State {
	return State{
		Short:  m.short.Value(),
		Long:   m.long.Value(),
		Signal: m.signal.Value(),
	}
}

// Restore seeds all three EMAs from a snapshot.
func (m *MACD) Restore(st State) {
	m.short.Seed(st.Short)
	m.long.Seed(st.Long)
	m.signal.Seed(st.Signal)
}
