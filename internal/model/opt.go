package model

// Opt is an optional float64. An undefined value is never read as zero.
type Opt struct {
	Val   float64
	Valid bool
}

// Some returns a defined value.
func Some(v float64) Opt { return Opt{Val: v, Valid: true} }

// None is the undefined value.
var None = Opt{}

// Ptr returns a pointer to the value, or nil when undefined.
func (o Opt) Ptr() *float64 {
	if !o.Valid {
		return nil
	}
	v := o.Val
	return &v
}
