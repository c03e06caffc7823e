package risk

import (
	"errors"
	"math"
	"testing"

	"crypto-signalv1/internal/model"
)

func TestLeverage_Defaults(t *testing.T) {
	// (10 · 0.1) / (0.05 · 10) = 1 / 0.5 = 2
	cases := []struct {
		sig  model.Signal
		want float64
	}{
		{model.SignalBuy, 2.0},
		{model.SignalSell, 2.0},
		{model.SignalHold, 1.0},
	}
	for _, tc := range cases {
		got := Leverage(10, tc.sig, DefaultParams()).Multiple
		if math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("%v: leverage %v, want %v", tc.sig, got, tc.want)
		}
	}
}

func TestLeverage_IndependentOfPrincipal(t *testing.T) {
	p := Params{RiskRatio: 0.3, StopLossFraction: 0.02}
	for _, principal := range []float64{1, 10, 12345.678} {
		got := Leverage(principal, model.SignalBuy, p).Multiple
		if math.Abs(got-15) > 1e-9 {
			t.Errorf("principal %v: leverage %v, want 15", principal, got)
		}
	}
}

func TestLeverage_Uncapped(t *testing.T) {
	got := Leverage(100, model.SignalBuy, Params{RiskRatio: 1, StopLossFraction: 0.001}).Multiple
	if math.Abs(got-1000) > 1e-9 {
		t.Errorf("leverage %v, want 1000 (no cap)", got)
	}
}

func TestNewSizer_Validation(t *testing.T) {
	for _, principal := range []float64{0, -5, math.Inf(1), math.NaN()} {
		if _, err := NewSizer(principal, DefaultParams()); !errors.Is(err, ErrInvalidPrincipal) {
			t.Errorf("principal %v: expected ErrInvalidPrincipal, got %v", principal, err)
		}
	}
	if _, err := NewSizer(10, Params{RiskRatio: 0.1}); err == nil {
		t.Error("expected error for zero stop-loss fraction")
	}

	s, err := NewSizer(10, DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Suggest(model.SignalBuy).Multiple; math.Abs(got-2) > 1e-12 {
		t.Errorf("Suggest(buy) = %v, want 2", got)
	}
}
