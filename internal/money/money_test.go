package money

import (
	"math"
	"testing"
)

func TestToMinor(t *testing.T) {
	tests := []struct {
		name  string
		major float64
		want  int64
	}{
		{"whole pesos", 300.00, 30000},
		{"two decimals", 299.99, 29999},
		{"single centavo", 0.01, 1},
		{"zero", 0, 0},
		{"half rounds up", 0.125, 13},
		{"below half rounds down", 0.124, 12},
		{"negative passes through", -1.25, -125},
		{"large amount", 98765.43, 9876543},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToMinor(tt.major); got != tt.want {
				t.Errorf("ToMinor(%v) = %d, want %d", tt.major, got, tt.want)
			}
		})
	}
}

func TestToMajorExact(t *testing.T) {
	tests := []struct {
		minor int64
		want  float64
	}{
		{30000, 300.00},
		{1, 0.01},
		{0, 0},
		{-125, -1.25},
	}
	for _, tt := range tests {
		if got := ToMajor(tt.minor); got != tt.want {
			t.Errorf("ToMajor(%d) = %v, want %v", tt.minor, got, tt.want)
		}
	}
}

// Converting a major amount to centavos and back lands on the same
// two-decimal value.
func TestRoundTrip(t *testing.T) {
	amounts := []float64{0, 0.01, 0.99, 1, 42.42, 300, 299.99, 12345.67, 99999.99}
	for _, a := range amounts {
		back := ToMajor(ToMinor(a))
		if math.Abs(back-a) > 1e-9 {
			t.Errorf("round trip of %v = %v", a, back)
		}
	}
}

func TestArithmetic(t *testing.T) {
	if got := Add(100, 250); got != 350 {
		t.Errorf("Add = %d", got)
	}
	if got := Subtract(100, 250); got != -150 {
		t.Errorf("Subtract = %d", got)
	}
	if Compare(1, 2) != -1 || Compare(2, 1) != 1 || Compare(5, 5) != 0 {
		t.Error("Compare ordering wrong")
	}
}

func TestFee(t *testing.T) {
	tests := []struct {
		name  string
		gross int64
		bps   int64
		want  int64
	}{
		{"ten percent", 30000, 1000, 3000},
		{"zero rate", 30000, 0, 0},
		{"zero gross", 0, 1000, 0},
		{"rounds half up", 105, 1000, 11},
		{"rounds down below half", 33333, 1000, 3333},
		{"full rate", 5000, 10000, 5000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Fee(tt.gross, tt.bps); got != tt.want {
				t.Errorf("Fee(%d, %d) = %d, want %d", tt.gross, tt.bps, got, tt.want)
			}
		})
	}
}

func TestFormatPHP(t *testing.T) {
	tests := []struct {
		minor int64
		want  string
	}{
		{123456, "₱1,234.56"},
		{5, "₱0.05"},
		{-10050, "-₱100.50"},
		{1000000, "₱10,000.00"},
		{0, "₱0.00"},
	}
	for _, tt := range tests {
		if got := FormatPHP(tt.minor); got != tt.want {
			t.Errorf("FormatPHP(%d) = %q, want %q", tt.minor, got, tt.want)
		}
	}
}
