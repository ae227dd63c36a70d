package util

import (
	"math"
	"testing"
)

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		name     string
		x        float64
		tick     float64
		expected float64
	}{
		{
			name:     "basic rounding down",
			x:        1.2345,
			tick:     0.01,
			expected: 1.23,
		},
		{
			name:     "negative basic rounding",
			x:        -1.2345,
			tick:     0.01,
			expected: -1.23,
		},
		{
			name:     "larger tick size",
			x:        447.3,
			tick:     2.5,
			expected: 447.5,
		},
		{
			name:     "zero tick returns input",
			x:        1.2345,
			tick:     0,
			expected: 1.2345,
		},
		{
			name:     "negative tick returns input",
			x:        3.3,
			tick:     -0.5,
			expected: 3.3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RoundToTick(tt.x, tt.tick)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("RoundToTick(%v, %v) = %v, want %v", tt.x, tt.tick, got, tt.expected)
			}
		})
	}
}

func TestStrikeThousandths(t *testing.T) {
	tests := []struct {
		strike float64
		want   int64
	}{
		{750, 750000},
		{447.5, 447500},
		{0.001, 1},
		{12.345, 12345},
		{99.9999, 100000},
	}
	for _, tt := range tests {
		if got := StrikeThousandths(tt.strike); got != tt.want {
			t.Errorf("StrikeThousandths(%v) = %d, want %d", tt.strike, got, tt.want)
		}
	}
}

func TestCompareStrikes(t *testing.T) {
	if CompareStrikes(100, 105) != -1 {
		t.Error("expected 100 < 105")
	}
	if CompareStrikes(105, 100) != 1 {
		t.Error("expected 105 > 100")
	}
	// 0.1+0.2 is not exactly 0.3 in float64, but the strikes are equal at OCC precision
	if CompareStrikes(0.1+0.2, 0.3) != 0 {
		t.Error("expected strikes equal at 1/1000 precision")
	}
}
