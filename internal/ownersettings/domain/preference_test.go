package domain

import "testing"

func TestClampMinutes(t *testing.T) {
	tests := []struct {
		m, max, want int
	}{
		{30, 10080, 30},
		{0, 10080, DefaultLockMinutes},
		{-5, 10080, DefaultLockMinutes},
		{20000, 10080, 10080},
		{0, 30, 30},
		{1, 0, 1},
	}
	for _, tt := range tests {
		if got := ClampMinutes(tt.m, tt.max); got != tt.want {
			t.Errorf("ClampMinutes(%d, %d) = %d, want %d", tt.m, tt.max, got, tt.want)
		}
	}
}
