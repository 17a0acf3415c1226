package token

import "testing"

func TestEstimate(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 0},
		{"ab", 1},
		{"abcdefgh", 4},
		{"héllo wörld", 5},
	}
	for _, tt := range tests {
		if got := Estimate(tt.text); got != tt.want {
			t.Errorf("Estimate(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestEstimateAll(t *testing.T) {
	if got := EstimateAll([]string{"abcd", "efgh", "x"}); got != 4 {
		t.Errorf("EstimateAll = %d, want 4", got)
	}
	if got := EstimateAll(nil); got != 0 {
		t.Errorf("EstimateAll(nil) = %d, want 0", got)
	}
}
