package pricing

import "testing"

func TestEstimate(t *testing.T) {
	e := Estimator{Base: 25, PerKm: 10, PerMinute: 2}
	got := e.Estimate(3, 600) // 25 + 30 + 20
	if got != 75 {
		t.Fatalf("expected 75, got %f", got)
	}
}

func TestEstimateNeverBelowBase(t *testing.T) {
	e := Default()
	if got := e.Estimate(0, 0); got != e.Base {
		t.Fatalf("expected base fare %f, got %f", e.Base, got)
	}
	if got := e.Estimate(-5, -10); got != e.Base {
		t.Fatalf("negative inputs should clamp to base, got %f", got)
	}
}
