package tracker

import "testing"

func TestComputeAccuracyS5Scenario(t *testing.T) {
	// spec.md §8 scenario S5: predictedConfirmBlock = H+1, actual = H+2,
	// diff=1 -> timingScore=1.0; accuracy = 0.6*1.0 + 0.4*urgencyScore(diff=-1).
	const h = 100
	got := computeAccuracy(h+1, h+2)
	want := 0.6*1.0 + 0.4*normalizeSignedDiff(-1)
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestTimingScoreFromDiffBounds(t *testing.T) {
	cases := []struct {
		diff int64
		want float64
	}{
		{0, 1.0},
		{1, 1.0},
		{6, 0.5},
		{12, 0.0},
	}
	for _, c := range cases {
		if got := timingScoreFromDiff(c.diff); got != c.want {
			t.Fatalf("diff=%d: expected %v, got %v", c.diff, c.want, got)
		}
	}
}

func TestNormalizeSignedDiffSymmetry(t *testing.T) {
	if v := normalizeSignedDiff(0); v != 0.5 {
		t.Fatalf("expected 0.5 at diff=0, got %v", v)
	}
	if v := normalizeSignedDiff(6); v != 1.0 {
		t.Fatalf("expected 1.0 at diff=+6 (saturated), got %v", v)
	}
	if v := normalizeSignedDiff(-6); v != 0.0 {
		t.Fatalf("expected 0.0 at diff=-6 (saturated), got %v", v)
	}
}
