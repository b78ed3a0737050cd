// Package urgency implements the Urgency Scorer from spec.md §4.4: it
// holds the latest FeeSnapshot behind an atomic pointer swap and scores
// a transaction's fee rate against it with a pure, deterministic
// function. Grounded on the teacher's atomic-pointer "latest reading"
// pattern used for scanner progress counters in
// internal/scanner/block_scanner.go, generalized from int64 counters to
// a snapshot struct.
package urgency

import (
	"sync/atomic"
	"time"

	"github.com/rawblock/utxoracle-live/pkg/models"
)

// staleSnapshotMaxAge is the default from spec.md §4.4.
const staleSnapshotMaxAge = 10 * time.Minute

// Scorer holds the latest FeeSnapshot and scores transactions against it.
type Scorer struct {
	snapshot atomic.Pointer[models.FeeSnapshot]
}

// New constructs an empty Scorer; no snapshot is available until SetSnapshot
// is called, so scores will be treated as maximally stale until then.
func New() *Scorer {
	return &Scorer{}
}

// SetSnapshot atomically replaces the current snapshot. Only the single
// refresh task (the fee-market adapter's consumer) should call this.
func (s *Scorer) SetSnapshot(snap models.FeeSnapshot) {
	s.snapshot.Store(&snap)
}

// Snapshot returns the latest snapshot, or nil if none has ever been set.
func (s *Scorer) Snapshot() *models.FeeSnapshot {
	return s.snapshot.Load()
}

// Score is the pure scoring function from spec.md §4.4: percentile bucket
// via linear interpolation, piecewise-linear urgency mapping, level
// bucketing, and predicted-confirmation-block estimate. It reads only
// the snapshot pointer passed in, so repeated calls with the same
// (feeRate, snapshot, now) yield the same result regardless of scorer state.
func Score(feeRate float64, snap *models.FeeSnapshot, now time.Time) models.WhaleAlert {
	stale := snap.Stale(staleSnapshotMaxAge, now)

	var score float64
	var tipHeight int64
	if snap != nil {
		tipHeight = snap.TipHeight
	}
	if stale || snap == nil || len(snap.Percentiles) == 0 {
		score = mediumDegradedScore
	} else {
		pct := percentileOf(feeRate, snap.Percentiles)
		score = urgencyFromPercentile(pct)
	}

	level := levelFromScore(score)
	predicted := tipHeight + confirmBlocksFromScore(score)

	return models.WhaleAlert{
		UrgencyScore:          score,
		UrgencyLevel:          level,
		PredictedConfirmBlock: predicted,
		StaleSnapshot:         stale || snap == nil,
	}
}

// mediumDegradedScore is chosen in the middle of the MEDIUM band
// (score in [0.4, 0.7)) so a degraded read never masquerades as either
// boundary case.
const mediumDegradedScore = 0.5

// percentileOf maps a fee rate onto the snapshot's percentile curve via
// linear interpolation between the known percentile points, per
// spec.md §4.4. Percentiles outside the known range clamp to the nearest
// known bucket.
func percentileOf(feeRate float64, percentiles map[int]float64) float64 {
	type point struct {
		pct  float64
		rate float64
	}
	pts := make([]point, 0, len(percentiles))
	for pct, rate := range percentiles {
		pts = append(pts, point{pct: float64(pct), rate: rate})
	}
	// Simple insertion sort: the percentile set is always small (<=10 points).
	for i := 1; i < len(pts); i++ {
		for j := i; j > 0 && pts[j].rate < pts[j-1].rate; j-- {
			pts[j], pts[j-1] = pts[j-1], pts[j]
		}
	}

	if len(pts) == 0 {
		return 50
	}
	if feeRate <= pts[0].rate {
		return pts[0].pct
	}
	last := pts[len(pts)-1]
	if feeRate >= last.rate {
		return last.pct
	}
	for i := 1; i < len(pts); i++ {
		lo, hi := pts[i-1], pts[i]
		if feeRate >= lo.rate && feeRate <= hi.rate {
			if hi.rate == lo.rate {
				return lo.pct
			}
			frac := (feeRate - lo.rate) / (hi.rate - lo.rate)
			return lo.pct + frac*(hi.pct-lo.pct)
		}
	}
	return last.pct
}

// urgencyFromPercentile implements the piecewise-linear map in spec.md
// §4.4: {p<=10: 0.0-0.2, p10-25: 0.2-0.4, p25-50: 0.4-0.6, p50-75:
// 0.6-0.8, p75-90: 0.8-0.95, p>=90: 0.95-1.0}.
func urgencyFromPercentile(p float64) float64 {
	switch {
	case p <= 10:
		return lerp(p, 0, 10, 0.0, 0.2)
	case p <= 25:
		return lerp(p, 10, 25, 0.2, 0.4)
	case p <= 50:
		return lerp(p, 25, 50, 0.4, 0.6)
	case p <= 75:
		return lerp(p, 50, 75, 0.6, 0.8)
	case p <= 90:
		return lerp(p, 75, 90, 0.8, 0.95)
	default:
		return lerp(clampMax(p, 100), 90, 100, 0.95, 1.0)
	}
}

func lerp(x, x0, x1, y0, y1 float64) float64 {
	if x1 == x0 {
		return y0
	}
	frac := (x - x0) / (x1 - x0)
	return y0 + frac*(y1-y0)
}

func clampMax(x, max float64) float64 {
	if x > max {
		return max
	}
	return x
}

func levelFromScore(score float64) models.UrgencyLevel {
	switch {
	case score < 0.4:
		return models.UrgencyLow
	case score < 0.7:
		return models.UrgencyMedium
	default:
		return models.UrgencyHigh
	}
}

// confirmBlocksFromScore implements spec.md §4.4's predictedConfirmBlock
// horizon: tipHeight + (1 if score>=0.75 else 3 if score>=0.5 else 6).
func confirmBlocksFromScore(score float64) int64 {
	switch {
	case score >= 0.75:
		return 1
	case score >= 0.5:
		return 3
	default:
		return 6
	}
}
