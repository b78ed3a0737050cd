package aggregator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/rawblock/utxoracle-live/internal/logging"
	"github.com/rawblock/utxoracle-live/pkg/models"
)

// Config holds the Aggregator's tunables, matching spec.md §6's
// configuration surface and §4.5's defaults.
type Config struct {
	TickInterval        time.Duration
	RollingWindow       time.Duration
	MaxWindowEntries    int
	MinSamples          int
	MinEmitConfidence   float64
	EmitDeltaRel        float64
	MaxStepRel          float64
	MaxSearchIterations int
	InitialPriceGuess   float64
}

// DefaultConfig returns spec.md §4.5/§6's documented defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:        500 * time.Millisecond,
		RollingWindow:       3 * time.Hour,
		MaxWindowEntries:    2_000_000,
		MinSamples:          1000,
		MinEmitConfidence:   0.6,
		EmitDeltaRel:        0.002,
		MaxStepRel:          0.05,
		MaxSearchIterations: 6,
		InitialPriceGuess:   50_000,
	}
}

// Aggregator maintains the rolling UTXOracle model. It is single-writer:
// Observe and Tick must be called from the same goroutine (the
// Orchestrator's dispatcher), matching spec.md §5's "Ticks never share
// state across goroutines" rule.
type Aggregator struct {
	cfg Config
	log *slog.Logger

	window     *rollingWindow
	stencilRef *stencil

	priceGuess     float64
	lastEmitted    float64
	lastEmittedSet bool
	nextTickID     int64
	pendingSince   time.Time
	arrivalsSince  int
}

// New constructs an Aggregator seeded with cfg.InitialPriceGuess — the
// batch reference's bootstrap price, since the stencil search needs a
// starting point before any convergence has happened.
func New(cfg Config) *Aggregator {
	return &Aggregator{
		cfg:        cfg,
		log:        logging.For("aggregator"),
		window:     newRollingWindow(cfg.RollingWindow, cfg.MaxWindowEntries),
		stencilRef: buildStencil(),
		priceGuess: cfg.InitialPriceGuess,
	}
}

// Observe records a newly seen transaction's outputs into the rolling
// window. Called once per transaction from the Orchestrator's dispatcher.
func (a *Aggregator) Observe(tx models.ParsedTransaction, seenAt time.Time) {
	for _, out := range tx.Outputs {
		if out.Value <= 0 {
			continue
		}
		a.window.add(out.Value, seenAt)
	}
	a.arrivalsSince += len(tx.Outputs)
}

// minDeltaForOpportunisticTick is the arrival count, per spec.md §4.5,
// that triggers a tick between timer ticks when outputs arrive quickly.
const minDeltaForOpportunisticTick = 200

// ShouldTickOpportunistically reports whether enough outputs have
// arrived since the last tick to justify computing early, independent of
// the fixed timer.
func (a *Aggregator) ShouldTickOpportunistically() bool {
	return a.arrivalsSince >= minDeltaForOpportunisticTick
}

// Tick runs one full aggregation pass (spec.md §4.5 steps 1-7) and
// returns a PriceEstimate plus whether it should be emitted. On any
// single-tick failure (degenerate histogram, empty window) the previous
// estimate is preserved and ok is false — no tickId is consumed.
func (a *Aggregator) Tick(now time.Time) (estimate models.PriceEstimate, ok bool) {
	a.arrivalsSince = 0
	a.window.evict(now)

	sampleSize := a.window.len()
	if sampleSize == 0 {
		return models.PriceEstimate{}, false
	}

	hist := newHistogram()
	for _, e := range a.window.entries {
		hist.add(e.valueSats, a.priceGuess)
	}
	if hist.totalWeight() == 0 {
		a.log.Warn("degenerate histogram, preserving previous estimate")
		return models.PriceEstimate{}, false
	}

	bestPrice, bestMatch := a.searchBestPrice()

	alpha := alphaFromMatch(bestMatch)
	proposed := (1-alpha)*a.priceGuess + alpha*bestPrice
	clamped := clampStep(a.priceGuess, proposed, a.cfg.MaxStepRel)
	a.priceGuess = clamped

	confidence := a.computeConfidence(bestMatch, sampleSize, now)

	a.nextTickID++
	estimate = models.PriceEstimate{
		TickID:          a.nextTickID,
		WallTime:        now,
		PriceUSD:        a.priceGuess,
		Confidence:      confidence,
		SampleSize:      sampleSize,
		HistogramDigest: digestHistogram(hist),
	}

	shouldEmit := confidence >= a.cfg.MinEmitConfidence || a.deltaExceeds(a.priceGuess)
	if shouldEmit {
		a.lastEmitted = a.priceGuess
		a.lastEmittedSet = true
	}
	return estimate, shouldEmit
}

func (a *Aggregator) deltaExceeds(price float64) bool {
	if !a.lastEmittedSet || a.lastEmitted == 0 {
		return true
	}
	rel := math.Abs(price-a.lastEmitted) / a.lastEmitted
	return rel >= a.cfg.EmitDeltaRel
}

// searchBestPrice implements spec.md §4.5 step 5: geometric search over
// [0.8*priceGuess, 1.25*priceGuess], widening one step at a time when the
// best candidate lands on an edge, up to MaxSearchIterations attempts.
func (a *Aggregator) searchBestPrice() (price float64, match float64) {
	const (
		lowRatio  = 0.8
		highRatio = 1.25
		candidateCount = 9
	)

	low := a.priceGuess * lowRatio
	high := a.priceGuess * highRatio

	bestPrice := a.priceGuess
	bestMatch := -1.0

	iterations := a.cfg.MaxSearchIterations
	if iterations <= 0 {
		iterations = 1
	}

	for i := 0; i < iterations; i++ {
		candidates := geomSpace(low, high, candidateCount)
		localBestIdx := -1
		localBestMatch := -1.0
		for idx, p := range candidates {
			hist := newHistogram()
			for _, e := range a.window.entries {
				hist.add(e.valueSats, p)
			}
			m := a.stencilRef.match(hist)
			if m > localBestMatch {
				localBestMatch = m
				localBestIdx = idx
			}
		}
		if localBestMatch > bestMatch {
			bestMatch = localBestMatch
			bestPrice = candidates[localBestIdx]
		}

		atLowEdge := localBestIdx == 0
		atHighEdge := localBestIdx == len(candidates)-1
		if !atLowEdge && !atHighEdge {
			break
		}
		if atLowEdge {
			high = low
			low = low * lowRatio
		}
		if atHighEdge {
			low = high
			high = high * highRatio
		}
	}

	return bestPrice, bestMatch
}

// geomSpace returns n geometrically spaced points between low and high
// inclusive.
func geomSpace(low, high float64, n int) []float64 {
	if n < 2 || low <= 0 || high <= 0 {
		return []float64{low}
	}
	out := make([]float64, n)
	logLow := math.Log(low)
	logHigh := math.Log(high)
	step := (logHigh - logLow) / float64(n-1)
	for i := 0; i < n; i++ {
		out[i] = math.Exp(logLow + step*float64(i))
	}
	return out
}

// alphaFromMatch maps stencil-match strength to the convergence-smoothing
// weight: a strong match pulls the guess toward P* faster, matching
// spec.md §4.5 step 6's "high match -> larger alpha" rule.
func alphaFromMatch(match float64) float64 {
	const minAlpha, maxAlpha = 0.05, 0.5
	if match < 0 {
		match = 0
	}
	if match > 1 {
		match = 1
	}
	return minAlpha + match*(maxAlpha-minAlpha)
}

// clampStep bounds the relative movement from guess to proposed at
// maxStepRel, per spec.md §4.5 step 6.
func clampStep(guess, proposed, maxStepRel float64) float64 {
	if guess <= 0 {
		return proposed
	}
	delta := proposed - guess
	rel := delta / guess
	if rel > maxStepRel {
		return guess * (1 + maxStepRel)
	}
	if rel < -maxStepRel {
		return guess * (1 - maxStepRel)
	}
	return proposed
}

// computeConfidence combines stencil-match strength, sample size and
// recency density into [0,1], zero when sampleSize < minSamples per
// spec.md §3's PriceEstimate invariant.
func (a *Aggregator) computeConfidence(match float64, sampleSize int, now time.Time) float64 {
	if sampleSize < a.cfg.MinSamples {
		return 0
	}
	sizeFactor := math.Min(1, float64(sampleSize)/float64(a.cfg.MinSamples*3))
	recency := a.recencyDensity(now)
	conf := match * sizeFactor * recency
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

// recencyDensity returns 0.5 + 0.5*f, where f is the fraction of window
// entries seen within the last quarter of the rolling window, as a proxy
// for "is this a live, densely sampled window" versus a sparse tail left
// over from a quiet period. The result lies in [0.5, 1].
func (a *Aggregator) recencyDensity(now time.Time) float64 {
	if a.window.len() == 0 {
		return 0
	}
	quarter := a.cfg.RollingWindow / 4
	cutoff := now.Add(-quarter)
	var recent int
	for _, e := range a.window.entries {
		if e.seenAt.After(cutoff) {
			recent++
		}
	}
	total := a.window.len()
	frac := float64(recent) / float64(total)
	// A healthy live feed has at least some recent activity; fully idle
	// windows (frac==0) should not silently retain high confidence.
	if frac > 1 {
		frac = 1
	}
	return 0.5 + 0.5*frac
}

// digestHistogram produces a short stable fingerprint of the bin
// weights for PriceEstimate.HistogramDigest, sorted by bin index so the
// digest is deterministic regardless of map iteration order.
func digestHistogram(h *histogram) string {
	idxs := make([]int, 0, len(h.bins))
	for idx := range h.bins {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)

	hasher := sha256.New()
	for _, idx := range idxs {
		fmt.Fprintf(hasher, "%d:%.4f;", idx, h.bins[idx])
	}
	sum := hasher.Sum(nil)
	return hex.EncodeToString(sum[:8])
}
