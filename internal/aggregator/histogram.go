package aggregator

import "math"

// binWidth is the log-space bin granularity: natural-log units per bin.
// ln(10) ≈ 2.3026, so a width of 0.05 gives ~46 bins per decade — enough
// resolution to separate round-number spikes from their neighbors
// without so many bins that sample counts per bin go to zero.
const binWidth = 0.05

// histogram is a sparse, log-spaced weighted histogram of USD-denominated
// output values, reprojected against a candidate price. Bins are keyed
// by floor(ln(usd) / binWidth); the map stays sparse because any given
// tick's window only populates bins actually hit.
type histogram struct {
	bins map[int]float64
}

func newHistogram() *histogram {
	return &histogram{bins: make(map[int]float64)}
}

// binIndex computes the log-space bin for a satoshi value reprojected at
// candidate price (USD per BTC).
func binIndex(valueSats int64, priceGuess float64) (idx int, usd float64, ok bool) {
	if priceGuess <= 0 || valueSats <= 0 {
		return 0, 0, false
	}
	usd = float64(valueSats) / 1e8 * priceGuess
	if usd <= 0 || math.IsInf(usd, 0) || math.IsNaN(usd) {
		return 0, 0, false
	}
	return int(math.Floor(math.Log(usd) / binWidth)), usd, true
}

// add places a single output value into the histogram at the given
// candidate price, after applying the round-number downweight (spec.md
// §4.5 step 3).
func (h *histogram) add(valueSats int64, priceGuess float64) {
	idx, usd, ok := binIndex(valueSats, priceGuess)
	if !ok {
		return
	}
	weight := roundNumberWeight(usd)
	if weight <= 0 {
		return
	}
	h.bins[idx] += weight
}

// totalWeight sums all bin weights, used for normalization in stencil matching.
func (h *histogram) totalWeight() float64 {
	var total float64
	for _, w := range h.bins {
		total += w
	}
	return total
}
