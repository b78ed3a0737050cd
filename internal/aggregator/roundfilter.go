package aggregator

import "math"

// roundNumberMantissas are the "nice" leading digits people actually pick
// when they type a USD amount: $100, $200, $250, $500, $1000, and so on
// across every decade. A transaction whose USD-reprojected value lands
// within roundNumberTolerance of one of these, at any power of ten, is
// disproportionately likely to be a human-entered round figure rather
// than a sample of the market's natural payment-size distribution, and
// is downweighted rather than dropped outright (spec.md §4.5 step 3 —
// "downweighted or excluded according to a fixed rule set"; the
// downweight-not-exclude choice is recorded as a DESIGN.md open-question
// decision since the exact rule set is not recoverable from the spec).
var roundNumberMantissas = []float64{1.0, 1.5, 2.0, 2.5, 3.0, 5.0, 7.5}

const roundNumberTolerance = 0.01 // 1% relative tolerance
const roundNumberDownweight = 0.15

// roundNumberWeight returns the sample weight for a USD value: 1.0 for an
// ordinary value, roundNumberDownweight when it lands on a round figure.
func roundNumberWeight(usd float64) float64 {
	if usd <= 0 {
		return 0
	}
	decade := math.Pow(10, math.Floor(math.Log10(usd)))
	mantissa := usd / decade
	for _, m := range roundNumberMantissas {
		if math.Abs(mantissa-m)/m <= roundNumberTolerance {
			return roundNumberDownweight
		}
	}
	return 1.0
}
