// Package shadow defines the SignalSource plug-in point spec.md §1 names
// as an external collaborator ("the advanced analytics modules
// (power-law/symbolic/fractal fusion) which plug into the broadcaster as
// optional signal sources") and a harness for evaluating a candidate
// source against the production Price Aggregator before it is promoted
// live. Grounded on the teacher's internal/shadow/shadow_runner.go
// production-vs-experimental A/B comparison pattern, generalized from a
// fixed pair of heuristic implementations to an arbitrary SignalSource.
package shadow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rawblock/utxoracle-live/internal/logging"
	"github.com/rawblock/utxoracle-live/pkg/models"
)

// SignalSource is the plug point an external analytics module implements
// to offer an alternative price estimate alongside the production
// Aggregator's output. This repository never implements a concrete
// power-law/symbolic/fractal source itself — those remain external
// collaborators per spec.md §1 — but does implement the interface and a
// harness to evaluate one.
type SignalSource interface {
	Name() string
	Estimate(ctx context.Context, window []models.ParsedTransaction, productionGuess float64) (models.PriceEstimate, error)
}

// Comparison is one shadow-mode evaluation of a candidate SignalSource
// against the production estimate for the same tick.
type Comparison struct {
	TickID           int64
	ProductionPrice  float64
	CandidatePrice   float64
	RelativeDeltaAbs float64
	CandidateError   error
	EvaluatedAt       time.Time
}

// Runner evaluates a candidate SignalSource in parallel with the
// production Aggregator without ever influencing the production output,
// recording a rolling drift history. Grounded on the teacher's
// ShadowRunner/GenerateDriftReport shape.
type Runner struct {
	mu        sync.Mutex
	candidate SignalSource
	history   []Comparison
	maxHist   int
	log       *slog.Logger
}

// NewRunner constructs a Runner retaining up to maxHistory comparisons.
func NewRunner(candidate SignalSource, maxHistory int) *Runner {
	if maxHistory <= 0 {
		maxHistory = 500
	}
	return &Runner{candidate: candidate, maxHist: maxHistory, log: logging.For("shadow.runner")}
}

// Evaluate runs the candidate source against the same window the
// production Aggregator just ticked on and records the comparison. It
// never returns an error to the caller: a candidate failure is recorded
// in the comparison's CandidateError field rather than disrupting the
// production pipeline, matching spec.md §7's "never propagate" policy
// for anything outside the core pipeline's own error taxonomy.
func (r *Runner) Evaluate(ctx context.Context, tickID int64, window []models.ParsedTransaction, production models.PriceEstimate) Comparison {
	est, err := r.candidate.Estimate(ctx, window, production.PriceUSD)

	cmp := Comparison{
		TickID:          tickID,
		ProductionPrice: production.PriceUSD,
		CandidateError:  err,
		EvaluatedAt:     time.Now(),
	}
	if err == nil {
		cmp.CandidatePrice = est.PriceUSD
		if production.PriceUSD != 0 {
			cmp.RelativeDeltaAbs = absFloat((est.PriceUSD - production.PriceUSD) / production.PriceUSD)
		}
	} else {
		r.log.Warn("shadow candidate failed", "source", r.candidate.Name(), "error", err)
	}

	r.mu.Lock()
	r.history = append(r.history, cmp)
	if len(r.history) > r.maxHist {
		r.history = r.history[len(r.history)-r.maxHist:]
	}
	r.mu.Unlock()

	return cmp
}

// DriftReport summarizes mean and max relative drift across retained
// history, for operators deciding whether to promote a candidate.
type DriftReport struct {
	SourceName     string
	SampleCount    int
	MeanRelative   float64
	MaxRelative    float64
	FailureCount   int
}

// Report computes a DriftReport over the currently retained history.
func (r *Runner) Report() DriftReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep := DriftReport{SourceName: r.candidate.Name()}
	var sum float64
	for _, c := range r.history {
		if c.CandidateError != nil {
			rep.FailureCount++
			continue
		}
		rep.SampleCount++
		sum += c.RelativeDeltaAbs
		if c.RelativeDeltaAbs > rep.MaxRelative {
			rep.MaxRelative = c.RelativeDeltaAbs
		}
	}
	if rep.SampleCount > 0 {
		rep.MeanRelative = sum / float64(rep.SampleCount)
	}
	return rep
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
