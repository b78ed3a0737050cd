// Package httpapi implements the read-only downstream HTTP API from
// spec.md §6 / SPEC_FULL.md §4.8: health, latest/historical prices, and
// whale-transaction projections, consumed by the out-of-scope dashboard
// UI. Grounded on the teacher's internal/api/routes.go (gin route
// grouping, CORS middleware, rate-limited groups) adapted from a
// forensics API surface to a read-only price/whale projection surface.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/utxoracle-live/pkg/models"
)

// HealthCheck reports one component's liveness for GET /health.
type HealthCheck struct {
	Name string
	Fn   func(ctx context.Context) error
}

// PriceHistoryReader projects daily aggregates for GET /prices/historical.
type PriceHistoryReader interface {
	RecentDailyAggregates(ctx context.Context, days int) ([]models.DailyPriceAggregate, error)
}

// Server wires gin handlers to the pipeline's live state.
type Server struct {
	engine *gin.Engine

	latestEstimate func() (models.PriceEstimate, bool)
	history        PriceHistoryReader
	whales         *whaleLog
	checks         []HealthCheck
	startedAt      time.Time

	allowedOrigins map[string]struct{}
}

// NewServer constructs the gin engine and registers all routes. latestEstimate
// returns the Aggregator's most recent tick and whether one has ever been
// computed; history may be nil if the historical batch job's table isn't
// wired up yet (the endpoint then reports an empty array).
func NewServer(latestEstimate func() (models.PriceEstimate, bool), history PriceHistoryReader, allowedOrigins []string, checks []HealthCheck) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine:         gin.New(),
		latestEstimate: latestEstimate,
		history:        history,
		whales:         newWhaleLog(10_000),
		checks:         checks,
		startedAt:      time.Now(),
		allowedOrigins: toSet(allowedOrigins),
	}
	s.engine.Use(gin.Recovery())
	s.engine.Use(s.corsMiddleware())
	s.registerRoutes()
	return s
}

// RecordWhaleAlert feeds a broadcast whale alert into the API's
// in-memory projection log. Called by the Orchestrator alongside the
// Broadcaster fan-out.
func (s *Server) RecordWhaleAlert(alert models.WhaleAlert) {
	s.whales.record(alert)
}

// Handler returns the http.Handler to mount on an *http.Server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func toSet(items []string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, i := range items {
		if i == "" {
			continue
		}
		m[i] = struct{}{}
	}
	return m
}
