package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/utxoracle-live/pkg/models"
)

type apiError struct {
	Error string `json:"error"`
}

// allowedParams rejects requests carrying query parameters this handler
// doesn't recognize, per spec.md §6's "unknown parameters are a 400".
func allowedParams(c *gin.Context, allowed ...string) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	for key := range c.Request.URL.Query() {
		if _, ok := set[key]; !ok {
			c.JSON(http.StatusBadRequest, apiError{Error: "unknown query parameter: " + key})
			return false
		}
	}
	return true
}

func (s *Server) handleHealth(c *gin.Context) {
	type componentStatus struct {
		Name   string `json:"name"`
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}

	components := make([]componentStatus, 0, len(s.checks))
	overallOK := true
	for _, check := range s.checks {
		cs := componentStatus{Name: check.Name, Status: "ok"}
		if err := check.Fn(c.Request.Context()); err != nil {
			cs.Status = "unavailable"
			cs.Error = err.Error()
			overallOK = false
		}
		components = append(components, cs)
	}

	status := http.StatusOK
	if !overallOK {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":        map[bool]string{true: "ok", false: "degraded"}[overallOK],
		"uptime_sec":    int64(time.Since(s.startedAt).Seconds()),
		"components":    components,
		"subscriber_ws": "/ws",
	})
}

func (s *Server) handleLatestPrice(c *gin.Context) {
	if !allowedParams(c) {
		return
	}
	est, ok := s.latestEstimate()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, apiError{Error: "no price estimate available yet"})
		return
	}
	c.JSON(http.StatusOK, est)
}

func (s *Server) handleHistoricalPrices(c *gin.Context) {
	if !allowedParams(c, "days") {
		return
	}
	days := 7
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 365 {
			c.JSON(http.StatusBadRequest, apiError{Error: "days must be an integer in [1, 365]"})
			return
		}
		days = parsed
	}

	if s.history == nil {
		c.JSON(http.StatusOK, []models.DailyPriceAggregate{})
		return
	}

	rows, err := s.history.RecentDailyAggregates(c.Request.Context(), days)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, apiError{Error: "historical price store unavailable"})
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) handleWhaleTransactions(c *gin.Context) {
	if !allowedParams(c, "hours", "min_btc", "flow_type", "rbf_only", "limit") {
		return
	}

	since := time.Now().Add(-24 * time.Hour)
	if raw := c.Query("hours"); raw != "" {
		hours, err := strconv.ParseFloat(raw, 64)
		if err != nil || hours <= 0 {
			c.JSON(http.StatusBadRequest, apiError{Error: "hours must be a positive number"})
			return
		}
		since = time.Now().Add(-time.Duration(hours * float64(time.Hour)))
	}

	var minBTC float64
	if raw := c.Query("min_btc"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, apiError{Error: "min_btc must be a non-negative number"})
			return
		}
		minBTC = v
	}

	var flowType models.FlowType
	if raw := c.Query("flow_type"); raw != "" {
		ft := models.FlowType(raw)
		switch ft {
		case models.FlowExchangeInflow, models.FlowExchangeOutflow, models.FlowWhaleTransfer, models.FlowUnknown:
			flowType = ft
		default:
			c.JSON(http.StatusBadRequest, apiError{Error: "flow_type must be one of EXCHANGE_INFLOW, EXCHANGE_OUTFLOW, WHALE_TRANSFER, UNKNOWN"})
			return
		}
	}

	var rbfOnly bool
	if raw := c.Query("rbf_only"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, apiError{Error: "rbf_only must be a boolean"})
			return
		}
		rbfOnly = v
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 1000 {
			c.JSON(http.StatusBadRequest, apiError{Error: "limit must be an integer in [1, 1000]"})
			return
		}
		limit = v
	}

	results := s.whales.query(whaleFilter{
		since:    since,
		minBTC:   minBTC,
		flowType: flowType,
		rbfOnly:  rbfOnly,
		limit:    limit,
	})
	c.JSON(http.StatusOK, gin.H{"transactions": results, "count": len(results)})
}

func (s *Server) handleWhaleSummary(c *gin.Context) {
	if !allowedParams(c, "hours") {
		return
	}
	since := time.Now().Add(-24 * time.Hour)
	if raw := c.Query("hours"); raw != "" {
		hours, err := strconv.ParseFloat(raw, 64)
		if err != nil || hours <= 0 {
			c.JSON(http.StatusBadRequest, apiError{Error: "hours must be a positive number"})
			return
		}
		since = time.Now().Add(-time.Duration(hours * float64(time.Hour)))
	}

	count, totalBTC, byFlow := s.whales.summary(since)
	c.JSON(http.StatusOK, gin.H{
		"since":      since,
		"count":      count,
		"total_btc":  totalBTC,
		"by_flow":    byFlow,
	})
}

func (s *Server) handleWhaleByTxid(c *gin.Context) {
	if !allowedParams(c) {
		return
	}
	txid := c.Param("txid")
	alert, ok := s.whales.byTxid(txid)
	if !ok {
		c.JSON(http.StatusNotFound, apiError{Error: "no whale alert recorded for txid"})
		return
	}
	c.JSON(http.StatusOK, alert)
}
