package httpapi

func (s *Server) registerRoutes() {
	limited := s.engine.Group("")
	limited.Use(s.rateLimitMiddleware())

	limited.GET("/health", s.handleHealth)
	limited.GET("/prices/latest", s.handleLatestPrice)
	limited.GET("/prices/historical", s.handleHistoricalPrices)
	limited.GET("/whale/transactions", s.handleWhaleTransactions)
	limited.GET("/whale/summary", s.handleWhaleSummary)
	limited.GET("/whale/transaction/:txid", s.handleWhaleByTxid)
}
