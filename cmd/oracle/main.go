// Command oracle runs the UTXOracle Live pipeline: Bitcoin node feeds ->
// Whale Classifier / Price Aggregator -> Urgency Scorer / Correlation
// Tracker -> WebSocket broadcaster and read-only HTTP API. Grounded on
// the teacher's cmd/engine/main.go entrypoint shape (env-driven startup,
// guarded-nil dependency wiring, graceful shutdown on signal).
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rawblock/utxoracle-live/internal/config"
	"github.com/rawblock/utxoracle-live/internal/logging"
	"github.com/rawblock/utxoracle-live/internal/orchestrator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel)
	log := logging.For("cmd.oracle")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orc, err := orchestrator.New(ctx, cfg)
	if err != nil {
		log.Error("failed to wire oracle pipeline", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/", orc.HTTPHandler())
	mux.HandleFunc("/ws/price", func(w http.ResponseWriter, r *http.Request) {
		orc.ServeWebSocket(w, r, "price")
	})
	mux.HandleFunc("/ws/whale", func(w http.ResponseWriter, r *http.Request) {
		orc.ServeWebSocket(w, r, "whale")
	})

	httpSrv := &http.Server{
		Addr:              cfg.WSHost + ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("http/ws server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "error", err)
		}
	}()

	go orc.Run(ctx)

	<-ctx.Done()
	log.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown error", "error", err)
	}
}
