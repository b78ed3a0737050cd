// Package orchestrator wires every component of the oracle pipeline
// together and owns the single dispatcher goroutine that routes events
// between them, per spec.md §5's single-writer concurrency discipline.
// Grounded on the teacher's cmd/engine/main.go wiring (poller -> hub,
// scanner -> hub, guarded-nil-on-unavailable-dependency pattern), scaled
// up from a two-feed wiring to the full upstream/pipeline/downstream
// graph SPEC_FULL.md §4 describes.
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/utxoracle-live/internal/adapters"
	"github.com/rawblock/utxoracle-live/internal/aggregator"
	"github.com/rawblock/utxoracle-live/internal/broadcast"
	"github.com/rawblock/utxoracle-live/internal/config"
	"github.com/rawblock/utxoracle-live/internal/httpapi"
	"github.com/rawblock/utxoracle-live/internal/logging"
	"github.com/rawblock/utxoracle-live/internal/tracker"
	"github.com/rawblock/utxoracle-live/internal/txcache"
	"github.com/rawblock/utxoracle-live/internal/urgency"
	"github.com/rawblock/utxoracle-live/internal/whale"
	"github.com/rawblock/utxoracle-live/pkg/models"
)

const txCacheCapacity = 50_000

// Orchestrator owns every long-lived component and the goroutines that
// move events between them. Only the dispatch goroutine touches the
// Aggregator and inserts into the Cache. The Cache is mutex-guarded and
// is also read by the drop sweep and trimmed by the memory watchdog; the
// Scorer's snapshot pointer is swapped atomically by the fee Refresher.
type Orchestrator struct {
	cfg *config.Config
	log *slog.Logger

	rpc *adapters.RPCClient

	txFeed    *adapters.TxFeed
	blockFeed *adapters.BlockFeed
	feeFeed   *adapters.FeeMarketFeed

	cache     *txcache.Cache
	agg       *aggregator.Aggregator
	scorer    *urgency.Scorer
	refresher *urgency.Refresher
	whaleCfg  whale.Config
	hub       *broadcast.Hub
	store     *tracker.Store
	resolver  *tracker.Resolver
	monitor   *tracker.AccuracyMonitor
	api       *httpapi.Server

	currentCacheCap int
	softMemLimit    uint64
	hardMemLimit    uint64

	lastEstimate     models.PriceEstimate
	lastEstimateSeen bool
}

// New wires every component from cfg. store and its dependent tasks are
// nil when cfg.DatabaseURL is empty: the oracle still runs, minus
// prediction persistence and accuracy tracking, matching the teacher's
// guarded-nil-dependency pattern for an unavailable Postgres instance.
func New(ctx context.Context, cfg *config.Config) (*Orchestrator, error) {
	log := logging.For("orchestrator")

	rpc, err := adapters.NewRPCClient(cfg)
	if err != nil {
		return nil, err
	}

	tipHeight, err := rpc.GetBlockCount()
	if err != nil {
		return nil, err
	}

	exchangeAddresses, err := loadExchangeAddresses(cfg.WhaleDBPath)
	if err != nil {
		log.Warn("exchange address set unavailable, whale classifier degrades to WHALE_TRANSFER only", "path", cfg.WhaleDBPath, "error", err)
	}

	o := &Orchestrator{
		cfg:             cfg,
		log:             log,
		rpc:             rpc,
		txFeed:          adapters.NewTxFeed(rpc, 2*time.Second),
		blockFeed:       adapters.NewBlockFeed(rpc, 10*time.Second, tipHeight),
		feeFeed:         adapters.NewFeeMarketFeed(cfg.FeeMarketBaseURL, rpc),
		cache:           txcache.New(txCacheCapacity, nil),
		agg:             aggregator.New(aggregatorConfigFrom(cfg)),
		scorer:          urgency.New(),
		whaleCfg:        whale.Config{WhaleThresholdBTC: cfg.WhaleThresholdBTC, Addresses: whale.NewAddressSet(exchangeAddresses)},
		currentCacheCap: txCacheCapacity,
		softMemLimit:    uint64(cfg.SoftMemLimitMB) * 1024 * 1024,
		hardMemLimit:    uint64(cfg.HardMemLimitMB) * 1024 * 1024,
	}
	o.refresher = urgency.NewRefresher(o.scorer, o.feeFeed)

	var signer *broadcast.TokenSigner
	if cfg.AuthEnabled {
		signer = broadcast.NewTokenSigner(cfg.AuthSecretKey)
	}
	o.hub = broadcast.NewHub(broadcast.Config{
		AuthEnabled:    cfg.AuthEnabled,
		Signer:         signer,
		AllowedOrigins: originSet(cfg.AllowedOrigins),
	})

	if cfg.DatabaseURL != "" {
		store, err := tracker.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Warn("correlation tracker database unavailable, continuing without prediction persistence", "error", err)
		} else {
			if err := store.InitSchema(ctx); err != nil {
				log.Warn("schema init failed", "error", err)
			}
			o.store = store
			o.resolver = tracker.NewResolver(store, o.cache, cfg.DropTimeout())
			o.monitor = tracker.NewAccuracyMonitor(store, cfg.AccuracyWarn, cfg.AccuracyCrit, o.onAccuracyAlert)
		}
	} else {
		log.Warn("DATABASE_URL not set, running without prediction persistence")
	}

	checks := []httpapi.HealthCheck{
		{Name: "bitcoin_rpc", Fn: func(ctx context.Context) error {
			_, err := rpc.GetBlockCount()
			return err
		}},
	}
	if o.store != nil {
		store := o.store
		checks = append(checks, httpapi.HealthCheck{Name: "database", Fn: func(ctx context.Context) error {
			_, _, err := store.AccuracyOverWindow(ctx, time.Now().Add(-time.Hour))
			return err
		}})
	}

	var historyReader httpapi.PriceHistoryReader
	if o.store != nil {
		historyReader = o.store
	}
	o.api = httpapi.NewServer(o.latestEstimate, historyReader, allowedOriginsList(cfg.AllowedOrigins), checks)

	return o, nil
}

// HTTPHandler exposes the wired HTTP API for cmd/oracle to mount.
func (o *Orchestrator) HTTPHandler() http.Handler {
	return o.api.Handler()
}

// ServeWebSocket upgrades an incoming request onto the broadcast hub.
func (o *Orchestrator) ServeWebSocket(w http.ResponseWriter, r *http.Request, stream string) {
	o.hub.ServeWS(w, r, stream)
}

func (o *Orchestrator) latestEstimate() (models.PriceEstimate, bool) {
	return o.lastEstimate, o.lastEstimateSeen
}

func (o *Orchestrator) onAccuracyAlert(level tracker.AlertLevel, window string, stat tracker.WindowStat) {
	o.log.Warn("accuracy alert", "level", level, "window", window, "avg_accuracy", stat.AvgAccuracy, "sample_size", stat.SampleSize)
}

// loadExchangeAddresses reads the labelled exchange address set the
// Whale Classifier needs for EXCHANGE_INFLOW/EXCHANGE_OUTFLOW matching
// (spec.md §4.3) from a flat JSON array of address strings. A missing
// path or file (the common case on a fresh checkout with no address
// list fetched yet) is not an error: the classifier simply degrades to
// WHALE_TRANSFER-only matching via the raw BTC threshold, matching the
// same guarded-nil-dependency idiom New() already uses for the tracker
// store.
func loadExchangeAddresses(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var addresses []string
	if err := json.Unmarshal(data, &addresses); err != nil {
		return nil, err
	}
	return addresses, nil
}

func aggregatorConfigFrom(cfg *config.Config) aggregator.Config {
	ac := aggregator.DefaultConfig()
	ac.TickInterval = cfg.PriceTickInterval()
	ac.RollingWindow = cfg.RollingWindow()
	ac.MinSamples = cfg.MinSamples
	ac.MinEmitConfidence = cfg.MinEmitConfidence
	ac.EmitDeltaRel = cfg.EmitDeltaRel
	ac.MaxStepRel = cfg.MaxStepRel
	ac.MaxSearchIterations = cfg.MaxSearchIterations
	return ac
}

// originSet and allowedOriginsList both derive from the same
// comma-separated ALLOWED_ORIGINS config value, but broadcast.Hub wants
// a set and httpapi.Server wants a slice.
func originSet(csv string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, o := range allowedOriginsList(csv) {
		set[o] = struct{}{}
	}
	return set
}

func allowedOriginsList(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// newCorrelationID mirrors the teacher's uuid.NewString() idiom for
// generating prediction correlation identifiers.
func newCorrelationID() string {
	return uuid.NewString()
}
