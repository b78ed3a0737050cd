package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rawblock/utxoracle-live/internal/logging"
	"github.com/rawblock/utxoracle-live/pkg/models"
)

// feeMarketPollInterval is fixed per spec.md §4.1/§6: the fee market
// moves slowly enough that polling more often than this buys nothing.
const feeMarketPollInterval = 60 * time.Second

// FeeMarketFeed polls an external fee-estimation HTTP API (mempool.space
// -style /v1/fees/recommended) for sat/vB percentiles, falling back to
// the node's own EstimateSmartFee chain when the HTTP source is
// unavailable, and to nothing (stale snapshot) if both fail.
type FeeMarketFeed struct {
	StateHolder

	httpClient *http.Client
	baseURL    string
	rpc        *RPCClient
	events     chan Event[models.FeeSnapshot]
	log        *slog.Logger
}

// NewFeeMarketFeed constructs a fee-market feed. rpc is used as a
// fallback source and may be nil if no node RPC fallback is desired.
func NewFeeMarketFeed(baseURL string, rpc *RPCClient) *FeeMarketFeed {
	return &FeeMarketFeed{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		rpc:        rpc,
		events:     make(chan Event[models.FeeSnapshot], 4),
		log:        logging.For("adapters.feemarket"),
	}
}

// Events returns the channel fee snapshots are delivered on.
func (f *FeeMarketFeed) Events() <-chan Event[models.FeeSnapshot] {
	return f.events
}

// Start runs the poll loop until ctx is cancelled, then closes Events().
func (f *FeeMarketFeed) Start(ctx context.Context) {
	defer close(f.events)
	f.MarkReconnecting()

	ticker := time.NewTicker(feeMarketPollInterval)
	defer ticker.Stop()

	f.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			f.MarkStopped()
			return
		case <-ticker.C:
			f.pollOnce(ctx)
		}
	}
}

type recommendedFeesResponse struct {
	FastestFee  float64 `json:"fastestFee"`
	HalfHourFee float64 `json:"halfHourFee"`
	HourFee     float64 `json:"hourFee"`
	EconomyFee  float64 `json:"economyFee"`
	MinimumFee  float64 `json:"minimumFee"`
}

func (f *FeeMarketFeed) pollOnce(ctx context.Context) {
	snap, err := f.fetchHTTP(ctx)
	if err != nil {
		f.log.Debug("fee market http fetch failed, falling back to node", "error", err)
		snap, err = f.fetchFromNode(ctx)
	}
	if err != nil {
		f.log.Warn("fee market feed fully degraded", "error", err, "state", f.State().String())
		f.RecordFailure()
		return
	}
	f.RecordSuccess()
	select {
	case f.events <- Event[models.FeeSnapshot]{Payload: snap, Received: snap.TakenAt}:
	case <-ctx.Done():
	}
}

func (f *FeeMarketFeed) fetchHTTP(ctx context.Context) (models.FeeSnapshot, error) {
	if f.baseURL == "" {
		return models.FeeSnapshot{}, fmt.Errorf("no fee market base url configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/v1/fees/recommended", nil)
	if err != nil {
		return models.FeeSnapshot{}, err
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return models.FeeSnapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.FeeSnapshot{}, fmt.Errorf("%w: fee market returned %d", ErrSourceProtocol, resp.StatusCode)
	}
	var body recommendedFeesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.FeeSnapshot{}, fmt.Errorf("%w: %v", ErrSourceProtocol, err)
	}

	var tip int64
	if f.rpc != nil {
		tip, _ = f.rpc.GetBlockCount()
	}
	return models.FeeSnapshot{
		Percentiles: map[int]float64{
			10: body.MinimumFee,
			50: body.EconomyFee,
			75: body.HourFee,
			90: body.HalfHourFee,
			99: body.FastestFee,
		},
		TipHeight: tip,
		TakenAt:   time.Now(),
	}, nil
}

// fetchFromNode builds a coarse FeeSnapshot from EstimateSmartFee at a
// handful of confirmation targets when the HTTP fee market is down.
func (f *FeeMarketFeed) fetchFromNode(ctx context.Context) (models.FeeSnapshot, error) {
	if f.rpc == nil {
		return models.FeeSnapshot{}, fmt.Errorf("%w: no node rpc fallback configured", ErrSourceProtocol)
	}
	targets := map[int]int64{10: 144, 50: 12, 75: 6, 90: 3, 99: 1}
	percentiles := make(map[int]float64, len(targets))
	var anyOK bool
	for pct, blocks := range targets {
		rate, err := f.rpc.EstimateSmartFeeSatVB(blocks)
		if err != nil || rate <= 0 {
			continue
		}
		percentiles[pct] = rate
		anyOK = true
	}
	if !anyOK {
		return models.FeeSnapshot{}, fmt.Errorf("%w: node fee estimation unavailable", models.ErrSourceUnavailable)
	}
	tip, _ := f.rpc.GetBlockCount()
	return models.FeeSnapshot{Percentiles: percentiles, TipHeight: tip, TakenAt: time.Now()}, nil
}
