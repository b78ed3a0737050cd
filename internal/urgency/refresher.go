package urgency

import (
	"context"
	"log/slog"

	"github.com/rawblock/utxoracle-live/internal/adapters"
	"github.com/rawblock/utxoracle-live/internal/logging"
	"github.com/rawblock/utxoracle-live/pkg/models"
)

// Refresher is the single writer task that drains a fee-market feed's
// events into a Scorer's atomic snapshot pointer, per spec.md §4.4's
// "writers: a single refresh task" rule. On adapter failure no event
// arrives and the Scorer simply keeps serving its last snapshot, which
// Score() will treat as increasingly stale via FeeSnapshot.Stale.
type Refresher struct {
	scorer *Scorer
	feed   *adapters.FeeMarketFeed
	log    *slog.Logger
}

// NewRefresher wires a fee-market feed into a Scorer.
func NewRefresher(scorer *Scorer, feed *adapters.FeeMarketFeed) *Refresher {
	return &Refresher{scorer: scorer, feed: feed, log: logging.For("urgency.refresher")}
}

// Run drains feed events into the scorer until the channel closes
// (adapter stopped) or ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-r.feed.Events():
			if !ok {
				return
			}
			r.apply(evt.Payload)
		}
	}
}

func (r *Refresher) apply(snap models.FeeSnapshot) {
	r.scorer.SetSnapshot(snap)
	r.log.Debug("fee snapshot refreshed", "tip_height", snap.TipHeight, "percentiles", len(snap.Percentiles))
}
