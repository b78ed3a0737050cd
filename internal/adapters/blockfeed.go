package adapters

import (
	"context"
	"log/slog"
	"time"

	"github.com/rawblock/utxoracle-live/internal/logging"
	"github.com/rawblock/utxoracle-live/pkg/models"
)

// BlockFeed polls the node's tip height and emits a models.BlockEvent for
// every new block, in order, with no gaps skipped even if the poller
// falls behind by more than one block between ticks.
type BlockFeed struct {
	StateHolder

	rpc       *RPCClient
	pollEvery time.Duration
	lastSeen  int64
	events    chan Event[models.BlockEvent]
	log       *slog.Logger
}

// NewBlockFeed constructs a block feed adapter. startHeight is the last
// height the caller already has state for; the feed begins emitting at
// startHeight+1. Pass 0 to start from the current tip without backfill.
func NewBlockFeed(rpc *RPCClient, pollEvery time.Duration, startHeight int64) *BlockFeed {
	return &BlockFeed{
		rpc:       rpc,
		pollEvery: pollEvery,
		lastSeen:  startHeight,
		events:    make(chan Event[models.BlockEvent], 16),
		log:       logging.For("adapters.blockfeed"),
	}
}

// Events returns the channel new blocks are delivered on, oldest first.
func (f *BlockFeed) Events() <-chan Event[models.BlockEvent] {
	return f.events
}

// Start runs the poll loop until ctx is cancelled, then closes Events().
func (f *BlockFeed) Start(ctx context.Context) {
	defer close(f.events)
	f.MarkReconnecting()

	if f.lastSeen == 0 {
		if tip, err := f.rpc.GetBlockCount(); err == nil {
			f.lastSeen = tip
		}
	}

	ticker := time.NewTicker(f.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.MarkStopped()
			return
		case <-ticker.C:
			if err := f.pollOnce(ctx); err != nil {
				f.log.Warn("blockfeed poll failed", "error", err, "state", f.State().String())
				if f.RecordFailure() {
					f.log.Error("blockfeed tripped circuit breaker")
				}
				delay := Backoff(int(f.consecutiveFails.Load()) - 1)
				select {
				case <-ctx.Done():
					f.MarkStopped()
					return
				case <-time.After(delay):
				}
				continue
			}
			f.RecordSuccess()
		}
	}
}

func (f *BlockFeed) pollOnce(ctx context.Context) error {
	tip, err := f.rpc.GetBlockCount()
	if err != nil {
		return err
	}
	for h := f.lastSeen + 1; h <= tip; h++ {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		block, err := f.rpc.GetBlockVerboseAtHeight(h)
		if err != nil {
			return err
		}
		evt := models.BlockEvent{
			Height:   h,
			Hash:     block.Hash,
			Txids:    block.Tx,
			WallTime: time.Now(),
		}
		select {
		case f.events <- Event[models.BlockEvent]{Payload: evt, Received: evt.WallTime}:
		case <-ctx.Done():
			return nil
		}
		f.lastSeen = h
	}
	return nil
}
