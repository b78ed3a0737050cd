package orchestrator

import (
	"context"
	"runtime"
	"time"

	"github.com/rawblock/utxoracle-live/internal/urgency"
	"github.com/rawblock/utxoracle-live/internal/whale"
	"github.com/rawblock/utxoracle-live/pkg/models"
)

const (
	memWatchdogInterval = 30 * time.Second
	dropSweepInterval   = 5 * time.Minute
	accuracyRunInterval = 5 * time.Minute
	retentionInterval   = 24 * time.Hour
	minCacheCapacity    = 1000
)

// Run starts every upstream feed and the dispatcher goroutine, blocking
// until ctx is cancelled. Grounded on the teacher's cmd/engine/main.go
// "go poller.Run(ctx)" fire-and-forget feed startup, generalized to three
// feeds and a single dispatcher that owns the Aggregator and all Cache
// inserts.
func (o *Orchestrator) Run(ctx context.Context) {
	go o.txFeed.Start(ctx)
	go o.blockFeed.Start(ctx)
	go o.feeFeed.Start(ctx)
	go o.refresher.Run(ctx)

	if o.resolver != nil {
		go o.runDropSweep(ctx)
	}
	if o.monitor != nil {
		go o.runAccuracyMonitor(ctx)
	}
	if o.store != nil {
		go o.runRetentionCleanup(ctx)
	}
	go o.runMemoryWatchdog(ctx)

	o.dispatch(ctx)
}

// dispatch is the sole goroutine that touches the Aggregator and inserts
// into the Cache. All cross-component handoffs of feed events happen
// here; the Scorer is only read here (its snapshot is set by the
// Refresher), and the Cache is also used by the drop sweep and the
// memory watchdog.
func (o *Orchestrator) dispatch(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.PriceTickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-o.txFeed.Events():
			if !ok {
				return
			}
			o.handleTransaction(ctx, ev.Payload, ev.Received)

		case ev, ok := <-o.blockFeed.Events():
			if !ok {
				return
			}
			o.handleBlock(ctx, ev.Payload)

		case now := <-ticker.C:
			o.maybeTick(now)
		}
	}
}

func (o *Orchestrator) handleTransaction(ctx context.Context, tx models.ParsedTransaction, seenAt time.Time) {
	o.cache.Put(tx.Txid, tx)
	o.agg.Observe(tx, seenAt)
	if o.agg.ShouldTickOpportunistically() {
		o.maybeTick(time.Now())
	}

	candidate, insufficientInputData := whale.Classify(tx, o.whaleCfg)
	if insufficientInputData {
		o.log.Debug("whale classification degraded: unresolved input addresses", "txid", tx.Txid)
	}
	if candidate.Txid == "" {
		return
	}

	alert := urgency.Score(tx.FeeRate, o.scorer.Snapshot(), time.Now())
	alert.WhaleCandidate = candidate
	alert.RBFEnabled = tx.RBFEnabled
	alert.CorrelationID = newCorrelationID()

	if o.store != nil {
		rec := models.PredictionRecord{
			CorrelationID:         alert.CorrelationID,
			Txid:                  tx.Txid,
			CreatedAt:             seenAt,
			PredictedConfirmBlock: alert.PredictedConfirmBlock,
			UrgencyScore:          alert.UrgencyScore,
			RBFEnabled:            tx.RBFEnabled,
		}
		// Durability-before-broadcast: the prediction must be persisted
		// before any subscriber can see the corresponding alert.
		if err := o.store.SavePrediction(ctx, rec); err != nil {
			o.log.Warn("failed to persist prediction, suppressing broadcast", "txid", tx.Txid, "error", err)
			return
		}
	}

	o.hub.BroadcastWhaleAlert(alert)
	o.api.RecordWhaleAlert(alert)
}

func (o *Orchestrator) handleBlock(ctx context.Context, block models.BlockEvent) {
	if o.resolver != nil {
		o.resolver.HandleBlock(ctx, block)
	}
	for _, txid := range block.Txids {
		o.cache.Remove(txid)
	}
}

func (o *Orchestrator) maybeTick(now time.Time) {
	est, ok := o.agg.Tick(now)
	if !ok {
		return
	}
	o.lastEstimate = est
	o.lastEstimateSeen = true
	o.hub.BroadcastPriceTick(est)
}

func (o *Orchestrator) runDropSweep(ctx context.Context) {
	ticker := time.NewTicker(dropSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			o.resolver.SweepDropped(ctx, now)
		}
	}
}

func (o *Orchestrator) runAccuracyMonitor(ctx context.Context) {
	ticker := time.NewTicker(accuracyRunInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := o.monitor.Run(ctx, now); err != nil {
				o.log.Warn("accuracy monitor run failed", "error", err)
			}
		}
	}
}

func (o *Orchestrator) runRetentionCleanup(ctx context.Context) {
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := o.store.CleanupRetention(ctx, o.cfg.RetentionDays)
			if err != nil {
				o.log.Warn("retention cleanup failed", "error", err)
				continue
			}
			if deleted > 0 {
				o.log.Info("retention cleanup removed expired predictions", "count", deleted)
			}
		}
	}
}

// runMemoryWatchdog implements spec.md §5's soft/hard memory limit
// behavior: above the soft limit it halves the transaction cache's
// effective working set by forcing evictions; above the hard limit it
// logs at error level so an operator's process supervisor can restart
// the process, since this repository has no mechanism to shed aggregator
// state safely mid-tick. Grounded on runtime.MemStats rather than a
// third-party sampler — SPEC_FULL.md §5 records that gopsutil never
// appears as a direct import anywhere in the retrieved pack, only as an
// indirect transitive dependency, so stdlib is the only grounded option.
func (o *Orchestrator) runMemoryWatchdog(ctx context.Context) {
	ticker := time.NewTicker(memWatchdogInterval)
	defer ticker.Stop()

	var stats runtime.MemStats
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runtime.ReadMemStats(&stats)
			switch {
			case o.hardMemLimit > 0 && stats.Alloc >= o.hardMemLimit:
				o.log.Error("memory usage above hard limit", "alloc_bytes", stats.Alloc, "hard_limit_bytes", o.hardMemLimit)
			case o.softMemLimit > 0 && stats.Alloc >= o.softMemLimit:
				fields := []any{"alloc_bytes", stats.Alloc, "soft_limit_bytes", o.softMemLimit}
				if oldest, ok := o.cache.SnapshotOldestTimestamp(); ok {
					fields = append(fields, "oldest_cached_age", time.Since(oldest).String())
				}
				o.log.Warn("memory usage above soft limit, shrinking tx cache", fields...)
				o.shrinkCache()
			}
		}
	}
}

func (o *Orchestrator) shrinkCache() {
	if o.currentCacheCap <= minCacheCapacity {
		return
	}
	next := o.currentCacheCap / 2
	if next < minCacheCapacity {
		next = minCacheCapacity
	}
	o.currentCacheCap = next
	for o.cache.Len() > next {
		snap := o.cache.Snapshot()
		if len(snap) == 0 {
			break
		}
		o.cache.Remove(snap[0].Txid)
	}
}
