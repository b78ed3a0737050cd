package httpapi

import (
	"sync"
	"time"

	"github.com/rawblock/utxoracle-live/pkg/models"
)

// whaleLog is a bounded, time-ordered ring of recently broadcast whale
// alerts, giving the read-only HTTP API (§4.8) something to project
// GET /whale/* from without re-querying the Correlation Tracker's
// durable store for fields it doesn't keep (btcValue, direction,
// flowType) — those live only on the in-flight WhaleAlert, not the
// persisted PredictionRecord. Grounded on the bounded-capacity,
// insertion-ordered discipline of internal/txcache, sized generously
// since alerts are far rarer than raw transactions.
type whaleLog struct {
	mu      sync.RWMutex
	entries []models.WhaleAlert
	cap     int
}

func newWhaleLog(capacity int) *whaleLog {
	if capacity <= 0 {
		capacity = 10_000
	}
	return &whaleLog{cap: capacity}
}

func (w *whaleLog) record(alert models.WhaleAlert) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, alert)
	if len(w.entries) > w.cap {
		overflow := len(w.entries) - w.cap
		w.entries = w.entries[overflow:]
	}
}

type whaleFilter struct {
	since    time.Time
	minBTC   float64
	flowType models.FlowType // empty means any
	rbfOnly  bool
	limit    int
}

func (w *whaleLog) query(f whaleFilter) []models.WhaleAlert {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]models.WhaleAlert, 0, f.limit)
	for i := len(w.entries) - 1; i >= 0 && len(out) < f.limit; i-- {
		a := w.entries[i]
		if a.DetectedAt.Before(f.since) {
			continue
		}
		if a.BTCValue < f.minBTC {
			continue
		}
		if f.flowType != "" && a.FlowType != f.flowType {
			continue
		}
		if f.rbfOnly && !a.RBFEnabled {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (w *whaleLog) byTxid(txid string) (models.WhaleAlert, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for i := len(w.entries) - 1; i >= 0; i-- {
		if w.entries[i].Txid == txid {
			return w.entries[i], true
		}
	}
	return models.WhaleAlert{}, false
}

func (w *whaleLog) summary(since time.Time) (count int, totalBTC float64, byFlow map[models.FlowType]int) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	byFlow = make(map[models.FlowType]int)
	for _, a := range w.entries {
		if a.DetectedAt.Before(since) {
			continue
		}
		count++
		totalBTC += a.BTCValue
		byFlow[a.FlowType]++
	}
	return count, totalBTC, byFlow
}
