package httpapi

import (
	"testing"
	"time"

	"github.com/rawblock/utxoracle-live/pkg/models"
)

func alertAt(txid string, btc float64, flow models.FlowType, rbf bool, at time.Time) models.WhaleAlert {
	return models.WhaleAlert{
		WhaleCandidate: models.WhaleCandidate{
			Txid:       txid,
			BTCValue:   btc,
			FlowType:   flow,
			DetectedAt: at,
		},
		RBFEnabled: rbf,
	}
}

func TestWhaleLogCapacityEvictsOldest(t *testing.T) {
	w := newWhaleLog(3)
	base := time.Now()
	for i := 0; i < 5; i++ {
		w.record(alertAt("tx"+string(rune('a'+i)), 1, models.FlowUnknown, false, base.Add(time.Duration(i)*time.Second)))
	}
	if len(w.entries) != 3 {
		t.Fatalf("expected capacity-bounded length 3, got %d", len(w.entries))
	}
	if w.entries[0].Txid != "txc" {
		t.Fatalf("expected oldest two entries evicted, got first=%s", w.entries[0].Txid)
	}
}

func TestWhaleLogQueryFilters(t *testing.T) {
	w := newWhaleLog(10)
	base := time.Now().Add(-time.Hour)
	w.record(alertAt("tx1", 5, models.FlowExchangeInflow, true, base))
	w.record(alertAt("tx2", 50, models.FlowExchangeOutflow, false, base.Add(time.Minute)))
	w.record(alertAt("tx3", 2, models.FlowExchangeInflow, false, base.Add(2*time.Minute)))

	results := w.query(whaleFilter{since: base.Add(-time.Second), minBTC: 3, limit: 10})
	if len(results) != 2 {
		t.Fatalf("expected 2 results above min_btc=3, got %d", len(results))
	}

	rbfResults := w.query(whaleFilter{since: base.Add(-time.Second), rbfOnly: true, limit: 10})
	if len(rbfResults) != 1 || rbfResults[0].Txid != "tx1" {
		t.Fatalf("expected only tx1 for rbf_only, got %+v", rbfResults)
	}

	flowResults := w.query(whaleFilter{since: base.Add(-time.Second), flowType: models.FlowExchangeInflow, limit: 10})
	if len(flowResults) != 2 {
		t.Fatalf("expected 2 EXCHANGE_INFLOW results, got %d", len(flowResults))
	}

	limited := w.query(whaleFilter{since: base.Add(-time.Second), limit: 1})
	if len(limited) != 1 {
		t.Fatalf("expected limit to cap results to 1, got %d", len(limited))
	}
	if limited[0].Txid != "tx3" {
		t.Fatalf("expected newest-first ordering to return tx3, got %s", limited[0].Txid)
	}
}

func TestWhaleLogByTxidNotFound(t *testing.T) {
	w := newWhaleLog(10)
	w.record(alertAt("tx1", 5, models.FlowUnknown, false, time.Now()))
	if _, ok := w.byTxid("nope"); ok {
		t.Fatal("expected byTxid to report not-found for unknown txid")
	}
	if a, ok := w.byTxid("tx1"); !ok || a.Txid != "tx1" {
		t.Fatalf("expected to find tx1, got %+v ok=%v", a, ok)
	}
}

func TestWhaleLogSummaryAggregates(t *testing.T) {
	w := newWhaleLog(10)
	base := time.Now().Add(-time.Hour)
	w.record(alertAt("tx1", 5, models.FlowExchangeInflow, false, base))
	w.record(alertAt("tx2", 10, models.FlowExchangeOutflow, false, base.Add(time.Minute)))

	count, totalBTC, byFlow := w.summary(base.Add(-time.Second))
	if count != 2 {
		t.Fatalf("expected count=2, got %d", count)
	}
	if totalBTC != 15 {
		t.Fatalf("expected totalBTC=15, got %v", totalBTC)
	}
	if byFlow[models.FlowExchangeInflow] != 1 || byFlow[models.FlowExchangeOutflow] != 1 {
		t.Fatalf("unexpected byFlow breakdown: %+v", byFlow)
	}
}
