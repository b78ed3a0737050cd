package txcache

import (
	"testing"
	"time"

	"github.com/rawblock/utxoracle-live/pkg/models"
)

func TestCacheEvictsOldestOnCapacity(t *testing.T) {
	var evicted []string
	c := New(2, func(txid string, _ models.ParsedTransaction) {
		evicted = append(evicted, txid)
	})

	c.Put("a", models.ParsedTransaction{Txid: "a"})
	c.Put("b", models.ParsedTransaction{Txid: "b"})
	c.Put("c", models.ParsedTransaction{Txid: "c"})

	if c.Len() != 2 {
		t.Fatalf("expected len 2, got %d", c.Len())
	}
	if len(evicted) != 1 || evicted[0] != "a" {
		t.Fatalf("expected eviction of oldest entry 'a', got %v", evicted)
	}
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected 'a' to be evicted")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatalf("expected 'c' to be present")
	}
}

func TestCacheUpdateDoesNotReorder(t *testing.T) {
	var evicted []string
	c := New(2, func(txid string, _ models.ParsedTransaction) {
		evicted = append(evicted, txid)
	})

	c.Put("a", models.ParsedTransaction{Txid: "a", FeeSats: 1})
	c.Put("b", models.ParsedTransaction{Txid: "b"})
	c.Put("a", models.ParsedTransaction{Txid: "a", FeeSats: 2}) // update, not reinsert

	c.Put("c", models.ParsedTransaction{Txid: "c"})

	if len(evicted) != 1 || evicted[0] != "a" {
		t.Fatalf("expected 'a' to still be evicted first despite update, got %v", evicted)
	}
	tx, ok := c.Get("a")
	_ = tx
	if ok {
		t.Fatalf("expected 'a' evicted after capacity pressure")
	}
}

func TestCacheRemove(t *testing.T) {
	c := New(10, nil)
	c.Put("a", models.ParsedTransaction{Txid: "a"})
	c.Remove("a")
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected 'a' removed")
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty cache, got len %d", c.Len())
	}
}

func TestCacheContains(t *testing.T) {
	c := New(10, nil)
	c.Put("a", models.ParsedTransaction{Txid: "a"})

	if !c.Contains("a") {
		t.Fatalf("expected 'a' to be present")
	}
	if c.Contains("b") {
		t.Fatalf("did not expect 'b' to be present")
	}
	c.Remove("a")
	if c.Contains("a") {
		t.Fatalf("expected 'a' gone after Remove")
	}
}

func TestCacheSnapshotOldestTimestamp(t *testing.T) {
	c := New(10, nil)
	if _, ok := c.SnapshotOldestTimestamp(); ok {
		t.Fatalf("expected no oldest timestamp on empty cache")
	}

	oldest := time.Now().Add(-time.Hour)
	c.Put("a", models.ParsedTransaction{Txid: "a", FirstSeenAt: oldest})
	c.Put("b", models.ParsedTransaction{Txid: "b", FirstSeenAt: time.Now()})

	got, ok := c.SnapshotOldestTimestamp()
	if !ok {
		t.Fatalf("expected an oldest timestamp with entries present")
	}
	if !got.Equal(oldest) {
		t.Fatalf("expected oldest timestamp %v, got %v", oldest, got)
	}

	c.Put("a", models.ParsedTransaction{Txid: "a", FirstSeenAt: time.Now()}) // update, not reinsert
	got, _ = c.SnapshotOldestTimestamp()
	if !got.Equal(oldest) {
		t.Fatalf("expected update to preserve insertion order, oldest still %v, got %v", oldest, got)
	}
}

func TestCacheSnapshotOrder(t *testing.T) {
	c := New(10, nil)
	c.Put("a", models.ParsedTransaction{Txid: "a"})
	c.Put("b", models.ParsedTransaction{Txid: "b"})
	c.Put("c", models.ParsedTransaction{Txid: "c"})

	snap := c.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(snap))
	}
	want := []string{"a", "b", "c"}
	for i, tx := range snap {
		if tx.Txid != want[i] {
			t.Fatalf("expected order %v, got %v at index %d", want, tx.Txid, i)
		}
	}
}
