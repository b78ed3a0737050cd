package whale

import (
	"testing"

	"github.com/rawblock/utxoracle-live/pkg/models"
)

func TestClassifyOutputThresholdWhaleTransfer(t *testing.T) {
	tx := models.ParsedTransaction{
		Txid:            "t1",
		TotalOutputSats: 20_000_000_000, // 200 BTC
		Outputs:         []models.TxOut{{Value: 20_000_000_000, Address: "bc1unknown"}},
		Inputs:          []models.TxIn{{Txid: "p", Vout: 0, Value: 20_000_100_000, Address: "bc1another"}},
	}
	cfg := Config{WhaleThresholdBTC: 100.0, Addresses: NewAddressSet(nil)}

	c, insufficient := Classify(tx, cfg)
	if insufficient {
		t.Fatalf("did not expect insufficient input data")
	}
	if c.FlowType != models.FlowWhaleTransfer {
		t.Fatalf("expected WHALE_TRANSFER, got %v", c.FlowType)
	}
	if c.BTCValue != 200.0 {
		t.Fatalf("expected 200 BTC, got %v", c.BTCValue)
	}
}

func TestClassifyBelowThresholdNotAWhale(t *testing.T) {
	tx := models.ParsedTransaction{
		Txid:            "t2",
		TotalOutputSats: 1_000_000, // 0.01 BTC
		Outputs:         []models.TxOut{{Value: 1_000_000, Address: "bc1small"}},
	}
	cfg := Config{WhaleThresholdBTC: 100.0, Addresses: NewAddressSet(nil)}

	c, _ := Classify(tx, cfg)
	if c.Txid != "" {
		t.Fatalf("expected zero-value candidate for non-whale tx, got %+v", c)
	}
}

func TestClassifyExchangeInflow(t *testing.T) {
	addrs := NewAddressSet([]string{"exchange-hot-wallet"})
	tx := models.ParsedTransaction{
		Txid:            "t3",
		TotalOutputSats: 15_000_000_000,
		Outputs:         []models.TxOut{{Value: 15_000_000_000, Address: "exchange-hot-wallet"}},
		Inputs:          []models.TxIn{{Txid: "p", Vout: 0, Value: 15_000_100_000, Address: "external-wallet"}},
	}
	cfg := Config{WhaleThresholdBTC: 100.0, Addresses: addrs}

	c, insufficient := Classify(tx, cfg)
	if insufficient {
		t.Fatalf("did not expect insufficient input data")
	}
	if c.Direction != models.DirectionIn || c.FlowType != models.FlowExchangeInflow {
		t.Fatalf("expected inflow classification, got direction=%v flow=%v", c.Direction, c.FlowType)
	}
}

func TestClassifyExchangeOutflow(t *testing.T) {
	addrs := NewAddressSet([]string{"exchange-hot-wallet"})
	tx := models.ParsedTransaction{
		Txid:            "t4",
		TotalOutputSats: 15_000_000_000,
		Outputs:         []models.TxOut{{Value: 15_000_000_000, Address: "external-wallet"}},
		Inputs:          []models.TxIn{{Txid: "p", Vout: 0, Value: 15_000_100_000, Address: "exchange-hot-wallet"}},
	}
	cfg := Config{WhaleThresholdBTC: 100.0, Addresses: addrs}

	c, _ := Classify(tx, cfg)
	if c.Direction != models.DirectionOut || c.FlowType != models.FlowExchangeOutflow {
		t.Fatalf("expected outflow classification, got direction=%v flow=%v", c.Direction, c.FlowType)
	}
}

func TestClassifyMixedTieBreakByGreaterSide(t *testing.T) {
	addrs := NewAddressSet([]string{"exchange-a", "exchange-b"})
	tx := models.ParsedTransaction{
		Txid:            "t5",
		TotalOutputSats: 30_000_000_000,
		Outputs:         []models.TxOut{{Value: 25_000_000_000, Address: "exchange-a"}},
		Inputs:          []models.TxIn{{Txid: "p", Vout: 0, Value: 10_000_000_000, Address: "exchange-b"}},
	}
	cfg := Config{WhaleThresholdBTC: 100.0, Addresses: addrs}

	c, _ := Classify(tx, cfg)
	if c.Direction != models.DirectionIn || c.FlowType != models.FlowExchangeInflow {
		t.Fatalf("expected inflow to win tie-break (greater sats), got direction=%v flow=%v", c.Direction, c.FlowType)
	}
}

func TestClassifyMixedExactTieIsNeutral(t *testing.T) {
	addrs := NewAddressSet([]string{"exchange-a", "exchange-b"})
	tx := models.ParsedTransaction{
		Txid:            "t6",
		TotalOutputSats: 20_000_000_000,
		Outputs:         []models.TxOut{{Value: 10_000_000_000, Address: "exchange-a"}},
		Inputs:          []models.TxIn{{Txid: "p", Vout: 0, Value: 10_000_000_000, Address: "exchange-b"}},
	}
	cfg := Config{WhaleThresholdBTC: 100.0, Addresses: addrs}

	c, _ := Classify(tx, cfg)
	if c.Direction != models.DirectionNeutral {
		t.Fatalf("expected NEUTRAL on exact tie, got %v", c.Direction)
	}
}

func TestClassifyInsufficientInputDataDegradesToWhaleTransfer(t *testing.T) {
	tx := models.ParsedTransaction{
		Txid:            "t7",
		TotalOutputSats: 15_000_000_000,
		Outputs:         []models.TxOut{{Value: 15_000_000_000, Address: "exchange-hot-wallet"}},
		Inputs:          []models.TxIn{{Txid: "p", Vout: 0, Value: 0, Address: ""}}, // unresolved
	}
	cfg := Config{WhaleThresholdBTC: 100.0, Addresses: NewAddressSet([]string{"exchange-hot-wallet"})}

	c, insufficient := Classify(tx, cfg)
	if !insufficient {
		t.Fatalf("expected insufficient input data flagged")
	}
	if c.FlowType != models.FlowWhaleTransfer {
		t.Fatalf("expected degradation to WHALE_TRANSFER, got %v", c.FlowType)
	}
}

func TestClassifyIsPure(t *testing.T) {
	addrs := NewAddressSet([]string{"exchange-hot-wallet"})
	tx := models.ParsedTransaction{
		Txid:            "t8",
		TotalOutputSats: 15_000_000_000,
		Outputs:         []models.TxOut{{Value: 15_000_000_000, Address: "exchange-hot-wallet"}},
		Inputs:          []models.TxIn{{Txid: "p", Vout: 0, Value: 1, Address: "external"}},
	}
	cfg := Config{WhaleThresholdBTC: 100.0, Addresses: addrs}

	c1, _ := Classify(tx, cfg)
	c2, _ := Classify(tx, cfg)
	c1.DetectedAt = c2.DetectedAt // wall-clock timestamp is the only non-deterministic field
	if c1 != c2 {
		t.Fatalf("expected classify(tx) == classify(tx), got %+v vs %+v", c1, c2)
	}
}
