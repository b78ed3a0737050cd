// Package models holds the data types shared across the ingestion,
// scoring, aggregation and broadcast stages of the oracle pipeline.
package models

import "time"

// TxIn represents a Bitcoin transaction input.
type TxIn struct {
	Txid     string `json:"txid"`
	Vout     uint32 `json:"vout"`
	Value    int64  `json:"value"` // in satoshis, 0 if the prevout could not be resolved
	Address  string `json:"address,omitempty"`
	Sequence uint32 `json:"sequence"` // nSequence: < 0xFFFFFFFE signals BIP125 RBF
}

// TxOut represents a Bitcoin transaction output.
type TxOut struct {
	Value   int64  `json:"value"` // in satoshis
	Address string `json:"address,omitempty"`
}

// ParsedTransaction is the immutable, Cache-owned record for a transaction
// seen on the wire. Every other component receives a read-only view —
// consumers that need to outlive the Cache entry copy the fields they keep.
type ParsedTransaction struct {
	Txid            string
	FirstSeenAt     time.Time // wall time assigned at cache insertion
	Inputs          []TxIn
	Outputs         []TxOut
	TotalOutputSats int64
	FeeSats         int64
	VsizeVbytes     int
	FeeRate         float64 // sat/vB
	RBFEnabled      bool
}

// HasResolvedInputs reports whether every input carries an address, which
// the Whale Classifier needs to determine OUTFLOW direction.
func (tx ParsedTransaction) HasResolvedInputs() bool {
	if len(tx.Inputs) == 0 {
		return false
	}
	for _, in := range tx.Inputs {
		if in.Address == "" {
			return false
		}
	}
	return true
}

// Direction classifies the net flow of a whale candidate relative to a
// labelled exchange address set.
type Direction string

const (
	DirectionIn      Direction = "IN"
	DirectionOut     Direction = "OUT"
	DirectionNeutral Direction = "NEUTRAL"
)

// FlowType further classifies a whale candidate.
type FlowType string

const (
	FlowExchangeInflow  FlowType = "EXCHANGE_INFLOW"
	FlowExchangeOutflow FlowType = "EXCHANGE_OUTFLOW"
	FlowWhaleTransfer   FlowType = "WHALE_TRANSFER"
	FlowUnknown         FlowType = "UNKNOWN"
)

// WhaleCandidate is produced by the Whale Classifier from a ParsedTransaction.
type WhaleCandidate struct {
	Txid       string
	BTCValue   float64
	Direction  Direction
	FlowType   FlowType
	DetectedAt time.Time
}

// UrgencyLevel buckets a continuous urgency score for display purposes.
type UrgencyLevel string

const (
	UrgencyLow    UrgencyLevel = "LOW"
	UrgencyMedium UrgencyLevel = "MEDIUM"
	UrgencyHigh   UrgencyLevel = "HIGH"
)

// WhaleAlert is a WhaleCandidate enriched by the Urgency Scorer. It carries
// a durable CorrelationID that must exist as a PredictionRecord before the
// alert is enqueued to any subscriber (§3 invariant).
type WhaleAlert struct {
	WhaleCandidate
	UrgencyScore          float64
	UrgencyLevel          UrgencyLevel
	PredictedConfirmBlock int64
	RBFEnabled            bool
	CorrelationID         string
	StaleSnapshot         bool // degraded to MEDIUM because the FeeSnapshot aged out
}

// PriceEstimate is emitted by the Price Aggregator on each tick that meets
// the emission criteria in spec.md §4.5.
type PriceEstimate struct {
	TickID          int64
	WallTime        time.Time
	PriceUSD        float64
	Confidence      float64
	SampleSize      int
	HistogramDigest string
}

// Authoritative reports whether this estimate should be treated as a
// confident price (confidence is zero iff sampleSize < minSamples).
func (p PriceEstimate) Authoritative() bool {
	return p.Confidence > 0
}

// FeeSnapshot is periodically refreshed by the Urgency Scorer from the
// fee-market feed. Newer snapshots atomically replace older ones.
type FeeSnapshot struct {
	Percentiles  map[int]float64 // p10..p90 of mempool sat/vB
	MempoolBytes int64
	TipHeight    int64
	TakenAt      time.Time
}

// Stale reports whether this snapshot has aged past maxAge.
func (f *FeeSnapshot) Stale(maxAge time.Duration, now time.Time) bool {
	if f == nil {
		return true
	}
	return now.Sub(f.TakenAt) > maxAge
}

// PredictionStatus is the terminal-from-PENDING lifecycle of a PredictionRecord.
type PredictionStatus string

const (
	StatusPending   PredictionStatus = "PENDING"
	StatusConfirmed PredictionStatus = "CONFIRMED"
	StatusDropped   PredictionStatus = "DROPPED"
	StatusReplaced  PredictionStatus = "REPLACED"
)

// PredictionRecord is the Correlation Tracker's durable record of an
// emitted whale prediction, resolved against later confirmations.
type PredictionRecord struct {
	CorrelationID         string
	Txid                  string
	CreatedAt             time.Time
	PredictedConfirmBlock int64
	UrgencyScore          float64
	RBFEnabled            bool
	Status                PredictionStatus
	ResolvedAt            *time.Time
	ActualConfirmBlock    *int64
	Accuracy              *float64
}

// BlockEvent is yielded by the raw-block Upstream Adapter: the set of
// confirmed txids at a given height.
type BlockEvent struct {
	Height   int64
	Hash     string
	Txids    []string
	WallTime time.Time
}

// DailyPriceAggregate is a single row of the historical projection exposed
// by GET /prices/historical.
type DailyPriceAggregate struct {
	Date           string  `json:"date"`
	UTXOraclePrice float64 `json:"utxoraclePrice"`
	MempoolPrice   float64 `json:"mempoolPrice,omitempty"`
	Confidence     float64 `json:"confidence"`
	TxCount        int64   `json:"txCount"`
	IsValid        bool    `json:"isValid"`
}
