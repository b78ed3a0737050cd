// Package whale implements the Whale Classifier from spec.md §4.3: a
// pure, stateless function over a parsed transaction and a classifier
// config that yields a WhaleCandidate. Grounded on the direction/impact
// scoring shape of the pack's WhaleAlertAdapter
// (other_examples 3623b9c0_selivandex-trader-bot whale_alert.go), adapted
// here into a deterministic classifier rather than a sentiment score.
package whale

import (
	"time"

	"github.com/rawblock/utxoracle-live/pkg/models"
)

const satsPerBTC = 1e8

// AddressSet is the labelled-address config the classifier matches
// against (spec.md §3.1 ExchangeAddressSet), loaded once at startup and
// shared read-only thereafter.
type AddressSet struct {
	Exchange map[string]struct{}
}

// NewAddressSet builds an AddressSet from a flat list of exchange
// addresses.
func NewAddressSet(exchangeAddresses []string) *AddressSet {
	m := make(map[string]struct{}, len(exchangeAddresses))
	for _, a := range exchangeAddresses {
		m[a] = struct{}{}
	}
	return &AddressSet{Exchange: m}
}

func (s *AddressSet) isExchange(addr string) bool {
	if s == nil || addr == "" {
		return false
	}
	_, ok := s.Exchange[addr]
	return ok
}

// Config holds the classifier's thresholds, per spec.md §4.3.
type Config struct {
	WhaleThresholdBTC float64
	Addresses         *AddressSet
}

// Classify is the pure classification function. It never returns an
// error: when input addresses are required but unresolved, it degrades
// to FlowType UNKNOWN->WhaleTransfer per spec.md §4.3's InsufficientInputData
// rule rather than failing the pipeline, and reports that degradation
// via the second return value so callers can log/count it.
func Classify(tx models.ParsedTransaction, cfg Config) (candidate models.WhaleCandidate, insufficientInputData bool) {
	thresholdSats := int64(cfg.WhaleThresholdBTC * satsPerBTC)

	exceedsOutputThreshold := false
	for _, out := range tx.Outputs {
		if out.Value >= thresholdSats {
			exceedsOutputThreshold = true
			break
		}
	}

	var inflowSats, outflowSats int64
	for _, out := range tx.Outputs {
		if cfg.Addresses.isExchange(out.Address) {
			inflowSats += out.Value
		}
	}
	haveInputAddresses := tx.HasResolvedInputs()
	if haveInputAddresses {
		for _, in := range tx.Inputs {
			if cfg.Addresses.isExchange(in.Address) {
				outflowSats += in.Value
			}
		}
	} else if len(tx.Inputs) > 0 {
		insufficientInputData = true
	}

	exceedsAddressSetThreshold := inflowSats >= thresholdSats || outflowSats >= thresholdSats
	if !exceedsOutputThreshold && !exceedsAddressSetThreshold {
		return models.WhaleCandidate{}, insufficientInputData
	}

	direction, flowType := classifyDirection(inflowSats, outflowSats, insufficientInputData)

	totalBTC := float64(tx.TotalOutputSats) / satsPerBTC
	return models.WhaleCandidate{
		Txid:       tx.Txid,
		BTCValue:   totalBTC,
		Direction:  direction,
		FlowType:   flowType,
		DetectedAt: time.Now(),
	}, insufficientInputData
}

// classifyDirection applies spec.md §4.3's tie-break rule: if both
// inflow and outflow match, the group with greater total sats wins; on
// an exact tie, NEUTRAL. When input data is insufficient, the outcome
// always degrades to WHALE_TRANSFER regardless of any inflow match,
// since outflow could not be evaluated.
func classifyDirection(inflowSats, outflowSats int64, insufficientInputData bool) (models.Direction, models.FlowType) {
	if insufficientInputData {
		return models.DirectionNeutral, models.FlowWhaleTransfer
	}
	switch {
	case inflowSats > 0 && outflowSats > 0:
		switch {
		case inflowSats > outflowSats:
			return models.DirectionIn, models.FlowExchangeInflow
		case outflowSats > inflowSats:
			return models.DirectionOut, models.FlowExchangeOutflow
		default:
			return models.DirectionNeutral, models.FlowUnknown
		}
	case inflowSats > 0:
		return models.DirectionIn, models.FlowExchangeInflow
	case outflowSats > 0:
		return models.DirectionOut, models.FlowExchangeOutflow
	default:
		return models.DirectionNeutral, models.FlowWhaleTransfer
	}
}
