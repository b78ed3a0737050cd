package adapters

import (
	"context"
	"log/slog"
	"time"

	"github.com/btcsuite/btcd/btcjson"

	"github.com/rawblock/utxoracle-live/internal/logging"
	"github.com/rawblock/utxoracle-live/pkg/models"
)

// TxFeed polls the node's mempool and emits newly-seen transactions,
// resolving input values by following each input's previous output
// through GetRawTransactionVerbose. This mirrors the teacher's mempool
// poller but speaks models.ParsedTransaction instead of a forensics model.
type TxFeed struct {
	StateHolder

	rpc      *RPCClient
	pollEvery time.Duration
	seen     *seenSet
	events   chan Event[models.ParsedTransaction]
	log      *slog.Logger
}

// NewTxFeed constructs a transaction feed adapter. events is unbuffered
// from the caller's perspective but backed by a modestly sized channel so
// a slow consumer tick doesn't immediately block the poll loop.
func NewTxFeed(rpc *RPCClient, pollEvery time.Duration) *TxFeed {
	return &TxFeed{
		rpc:       rpc,
		pollEvery: pollEvery,
		seen:      newSeenSet(6 * time.Hour),
		events:    make(chan Event[models.ParsedTransaction], 1024),
		log:       logging.For("adapters.txfeed"),
	}
}

// Events returns the channel new transactions are delivered on. The
// adapter owns this channel exclusively: it is the single writer and
// closes it only when Start returns after its context is cancelled.
func (f *TxFeed) Events() <-chan Event[models.ParsedTransaction] {
	return f.events
}

// Start runs the poll loop until ctx is cancelled, then closes Events().
func (f *TxFeed) Start(ctx context.Context) {
	defer close(f.events)
	f.MarkReconnecting()

	ticker := time.NewTicker(f.pollEvery)
	defer ticker.Stop()
	cleanup := time.NewTicker(time.Hour)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			f.MarkStopped()
			return
		case <-cleanup.C:
			f.seen.sweep()
		case <-ticker.C:
			if err := f.pollOnce(ctx); err != nil {
				f.log.Warn("txfeed poll failed", "error", err, "state", f.State().String())
				if tripped := f.RecordFailure(); tripped {
					f.log.Error("txfeed tripped circuit breaker", "consecutive_failures", circuitBreakerThreshold)
				}
				delay := Backoff(int(f.consecutiveFailsSnapshot()) - 1)
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

func (f *TxFeed) consecutiveFailsSnapshot() int32 {
	return f.consecutiveFails.Load()
}

// pollOnce fetches the mempool txid list, resolves any txids not already
// seen, and emits a models.ParsedTransaction for each. Up to maxTxPerTick
// are processed in one pass so a large mempool backlog can't starve the
// adapter's ability to notice ctx cancellation or shed RPC load.
const maxTxPerTick = 200

func (f *TxFeed) pollOnce(ctx context.Context) error {
	txids, err := f.rpc.GetRawMempoolTxids()
	if err != nil {
		return err
	}

	processed := 0
	now := time.Now()
	for _, txid := range txids {
		if processed >= maxTxPerTick {
			break
		}
		if f.seen.contains(txid) {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		raw, err := f.rpc.GetRawTransactionVerbose(txid)
		if err != nil {
			// A single vanished/invalid tx (evicted between list and
			// fetch) shouldn't fail the whole tick.
			f.log.Debug("txfeed tx lookup failed", "txid", txid, "error", err)
			continue
		}
		parsed := f.resolveTransaction(raw, now)
		f.seen.add(txid, now)
		processed++

		select {
		case f.events <- Event[models.ParsedTransaction]{Payload: parsed, Received: now}:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// resolveTransaction maps a btcjson.TxRawResult into the domain model,
// following each input's previous output for input-side values and
// addresses. Coinbase inputs are skipped. Inputs whose previous output
// can't be fetched (pruned node) are recorded with zero value and no
// address, so ParsedTransaction.HasResolvedInputs can flag the degraded
// case to downstream consumers.
func (f *TxFeed) resolveTransaction(raw *btcjson.TxRawResult, firstSeen time.Time) models.ParsedTransaction {
	ins := make([]models.TxIn, 0, len(raw.Vin))
	for _, vin := range raw.Vin {
		if vin.Coinbase != "" {
			continue
		}
		in := models.TxIn{Txid: vin.Txid, Vout: vin.Vout, Sequence: vin.Sequence}
		prevRaw, err := f.rpc.GetRawTransactionVerbose(vin.Txid)
		if err == nil && int(vin.Vout) < len(prevRaw.Vout) {
			prevOut := prevRaw.Vout[vin.Vout]
			in.Value = btcToSats(prevOut.Value)
			if len(prevOut.ScriptPubKey.Addresses) > 0 {
				in.Address = prevOut.ScriptPubKey.Addresses[0]
			} else if prevOut.ScriptPubKey.Address != "" {
				in.Address = prevOut.ScriptPubKey.Address
			}
		}
		ins = append(ins, in)
	}

	outs := make([]models.TxOut, 0, len(raw.Vout))
	var totalOut int64
	for _, vout := range raw.Vout {
		addr := vout.ScriptPubKey.Address
		if addr == "" && len(vout.ScriptPubKey.Addresses) > 0 {
			addr = vout.ScriptPubKey.Addresses[0]
		}
		sats := btcToSats(vout.Value)
		totalOut += sats
		outs = append(outs, models.TxOut{Value: sats, Address: addr})
	}

	var totalIn int64
	rbf := false
	for _, in := range ins {
		totalIn += in.Value
		if in.Sequence < 0xFFFFFFFE {
			rbf = true
		}
	}

	vsize := raw.Vsize
	if vsize <= 0 {
		vsize = raw.Size
	}
	var feeSats int64
	var feeRate float64
	if totalIn > 0 && vsize > 0 {
		feeSats = totalIn - totalOut
		if feeSats < 0 {
			feeSats = 0
		}
		feeRate = float64(feeSats) / float64(vsize)
	}

	return models.ParsedTransaction{
		Txid:            raw.Txid,
		FirstSeenAt:     firstSeen,
		Inputs:          ins,
		Outputs:         outs,
		TotalOutputSats: totalOut,
		FeeSats:         feeSats,
		VsizeVbytes:     int(vsize),
		FeeRate:         feeRate,
		RBFEnabled:      rbf,
	}
}

func btcToSats(btc float64) int64 {
	return int64(btc*1e8 + 0.5)
}
