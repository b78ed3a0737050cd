package adapters

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"

	"github.com/rawblock/utxoracle-live/internal/config"
)

// RPCClient wraps rpcclient.Client with the handful of calls the pipeline
// needs: mempool listing, transaction/block lookup, tip height and smart
// fee estimation. Credentials resolve in the order spec.md §6 describes:
// explicit config, then a cookie file, then bitcoin.conf-style user/pass.
type RPCClient struct {
	rpc *rpcclient.Client
}

// NewRPCClient dials the configured Bitcoin node.
func NewRPCClient(cfg *config.Config) (*RPCClient, error) {
	user, pass, err := resolveCredentials(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRPCCredentials, err)
	}

	connCfg := &rpcclient.ConnConfig{
		Host:         cfg.BTCRPCHost,
		User:         user,
		Pass:         pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}

	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, err
	}
	if _, err := client.GetBlockCount(); err != nil {
		client.Shutdown()
		return nil, err
	}
	return &RPCClient{rpc: client}, nil
}

// resolveCredentials implements the fallback chain from spec.md §6:
// explicit config -> cookie file under the data directory -> user/pass
// parsed from a bitcoin.conf-style file.
func resolveCredentials(cfg *config.Config) (user, pass string, err error) {
	if cfg.BTCRPCUser != "" {
		return cfg.BTCRPCUser, cfg.BTCRPCPass, nil
	}
	if cfg.BTCCookieFile != "" {
		line, err := readCookieLine(cfg.BTCCookieFile)
		if err == nil {
			parts := strings.SplitN(strings.TrimSpace(line), ":", 2)
			if len(parts) == 2 {
				return parts[0], parts[1], nil
			}
		}
	}
	if cfg.BTCConfFile != "" {
		user, pass, err := parseConfFileCredentials(cfg.BTCConfFile)
		if err == nil {
			return user, pass, nil
		}
	}
	return "", "", fmt.Errorf("no BTC_RPC_USER/BTC_RPC_PASS, no usable cookie file, and no usable bitcoin.conf")
}

// parseConfFileCredentials scans a bitcoin.conf-style file line by line
// for `rpcuser=`/`rpcpassword=` keys, skipping blank lines and `#`
// comments. Both keys must be present for the fallback to succeed.
func parseConfFileCredentials(path string) (user, pass string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "rpcuser":
			user = strings.TrimSpace(value)
		case "rpcpassword":
			pass = strings.TrimSpace(value)
		}
	}
	if err := sc.Err(); err != nil {
		return "", "", err
	}
	if user == "" || pass == "" {
		return "", "", fmt.Errorf("rpcuser/rpcpassword not found in %s", path)
	}
	return user, pass, nil
}

func (c *RPCClient) Shutdown() {
	c.rpc.Shutdown()
}

// GetRawMempoolTxids returns the txids currently in the node's mempool.
func (c *RPCClient) GetRawMempoolTxids() ([]string, error) {
	hashes, err := c.rpc.GetRawMempool()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.String()
	}
	return out, nil
}

// GetRawTransactionVerbose fetches a transaction by txid.
func (c *RPCClient) GetRawTransactionVerbose(txid string) (*btcjson.TxRawResult, error) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceProtocol, err)
	}
	return c.rpc.GetRawTransactionVerbose(hash)
}

// GetBlockCount returns the current tip height.
func (c *RPCClient) GetBlockCount() (int64, error) {
	return c.rpc.GetBlockCount()
}

// GetBlockVerboseAtHeight fetches a block's txid list and header info.
func (c *RPCClient) GetBlockVerboseAtHeight(height int64) (*btcjson.GetBlockVerboseResult, error) {
	hash, err := c.rpc.GetBlockHash(height)
	if err != nil {
		return nil, err
	}
	return c.rpc.GetBlockVerbose(hash)
}

// GetMempoolInfo returns the node's current mempool summary.
func (c *RPCClient) GetMempoolInfo() (*btcjson.GetMempoolInfoResult, error) {
	raw, err := c.rpc.RawRequest("getmempoolinfo", nil)
	if err != nil {
		return nil, err
	}
	var info btcjson.GetMempoolInfoResult
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// EstimateSmartFeeSatVB estimates the fee rate for confirmation within
// confTarget blocks, falling back through CONSERVATIVE -> ECONOMICAL ->
// mempool floor the way the teacher's bitcoin client does.
func (c *RPCClient) EstimateSmartFeeSatVB(confTarget int64) (float64, error) {
	conservative := btcjson.EstimateModeConservative
	if fee, err := c.estimateSmartFeeByMode(confTarget, &conservative); err == nil && fee > 0 {
		return btcPerKVbToSatPerVB(fee), nil
	}
	economical := btcjson.EstimateModeEconomical
	if fee, err := c.estimateSmartFeeByMode(confTarget, &economical); err == nil && fee > 0 {
		return btcPerKVbToSatPerVB(fee), nil
	}
	floor, err := c.mempoolFeeFloorBTCPerKVb()
	if err != nil {
		return 0, err
	}
	return btcPerKVbToSatPerVB(floor), nil
}

func (c *RPCClient) estimateSmartFeeByMode(confTarget int64, mode *btcjson.EstimateSmartFeeMode) (float64, error) {
	res, err := c.rpc.EstimateSmartFee(confTarget, mode)
	if err != nil {
		return 0, err
	}
	if res == nil || res.FeeRate == nil || !isFinitePositive(*res.FeeRate) {
		return 0, nil
	}
	return *res.FeeRate, nil
}

func (c *RPCClient) mempoolFeeFloorBTCPerKVb() (float64, error) {
	info, err := c.GetMempoolInfo()
	if err != nil {
		return 0, err
	}
	floor := info.MempoolMinFee
	if info.MinRelayTxFee > floor {
		floor = info.MinRelayTxFee
	}
	if !isFinitePositive(floor) {
		return 0, nil
	}
	return floor, nil
}

func btcPerKVbToSatPerVB(v float64) float64 { return v * 100_000 }

func isFinitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// readCookieLine reads a Bitcoin Core cookie file's single line, of the
// form `__cookie__:PASS`.
func readCookieLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if sc.Scan() {
		return sc.Text(), nil
	}
	return "", sc.Err()
}
