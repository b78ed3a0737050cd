package adapters

import (
	"errors"

	"github.com/rawblock/utxoracle-live/pkg/models"
)

// ErrRPCCredentials indicates no usable Bitcoin RPC credentials could be
// resolved from config, cookie file, or bitcoin.conf-style file.
var ErrRPCCredentials = errors.Join(models.ErrConfig, errors.New("no usable bitcoin rpc credentials"))

// ErrSourceProtocol wraps the shared source-protocol-error taxonomy for
// malformed responses from an upstream adapter.
var ErrSourceProtocol = errors.Join(models.ErrSourceProtocolError)
