package config

import (
	"errors"

	"github.com/rawblock/utxoracle-live/pkg/models"
)

// errConfigInvalid wraps models.ErrConfig with a config-specific sentinel
// so callers can still match the shared taxonomy via errors.Is.
var errConfigInvalid = errors.Join(models.ErrConfig)
