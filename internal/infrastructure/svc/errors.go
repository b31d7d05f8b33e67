package svc

import "errors"

// ErrNoPrivateKey names a start outside dry-run mode without a signing key.
// Nothing in this package returns it; config validation rejects that case
// with its own error.
var ErrNoPrivateKey = errors.New("no hyperliquid private key configured for live trading")

// ErrStorageInitFailed is returned when the configured persistence backend
// (sqlite, postgres, or both) fails to initialize.
var ErrStorageInitFailed = errors.New("storage initialization failed")

// ErrExchangeInitFailed is returned when the Hyperliquid client cannot be
// constructed (bad key, unreachable endpoint).
var ErrExchangeInitFailed = errors.New("exchange client initialization failed")
