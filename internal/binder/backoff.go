package binder

import (
	"github.com/cenkalti/backoff/v4"

	"github.com/teonet-go/teoweb/internal/config"
)

// NewBackOff returns the reconnect policy described by cfg. It never gives
// up on its own; Run stops on context cancellation instead.
func NewBackOff(cfg config.ReconnectConfig) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.Initial
	b.Multiplier = cfg.Multiplier
	b.MaxInterval = cfg.Max
	b.RandomizationFactor = cfg.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
