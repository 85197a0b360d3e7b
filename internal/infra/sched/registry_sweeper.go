package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// IdleSweeper drops in-memory state that has not been used for idleTTL.
type IdleSweeper interface {
	Sweep(now time.Time, idleTTL time.Duration) int
}

// RegistrySweeper periodically evicts idle session slots.
type RegistrySweeper struct {
	interval time.Duration
	idleTTL  time.Duration
	target   IdleSweeper
	now      func() time.Time
	log      *zerolog.Logger
}

func NewRegistrySweeper(interval, idleTTL time.Duration, target IdleSweeper, logger *zerolog.Logger) *RegistrySweeper {
	swLog := logger.With().Str("component", "RegistrySweeper").Logger()
	return &RegistrySweeper{
		interval: interval,
		idleTTL:  idleTTL,
		target:   target,
		now:      time.Now,
		log:      &swLog,
	}
}

func (w *RegistrySweeper) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Dur("idle_ttl", w.idleTTL).Msg("Starting registry sweeper")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping registry sweeper")
			return ctx.Err()
		case <-ticker.C:
			if n := w.target.Sweep(w.now(), w.idleTTL); n > 0 {
				w.log.Debug().Int("count", n).Msg("idle sessions evicted")
			}
		}
	}
}
