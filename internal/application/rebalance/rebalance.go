package rebalance

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"hyperarb/internal/application/port"
)

const tickInterval = 30 * time.Second

// Collaborator performs the actual rebalance: moving capital between perp
// margin, spot quote, and spot base until each sits near its target share.
// The engine never implements this itself — it only owns the schedule — so
// the policy can be swapped or disabled without touching the tick loop.
type Collaborator interface {
	Rebalance(ctx context.Context, st port.AccountState) error
}

// Scheduler runs Collaborator.Rebalance on a fixed cadence, decoupled from
// the tick-driven trading loop so a slow rebalance call never stalls edge
// processing.
type Scheduler struct {
	exch          port.Exchange
	collaborator  Collaborator
	interval      time.Duration
}

func NewScheduler(exch port.Exchange, collaborator Collaborator) *Scheduler {
	return &Scheduler{exch: exch, collaborator: collaborator, interval: tickInterval}
}

// Run blocks until ctx is cancelled, invoking the collaborator every
// interval. A failed rebalance is logged and retried on the next tick —
// it never stops the scheduler.
func (s *Scheduler) Run(ctx context.Context) {
	if s.collaborator == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Trigger(ctx); err != nil {
				log.Error().Err(err).Msg("rebalancer: rebalance attempt failed")
			}
		}
	}
}

// Trigger runs one rebalance pass immediately, independent of the ticker.
// Used by the scheduled loop and by the control surface's "rebalance"
// command.
func (s *Scheduler) Trigger(ctx context.Context) error {
	if s.collaborator == nil {
		return nil
	}
	st, err := s.exch.UserState(ctx)
	if err != nil {
		return err
	}
	return s.collaborator.Rebalance(ctx, st)
}
