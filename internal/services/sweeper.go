package services

import (
	"context"
	"log"
	"time"

	"github.com/go-agentlink/agentlink/internal/metrics"
	"github.com/go-agentlink/agentlink/internal/store"
)

// Sweeper periodically marks expired pending authorizations. Purely
// housekeeping: failures are logged and retried next tick, never fatal.
type Sweeper struct {
	store    *store.Store
	metrics  metrics.Recorder
	interval time.Duration
}

func NewSweeper(s *store.Store, m metrics.Recorder, interval time.Duration) *Sweeper {
	return &Sweeper{store: s, metrics: m, interval: interval}
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-ctx.Done():
			return nil
		}
	}
}

// SweepOnce runs a single sweep pass and returns the number of
// authorizations marked expired.
func (s *Sweeper) SweepOnce() (int64, error) {
	expired, err := s.store.SweepExpiredAuthorizations(time.Now())
	if err != nil {
		return 0, err
	}
	s.metrics.RecordSweep(expired)
	return expired, nil
}

func (s *Sweeper) sweep() {
	expired, err := s.SweepOnce()
	if err != nil {
		log.Printf("[Sweeper] Failed to sweep expired authorizations: %v", err)
		return
	}
	if expired > 0 {
		log.Printf("[Sweeper] Marked %d expired device authorizations", expired)
	}

	s.updateGauges()
}

func (s *Sweeper) updateGauges() {
	if pending, err := s.store.CountPendingAuthorizations(); err != nil {
		log.Printf("[Sweeper] Failed to count pending authorizations: %v", err)
	} else {
		s.metrics.SetPendingAuthorizations(pending)
	}

	if active, err := s.store.CountActiveAgentTokens(); err != nil {
		log.Printf("[Sweeper] Failed to count active agent tokens: %v", err)
	} else {
		s.metrics.SetActiveAgentTokens(active)
	}
}
