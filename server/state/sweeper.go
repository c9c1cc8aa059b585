package state

import (
	"context"
	"time"

	"github.com/ponyo877/lobby/server/metrics"
)

const DefaultSweepInterval = 5 * time.Minute

// Sweeper periodically removes expired entries. It runs as a supervised
// service.
type Sweeper struct {
	store    *Store
	interval time.Duration
}

func NewSweeper(store *Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{store: store, interval: interval}
}

func (s *Sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	n, err := s.store.SweepExpired(ctx)
	if err != nil {
		s.store.logger.Warn().Err(err).Msg("state sweep failed")
		return
	}
	if n > 0 {
		metrics.StateSwept.Add(float64(n))
		s.store.logger.Debug().Int("removed", n).Msg("swept expired state")
	}
}

func (s *Sweeper) String() string {
	return "state-sweeper"
}
