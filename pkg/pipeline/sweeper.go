package pipeline

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/ledgerchat/ledgerchat-engine/pkg/repositories"
)

// Sweeper deletes conversation turns past the retention horizon on a fixed
// interval. Expiry is enforced on read as well (ListRecent filters by
// created_at), so the sweeper only reclaims storage; a missed sweep never
// leaks expired turns into resolution.
type Sweeper struct {
	turns    repositories.TurnRepository
	horizon  time.Duration
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper creates a Sweeper.
func NewSweeper(turns repositories.TurnRepository, horizon, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		turns:    turns,
		horizon:  horizon,
		interval: interval,
		logger:   logger.Named("sweeper"),
	}
}

// Run sweeps until ctx is cancelled. Intended to run as a goroutine. The
// first sweep is delayed by a random fraction of the interval so replicas
// started together do not sweep in lockstep.
func (s *Sweeper) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Duration(rand.Int63n(int64(s.interval)))):
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.turns.SweepExpired(ctx, s.horizon)
			if err != nil {
				s.logger.Error("turn sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				s.logger.Info("swept expired turns", zap.Int64("removed", removed))
			}
		}
	}
}
