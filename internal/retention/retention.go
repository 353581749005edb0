package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog"

	"github.com/parleyhq/parley/internal/store"
)

// Sweeper permanently removes tombstoned threads once they outlive the
// retention TTL. Deletes over the wire only mark threads; the sweeper
// is what reclaims their rows.
type Sweeper struct {
	store    store.ThreadStore
	schedule string
	ttl      time.Duration
	log      zerolog.Logger
}

func New(st store.ThreadStore, schedule string, ttl time.Duration, log zerolog.Logger) (*Sweeper, error) {
	if !gronx.IsValid(schedule) {
		return nil, fmt.Errorf("invalid retention schedule %q", schedule)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("retention ttl must be positive, got %s", ttl)
	}
	return &Sweeper{store: st, schedule: schedule, ttl: ttl, log: log}, nil
}

// Run blocks, sweeping on every schedule tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info().Str("schedule", s.schedule).Dur("ttl", s.ttl).Msg("retention sweeper started")
	for {
		next, err := gronx.NextTickAfter(s.schedule, time.Now(), false)
		if err != nil {
			s.log.Error().Err(err).Msg("retention schedule evaluation failed")
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		cutoff := time.Now().Add(-s.ttl)
		n, err := s.store.Purge(ctx, cutoff)
		if err != nil {
			s.log.Warn().Err(err).Msg("retention sweep failed")
			continue
		}
		if n > 0 {
			s.log.Info().Int("threads", n).Time("cutoff", cutoff).Msg("retention sweep purged threads")
		}
	}
}
