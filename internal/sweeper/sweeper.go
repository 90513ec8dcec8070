// Package sweeper periodically frees spots whose time-boxed reservation
// has elapsed.
package sweeper

import (
	"context"
	"log"
	"time"

	"slotly-backend/config"
)

// Expirer frees spots held by elapsed reservations.
type Expirer interface {
	ExpireElapsed(ctx context.Context, now time.Time) (int, error)
}

// Service runs the sweep loop.
type Service struct {
	cfg     config.SweeperConfig
	expirer Expirer
	now     func() time.Time
}

// NewService creates a sweeper.
func NewService(cfg config.SweeperConfig, e Expirer) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Service{cfg: cfg, expirer: e, now: time.Now}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		log.Println("Sweeper is disabled. Not starting.")
		return
	}
	log.Printf("Starting sweeper, interval %s", s.cfg.Interval)

	s.SweepOnce(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Sweeper shutting down.")
			return
		case <-timer.C:
			s.SweepOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

// SweepOnce performs a single sweep and returns the number of spots freed.
// Errors are logged; the next sweep retries.
func (s *Service) SweepOnce(ctx context.Context) int {
	freed, err := s.expirer.ExpireElapsed(ctx, s.now())
	if err != nil {
		log.Printf("Sweep failed after freeing %d spots: %v", freed, err)
		return freed
	}
	if freed > 0 {
		log.Printf("Sweep freed %d spots", freed)
	}
	return freed
}
