package invite

import (
	"context"
	"time"

	"log/slog"

	"github.com/robfig/cron/v3"
)

const sweepTimeout = 30 * time.Second

// Sweeper periodically deletes expired invites.
type Sweeper struct {
	svc    *Service
	logger *slog.Logger
	cron   *cron.Cron
}

// NewSweeper schedules PurgeExpired on a cron spec such as "@every 10m".
func NewSweeper(svc *Service, spec string, logger *slog.Logger) (*Sweeper, error) {
	s := &Sweeper{svc: svc, logger: logger, cron: cron.New()}
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

// Run starts the schedule and blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.cron.Start()
	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	if _, err := s.svc.PurgeExpired(ctx); err != nil {
		s.logger.Error("invite sweep failed", "error", err)
	}
}
