// Package jobs runs the background cron tasks.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

type AuctionCloser interface {
	CloseExpired(ctx context.Context, now time.Time) (int, error)
}

type Scheduler struct {
	cron     *cron.Cron
	auctions AuctionCloser
	spec     string
	now      func() time.Time
}

// NewScheduler builds a scheduler that closes expired auctions on spec,
// a cron expression or descriptor such as "@every 1m".
func NewScheduler(auctions AuctionCloser, spec string) *Scheduler {
	if spec == "" {
		spec = "@every 1m"
	}
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		auctions: auctions,
		spec:     spec,
		now:      time.Now,
	}
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.CloseAuctions(ctx) }); err != nil {
		return fmt.Errorf("schedule auction close %q: %w", s.spec, err)
	}
	s.cron.Start()
	log.WithField("spec", s.spec).Info("scheduler started")
	return nil
}

// CloseAuctions closes every active listing whose end time passed.
func (s *Scheduler) CloseAuctions(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := s.auctions.CloseExpired(ctx, s.now())
	if err != nil {
		log.WithError(err).WithField("closed", n).Error("[CRON] closing expired auctions")
		return
	}
	if n > 0 {
		log.WithField("closed", n).Info("[CRON] expired auctions closed")
	}
}

// Stop stops the cron loop and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("scheduler stopped")
}
