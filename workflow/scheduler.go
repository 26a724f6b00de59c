package workflow

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ScheduleConfig holds cron specs for the background sweeps; an empty spec disables that job.
type ScheduleConfig struct {
	ReconcileSpec string
	RetrySpec     string
	RetryLimit    int
	Location      *time.Location
}

func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		ReconcileSpec: "30 2 * * *",
		RetrySpec:     "*/5 * * * *",
		RetryLimit:    100,
		Location:      time.UTC,
	}
}

// NewLedgerScheduler registers the nightly reconcile sweep and the failure retry job. The
// caller starts and stops the returned cron. Jobs skip a run while the previous one is busy.
func NewLedgerScheduler(ctx context.Context, l *Ledger, d *Dispatcher, cfg ScheduleConfig) (*cron.Cron, error) {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	if cfg.ReconcileSpec != "" {
		if _, err := c.AddFunc(cfg.ReconcileSpec, func() {
			if _, err := l.ReconcileAll(ctx); err != nil {
				l.logger.WithFields(logrus.Fields{"job": "reconcile"}).Error("ledger.schedule.failed: " + err.Error())
			}
		}); err != nil {
			return nil, err
		}
	}
	if cfg.RetrySpec != "" && d != nil {
		limit := cfg.RetryLimit
		if limit <= 0 {
			limit = 100
		}
		if _, err := c.AddFunc(cfg.RetrySpec, func() {
			if _, err := d.RetryFailedReactions(ctx, limit); err != nil {
				l.logger.WithFields(logrus.Fields{"job": "retry"}).Error("ledger.schedule.failed: " + err.Error())
			}
		}); err != nil {
			return nil, err
		}
	}
	return c, nil
}
