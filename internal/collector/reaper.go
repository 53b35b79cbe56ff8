package collector

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"cdc-collector-service/internal/config"
	"cdc-collector-service/internal/logger"
	"cdc-collector-service/internal/store"
)

// Reaper periodically force-releases locks whose holder died without
// releasing, so an aborted run never parks an object forever. Each
// release is a compare-and-swap, so a racing worker and the reaper cannot
// both reclaim the same row.
type Reaper struct {
	cfg     config.ReaperConfig
	locks   *store.LockStore
	cron    *cron.Cron
	entryID cron.EntryID
}

func NewReaper(cfg config.ReaperConfig, locks *store.LockStore) *Reaper {
	return &Reaper{
		cfg:   cfg,
		locks: locks,
		cron:  cron.New(),
	}
}

func (r *Reaper) Start() {
	if !r.cfg.Enabled {
		logger.Log.Info("Lock reaper is disabled")
		return
	}

	logger.Log.Info("Starting lock reaper", zap.String("interval", r.cfg.Interval))

	id, err := r.cron.AddFunc(r.cfg.Interval, func() {
		r.sweep()
	})
	if err != nil {
		logger.Log.Error("Failed to schedule lock reaper", zap.Error(err))
		return
	}

	r.entryID = id
	r.cron.Start()
}

func (r *Reaper) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
	logger.Log.Info("Stopped lock reaper")
}

func (r *Reaper) sweep() {
	released, err := r.locks.ReleaseStale(context.Background())
	if err != nil {
		logger.Log.Error("Lock reaper sweep failed", zap.Error(err))
		return
	}
	if released > 0 {
		logger.Log.Info("Reaped stale locks", zap.Int("released", released))
	}
}
