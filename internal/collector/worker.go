package collector

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"cdc-collector-service/internal/config"
	"cdc-collector-service/internal/logger"
	"cdc-collector-service/internal/storage"
	"cdc-collector-service/internal/store"
)

// WorkerPool drains the capture queue into the merger. Lock contention
// and transient storage failures are handled with bounded retry plus
// backoff, then deferral: the record goes back on the queue instead of
// being dropped (at-least-once, the merge is idempotent on
// reapplication).
type WorkerPool struct {
	cfg      config.CollectorConfig
	merger   *Merger
	recordCh chan *store.ChangeRecord
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	deferWg  sync.WaitGroup
}

func NewWorkerPool(cfg config.CollectorConfig, merger *Merger) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		cfg:      cfg,
		merger:   merger,
		recordCh: make(chan *store.ChangeRecord, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (p *WorkerPool) Start() {
	logger.Log.Info("Starting collector worker pool", zap.Int("workers", p.cfg.Workers))
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

func (p *WorkerPool) Stop() {
	p.cancel()
	p.deferWg.Wait()
	p.wg.Wait()
	logger.Log.Info("Stopped collector worker pool")
}

// Enqueue offers a record to the pool. When the queue is full the record
// is handed off to a background sender so the caller is never blocked and
// the record is never lost.
func (p *WorkerPool) Enqueue(rec *store.ChangeRecord) CaptureResult {
	select {
	case p.recordCh <- rec:
		return CaptureAccepted
	default:
	}

	p.deferWg.Add(1)
	go func() {
		defer p.deferWg.Done()
		select {
		case p.recordCh <- rec:
		case <-p.ctx.Done():
		}
	}()
	return CaptureDeferred
}

func (p *WorkerPool) run(id int) {
	defer p.wg.Done()
	for {
		select {
		case rec := <-p.recordCh:
			p.process(id, rec)
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *WorkerPool) process(workerID int, rec *store.ChangeRecord) {
	timeout := p.cfg.GetStorageTimeout()
	backoff := p.cfg.GetAcquireBackoff()

	lockAttempts := 0
	transportAttempts := 0
	for {
		ctx, cancel := context.WithTimeout(p.ctx, timeout)
		err := p.merger.Merge(ctx, rec)
		cancel()

		if err == nil {
			return
		}

		var transport *storage.UnexpectedStorageError
		switch {
		case errors.Is(err, store.ErrLockConflict):
			if lockAttempts >= p.cfg.AcquireRetries {
				logger.Log.Info("Deferring contended change record",
					zap.Int64("recordID", rec.RecordID),
					zap.String("table", rec.TableName),
				)
				p.Enqueue(rec)
				return
			}
			if !p.wait(backoff << lockAttempts) {
				return
			}
			lockAttempts++
		case errors.As(err, &transport):
			if transportAttempts >= p.cfg.TransportRetries {
				logger.Log.Warn("Deferring change record after storage failures",
					zap.Int64("recordID", rec.RecordID),
					zap.String("table", rec.TableName),
					zap.Error(err),
				)
				p.Enqueue(rec)
				return
			}
			logger.Log.Warn("Merge storage failure",
				zap.Int("workerID", workerID),
				zap.Int64("recordID", rec.RecordID),
				zap.Int("attempt", transportAttempts+1),
				zap.Error(err),
			)
			if !p.wait(backoff << transportAttempts) {
				return
			}
			transportAttempts++
		default:
			// Contract violations and malformed payloads will not heal on
			// retry; the change record stays in the log for inspection.
			logger.Log.Error("Merge failed",
				zap.Int("workerID", workerID),
				zap.Int64("recordID", rec.RecordID),
				zap.String("table", rec.TableName),
				zap.Error(err),
			)
			return
		}
	}
}

// wait sleeps for d unless the pool is shutting down.
func (p *WorkerPool) wait(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-p.ctx.Done():
		return false
	}
}
