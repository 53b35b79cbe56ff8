package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cdc-collector-service/internal/config"
	"cdc-collector-service/internal/identity"
	"cdc-collector-service/internal/logger"
	"cdc-collector-service/internal/storage"
	"cdc-collector-service/internal/store"
)

// Reactor executes the pipelines subscribed to a topic when committed
// previous/current data arrives. Expansion is depth-first: a context's
// children drain before its siblings, so one root trigger's writes on a
// single topic lineage land in deterministic causal order. Partial
// fan-out is never rolled back; downstream writes are idempotent and the
// whole trigger is retryable at the root.
type Reactor struct {
	storages      *TopicStorages
	triggers      *store.TriggerOnlineStore
	locks         *store.LockStore
	ids           *identity.Generator
	subscriptions map[string][]config.PipelineDef
	retries       int
	backoff       time.Duration
}

func NewReactor(storages *TopicStorages, triggers *store.TriggerOnlineStore, locks *store.LockStore, ids *identity.Generator, pipelines []config.PipelineDef, cfg config.CollectorConfig) *Reactor {
	subs := make(map[string][]config.PipelineDef)
	for _, def := range pipelines {
		subs[def.TopicID] = append(subs[def.TopicID], def)
	}
	return &Reactor{
		storages:      storages,
		triggers:      triggers,
		locks:         locks,
		ids:           ids,
		subscriptions: subs,
		retries:       cfg.TransportRetries,
		backoff:       cfg.GetAcquireBackoff(),
	}
}

// Trigger submits one ad-hoc pipeline run for a topic snapshot and returns
// the TriggerOnline handle for status polling. The handle is terminal on
// return: done, or failed with the error summary in Result.
func (r *Reactor) Trigger(ctx context.Context, topicID, tenantID string, previousData, currentData map[string]interface{}) (*store.TriggerOnline, error) {
	schema, ok := r.storages.Schema(topicID)
	if !ok {
		return nil, fmt.Errorf("unknown topic %q", topicID)
	}

	// Concurrent triggers on the same topic record serialize through a
	// resource lock, so two runs never interleave writes on one lineage.
	lockID, err := r.acquireRecordLock(ctx, schema, previousData, currentData)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := r.locks.ReleaseResource(ctx, lockID); rerr != nil {
			logger.Log.Error("Failed to release trigger record lock",
				zap.Int64("lockID", lockID),
				zap.Error(rerr),
			)
		}
	}()

	id, err := r.ids.NextID()
	if err != nil {
		return nil, err
	}

	trigger := &store.TriggerOnline{
		OnlineTriggerID: id,
		TenantID:        tenantID,
		Code:            topicID,
		Record:          recordSummary(previousData, currentData),
		TraceID:         uuid.New().String(),
	}
	if err := r.triggers.Create(ctx, trigger); err != nil {
		return nil, err
	}

	logger.Log.Info("Trigger submitted",
		zap.Int64("triggerID", trigger.OnlineTriggerID),
		zap.String("topicID", topicID),
		zap.String("traceID", trigger.TraceID),
	)

	if err := r.execute(ctx, schema, previousData, currentData); err != nil {
		r.finish(ctx, trigger, store.TriggerStatusFailed, err.Error())
		return trigger, nil
	}

	r.finish(ctx, trigger, store.TriggerStatusDone, "ok")
	return trigger, nil
}

// finish persists the terminal status. A persistence failure is surfaced
// in the log; the returned handle already carries the terminal state.
func (r *Reactor) finish(ctx context.Context, trigger *store.TriggerOnline, status int, result string) {
	if err := r.triggers.Finish(ctx, trigger, status, result); err != nil {
		logger.Log.Error("Failed to persist trigger terminal status",
			zap.Int64("triggerID", trigger.OnlineTriggerID),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
}

// acquireRecordLock claims the resource lock for the triggering record,
// retrying held locks with backoff up to the configured attempt count.
func (r *Reactor) acquireRecordLock(ctx context.Context, schema TopicSchema, previousData, currentData map[string]interface{}) (int64, error) {
	key := triggerRecordKey(previousData, currentData)
	for attempt := 0; ; attempt++ {
		lockID, err := r.locks.AcquireResource(ctx, schema.TopicID, "topic", key)
		if err == nil {
			return lockID, nil
		}
		if !errors.Is(err, store.ErrLockConflict) || attempt >= r.retries {
			return 0, fmt.Errorf("topic %s record %s: %w", schema.TopicID, key, err)
		}
		select {
		case <-time.After(r.backoff << attempt):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func triggerRecordKey(previousData, currentData map[string]interface{}) string {
	data := currentData
	if data == nil {
		data = previousData
	}
	return fmt.Sprintf("%v", data["id"])
}

func (r *Reactor) execute(ctx context.Context, schema TopicSchema, previousData, currentData map[string]interface{}) error {
	// Roots in subscription order; the stack is seeded in reverse so the
	// first subscription runs first.
	var stack []*PipelineContext
	roots := r.subscriptions[schema.TopicID]
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, newContext(QueuedPipeline{
			Pipeline:           roots[i],
			TriggerTopicSchema: schema,
			PreviousData:       previousData,
			CurrentData:        currentData,
		}, 0, r.subscriptions))
	}

	for len(stack) > 0 {
		pc := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		children, err := r.startWithRetry(ctx, pc)
		if err != nil {
			return fmt.Errorf("%s: %w", pc.Identity(), err)
		}
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return nil
}

// startWithRetry retries transport failures with backoff up to the
// configured attempt count. Everything else fails immediately: contract
// errors are programming mistakes and safety guards must not be retried.
func (r *Reactor) startWithRetry(ctx context.Context, pc *PipelineContext) ([]*PipelineContext, error) {
	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		children, err := pc.Start(ctx, r.storages)
		if err == nil {
			return children, nil
		}
		var transport *storage.UnexpectedStorageError
		if !errors.As(err, &transport) {
			return nil, err
		}
		lastErr = err

		logger.Log.Warn("Pipeline stage transport failure",
			zap.String("context", pc.Identity()),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		select {
		case <-time.After(r.backoff << attempt):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func recordSummary(previousData, currentData map[string]interface{}) string {
	data := currentData
	if data == nil {
		data = previousData
	}
	encoded, _ := json.Marshal(data)
	return string(encoded)
}
