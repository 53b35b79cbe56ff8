package pipeline

import (
	"context"
	"fmt"

	"cdc-collector-service/internal/config"
	"cdc-collector-service/internal/storage"
)

// Action types, selected by explicit enum rather than runtime dispatch.
const (
	ActionInsertRow    = "insert-row"
	ActionMergeRow     = "merge-row"
	ActionDeleteRow    = "delete-row"
	ActionWriteToTopic = "write-to-topic"
)

// PipelineContext is one stage of one pipeline run. Start executes the
// stage and returns the contexts to run next: fan-out children first (so
// the reactor's depth-first drain keeps one lineage's writes causally
// ordered), then this pipeline's next stage.
type PipelineContext struct {
	queued        QueuedPipeline
	stage         int
	subscriptions map[string][]config.PipelineDef
}

func newContext(queued QueuedPipeline, stage int, subs map[string][]config.PipelineDef) *PipelineContext {
	return &PipelineContext{queued: queued, stage: stage, subscriptions: subs}
}

// Identity returns enough to retry a failed context at the root level.
func (c *PipelineContext) Identity() string {
	return fmt.Sprintf("pipeline=%s topic=%s key=%v",
		c.queued.Pipeline.PipelineID,
		c.queued.TriggerTopicSchema.TopicID,
		c.recordKey(),
	)
}

func (c *PipelineContext) recordKey() interface{} {
	field := "id"
	if c.stage < len(c.queued.Pipeline.Actions) {
		if kf := c.action().KeyField; kf != "" {
			field = kf
		}
	}
	if c.queued.CurrentData != nil {
		return c.queued.CurrentData[field]
	}
	if c.queued.PreviousData != nil {
		return c.queued.PreviousData[field]
	}
	return nil
}

func (c *PipelineContext) action() config.ActionConfig {
	return c.queued.Pipeline.Actions[c.stage]
}

// Start executes this stage against the backend serving its topic.
func (c *PipelineContext) Start(ctx context.Context, storages *TopicStorages) ([]*PipelineContext, error) {
	if c.stage >= len(c.queued.Pipeline.Actions) {
		return nil, nil
	}
	st, err := storages.AskTopicStorage(c.queued.TriggerTopicSchema)
	if err != nil {
		return nil, err
	}

	action := c.action()
	var children []*PipelineContext

	switch action.Type {
	case ActionInsertRow:
		err = c.insertRow(ctx, st, action)
	case ActionMergeRow:
		err = c.mergeRow(ctx, st, action)
	case ActionDeleteRow:
		err = c.deleteRow(ctx, st, action)
	case ActionWriteToTopic:
		children, err = c.writeToTopic(ctx, storages, action)
	default:
		err = fmt.Errorf("unknown action type %q", action.Type)
	}
	if err != nil {
		return nil, err
	}

	if c.stage+1 < len(c.queued.Pipeline.Actions) {
		children = append(children, newContext(c.queued, c.stage+1, c.subscriptions))
	}
	return children, nil
}

func (c *PipelineContext) insertRow(ctx context.Context, st storage.TopicStorage, action config.ActionConfig) error {
	if c.queued.CurrentData == nil {
		return nil // delete event; nothing to insert
	}
	return st.Insert(ctx, action.Collection, storage.Entity(c.queued.CurrentData))
}

func (c *PipelineContext) mergeRow(ctx context.Context, st storage.TopicStorage, action config.ActionConfig) error {
	if c.queued.CurrentData == nil {
		return nil
	}
	field, key := c.key(action, c.queued.CurrentData)
	return st.Upsert(ctx, action.Collection, storage.Entity(c.queued.CurrentData),
		storage.AllOf(storage.Eq(field, key)))
}

func (c *PipelineContext) deleteRow(ctx context.Context, st storage.TopicStorage, action config.ActionConfig) error {
	data := c.queued.PreviousData
	if data == nil {
		data = c.queued.CurrentData
	}
	if data == nil {
		return nil
	}
	field, key := c.key(action, data)
	return st.Delete(ctx, action.Collection, storage.AllOf(storage.Eq(field, key)))
}

// writeToTopic commits the current data onto another topic and spawns one
// child per pipeline subscribed to it, each seeing the overwritten row as
// its previous data.
func (c *PipelineContext) writeToTopic(ctx context.Context, storages *TopicStorages, action config.ActionConfig) ([]*PipelineContext, error) {
	if c.queued.CurrentData == nil {
		return nil, nil
	}

	target, ok := storages.Schema(action.TopicID)
	if !ok {
		return nil, fmt.Errorf("write to unknown topic %q", action.TopicID)
	}
	st, err := storages.AskTopicStorage(target)
	if err != nil {
		return nil, err
	}

	field, key := c.key(action, c.queued.CurrentData)
	criteria := storage.AllOf(storage.Eq(field, key))

	existing, err := st.FindOne(ctx, storage.Finder{Collection: target.Name, Criteria: criteria})
	if err != nil {
		return nil, err
	}
	if err := st.Upsert(ctx, target.Name, storage.Entity(c.queued.CurrentData), criteria); err != nil {
		return nil, err
	}

	var children []*PipelineContext
	for _, def := range c.subscriptions[action.TopicID] {
		children = append(children, newContext(QueuedPipeline{
			Pipeline:           def,
			TriggerTopicSchema: target,
			PreviousData:       existing,
			CurrentData:        c.queued.CurrentData,
		}, 0, c.subscriptions))
	}
	return children, nil
}

func (c *PipelineContext) key(action config.ActionConfig, data map[string]interface{}) (string, interface{}) {
	field := action.KeyField
	if field == "" {
		field = "id"
	}
	return field, data[field]
}
