package pipeline

import (
	"cdc-collector-service/internal/config"
)

// TopicSchema is the structural definition of one data topic. Topics may
// be served by different physical backends.
type TopicSchema struct {
	TopicID string
	Name    string
	Storage string
}

// QueuedPipeline is the unit of work handed to the reactor: one pipeline
// with the topic snapshot that triggered it. PreviousData and CurrentData
// are independently optional (an insert has no previous, a delete has no
// current).
type QueuedPipeline struct {
	Pipeline           config.PipelineDef
	TriggerTopicSchema TopicSchema
	PreviousData       map[string]interface{}
	CurrentData        map[string]interface{}
}
