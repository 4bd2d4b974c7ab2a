package worker

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// TypeRollupWarm is the only task type this worker processes: warm the
// daily-rollup read-through cache for one project (SPEC_FULL.md §2/§3).
const TypeRollupWarm = "rollup:warm"

// RollupWarmPayload names the project whose current rollup page should
// be recomputed and cached.
type RollupWarmPayload struct {
	ProjectID string `json:"projectId"`
}

// NewRollupWarmTask builds the asynq task for EnqueueRollupWarm.
func NewRollupWarmTask(payload RollupWarmPayload) (*asynq.Task, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRollupWarm, b), nil
}

func unmarshalTask(t *asynq.Task, v any) error {
	return json.Unmarshal(t.Payload(), v)
}

// EnqueueRollupWarm enqueues a rollup-warm task on the low-priority
// queue. Called from the ingest worker's PostCommitHook after a window
// commits (SPEC_FULL.md §2) — best-effort, so callers log a failure
// here rather than letting it affect ingestion.
func EnqueueRollupWarm(client *asynq.Client, projectID string) error {
	task, err := NewRollupWarmTask(RollupWarmPayload{ProjectID: projectID})
	if err != nil {
		return err
	}
	_, err = client.Enqueue(task, asynq.Queue("low"))
	return err
}
