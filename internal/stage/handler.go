// Package stage defines the contract between the pipeline worker and the
// per-stage processing logic.
package stage

import (
	"context"

	"currents/internal/queue"
)

// Handler describes the contract the pipeline worker needs from each stage.
// Execute processes the batch a task describes and reports per-item results;
// HealthCheck lets the daemon verify stage dependencies before claiming work.
type Handler interface {
	Execute(context.Context, *queue.Task) (Result, error)
	HealthCheck(context.Context) Health
}

// Result summarizes one Execute call. Processed and Failed count items, and
// ItemIDs lists the items that finished successfully so downstream stages
// can be scoped to them.
type Result struct {
	Processed int
	Failed    int
	ItemIDs   []int64
}

// Merge folds another result into this one.
func (r *Result) Merge(other Result) {
	r.Processed += other.Processed
	r.Failed += other.Failed
	r.ItemIDs = append(r.ItemIDs, other.ItemIDs...)
}

// AllFailed reports whether the batch had work and none of it succeeded.
func (r Result) AllFailed() bool {
	return r.Failed > 0 && r.Processed == 0
}
