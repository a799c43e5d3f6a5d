// Package stages implements the pipeline stage handlers: content analysis,
// translation, embedding, event clustering, topic discovery, action
// extraction, and report generation. Each handler consumes the batch a task
// describes, applies side effects to the content store, and reports per-item
// results so the worker can record partial failures.
package stages

import (
	"context"
	"fmt"

	"currents/internal/content"
	"currents/internal/queue"
	"currents/internal/services"
)

// resolveItems loads the batch a task targets. A payload with explicit item
// ids pins the batch to those items; otherwise the handler scans for items
// that have not completed the stage yet. limit <= 0 falls back to the
// payload limit.
func resolveItems(ctx context.Context, store *content.Store, task *queue.Task, stageName string, batchSize int) ([]*content.Item, error) {
	payload, err := task.Payload()
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, stageName, "resolve batch", "malformed task payload", err)
	}

	if len(payload.ItemIDs) > 0 {
		items, err := store.ItemsByID(ctx, payload.ItemIDs)
		if err != nil {
			return nil, fmt.Errorf("load payload items: %w", err)
		}
		return items, nil
	}

	limit := payload.Limit
	if limit <= 0 {
		limit = batchSize
	}
	items, err := store.FetchUnprocessed(ctx, stageName, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unprocessed items: %w", err)
	}
	return items, nil
}

// batchError converts an all-failed batch into a task failure. Partial
// failures surface through the result only; the task still completes.
func batchError(stageName string, failed int, firstErr error) error {
	if firstErr == nil {
		return nil
	}
	return services.Wrap(services.ErrExternalService, stageName, "execute batch",
		fmt.Sprintf("all %d items failed", failed), firstErr)
}
