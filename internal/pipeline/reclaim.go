package pipeline

import (
	"context"
	"log/slog"
	"time"

	"currents/internal/config"
	"currents/internal/logging"
	"currents/internal/queue"
)

// RunReclaimer periodically returns expired running claims to the queue.
// A worker killed mid-task leaves its claim behind; once the claim lease
// passes, the task is retried (or failed when attempts are exhausted) so a
// crash never strands work.
func RunReclaimer(ctx context.Context, store *queue.Store, cfg *config.Config, logger *slog.Logger) {
	lease := time.Duration(cfg.Pipeline.ClaimLeaseMinutes) * time.Minute
	if lease <= 0 {
		lease = 2 * time.Hour
	}
	reclaimLogger := logging.NewComponentLogger(logger, "reclaimer")

	// Sweep at a fraction of the lease so expiry is detected promptly.
	interval := lease / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reclaimed, err := store.ReclaimStale(ctx, time.Now().UTC().Add(-lease))
			if err != nil {
				reclaimLogger.Warn("reclaim sweep failed", logging.Error(err))
				continue
			}
			if reclaimed > 0 {
				reclaimLogger.Info("stale claims reclaimed", logging.Int("count", reclaimed))
			}
		}
	}
}
