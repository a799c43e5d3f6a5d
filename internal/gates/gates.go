package gates

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"currents/internal/logging"
	"currents/internal/queue"
)

// Store is the durable key/value backing for feature gates.
type Store interface {
	Get(ctx context.Context, key string) (enabled bool, found bool, err error)
	Set(ctx context.Context, key string, enabled bool) error
	All(ctx context.Context) (map[string]bool, error)
	Close() error
}

// FeatureGate answers per-stage on/off questions with a short-lived in-memory
// cache in front of durable storage. Toggles take effect within the cache TTL
// without a process restart.
type FeatureGate struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]cachedFlag
}

type cachedFlag struct {
	enabled bool
	found   bool
	expires time.Time
}

// Option customizes FeatureGate construction.
type Option func(*FeatureGate)

// WithClock injects a clock, used by tests to exercise TTL expiry.
func WithClock(now func() time.Time) Option {
	return func(g *FeatureGate) {
		if now != nil {
			g.now = now
		}
	}
}

// WithLogger attaches a logger for backend failures.
func WithLogger(logger *slog.Logger) Option {
	return func(g *FeatureGate) {
		if logger != nil {
			g.logger = logging.NewComponentLogger(logger, "feature-gate")
		}
	}
}

// New constructs a FeatureGate over the provided store.
func New(store Store, ttl time.Duration, opts ...Option) *FeatureGate {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	gate := &FeatureGate{
		store:  store,
		ttl:    ttl,
		now:    time.Now,
		logger: logging.NewNop(),
		cache:  make(map[string]cachedFlag),
	}
	for _, opt := range opts {
		opt(gate)
	}
	return gate
}

// IsEnabled reports whether a stage may be scheduled or executed. Stages
// without a stored flag fall back to their default; a backend read failure
// also falls back to the default so a flaky gate store cannot halt the
// pipeline.
func (g *FeatureGate) IsEnabled(ctx context.Context, stage queue.Stage) bool {
	key := string(stage)
	now := g.now()

	g.mu.RLock()
	entry, ok := g.cache[key]
	g.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		return g.resolve(stage, entry)
	}

	enabled, found, err := g.store.Get(ctx, key)
	if err != nil {
		g.logger.Warn("gate lookup failed, using default",
			logging.String(logging.FieldStage, key),
			logging.Error(err),
		)
		return DefaultEnabled(stage)
	}

	entry = cachedFlag{enabled: enabled, found: found, expires: now.Add(g.ttl)}
	g.mu.Lock()
	g.cache[key] = entry
	g.mu.Unlock()

	return g.resolve(stage, entry)
}

func (g *FeatureGate) resolve(stage queue.Stage, entry cachedFlag) bool {
	if entry.found {
		return entry.enabled
	}
	return DefaultEnabled(stage)
}

// Set persists a gate flag and refreshes the cache immediately, so the
// writing process observes its own toggle without waiting out the TTL.
func (g *FeatureGate) Set(ctx context.Context, stage queue.Stage, enabled bool) error {
	key := string(stage)
	if err := g.store.Set(ctx, key, enabled); err != nil {
		return fmt.Errorf("set gate %s: %w", key, err)
	}
	g.mu.Lock()
	g.cache[key] = cachedFlag{enabled: enabled, found: true, expires: g.now().Add(g.ttl)}
	g.mu.Unlock()
	return nil
}

// All returns the effective flag for every known stage, bypassing the cache.
func (g *FeatureGate) All(ctx context.Context) (map[queue.Stage]bool, error) {
	stored, err := g.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list gates: %w", err)
	}
	flags := make(map[queue.Stage]bool, len(queue.AllStages()))
	for _, stage := range queue.AllStages() {
		if enabled, ok := stored[string(stage)]; ok {
			flags[stage] = enabled
		} else {
			flags[stage] = DefaultEnabled(stage)
		}
	}
	return flags, nil
}

// DefaultEnabled returns the flag value assumed for stages with no stored
// gate. Translation is opt-in; every other stage runs by default.
func DefaultEnabled(stage queue.Stage) bool {
	return stage != queue.StageTranslate
}
