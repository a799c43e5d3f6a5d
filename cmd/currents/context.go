package main

import (
	"context"
	"strings"
	"sync"
	"time"

	"currents/internal/config"
	"currents/internal/content"
	"currents/internal/gates"
	"currents/internal/queue"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) openQueue() (*queue.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return queue.Open(cfg)
}

func (c *commandContext) openContent() (*content.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return content.Open(cfg)
}

// openGates selects the configured gate backend. SQLite rides in the queue
// database; Redis is for deployments sharing gates across hosts.
func (c *commandContext) openGates() (*gates.FeatureGate, func() error, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}

	ttl := time.Duration(cfg.Gates.CacheTTLSeconds) * time.Second

	if strings.EqualFold(cfg.Gates.Backend, "redis") {
		store, err := gates.OpenRedis(context.Background(), cfg.Gates)
		if err != nil {
			return nil, nil, err
		}
		return gates.New(store, ttl), store.Close, nil
	}

	store, err := gates.OpenSQLite(cfg.QueueDatabasePath())
	if err != nil {
		return nil, nil, err
	}
	return gates.New(store, ttl), store.Close, nil
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
