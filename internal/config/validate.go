package config

import (
	"errors"
	"fmt"
	"math"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateClustering(); err != nil {
		return err
	}
	if err := c.validateGates(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.ManualPriority >= c.Pipeline.AutoPriority {
		return errors.New("pipeline.manual_priority must be lower than pipeline.auto_priority (lower is served first)")
	}
	if c.Pipeline.MaxAttempts < 1 {
		return errors.New("pipeline.max_attempts must be at least 1")
	}
	return nil
}

func (c *Config) validateClustering() error {
	if c.Clustering.RuleWeight < 0 || c.Clustering.SemanticWeight < 0 {
		return errors.New("clustering weights must not be negative")
	}
	sum := c.Clustering.RuleWeight + c.Clustering.SemanticWeight
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("clustering.rule_weight + clustering.semantic_weight must sum to 1.0, got %.3f", sum)
	}
	if c.Clustering.MinSimilarity < 0 || c.Clustering.MinSimilarity > 1 {
		return errors.New("clustering.min_similarity must be between 0 and 1")
	}
	if c.Clustering.MinSemanticScore < 0 || c.Clustering.MinSemanticScore > 1 {
		return errors.New("clustering.min_semantic_score must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateGates() error {
	switch c.Gates.Backend {
	case "sqlite":
		return nil
	case "redis":
		if c.Gates.RedisAddr == "" {
			return errors.New("gates.redis_addr is required when gates.backend is redis (or set CURRENTS_REDIS_ADDR)")
		}
		return nil
	default:
		return fmt.Errorf("gates.backend: unsupported value %q (expected sqlite or redis)", c.Gates.Backend)
	}
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
