package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizePipeline()
	c.normalizeClustering()
	c.normalizeGates()
	c.normalizeLogging()
	if strings.TrimSpace(c.Sources.Path) != "" {
		expanded, err := expandPath(c.Sources.Path)
		if err != nil {
			return fmt.Errorf("sources.path: %w", err)
		}
		c.Sources.Path = expanded
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizePipeline() {
	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = defaultWorkers
	}
	if c.Pipeline.PollInterval <= 0 {
		c.Pipeline.PollInterval = defaultPollInterval
	}
	if c.Pipeline.ErrorRetryInterval <= 0 {
		c.Pipeline.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Pipeline.MaxAttempts <= 0 {
		c.Pipeline.MaxAttempts = defaultMaxAttempts
	}
	if c.Pipeline.BatchSize <= 0 {
		c.Pipeline.BatchSize = defaultBatchSize
	}
	if c.Pipeline.ManualPriority <= 0 {
		c.Pipeline.ManualPriority = defaultManualPriority
	}
	if c.Pipeline.AutoPriority <= 0 {
		c.Pipeline.AutoPriority = defaultAutoPriority
	}
	if c.Pipeline.ClaimLeaseMinutes <= 0 {
		c.Pipeline.ClaimLeaseMinutes = defaultClaimLeaseMinutes
	}
	if c.Pipeline.AutoTriggerMinutes <= 0 {
		c.Pipeline.AutoTriggerMinutes = defaultAutoTriggerMinutes
	}
}

func (c *Config) normalizeClustering() {
	if c.Clustering.WindowDays <= 0 {
		c.Clustering.WindowDays = defaultWindowDays
	}
	if c.Clustering.RuleWeight == 0 && c.Clustering.SemanticWeight == 0 {
		c.Clustering.RuleWeight = defaultRuleWeight
		c.Clustering.SemanticWeight = defaultSemanticWeight
	}
	if c.Clustering.MinSimilarity <= 0 {
		c.Clustering.MinSimilarity = defaultMinSimilarity
	}
	if c.Clustering.MinImportance <= 0 {
		c.Clustering.MinImportance = defaultMinImportance
	}
	if c.Clustering.CandidateTopK <= 0 {
		c.Clustering.CandidateTopK = defaultCandidateTopK
	}
	if c.Clustering.CandidateLimit <= 0 {
		c.Clustering.CandidateLimit = defaultCandidateLimit
	}
	if c.Clustering.MinSemanticScore <= 0 {
		c.Clustering.MinSemanticScore = defaultMinSemanticScore
	}
}

func (c *Config) normalizeGates() {
	c.Gates.Backend = strings.ToLower(strings.TrimSpace(c.Gates.Backend))
	if c.Gates.Backend == "" {
		c.Gates.Backend = defaultGateBackend
	}
	if c.Gates.CacheTTLSeconds <= 0 {
		c.Gates.CacheTTLSeconds = defaultGateCacheTTL
	}
	if strings.TrimSpace(c.Gates.RedisKeyPrefix) == "" {
		c.Gates.RedisKeyPrefix = defaultRedisKeyPrefix
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
