package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Pipeline contains worker loop and task queue settings.
type Pipeline struct {
	Workers            int `toml:"workers"`
	PollInterval       int `toml:"poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	MaxAttempts        int `toml:"max_attempts"`
	BatchSize          int `toml:"batch_size"`
	ManualPriority     int `toml:"manual_priority"`
	AutoPriority       int `toml:"auto_priority"`
	ClaimLeaseMinutes  int `toml:"claim_lease_minutes"`
	AutoTriggerMinutes int `toml:"auto_trigger_minutes"`
}

// Clustering contains settings for the event clustering stage.
type Clustering struct {
	WindowDays     int     `toml:"window_days"`
	RuleWeight     float64 `toml:"rule_weight"`
	SemanticWeight float64 `toml:"semantic_weight"`
	MinSimilarity  float64 `toml:"min_similarity"`
	MinImportance  int     `toml:"min_importance_for_new_cluster"`
	CandidateTopK  int     `toml:"candidate_top_k"`
	CandidateLimit int     `toml:"candidate_limit"`

	// MinSemanticScore is the similarity floor passed to the vector search
	// service; hits below it never reach hybrid scoring.
	MinSemanticScore float64 `toml:"min_semantic_score"`
}

// Gates contains feature gate storage and caching settings.
type Gates struct {
	Backend         string `toml:"backend"`
	CacheTTLSeconds int    `toml:"cache_ttl_seconds"`
	RedisAddr       string `toml:"redis_addr"`
	RedisDB         int    `toml:"redis_db"`
	RedisPassword   string `toml:"redis_password"`
	RedisKeyPrefix  string `toml:"redis_key_prefix"`
}

// AI contains connection settings for the chat completion provider.
type AI struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Vector contains connection settings for the vector search service.
type Vector struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Bus contains settings for the optional NATS event bus.
type Bus struct {
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

// Sources contains the location of the YAML source registry.
type Sources struct {
	Path string `toml:"path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Currents.
//
// Configuration sections by subsystem:
//   - Paths: data and log directories
//   - Pipeline: worker count, polling cadence, retry policy, priorities
//   - Clustering: event clustering window, weights, and thresholds
//   - Gates: feature gate backend and cache TTL
//   - AI: chat completion provider used by analysis stages
//   - Vector: embedding and similarity search service
//   - Bus: optional NATS lifecycle event publishing
//   - Sources: YAML registry of known content sources
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	Pipeline   Pipeline   `toml:"pipeline"`
	Clustering Clustering `toml:"clustering"`
	Gates      Gates      `toml:"gates"`
	AI         AI         `toml:"ai"`
	Vector     Vector     `toml:"vector"`
	Bus        Bus        `toml:"bus"`
	Sources    Sources    `toml:"sources"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/currents/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. A .env file next to the working directory is
// applied first so secrets can stay out of the TOML file.
func Load(path string) (*Config, string, bool, error) {
	_ = godotenv.Load()

	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("CURRENTS_AI_API_KEY")); v != "" {
		c.AI.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("CURRENTS_VECTOR_API_KEY")); v != "" {
		c.Vector.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("CURRENTS_REDIS_ADDR")); v != "" {
		c.Gates.RedisAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("CURRENTS_NATS_URL")); v != "" {
		c.Bus.URL = v
	}
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("currents.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDatabasePath returns the location of the pipeline task database.
func (c *Config) QueueDatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "pipeline.db")
}

// ContentDatabasePath returns the location of the content and cluster database.
func (c *Config) ContentDatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "content.db")
}

// SampleConfig returns the embedded sample configuration file contents.
func SampleConfig() string {
	return sampleConfig
}

// WriteSample writes the sample configuration to the provided path, refusing to
// overwrite an existing file.
func WriteSample(path string) (string, error) {
	expanded, err := expandPath(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(expanded); err == nil {
		return "", fmt.Errorf("config file already exists at %s", expanded)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("stat config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return "", fmt.Errorf("write sample config: %w", err)
	}
	return expanded, nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
