package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"currents/internal/config"
)

func TestLoadDefaultConfigExpandsPathsAndAppliesEnv(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("CURRENTS_AI_API_KEY", "env-key")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "currents", "data")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.AI.APIKey != "env-key" {
		t.Fatalf("expected AI key from env, got %q", cfg.AI.APIKey)
	}
	if cfg.Pipeline.PollInterval != 600 {
		t.Fatalf("unexpected poll interval: %d", cfg.Pipeline.PollInterval)
	}
	if cfg.Pipeline.ManualPriority >= cfg.Pipeline.AutoPriority {
		t.Fatal("manual priority must be more urgent than auto priority")
	}
	if cfg.Gates.Backend != "sqlite" {
		t.Fatalf("unexpected gate backend: %q", cfg.Gates.Backend)
	}
	if cfg.Clustering.MinSimilarity != 0.7 {
		t.Fatalf("unexpected min similarity: %v", cfg.Clustering.MinSimilarity)
	}
	if cfg.Clustering.MinSemanticScore != 0.3 {
		t.Fatalf("unexpected min semantic score: %v", cfg.Clustering.MinSemanticScore)
	}
}

func TestLoadRejectsMinSemanticScoreOutOfRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "currents.toml")
	body := "[clustering]\nmin_semantic_score = 1.5\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected validation error for min_semantic_score above 1.0")
	}
}

func TestLoadRejectsWeightsThatDoNotSumToOne(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "currents.toml")
	body := "[clustering]\nrule_weight = 0.5\nsemantic_weight = 0.6\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected validation error for weights summing above 1.0")
	}
}

func TestLoadRejectsManualPriorityNotBelowAuto(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "currents.toml")
	body := "[pipeline]\nmanual_priority = 100\nauto_priority = 100\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected validation error for equal priorities")
	}
}

func TestLoadRejectsRedisBackendWithoutAddr(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "currents.toml")
	body := "[gates]\nbackend = \"redis\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected validation error for redis backend without address")
	}
}

func TestSampleConfigParses(t *testing.T) {
	var cfg config.Config
	if err := toml.Unmarshal([]byte(config.SampleConfig()), &cfg); err != nil {
		t.Fatalf("sample config does not parse: %v", err)
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	written, err := config.WriteSample(path)
	if err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	if written != path {
		t.Fatalf("unexpected path: %q", written)
	}
	if _, err := config.WriteSample(path); err == nil {
		t.Fatal("expected error when config already exists")
	}
}
