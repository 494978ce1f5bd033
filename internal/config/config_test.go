package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config must validate, got %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Name != "scansplit" {
		t.Errorf("Name = %q", cfg.Name)
	}
	if len(cfg.Detect.Vocabulary) == 0 {
		t.Error("default vocabulary missing")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".scansplit"), 0o755); err != nil {
		t.Fatal(err)
	}
	yaml := `
consensus:
  min_confidence: 0.6
pipeline:
  max_concurrency: 2
  session_timeout: 1m
  boundary_timeout: 10s
llm:
  provider: "null"
`
	path := filepath.Join(dir, ".scansplit", "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Consensus.MinConfidence != 0.6 {
		t.Errorf("min_confidence = %v", cfg.Consensus.MinConfidence)
	}
	if cfg.Pipeline.MaxConcurrency != 2 {
		t.Errorf("max_concurrency = %v", cfg.Pipeline.MaxConcurrency)
	}
	if cfg.Pipeline.SessionTimeout != time.Minute {
		t.Errorf("session_timeout = %v", cfg.Pipeline.SessionTimeout)
	}
	// Unspecified sections keep their defaults.
	if cfg.Consensus.StructuralWeight != 1.0 {
		t.Errorf("structural_weight = %v, want default", cfg.Consensus.StructuralWeight)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SCANSPLIT_GEMINI_API_KEY", "from-env")
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.APIKey != "from-env" {
		t.Errorf("APIKey = %q", cfg.LLM.APIKey)
	}
}

func TestConsensusWeight(t *testing.T) {
	cfg := DefaultConsensusConfig()
	tests := []struct {
		method string
		want   float64
	}{
		{"structural", 1.0},
		{"pattern", 0.8},
		{"semantic", 0.6},
		{"anything-else", 0.6},
	}
	for _, tt := range tests {
		if got := cfg.Weight(tt.method); got != tt.want {
			t.Errorf("Weight(%q) = %v, want %v", tt.method, got, tt.want)
		}
	}
}

func TestPipelineWorkers(t *testing.T) {
	tests := []struct {
		name       string
		cfg        PipelineConfig
		boundaries int
		want       int
	}{
		{"per-boundary default", PipelineConfig{MaxWorkersCap: 8}, 3, 3},
		{"capped", PipelineConfig{MaxWorkersCap: 8}, 20, 8},
		{"explicit", PipelineConfig{MaxConcurrency: 2, MaxWorkersCap: 8}, 20, 2},
		{"at least one", PipelineConfig{MaxWorkersCap: 8}, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Workers(tt.boundaries); got != tt.want {
				t.Errorf("Workers(%d) = %d, want %d", tt.boundaries, got, tt.want)
			}
		})
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Consensus.MinConfidence = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("min_confidence out of range must fail")
	}

	cfg = Default()
	cfg.Detect.Vocabulary = nil
	if err := cfg.Validate(); err == nil {
		t.Error("empty vocabulary must fail")
	}

	cfg = Default()
	cfg.Pipeline.BoundaryTimeout = cfg.Pipeline.SessionTimeout + time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("boundary timeout above session timeout must fail")
	}
}
