// Package config defines RunConfig, the operator-editable document that
// parameterizes a run, along with YAML (on-disk) and JSON (over-the-wire)
// marshaling and validation: Load reads and parses, Validate collects
// every violation rather than stopping at the first.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ProviderKind selects the image-generating backend.
type ProviderKind string

const (
	ProviderMock   ProviderKind = "mock"
	ProviderRemote ProviderKind = "remote"
)

// ProviderConfig configures the image provider.
type ProviderConfig struct {
	Kind         ProviderKind `yaml:"kind" json:"kind"`
	Model        string       `yaml:"model" json:"model"`
	APIKeyEnv    string       `yaml:"api_key_env" json:"api_key_env"`
	Width        int          `yaml:"width" json:"width"`
	Height       int          `yaml:"height" json:"height"`
	PricePerImg  float64      `yaml:"price_per_image" json:"price_per_image"`
	BaseURL      string       `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	TimeoutSecs  int          `yaml:"timeout_secs,omitempty" json:"timeout_secs,omitempty"`
}

// OrchestratorConfig controls scheduling and retry behavior.
type OrchestratorConfig struct {
	TargetImages   int     `yaml:"target_images" json:"target_images"`
	Concurrency    int     `yaml:"concurrency" json:"concurrency"`
	QueueCap       int     `yaml:"queue_cap" json:"queue_cap"`
	RatePerMin     int     `yaml:"rate_per_min" json:"rate_per_min"`
	BackoffBaseMs  int     `yaml:"backoff_base_ms" json:"backoff_base_ms"`
	BackoffFactor  float64 `yaml:"backoff_factor" json:"backoff_factor"`
	BackoffJitMs   int     `yaml:"backoff_jitter_ms" json:"backoff_jitter_ms"`
	StallGuard     *bool   `yaml:"stall_guard,omitempty" json:"stall_guard,omitempty"`
}

// StallGuardEnabled returns whether the stalled-run safeguard is active,
// defaulting to true when unset.
func (o OrchestratorConfig) StallGuardEnabled() bool {
	if o.StallGuard == nil {
		return true
	}
	return *o.StallGuard
}

// DedupeConfig controls perceptual deduplication.
type DedupeConfig struct {
	Enabled          bool `yaml:"enabled" json:"enabled"`
	HashBits         int  `yaml:"hash_bits" json:"hash_bits"`
	HammingThreshold int  `yaml:"hamming_threshold" json:"hamming_threshold"`
}

// PostConfig controls post-processing of accepted images.
type PostConfig struct {
	Thumbnail  bool `yaml:"thumbnail" json:"thumbnail"`
	ThumbMaxPx int  `yaml:"thumb_max_px" json:"thumb_max_px"`
}

// RewriteConfig controls the prompt rewriter.
type RewriteConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	Model        string `yaml:"model,omitempty" json:"model,omitempty"`
	SystemPrompt string `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	MaxTokens    int    `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	CacheFile    string `yaml:"cache_file,omitempty" json:"cache_file,omitempty"`
	APIKeyEnv    string `yaml:"api_key_env,omitempty" json:"api_key_env,omitempty"`
	BaseURL      string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
}

// RunConfig is the full operator-editable document: provider selection,
// scheduling, dedupe, post-processing, and prompt-rewrite settings.
type RunConfig struct {
	Provider     ProviderConfig     `yaml:"provider" json:"provider"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" json:"orchestrator"`
	Dedupe       DedupeConfig       `yaml:"dedupe" json:"dedupe"`
	Post         PostConfig         `yaml:"post" json:"post"`
	Rewrite      RewriteConfig      `yaml:"rewrite" json:"rewrite"`
	OutDir       string             `yaml:"out_dir" json:"out_dir"`
	Seed         int64              `yaml:"seed" json:"seed"`
	BudgetLimit  *float64           `yaml:"budget_limit,omitempty" json:"budget_limit,omitempty"`
}

// Default returns a RunConfig with sensible, immediately valid defaults.
func Default() *RunConfig {
	return &RunConfig{
		Provider: ProviderConfig{
			Kind:        ProviderMock,
			Model:       "mock-v1",
			Width:       512,
			Height:      512,
			PricePerImg: 0,
		},
		Orchestrator: OrchestratorConfig{
			TargetImages:  10,
			Concurrency:   4,
			QueueCap:      32,
			RatePerMin:    120,
			BackoffBaseMs: 250,
			BackoffFactor: 2.0,
			BackoffJitMs:  100,
		},
		Dedupe: DedupeConfig{
			Enabled:          false,
			HashBits:         64,
			HammingThreshold: 4,
		},
		Post: PostConfig{
			Thumbnail:  false,
			ThumbMaxPx: 256,
		},
		Rewrite: RewriteConfig{
			Enabled: false,
		},
		OutDir: "./out",
		Seed:   1,
	}
}

// Load reads and parses a YAML RunConfig document from path.
func Load(path string) (*RunConfig, error) {
	clean := filepath.Clean(path)
	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", clean, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", clean, err)
	}
	return cfg, nil
}

// Save atomically writes cfg as YAML to path (temp file + rename, so a
// concurrent reader never observes a partially written document).
func Save(path string, cfg *RunConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".runconfig-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp config file: %w", err)
	}
	return nil
}

// Clone returns a deep-enough copy of cfg for snapshotting at run
// construction, so mutating the operator's live document afterward does
// not affect an in-flight run.
func (c *RunConfig) Clone() *RunConfig {
	clone := *c
	if c.BudgetLimit != nil {
		v := *c.BudgetLimit
		clone.BudgetLimit = &v
	}
	if c.Orchestrator.StallGuard != nil {
		v := *c.Orchestrator.StallGuard
		clone.Orchestrator.StallGuard = &v
	}
	return &clone
}
