package config

import (
	"fmt"
	"os"

	"github.com/zaugust4891/ad-image-generator/apperrors"
)

// ValidationResult reports every violation found, following the
// teacher's pattern of surfacing a complete error list to the operator
// rather than failing fast on the first problem.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Validate checks cfg against the invariants in spec §3 and returns a
// non-nil error (apperrors-wrapped) only when there is at least one
// violation; all violations are available via ValidateDetailed for
// callers that want the complete list (the HTTP surface's 400 body, the
// /validate endpoint).
func (c *RunConfig) Validate() error {
	res := c.ValidateDetailed()
	if res.Valid {
		return nil
	}
	return apperrors.Newf("config.Validate", apperrors.KindConfig, apperrors.ErrConfigInvalid, "%v", res.Errors)
}

// ValidateDetailed runs every check and returns the full result,
// including warnings for configurations that validate but are probably
// mistakes.
func (c *RunConfig) ValidateDetailed() ValidationResult {
	var errs []string

	o := c.Orchestrator
	if o.Concurrency < 1 || o.Concurrency > 100 {
		errs = append(errs, fmt.Sprintf("orchestrator.concurrency must be in [1,100], got %d", o.Concurrency))
	}
	if o.RatePerMin < 1 || o.RatePerMin > 600 {
		errs = append(errs, fmt.Sprintf("orchestrator.rate_per_min must be in [1,600], got %d", o.RatePerMin))
	}
	if o.BackoffFactor < 1.1 || o.BackoffFactor > 5.0 {
		errs = append(errs, fmt.Sprintf("orchestrator.backoff_factor must be in [1.1,5.0], got %v", o.BackoffFactor))
	}
	if o.TargetImages < 1 {
		errs = append(errs, fmt.Sprintf("orchestrator.target_images must be >= 1, got %d", o.TargetImages))
	}
	if o.BackoffBaseMs < 0 {
		errs = append(errs, "orchestrator.backoff_base_ms must be >= 0")
	}
	if o.BackoffJitMs < 0 {
		errs = append(errs, "orchestrator.backoff_jitter_ms must be >= 0")
	}
	if o.QueueCap < 0 {
		errs = append(errs, "orchestrator.queue_cap must be >= 0")
	}

	p := c.Provider
	if p.Width < 64 || p.Width > 4096 {
		errs = append(errs, fmt.Sprintf("provider.width must be in [64,4096], got %d", p.Width))
	}
	if p.Height < 64 || p.Height > 4096 {
		errs = append(errs, fmt.Sprintf("provider.height must be in [64,4096], got %d", p.Height))
	}
	if p.Kind != ProviderMock && p.Kind != ProviderRemote {
		errs = append(errs, fmt.Sprintf("provider.kind must be one of {mock,remote}, got %q", p.Kind))
	}
	if p.Kind == ProviderRemote {
		if p.APIKeyEnv == "" {
			errs = append(errs, "provider.api_key_env is required when provider.kind=remote")
		} else if _, ok := os.LookupEnv(p.APIKeyEnv); !ok {
			errs = append(errs, fmt.Sprintf("provider.api_key_env %q is not set in the environment", p.APIKeyEnv))
		}
	}
	if p.PricePerImg < 0 {
		errs = append(errs, "provider.price_per_image must be >= 0")
	}

	d := c.Dedupe
	if d.Enabled {
		if d.HashBits <= 0 || d.HashBits%8 != 0 {
			errs = append(errs, fmt.Sprintf("dedupe.hash_bits must be a positive multiple of 8, got %d", d.HashBits))
		}
		if d.HammingThreshold < 0 {
			errs = append(errs, "dedupe.hamming_threshold must be >= 0")
		}
	}

	if c.Post.Thumbnail && c.Post.ThumbMaxPx <= 0 {
		errs = append(errs, "post.thumb_max_px must be > 0 when post.thumbnail is enabled")
	}

	if c.Rewrite.Enabled && c.Rewrite.SystemPrompt == "" {
		errs = append(errs, "rewrite.system_prompt is required when rewrite.enabled")
	}

	if c.OutDir == "" {
		errs = append(errs, "out_dir is required")
	}

	if c.BudgetLimit != nil && *c.BudgetLimit < 0 {
		errs = append(errs, "budget_limit must be >= 0")
	}

	var warnings []string
	perSecondCap := float64(o.RatePerMin) / 60.0
	if perSecondCap > 0 && float64(o.Concurrency) > perSecondCap*4 {
		warnings = append(warnings, "concurrency is much higher than rate_per_min allows; the token bucket, not concurrency, will bound throughput")
	}
	if o.RatePerMin > 0 {
		estSeconds := float64(o.TargetImages) / (float64(o.RatePerMin) / 60.0)
		if estSeconds > 3600 {
			warnings = append(warnings, "at this rate_per_min, reaching target_images will take more than an hour")
		}
	}
	if c.Provider.Kind == ProviderMock && c.Rewrite.Enabled {
		warnings = append(warnings, "rewrite is enabled with the mock provider; this is fine for testing but rewrite calls still leave the process")
	}

	return ValidationResult{
		Valid:    len(errs) == 0,
		Errors:   errs,
		Warnings: warnings,
	}
}
