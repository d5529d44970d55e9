package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	res := cfg.ValidateDetailed()
	assert.True(t, res.Valid, "errors: %v", res.Errors)
}

func TestValidateCatchesMultipleViolations(t *testing.T) {
	cfg := Default()
	cfg.Orchestrator.Concurrency = 0
	cfg.Orchestrator.RatePerMin = 1000
	cfg.Orchestrator.BackoffFactor = 10
	cfg.Provider.Width = 10

	res := cfg.ValidateDetailed()
	require.False(t, res.Valid)
	assert.GreaterOrEqual(t, len(res.Errors), 4)
}

func TestValidateRequiresCredentialForRemote(t *testing.T) {
	cfg := Default()
	cfg.Provider.Kind = ProviderRemote
	cfg.Provider.APIKeyEnv = "AD_IMG_GEN_TEST_MISSING_KEY"
	os.Unsetenv(cfg.Provider.APIKeyEnv)

	res := cfg.ValidateDetailed()
	assert.False(t, res.Valid)

	os.Setenv(cfg.Provider.APIKeyEnv, "secret")
	defer os.Unsetenv(cfg.Provider.APIKeyEnv)
	res = cfg.ValidateDetailed()
	assert.True(t, res.Valid)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run-config.yaml")

	cfg := Default()
	cfg.OutDir = "/tmp/whatever"
	cfg.Provider.Model = "imagen-test"

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.OutDir, loaded.OutDir)
	assert.Equal(t, cfg.Provider.Model, loaded.Provider.Model)
	assert.Equal(t, cfg.Orchestrator, loaded.Orchestrator)
}

func TestCloneIsIndependent(t *testing.T) {
	cfg := Default()
	budget := 5.0
	cfg.BudgetLimit = &budget

	clone := cfg.Clone()
	*clone.BudgetLimit = 10.0

	assert.Equal(t, 5.0, *cfg.BudgetLimit)
	assert.Equal(t, 10.0, *clone.BudgetLimit)
}

func TestWarningsSurfaceLikelyMistakes(t *testing.T) {
	cfg := Default()
	cfg.Orchestrator.RatePerMin = 6
	cfg.Orchestrator.Concurrency = 100

	res := cfg.ValidateDetailed()
	require.True(t, res.Valid)
	assert.NotEmpty(t, res.Warnings)
}
