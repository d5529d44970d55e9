package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaugust4891/ad-image-generator/apperrors"
	"github.com/zaugust4891/ad-image-generator/config"
	"github.com/zaugust4891/ad-image-generator/template"
)

func TestExitCodeForStartupErr(t *testing.T) {
	assert.Equal(t, 3, exitCodeForStartupErr(apperrors.Newf("op", apperrors.KindStartup, apperrors.ErrOutDirUnwritable, "boom")))
	assert.Equal(t, 4, exitCodeForStartupErr(apperrors.Newf("op", apperrors.KindStartup, apperrors.ErrCredentialMissing, "boom")))
	assert.Equal(t, 1, exitCodeForStartupErr(errors.New("other")))
}

func TestExitCodeForWrapsExitError(t *testing.T) {
	err := newExitError(2, errors.New("bad config"))
	assert.Equal(t, 2, ExitCodeFor(err))
	assert.Equal(t, 0, ExitCodeFor(nil))
	assert.Equal(t, 1, ExitCodeFor(errors.New("unwrapped")))
}

func TestLoadManifestEntriesReturnsNilWhenAbsent(t *testing.T) {
	entries, err := loadManifestEntries(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, entries)
}

func TestLoadManifestEntriesSkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.jsonl"),
		[]byte("{\"numeric_id\":0}\nnot json\n{\"numeric_id\":1}\n"), 0o644))

	entries, err := loadManifestEntries(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 0, entries[0].NumericID)
	assert.Equal(t, 1, entries[1].NumericID)
}

func TestRunFailsWithExitCode2OnUnparseableConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "run-config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(": not valid yaml :::"), 0o644))

	templatePath := filepath.Join(dir, "template.yml")
	doc := template.NewDoc(&template.GeneralPrompt{Prompt: "a lighthouse"})
	require.NoError(t, template.SaveFile(templatePath, doc))

	err := runRun(context.Background(), runOptions{configPath: configPath, templatePath: templatePath})
	require.Error(t, err)
	assert.Equal(t, 2, ExitCodeFor(err))
}

func TestRunFailsWithExitCode2OnInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Orchestrator.Concurrency = 0
	configPath := filepath.Join(dir, "run-config.yaml")
	require.NoError(t, config.Save(configPath, cfg))

	templatePath := filepath.Join(dir, "template.yml")
	doc := template.NewDoc(&template.GeneralPrompt{Prompt: "a lighthouse"})
	require.NoError(t, template.SaveFile(templatePath, doc))

	err := runRun(context.Background(), runOptions{configPath: configPath, templatePath: templatePath})
	require.Error(t, err)
	assert.Equal(t, 2, ExitCodeFor(err))
}

func TestRunFailsWithExitCode4OnMissingCredential(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.OutDir = filepath.Join(dir, "out")
	cfg.Orchestrator.TargetImages = 1
	cfg.Provider.Kind = config.ProviderRemote
	cfg.Provider.APIKeyEnv = "AD_IMG_GEN_TEST_UNSET_KEY_XYZ"
	cfg.Provider.BaseURL = "http://example.invalid"
	configPath := filepath.Join(dir, "run-config.yaml")
	require.NoError(t, config.Save(configPath, cfg))

	templatePath := filepath.Join(dir, "template.yml")
	doc := template.NewDoc(&template.GeneralPrompt{Prompt: "a lighthouse"})
	require.NoError(t, template.SaveFile(templatePath, doc))

	err := runRun(context.Background(), runOptions{configPath: configPath, templatePath: templatePath})
	require.Error(t, err)
	assert.Equal(t, 4, ExitCodeFor(err))
}

func TestRunSucceedsAndExitsZero(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.OutDir = filepath.Join(dir, "out")
	cfg.Orchestrator.TargetImages = 2
	cfg.Orchestrator.Concurrency = 1
	cfg.Orchestrator.RatePerMin = 600
	cfg.Provider.Width, cfg.Provider.Height = 64, 64
	configPath := filepath.Join(dir, "run-config.yaml")
	require.NoError(t, config.Save(configPath, cfg))

	templatePath := filepath.Join(dir, "template.yml")
	doc := template.NewDoc(&template.GeneralPrompt{Prompt: "a lighthouse"})
	require.NoError(t, template.SaveFile(templatePath, doc))

	err := runRun(context.Background(), runOptions{configPath: configPath, templatePath: templatePath})
	require.NoError(t, err)
}
