package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaugust4891/ad-image-generator/config"
	"github.com/zaugust4891/ad-image-generator/domain"
	"github.com/zaugust4891/ad-image-generator/logging"
	"github.com/zaugust4891/ad-image-generator/store"
	"github.com/zaugust4891/ad-image-generator/template"
)

func testConfig(t *testing.T, target int) *config.RunConfig {
	t.Helper()
	cfg := config.Default()
	cfg.OutDir = t.TempDir()
	cfg.Orchestrator.TargetImages = target
	cfg.Orchestrator.Concurrency = 2
	cfg.Orchestrator.RatePerMin = 600
	cfg.Provider.Width = 8
	cfg.Provider.Height = 8
	return cfg
}

func TestRunReachesFinishedAtTarget(t *testing.T) {
	cfg := testConfig(t, 5)
	tmpl := &template.GeneralPrompt{Prompt: "a lighthouse"}

	o, err := New(cfg, tmpl, logging.Discard())
	require.NoError(t, err)

	o.Run(context.Background())

	assert.Equal(t, domain.RunFinished, o.Snapshot().Phase())
	assert.Equal(t, 5, o.Snapshot().Accepted())
}

func TestRunWritesOneImagePerTargetImage(t *testing.T) {
	cfg := testConfig(t, 4)
	tmpl := &template.GeneralPrompt{Prompt: "a lighthouse"}

	o, err := New(cfg, tmpl, logging.Discard())
	require.NoError(t, err)
	o.Run(context.Background())

	list, err := o.st.List()
	require.NoError(t, err)
	assert.Len(t, list, 4)
}

func TestCancelStopsRunAsFailed(t *testing.T) {
	cfg := testConfig(t, 1000)
	cfg.Orchestrator.Concurrency = 1
	cfg.Orchestrator.RatePerMin = 6
	tmpl := &template.GeneralPrompt{Prompt: "a lighthouse"}

	o, err := New(cfg, tmpl, logging.Discard())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		o.Run(context.Background())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	o.Cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Cancel")
	}

	assert.Equal(t, domain.RunFailed, o.Snapshot().Phase())
	assert.Equal(t, "cancelled", o.Snapshot().FailReason())
}

func TestResumeSeedsIdCounterFromManifest(t *testing.T) {
	cfg := testConfig(t, 3)
	tmpl := &template.GeneralPrompt{Prompt: "a lighthouse"}

	first, err := New(cfg, tmpl, logging.Discard())
	require.NoError(t, err)
	first.Run(context.Background())
	require.Equal(t, domain.RunFinished, first.Snapshot().Phase())

	entries, err := first.st.List()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	manifestEntries := readManifestForTest(t, cfg.OutDir)
	require.Len(t, manifestEntries, 3)

	cfg2 := cfg.Clone()
	cfg2.Orchestrator.TargetImages = 2
	second, err := New(cfg2, tmpl, logging.Discard())
	require.NoError(t, err)
	second.SeedResumeState(manifestEntries)
	second.Run(context.Background())

	assert.Equal(t, domain.RunFinished, second.Snapshot().Phase())
	list, err := second.st.List()
	require.NoError(t, err)
	assert.Len(t, list, 5)

	names := make(map[string]bool, len(list))
	for _, info := range list {
		names[info.Name] = true
	}
	for id := 0; id < 5; id++ {
		found := false
		for name := range names {
			if strings.HasPrefix(name, fmt.Sprintf("%08d-", id)) {
				found = true
				break
			}
		}
		assert.True(t, found, "expected a file for id %d", id)
	}
}

func readManifestForTest(t *testing.T, outDir string) []domain.ManifestEntry {
	t.Helper()
	data, err := os.ReadFile(store.New(outDir).ManifestPath())
	require.NoError(t, err)
	var entries []domain.ManifestEntry
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var e domain.ManifestEntry
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		entries = append(entries, e)
	}
	return entries
}

func TestNewFailsOnMissingRemoteCredential(t *testing.T) {
	cfg := testConfig(t, 1)
	cfg.Provider.Kind = config.ProviderRemote
	cfg.Provider.APIKeyEnv = "AD_IMG_GEN_TEST_UNSET_KEY_XYZ"
	cfg.Provider.BaseURL = "http://example.invalid"
	tmpl := &template.GeneralPrompt{Prompt: "a lighthouse"}

	_, err := New(cfg, tmpl, logging.Discard())
	assert.Error(t, err)
}

func TestDedupeAtMaxThresholdRejectsEveryCandidateAfterTheFirst(t *testing.T) {
	cfg := testConfig(t, 3)
	cfg.Orchestrator.Concurrency = 1
	cfg.Dedupe.Enabled = true
	cfg.Dedupe.HashBits = 64
	// A 64-bit fingerprint's Hamming distance from any other fingerprint
	// can never exceed 64, so a threshold of 64 makes every candidate
	// after the first accepted one a duplicate, regardless of content.
	cfg.Dedupe.HammingThreshold = 64
	cfg.Seed = 99
	tmpl := &template.GeneralPrompt{Prompt: "a lighthouse"}

	o, err := New(cfg, tmpl, logging.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	o.Run(ctx)

	// With an always-duplicate threshold the run can never reach target
	// and will be stopped by the test's own timeout via context
	// cancellation, which the run surfaces as Failed{cancelled}.
	assert.LessOrEqual(t, o.Snapshot().Accepted(), 1)
}
