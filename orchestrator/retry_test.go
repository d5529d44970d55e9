package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaugust4891/ad-image-generator/domain"
	"github.com/zaugust4891/ad-image-generator/logging"
	"github.com/zaugust4891/ad-image-generator/provider"
	"github.com/zaugust4891/ad-image-generator/template"
)

// scriptedResponse is one scripted outcome for scriptedProvider.Generate.
type scriptedResponse struct {
	kind provider.FailureKind // empty means success
	png  []byte
	cost float64
}

// scriptedProvider answers Generate by indexing into responses with
// params.CallIndex, so a test can script "fail attempt 0, succeed
// attempt 1" without the provider tracking its own call order.
type scriptedProvider struct {
	responses []scriptedResponse
}

func (scriptedProvider) Name() string { return "scripted" }

func (p scriptedProvider) Generate(_ context.Context, _ string, params provider.Params) (*provider.Result, error) {
	idx := params.CallIndex
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	r := p.responses[idx]
	if r.kind != "" {
		return nil, &provider.Failure{Kind: r.kind, Err: fmt.Errorf("scripted %s failure", r.kind)}
	}
	return &provider.Result{PNG: r.png, Cost: r.cost}, nil
}

// instantClock never actually sleeps, so retry-backoff tests finish in
// microseconds instead of waiting out real delays.
type instantClock struct{}

func (instantClock) Now() time.Time { return time.Now() }

func (instantClock) Sleep(_ interface{ Done() <-chan struct{} }, _ time.Duration) {}

func newTestOrchestrator(t *testing.T, target int) *Orchestrator {
	t.Helper()
	cfg := testConfig(t, target)
	tmpl := &template.GeneralPrompt{Prompt: "a lighthouse"}
	o, err := New(cfg, tmpl, logging.Discard())
	require.NoError(t, err)
	o.clock = instantClock{}
	return o
}

func TestGenerateWithRetryRetriesTransientThenSucceeds(t *testing.T) {
	o := newTestOrchestrator(t, 1)
	o.prov = scriptedProvider{responses: []scriptedResponse{
		{kind: provider.Transient},
		{png: []byte("fake-png-bytes"), cost: 0.02},
	}}
	o.sem <- struct{}{} // hold a slot, as runTask's caller does

	res, kind := o.generateWithRetry(context.Background(), "a lighthouse")

	require.NotNil(t, res)
	assert.Empty(t, kind)
	assert.Equal(t, []byte("fake-png-bytes"), res.PNG)
	assert.Equal(t, 0.02, res.Cost)
}

func TestGenerateWithRetryReturnsPermanentWithoutRetrying(t *testing.T) {
	o := newTestOrchestrator(t, 1)
	o.prov = scriptedProvider{responses: []scriptedResponse{
		{kind: provider.Permanent},
		{png: []byte("should-never-be-reached")},
	}}

	res, kind := o.generateWithRetry(context.Background(), "a lighthouse")

	assert.Nil(t, res)
	assert.Equal(t, provider.Permanent, kind)
}

func TestGenerateWithRetryExhaustsTransientAttemptsAsPermanent(t *testing.T) {
	o := newTestOrchestrator(t, 1)
	always := scriptedResponse{kind: provider.Transient}
	o.prov = scriptedProvider{responses: []scriptedResponse{always, always, always, always, always}}
	o.sem <- struct{}{} // hold a slot, as runTask's caller does

	res, kind := o.generateWithRetry(context.Background(), "a lighthouse")

	assert.Nil(t, res)
	assert.Equal(t, provider.Permanent, kind)
}

func TestRunTaskTreatsPermanentFailureAsNoProgressNotFatal(t *testing.T) {
	o := newTestOrchestrator(t, 1)
	o.prov = scriptedProvider{responses: []scriptedResponse{{kind: provider.Permanent}}}

	var wg sync.WaitGroup
	o.sem <- struct{}{}
	o.inFlight.Add(1)
	wg.Add(1)
	o.runTask(context.Background(), domain.Prompt{Seed: "a lighthouse"}, &wg)
	wg.Wait()

	assert.Equal(t, int32(1), o.consecutiveNoProgress.Load())
	assert.Equal(t, 0, o.Snapshot().Accepted())
	assert.NotEqual(t, domain.RunFailed, o.Snapshot().Phase())
}
