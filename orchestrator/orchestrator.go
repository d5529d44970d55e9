// Package orchestrator owns a single Run: it pulls prompts from the
// Variant Generator, schedules tasks through a semaphore and a
// continuous-refill token bucket, and drives each prompt through
// Rewriter -> Provider -> Deduper -> Artifact Store -> Event Bus. The
// scheduler uses atomic counters and per-task goroutines bounded by a
// semaphore, with an exponential-backoff retry loop around each
// provider call.
package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/png" // decode support for dedupe fingerprinting
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zaugust4891/ad-image-generator/apperrors"
	"github.com/zaugust4891/ad-image-generator/clockrand"
	"github.com/zaugust4891/ad-image-generator/config"
	"github.com/zaugust4891/ad-image-generator/dedupe"
	"github.com/zaugust4891/ad-image-generator/domain"
	"github.com/zaugust4891/ad-image-generator/events"
	"github.com/zaugust4891/ad-image-generator/generator"
	"github.com/zaugust4891/ad-image-generator/logging"
	"github.com/zaugust4891/ad-image-generator/provider"
	_ "github.com/zaugust4891/ad-image-generator/provider/mock"
	_ "github.com/zaugust4891/ad-image-generator/provider/remote"
	"github.com/zaugust4891/ad-image-generator/rewrite"
	"github.com/zaugust4891/ad-image-generator/store"
	"github.com/zaugust4891/ad-image-generator/template"
)

// stallLimit is how many consecutive no-progress task outcomes trigger
// the stalled-run safeguard when enabled.
const stallLimit = 32

// Orchestrator owns one Run from Pending through a terminal state.
type Orchestrator struct {
	run  *domain.Run
	cfg  *config.RunConfig
	log  logging.Logger

	gen      generator.Generator
	prov     provider.Provider
	rewriter rewrite.Rewriter
	st       *store.Store
	bus      *events.Bus
	bucket   *TokenBucket
	rng      *clockrand.Source
	clock    clockrand.Clock

	sem chan struct{}

	idMu         sync.Mutex
	nextID       int
	fingerprints *dedupe.FingerprintSet

	consecutiveNoProgress atomic.Int32
	inFlight              atomic.Int32

	cancelFn context.CancelFunc
}

// New constructs an Orchestrator from a config+template snapshot. It
// performs the startup checks that are fatal for a run: out_dir must be
// writable, and a remote provider's credential must resolve.
func New(cfg *config.RunConfig, tmpl template.Template, log logging.Logger) (*Orchestrator, error) {
	snapshot := cfg.Clone()

	if err := os.MkdirAll(snapshot.OutDir, 0o755); err != nil {
		return nil, apperrors.Newf("orchestrator.New", apperrors.KindStartup, apperrors.ErrOutDirUnwritable, "create out_dir %s: %v", snapshot.OutDir, err)
	}
	probe, err := os.CreateTemp(snapshot.OutDir, ".writable-probe-*")
	if err != nil {
		return nil, apperrors.Newf("orchestrator.New", apperrors.KindStartup, apperrors.ErrOutDirUnwritable, "out_dir %s is not writable: %v", snapshot.OutDir, err)
	}
	probe.Close()
	os.Remove(probe.Name())

	gen, err := generator.New(tmpl)
	if err != nil {
		return nil, apperrors.New("orchestrator.New", apperrors.KindTemplate, err)
	}

	prov, err := buildProvider(snapshot)
	if err != nil {
		return nil, err
	}

	rewriter, err := buildRewriter(snapshot, log)
	if err != nil {
		return nil, err
	}

	var fingerprints *dedupe.FingerprintSet
	if snapshot.Dedupe.Enabled {
		fingerprints = dedupe.NewFingerprintSet(snapshot.Dedupe.HammingThreshold)
	}

	run := domain.NewRun(uuid.NewString(), snapshot.Orchestrator.TargetImages)

	return &Orchestrator{
		run:          run,
		cfg:          snapshot,
		log:          log.With(logging.Fields{"run_id": run.ID}),
		gen:          gen,
		prov:         prov,
		rewriter:     rewriter,
		st:           store.New(snapshot.OutDir),
		bus:          events.New(events.DefaultBufferSize),
		bucket:       NewTokenBucket(snapshot.Orchestrator.RatePerMin, snapshot.Orchestrator.Concurrency),
		rng:          clockrand.NewSource(snapshot.Seed),
		clock:        clockrand.Real,
		sem:          make(chan struct{}, snapshot.Orchestrator.Concurrency),
		fingerprints: fingerprints,
	}, nil
}

func buildProvider(cfg *config.RunConfig) (provider.Provider, error) {
	opts := []provider.Option{
		provider.WithModel(cfg.Provider.Model),
		provider.WithDimensions(cfg.Provider.Width, cfg.Provider.Height),
		provider.WithPricePerImage(cfg.Provider.PricePerImg),
		provider.WithSeed(cfg.Seed),
	}

	switch cfg.Provider.Kind {
	case config.ProviderRemote:
		key, ok := os.LookupEnv(cfg.Provider.APIKeyEnv)
		if !ok || key == "" {
			return nil, apperrors.Newf("orchestrator.buildProvider", apperrors.KindStartup, apperrors.ErrCredentialMissing, "environment variable %s is not set", cfg.Provider.APIKeyEnv)
		}
		opts = append(opts,
			provider.WithAPIKey(key),
			provider.WithBaseURL(cfg.Provider.BaseURL),
			provider.WithTimeoutSecs(cfg.Provider.TimeoutSecs),
		)
	case config.ProviderMock:
	default:
		return nil, apperrors.Newf("orchestrator.buildProvider", apperrors.KindConfig, apperrors.ErrConfigInvalid, "unknown provider kind %q", cfg.Provider.Kind)
	}

	p, err := provider.New(string(cfg.Provider.Kind), opts...)
	if err != nil {
		return nil, apperrors.New("orchestrator.buildProvider", apperrors.KindStartup, err)
	}
	return p, nil
}

func buildRewriter(cfg *config.RunConfig, log logging.Logger) (rewrite.Rewriter, error) {
	if !cfg.Rewrite.Enabled {
		return rewrite.Disabled{}, nil
	}
	apiKey := os.Getenv(cfg.Rewrite.APIKeyEnv)
	model := rewrite.NewHTTPModel(cfg.Rewrite.BaseURL, apiKey, cfg.Rewrite.Model, 30*time.Second)
	cached, err := rewrite.NewCached(model, cfg.Rewrite.SystemPrompt, cfg.Rewrite.MaxTokens, cfg.Rewrite.CacheFile, log)
	if err != nil {
		return nil, apperrors.New("orchestrator.buildRewriter", apperrors.KindStartup, err)
	}
	return cached, nil
}

// RunID returns the id of the owned Run.
func (o *Orchestrator) RunID() string { return o.run.ID }

// Snapshot returns the owned Run for read-only observation.
func (o *Orchestrator) Snapshot() *domain.Run { return o.run }

// Events returns the Event Bus subscribers attach to.
func (o *Orchestrator) Events() *events.Bus { return o.bus }

// Cancel requests that the run stop. In-flight tasks observe context
// cancellation and exit as Cancelled; the run's terminal event is
// Failed{error:"cancelled"}.
func (o *Orchestrator) Cancel() {
	if o.cancelFn != nil {
		o.cancelFn()
	}
}

// SeedResumeState seeds the id counter and fingerprint set from a prior
// run's manifest, so --resume continues numeric ids and dedupe state
// rather than starting over. Images that fail to read or decode are
// skipped for fingerprinting purposes; the id counter still advances
// past them, since the on-disk naming already reserved those ids.
func (o *Orchestrator) SeedResumeState(entries []domain.ManifestEntry) {
	o.idMu.Lock()
	defer o.idMu.Unlock()
	for _, e := range entries {
		if e.NumericID >= o.nextID {
			o.nextID = e.NumericID + 1
		}
		if o.fingerprints == nil || e.ImagePath == "" {
			continue
		}
		png, err := os.ReadFile(filepath.Join(o.cfg.OutDir, e.ImagePath))
		if err != nil {
			continue
		}
		fp, err := o.fingerprint(png)
		if err != nil {
			continue
		}
		o.fingerprints.Seed(fp)
	}
}

// Run drives the owned Run from Pending to a terminal state, blocking
// until it gets there. It is safe to call exactly once.
func (o *Orchestrator) Run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	o.cancelFn = cancel
	defer cancel()

	o.run.MarkRunning()
	o.bus.Publish(domain.StartedEvent(o.run.ID, int(o.run.TotalTarget)))

	var wg sync.WaitGroup
	target := int(o.run.TotalTarget)

dispatch:
	for {
		if ctx.Err() != nil {
			break
		}
		if int(o.run.Accepted())+int(o.inFlight.Load()) >= target {
			break
		}
		if o.stallTriggered() {
			o.log.Error("orchestrator: stalled run safeguard triggered", logging.Fields{"consecutive_no_progress": stallLimit})
			o.failRun(ctx, cancel, "stalled")
			break
		}

		prompt := o.gen.Next()

		select {
		case o.sem <- struct{}{}:
		case <-ctx.Done():
			goto drain
		}
		if err := o.bucket.Take(ctx); err != nil {
			<-o.sem
			goto drain
		}

		o.inFlight.Add(1)
		o.run.IncrAttempted()
		wg.Add(1)
		go o.runTask(ctx, prompt, &wg)
	}

drain:
	wg.Wait()

	// In-flight tasks counted toward the target when the dispatcher
	// stopped may have ended without an accepted image; dispatch again
	// until the target is met or the run is stopped.
	if ctx.Err() == nil && !o.run.Phase().IsTerminal() && int(o.run.Accepted()) < target {
		goto dispatch
	}

	switch {
	case ctx.Err() != nil && o.run.Phase() != domain.RunFinished && o.run.Phase() != domain.RunFailed:
		o.failRun(parent, cancel, "cancelled")
	case int(o.run.Accepted()) >= target:
		if o.run.MarkFinished() {
			o.bus.Publish(domain.FinishedEvent(o.run.ID))
		}
	}
}

func (o *Orchestrator) stallTriggered() bool {
	return o.cfg.Orchestrator.StallGuardEnabled() && o.consecutiveNoProgress.Load() >= stallLimit
}

func (o *Orchestrator) failRun(_ context.Context, cancel context.CancelFunc, reason string) {
	cancel()
	if o.run.MarkFailed(reason) {
		o.bus.Publish(domain.FailedEvent(o.run.ID, reason))
	}
}

// runTask executes the five-stage pipeline for one prompt: Rewriter (if
// enabled) -> Provider (with retry) -> Deduper (if enabled) -> Artifact
// Store -> Event Bus.
func (o *Orchestrator) runTask(ctx context.Context, prompt domain.Prompt, wg *sync.WaitGroup) {
	defer wg.Done()
	defer func() {
		<-o.sem
		o.inFlight.Add(-1)
	}()

	if o.cfg.Rewrite.Enabled {
		prompt.Rewritten = o.rewriter.Rewrite(ctx, prompt.Seed)
	}

	res, kind := o.generateWithRetry(ctx, prompt.Effective())
	if res == nil {
		if kind != provider.Cancelled {
			o.noProgress()
		}
		return
	}

	o.run.AddCost(res.Cost)

	accepted := o.commitArtifact(prompt, res)
	if accepted {
		o.consecutiveNoProgress.Store(0)
		o.run.IncrAccepted()
		o.bus.Publish(domain.ProgressEvent(o.run.ID, int(o.run.Accepted()), int(o.run.TotalTarget), o.run.CostSoFar()))
	} else {
		o.noProgress()
	}
}

func (o *Orchestrator) noProgress() {
	o.consecutiveNoProgress.Add(1)
}

// generateWithRetry calls the Provider, retrying Transient failures
// with exponential backoff + jitter up to maxProviderAttempts times.
// The semaphore slot is released before sleeping and reacquired after,
// so a slow retry does not starve new work.
func (o *Orchestrator) generateWithRetry(ctx context.Context, prompt string) (*provider.Result, provider.FailureKind) {
	params := provider.Params{Width: o.cfg.Provider.Width, Height: o.cfg.Provider.Height, Model: o.cfg.Provider.Model}

	for attempt := 0; attempt < maxProviderAttempts; attempt++ {
		params.CallIndex = attempt
		res, err := o.prov.Generate(ctx, prompt, params)
		if err == nil {
			return res, ""
		}

		kind := provider.KindOf(err)
		switch kind {
		case provider.Cancelled:
			return nil, kind
		case provider.Transient:
			if attempt == maxProviderAttempts-1 {
				o.log.Warn("orchestrator: provider exhausted retries, treating as permanent", logging.Fields{"attempts": maxProviderAttempts, "error": err.Error()})
				return nil, provider.Permanent
			}
			delay := backoffDelay(o.rng, o.cfg.Orchestrator.BackoffBaseMs, o.cfg.Orchestrator.BackoffFactor, o.cfg.Orchestrator.BackoffJitMs, attempt)
			<-o.sem // release the slot before sleeping
			o.clock.Sleep(ctx, delay)
			o.sem <- struct{}{} // reacquire before the retry
			if ctx.Err() != nil {
				return nil, provider.Cancelled
			}
		default:
			o.log.Warn("orchestrator: provider permanent failure", logging.Fields{"error": err.Error()})
			return nil, provider.Permanent
		}
	}
	return nil, provider.Permanent
}

// commitArtifact runs the dedupe test, numeric-id assignment, and
// persistence as a single atomic section under idMu, matching the
// ordering guarantee that id assignment and manifest append happen
// together. It reports whether the artifact was accepted.
func (o *Orchestrator) commitArtifact(prompt domain.Prompt, res *provider.Result) bool {
	o.idMu.Lock()
	defer o.idMu.Unlock()

	if o.fingerprints != nil {
		fp, err := o.fingerprint(res.PNG)
		if err != nil {
			o.log.Warn("orchestrator: fingerprint failed, skipping dedupe for this image", logging.Fields{"error": err.Error()})
		} else if o.fingerprints.TestAndAdd(fp) {
			o.log.Info("orchestrator: duplicate; skipped", logging.Fields{})
			return false
		}
	}

	id := o.nextID
	o.nextID++

	art := domain.Artifact{
		NumericID: id,
		RunID:     o.run.ID,
		Provider:  o.prov.Name(),
		Model:     o.cfg.Provider.Model,
		Width:     o.cfg.Provider.Width,
		Height:    o.cfg.Provider.Height,
		CreatedAt: time.Now(),
		Prompt:    prompt.Seed,
		Rewritten: prompt.Rewritten,
		Cost:      res.Cost,
	}

	thumbMaxPx := 0
	if o.cfg.Post.Thumbnail {
		thumbMaxPx = o.cfg.Post.ThumbMaxPx
	}

	if err := o.st.Save(art, res.PNG, thumbMaxPx); err != nil {
		o.log.Error("orchestrator: persistence failed, skipping", logging.Fields{"error": err.Error()})
		o.nextID--
		return false
	}

	return true
}

func (o *Orchestrator) fingerprint(png []byte) (dedupe.Fingerprint, error) {
	img, _, err := image.Decode(bytes.NewReader(png))
	if err != nil {
		return nil, fmt.Errorf("decode image for fingerprinting: %w", err)
	}
	return dedupe.Compute(img, o.cfg.Dedupe.HashBits)
}
