// Package orchestrator runs one transformation end to end: submit, wait,
// download. It is the only entry point the API and MCP surfaces use.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/use-agent/faceswap/config"
	"github.com/use-agent/faceswap/metrics"
	"github.com/use-agent/faceswap/models"
	"github.com/use-agent/faceswap/provider"
)

// Watcher resolves a submitted job.
type Watcher interface {
	Watch(ctx context.Context, job provider.PendingJob) (models.JobStatus, error)
}

// Materializer downloads a result into local storage.
type Materializer interface {
	Materialize(ctx context.Context, remoteURL, credential string) (*models.TransformationResult, error)
}

// Orchestrator wires an adapter, a watcher and a store together.
// It is safe for concurrent use; each Run is independent.
type Orchestrator struct {
	cfg     *config.Config
	adapter provider.Adapter
	watcher Watcher
	store   Materializer
	metrics *metrics.Metrics
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records every run in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New builds an Orchestrator.
func New(cfg *config.Config, adapter provider.Adapter, w Watcher, store Materializer, opts ...Option) *Orchestrator {
	o := &Orchestrator{cfg: cfg, adapter: adapter, watcher: w, store: store}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Provider names the adapter in use.
func (o *Orchestrator) Provider() string {
	if o.adapter == nil {
		return ""
	}
	return o.adapter.Name()
}

// Run performs the transformation and returns exactly one of a result or a
// *models.SwapError. Configuration is checked before any network call.
// Transport failures and timeouts may be resubmitted as fresh jobs when
// FACESWAP_RETRY_ATTEMPTS is set; nothing else is ever retried.
//
// Config.RunBudget bounds each attempt, so with resubmission enabled the
// worst case is (attempts+1) budgets plus the backoff between them. Bound
// the total through ctx when that matters.
func (o *Orchestrator) Run(ctx context.Context, req models.TransformationRequest) (*models.TransformationResult, error) {
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	if o.adapter == nil || o.watcher == nil || o.store == nil {
		return nil, models.NewSwapError(models.ErrCodeConfiguration, "orchestrator is not fully wired", nil)
	}
	if req.ReferenceFace == "" {
		req.ReferenceFace = o.cfg.Provider.ReferenceFace
	}
	if req.SourceImage == "" {
		return nil, models.NewSwapError(models.ErrCodeSubmission, "no source image", nil)
	}

	start := time.Now()
	o.metrics.SwapStarted()

	attempts := o.cfg.Retry.Attempts
	if attempts < 0 {
		attempts = 0
	}
	base := o.cfg.Retry.Backoff
	if base <= 0 {
		base = time.Second
	}
	backoff := retry.WithMaxRetries(uint64(attempts), retry.NewExponential(base))

	var (
		result  *models.TransformationResult
		attempt int
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		res, err := o.runOnce(ctx, req, attempt)
		if err == nil {
			result = res
			return nil
		}
		if attempt <= attempts && ctx.Err() == nil && resubmittable(err) {
			slog.Warn("orchestrator: resubmitting fresh job",
				"provider", o.adapter.Name(), "attempt", attempt, "error", err)
			o.metrics.Resubmitted(o.adapter.Name())
			return retry.RetryableError(err)
		}
		return err
	})

	if err != nil {
		se := models.AsSwapError(err, models.ErrCodeInternal, "swap failed")
		o.metrics.SwapFinished(o.adapter.Name(), string(se.Kind), time.Since(start))
		slog.Warn("orchestrator: swap failed",
			"provider", o.adapter.Name(), "kind", se.Kind, "attempts", attempt, "error", se)
		return nil, se
	}

	result.Elapsed = time.Since(start)
	o.metrics.SwapFinished(o.adapter.Name(), metrics.OutcomeSuccess, result.Elapsed)
	slog.Info("orchestrator: swap completed",
		"provider", result.Provider, "path", result.LocalPath, "bytes", result.Size, "elapsed", result.Elapsed)
	return result, nil
}

// runOnce is a single submit, watch and download cycle under its own
// deadline. Whatever the adapter holds is released exactly once.
func (o *Orchestrator) runOnce(ctx context.Context, req models.TransformationRequest, attempt int) (*models.TransformationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RunBudget())
	defer cancel()

	sm := models.NewStateMachine()

	job, err := o.adapter.Submit(ctx, req)
	if err != nil {
		return nil, models.AsSwapError(err, models.ErrCodeSubmission, "submit failed")
	}
	release := sync.OnceFunc(job.Release)
	defer release()

	if err := sm.Transition(models.Pending()); err != nil {
		return nil, models.NewSwapError(models.ErrCodeInternal, "job state rejected", err)
	}
	slog.Debug("orchestrator: job submitted", "provider", o.adapter.Name(), "attempt", attempt)

	status, err := o.watcher.Watch(ctx, job)
	// The session (if any) is not needed for the download.
	release()
	if err != nil {
		return nil, models.AsSwapError(err, models.ErrCodeProvider, "job did not complete")
	}
	if err := sm.Transition(status); err != nil {
		return nil, models.NewSwapError(models.ErrCodeInternal, "job state rejected", err)
	}
	if status.State != models.JobStateSucceeded || status.ResultURL == "" {
		return nil, models.NewSwapError(models.ErrCodeInternal,
			fmt.Sprintf("watcher returned %s without a result", status.State), nil)
	}

	res, err := o.store.Materialize(ctx, status.ResultURL, o.adapter.ResultCredential())
	if err != nil {
		return nil, models.AsSwapError(err, models.ErrCodeDownload, "failed to download result")
	}
	res.Provider = o.adapter.Name()
	return res, nil
}

func resubmittable(err error) bool {
	switch models.KindOf(err) {
	case models.ErrCodeTransport, models.ErrCodeTimeout:
		return true
	default:
		return false
	}
}
