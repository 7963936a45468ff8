// Package watcher waits for a submitted job to reach a terminal state under a
// single deadline.
package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/use-agent/faceswap/config"
	"github.com/use-agent/faceswap/fallback"
	"github.com/use-agent/faceswap/models"
	"github.com/use-agent/faceswap/provider"
)

// Watcher resolves PendingJobs. The deadline is measured from the start of
// each Watch call.
type Watcher struct {
	timeout         time.Duration
	interval        time.Duration
	fallbackTimeout time.Duration
	chain           *fallback.Chain

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option customises a Watcher.
type Option func(*Watcher)

// WithClock replaces the wall clock and the sleep used between polls.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Watcher) {
		w.now = now
		w.sleep = sleep
	}
}

// WithFallback sets the chain run when an observed job gives no signal.
func WithFallback(chain *fallback.Chain) Option {
	return func(w *Watcher) { w.chain = chain }
}

// New builds a Watcher from the watch configuration.
func New(cfg config.WatchConfig, opts ...Option) *Watcher {
	w := &Watcher{
		timeout:         cfg.Timeout,
		interval:        cfg.PollInterval,
		fallbackTimeout: cfg.FallbackTimeout,
		now:             time.Now,
		sleep:           sleepCtx,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch blocks until job is terminal. On success the returned status is
// Succeeded with a non-empty result location and the error is nil. Every
// other outcome returns the terminal status together with a *models.SwapError.
func (w *Watcher) Watch(ctx context.Context, job provider.PendingJob) (models.JobStatus, error) {
	switch j := job.(type) {
	case *provider.PolledJob:
		return w.watchPolled(ctx, j)
	case *provider.SyncJob:
		return watchSync(j)
	case *provider.ObservedJob:
		return w.watchObserved(ctx, j)
	default:
		return models.Failed("unsupported job"), models.NewSwapError(
			models.ErrCodeInternal,
			fmt.Sprintf("watcher: unsupported job type %T", job),
			nil,
		)
	}
}

// interrupted maps a finished context to the matching terminal status.
func interrupted(err error) (models.JobStatus, error) {
	se := models.AsSwapError(err, models.ErrCodeTimeout, "job interrupted")
	if se.Kind == models.ErrCodeCanceled {
		return models.Canceled("canceled by caller"), se
	}
	return models.TimedOut("deadline exceeded"), se
}

// providerFailure turns a Failed or Canceled provider status into an error
// that carries the provider's reason.
func providerFailure(st models.JobStatus) (models.JobStatus, error) {
	return st, models.NewSwapError(models.ErrCodeProvider, st.Reason, nil)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
