package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/faceswap/models"
	"github.com/use-agent/faceswap/provider"
)

// watchObserved races the session's listeners against the deadline. The
// first candidate wins through the session latch. When the deadline passes
// the latch is sealed before anything else happens, so the fallback chain
// can only run when no listener resolved and none ever will.
func (w *Watcher) watchObserved(ctx context.Context, job *provider.ObservedJob) (models.JobStatus, error) {
	s := job.Session
	start := time.Now()

	raceCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	select {
	case c := <-s.Signals():
		s.Seal()
		slog.Info("watcher: observed job resolved",
			"source", c.Source, "url", c.URL, "elapsed", time.Since(start))
		return models.Succeeded(c.URL), nil
	case <-raceCtx.Done():
	}

	c, accepted := s.Seal()
	if err := ctx.Err(); errors.Is(err, context.Canceled) {
		return interrupted(err)
	}
	if accepted {
		slog.Info("watcher: observed job resolved at the deadline", "source", c.Source, "url", c.URL)
		return models.Succeeded(c.URL), nil
	}
	if err := ctx.Err(); err != nil {
		return interrupted(err)
	}

	slog.Warn("watcher: no result signal before deadline, running fallback chain",
		"timeout", w.timeout, "fallback_timeout", w.fallbackTimeout)

	if w.chain == nil {
		return models.TimedOut("no result signal"), models.NewSwapError(
			models.ErrCodeTimeout,
			fmt.Sprintf("no result signal after %s", w.timeout),
			models.ErrExtractionExhausted,
		)
	}

	fbCtx, fbCancel := context.WithTimeout(ctx, w.fallbackTimeout)
	defer fbCancel()

	found, strategy, err := w.chain.Run(fbCtx, s)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return interrupted(ctxErr)
		}
		return models.TimedOut("fallback exhausted"), models.NewSwapError(
			models.ErrCodeTimeout,
			fmt.Sprintf("no result signal after %s and no fallback strategy found one", w.timeout),
			err,
		)
	}

	slog.Info("watcher: observed job resolved by fallback", "strategy", strategy, "url", found)
	return models.Succeeded(found), nil
}
