package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/faceswap/models"
	"github.com/use-agent/faceswap/provider"
)

// watchPolled polls at a fixed interval. The final sleep is clipped to the
// time left so that a job still pending times out exactly at the deadline.
// Each status call is bounded by the same deadline. A failing poll is
// returned immediately; retrying is the caller's decision.
func (w *Watcher) watchPolled(ctx context.Context, job *provider.PolledJob) (models.JobStatus, error) {
	start := w.now()
	deadline := start.Add(w.timeout)
	polls := 0

	for {
		if err := ctx.Err(); err != nil {
			return interrupted(err)
		}
		if !w.now().Before(deadline) {
			slog.Warn("watcher: polled job timed out", "task_id", job.TaskID, "polls", polls, "timeout", w.timeout)
			return models.TimedOut("deadline exceeded"), models.NewSwapError(
				models.ErrCodeTimeout,
				fmt.Sprintf("task %s still pending after %s", job.TaskID, w.timeout),
				nil,
			)
		}

		st, expired, err := w.pollOnce(ctx, job, deadline.Sub(w.now()))
		polls++
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return interrupted(ctxErr)
			}
			if expired {
				slog.Warn("watcher: status call outlived the deadline", "task_id", job.TaskID, "polls", polls)
				return models.TimedOut("deadline exceeded"), models.NewSwapError(
					models.ErrCodeTimeout,
					fmt.Sprintf("task %s still pending after %s", job.TaskID, w.timeout),
					err,
				)
			}
			return models.Failed("status call failed"), models.AsSwapError(err, models.ErrCodeTransport, "status call failed")
		}

		switch st.State {
		case models.JobStateSucceeded:
			slog.Info("watcher: polled job succeeded",
				"task_id", job.TaskID, "polls", polls, "elapsed", w.now().Sub(start))
			return st, nil
		case models.JobStateFailed, models.JobStateCanceled:
			slog.Warn("watcher: polled job ended without result",
				"task_id", job.TaskID, "state", st.State, "reason", st.Reason)
			return providerFailure(st)
		}

		wait := w.interval
		if remaining := deadline.Sub(w.now()); remaining < wait {
			wait = remaining
		}
		if wait > 0 {
			if err := w.sleep(ctx, wait); err != nil {
				return interrupted(err)
			}
		}
	}
}

type pollReply struct {
	st  models.JobStatus
	err error
}

// pollOnce runs one status call bounded by remaining. expired reports that
// the call was cut off by the watch deadline rather than by ctx. A poller
// that ignores its context is abandoned; its reply is dropped.
func (w *Watcher) pollOnce(ctx context.Context, job *provider.PolledJob, remaining time.Duration) (models.JobStatus, bool, error) {
	pctx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()

	replies := make(chan pollReply, 1)
	go func() {
		st, err := job.Poller.Status(pctx, job.TaskID)
		replies <- pollReply{st: st, err: err}
	}()

	select {
	case r := <-replies:
		if r.err != nil && pctx.Err() != nil && ctx.Err() == nil {
			return r.st, true, r.err
		}
		return r.st, false, r.err
	case <-pctx.Done():
		return models.JobStatus{}, ctx.Err() == nil, pctx.Err()
	}
}
