// Package jobs runs swaps in the background and remembers their outcome
// for a bounded time.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/use-agent/faceswap/config"
	"github.com/use-agent/faceswap/models"
	"github.com/use-agent/faceswap/webhook"
)

// Runner performs one swap.
type Runner interface {
	Run(ctx context.Context, req models.TransformationRequest) (*models.TransformationResult, error)
}

// Releaser removes a delivered artifact.
type Releaser interface {
	Release(path string)
}

// Notifier delivers completion events in the background.
type Notifier interface {
	DeliverAsync(url string, event *webhook.Event)
}

// Registry holds async jobs in an expirable LRU. Stored jobs are never
// mutated; completion replaces the entry. A completed job's artifact is
// released when the entry is evicted, expires or the registry closes.
type Registry struct {
	mu       sync.Mutex
	jobs     *expirable.LRU[string, *models.Job]
	runner   Runner
	releaser Releaser
	notifier Notifier

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customises a Registry.
type Option func(*Registry)

// WithNotifier enables webhooks for jobs submitted with a webhook URL.
func WithNotifier(n Notifier) Option {
	return func(r *Registry) { r.notifier = n }
}

// New builds a Registry holding at most cfg.MaxEntries jobs for cfg.TTL.
func New(cfg config.JobsConfig, runner Runner, releaser Releaser, opts ...Option) *Registry {
	size := cfg.MaxEntries
	if size <= 0 {
		size = 500
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{runner: runner, releaser: releaser, ctx: ctx, cancel: cancel}
	for _, opt := range opts {
		opt(r)
	}
	r.jobs = expirable.NewLRU[string, *models.Job](size, r.onEvict, ttl)
	return r
}

// Submit registers a job and starts it. onDone runs after the swap
// finishes, before the webhook. The returned job is a snapshot.
func (r *Registry) Submit(req models.TransformationRequest, webhookURL string, onDone ...func()) models.Job {
	job := &models.Job{
		ID:         "swap-" + uuid.NewString(),
		Status:     models.AsyncStatusProcessing,
		WebhookURL: webhookURL,
		CreatedAt:  time.Now().Unix(),
	}

	r.mu.Lock()
	r.jobs.Add(job.ID, job)
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(job, req, onDone)

	slog.Info("jobs: job accepted", "job_id", job.ID)
	return *job
}

// Get returns a snapshot of the job with id.
func (r *Registry) Get(id string) (models.Job, bool) {
	job, ok := r.jobs.Get(id)
	if !ok {
		return models.Job{}, false
	}
	return *job, true
}

// Len reports how many jobs are remembered.
func (r *Registry) Len() int { return r.jobs.Len() }

// Close cancels running jobs, waits for them and releases every artifact.
func (r *Registry) Close() {
	r.cancel()
	r.wg.Wait()
	r.jobs.Purge()
}

func (r *Registry) run(job *models.Job, req models.TransformationRequest, onDone []func()) {
	defer r.wg.Done()

	res, err := r.runner.Run(r.ctx, req)
	for _, fn := range onDone {
		fn()
	}

	done := *job
	if err != nil {
		done.Status = models.AsyncStatusFailed
		done.Err = models.AsSwapError(err, models.ErrCodeInternal, "swap failed")
	} else {
		done.Status = models.AsyncStatusCompleted
		done.Result = res
	}

	r.mu.Lock()
	_, present := r.jobs.Peek(job.ID)
	if present {
		r.jobs.Add(job.ID, &done)
	}
	r.mu.Unlock()

	if !present {
		slog.Warn("jobs: job evicted before completion", "job_id", job.ID)
		r.releaseResult(&done)
	}
	slog.Info("jobs: job finished", "job_id", job.ID, "status", done.Status)
	r.notify(&done)
}

func (r *Registry) notify(job *models.Job) {
	if r.notifier == nil || job.WebhookURL == "" {
		return
	}
	eventType := webhook.EventCompleted
	if job.Status == models.AsyncStatusFailed {
		eventType = webhook.EventFailed
	}
	r.notifier.DeliverAsync(job.WebhookURL, &webhook.Event{
		Type:      eventType,
		JobID:     job.ID,
		Timestamp: time.Now().Unix(),
		Data:      job.ToResponse(),
	})
}

// onEvict runs under the LRU's own lock and must not call back into it.
func (r *Registry) onEvict(id string, job *models.Job) {
	slog.Debug("jobs: job evicted", "job_id", id, "status", job.Status)
	r.releaseResult(job)
}

func (r *Registry) releaseResult(job *models.Job) {
	if job.Result == nil || r.releaser == nil {
		return
	}
	r.releaser.Release(job.Result.LocalPath)
}
