// Package provider submits transformation jobs to the three provider shapes:
// polled task APIs, synchronous APIs and browser-observed web pages.
package provider

import (
	"context"
	"sync"

	"github.com/use-agent/faceswap/browser"
	"github.com/use-agent/faceswap/models"
)

// Adapter is implemented by every provider shape.
type Adapter interface {
	// Name returns the provider identifier used in logs and results.
	Name() string

	// Kind returns one of the config.Provider* constants.
	Kind() string

	// Submit hands the request to the provider and returns a handle the
	// completion watcher can wait on. A synchronous rejection is a
	// SUBMISSION_ERROR.
	Submit(ctx context.Context, req models.TransformationRequest) (PendingJob, error)

	// ResultCredential is the bearer token needed to download results, or "".
	ResultCredential() string
}

// PendingJob is a submitted job that has not been resolved yet. The set of
// implementations is closed: PolledJob, SyncJob and ObservedJob.
type PendingJob interface {
	// Release frees whatever the job holds. It is idempotent.
	Release()

	pendingJob()
}

// StatusPoller reports the current status of a polled task.
type StatusPoller interface {
	Status(ctx context.Context, taskID string) (models.JobStatus, error)
}

// PolledJob is a task created on a polled provider.
type PolledJob struct {
	TaskID string
	Cost   float64
	Poller StatusPoller
}

func (*PolledJob) Release()    {}
func (*PolledJob) pendingJob() {}

// SyncJob is the reply of a synchronous provider; it is already terminal.
type SyncJob struct {
	ResultURL string
}

func (*SyncJob) Release()    {}
func (*SyncJob) pendingJob() {}

// ObservedSession is the live page of an observed job as seen by the watcher.
type ObservedSession interface {
	// Signals delivers the first result candidate seen by the listeners.
	Signals() <-chan browser.Candidate
	// Seal deactivates the listeners and returns a candidate that was
	// accepted before sealing, if any.
	Seal() (browser.Candidate, bool)
	// HTML and ResourceURLs expose page state to the fallback chain.
	HTML(ctx context.Context) (string, error)
	ResourceURLs(ctx context.Context) ([]string, error)
	Close() error
}

// ObservedJob holds the browser session a job was submitted through.
type ObservedJob struct {
	Session ObservedSession

	once sync.Once
}

// NewObservedJob wraps s.
func NewObservedJob(s ObservedSession) *ObservedJob {
	return &ObservedJob{Session: s}
}

// Release closes the session exactly once.
func (j *ObservedJob) Release() {
	j.once.Do(func() {
		if j.Session != nil {
			_ = j.Session.Close()
		}
	})
}

func (*ObservedJob) pendingJob() {}
