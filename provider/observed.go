package provider

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/use-agent/faceswap/browser"
	"github.com/use-agent/faceswap/config"
	"github.com/use-agent/faceswap/matcher"
	"github.com/use-agent/faceswap/models"
)

// observedPage is the part of a browser session the observed adapter drives.
type observedPage interface {
	ObservedSession
	Navigate(ctx context.Context, rawURL string) error
	Upload(ctx context.Context, selector, path string) error
	Click(ctx context.Context, selector string) error
	Settle(ctx context.Context, d time.Duration) error
	OnClose(fn func())
	MarkFailed()
}

type pageOpener func(ctx context.Context, opts browser.SessionOptions) (observedPage, error)

// Stager turns image references into local files for browser uploads.
type Stager interface {
	Stage(ctx context.Context, ref string) (path string, temporary bool, err error)
	Release(path string)
}

// Observed drives a provider web page in the shared browser. It has no
// structured completion signal; the watcher listens to the page instead.
type Observed struct {
	open   pageOpener
	stager Stager
	cfg    config.ObservedConfig
	opts   browser.SessionOptions
	name   string
}

// NewObserved builds an observed adapter on b.
func NewObserved(cfg config.ObservedConfig, b *browser.Browser, stager Stager,
	results *matcher.ResultMatcher, responses *matcher.ResponseMatcher,
) *Observed {
	open := func(ctx context.Context, opts browser.SessionOptions) (observedPage, error) {
		s, err := b.Open(ctx, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return newObserved(cfg, open, stager, results, responses)
}

func newObserved(cfg config.ObservedConfig, open pageOpener, stager Stager,
	results *matcher.ResultMatcher, responses *matcher.ResponseMatcher,
) *Observed {
	name := "web"
	headers := map[string]string{}
	if u, err := url.Parse(cfg.PageURL); err == nil && u.Host != "" {
		name = u.Hostname()
		headers["Referer"] = u.Scheme + "://" + u.Host + "/"
	}
	return &Observed{
		open:   open,
		stager: stager,
		cfg:    cfg,
		name:   name,
		opts: browser.SessionOptions{
			Headers:   headers,
			Results:   results,
			Responses: responses,
		},
	}
}

func (o *Observed) Name() string             { return o.name }
func (o *Observed) Kind() string             { return config.ProviderObserved }
func (o *Observed) ResultCredential() string { return "" }

// Submit opens a session with its listeners already mounted, uploads both
// images and clicks the trigger. Any failure closes the session before
// returning.
func (o *Observed) Submit(ctx context.Context, req models.TransformationRequest) (PendingJob, error) {
	var staged []string
	releaseStaged := func() {
		for _, p := range staged {
			o.stager.Release(p)
		}
	}

	sourcePath, tmp, err := o.stager.Stage(ctx, req.SourceImage)
	if err != nil {
		return nil, err
	}
	if tmp {
		staged = append(staged, sourcePath)
	}
	referencePath, tmp, err := o.stager.Stage(ctx, req.ReferenceFace)
	if err != nil {
		releaseStaged()
		return nil, err
	}
	if tmp {
		staged = append(staged, referencePath)
	}

	page, err := o.open(ctx, o.opts)
	if err != nil {
		releaseStaged()
		return nil, models.AsSwapError(err, models.ErrCodeSubmission, "failed to open provider page")
	}
	// Uploaded files are read lazily by the page, so they live as long as the session.
	page.OnClose(releaseStaged)

	steps := []struct {
		name string
		run  func() error
	}{
		{"navigate", func() error { return page.Navigate(ctx, o.cfg.PageURL) }},
		{"upload source", func() error { return page.Upload(ctx, o.cfg.SourceSelector, sourcePath) }},
		{"settle", func() error { return page.Settle(ctx, o.cfg.SettleDelay) }},
		{"upload reference", func() error { return page.Upload(ctx, o.cfg.ReferenceSelector, referencePath) }},
		{"settle", func() error { return page.Settle(ctx, o.cfg.SettleDelay) }},
		{"trigger", func() error { return page.Click(ctx, o.cfg.TriggerSelector) }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			slog.Warn("observed: submit step failed", "provider", o.name, "step", step.name, "error", err)
			page.MarkFailed()
			_ = page.Close()
			return nil, models.AsSwapError(err, models.ErrCodeSubmission, "observed submit failed at "+step.name)
		}
	}

	slog.Info("observed: job triggered", "provider", o.name, "page", o.cfg.PageURL)
	return NewObservedJob(page), nil
}
