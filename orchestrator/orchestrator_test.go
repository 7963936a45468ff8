package orchestrator

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/use-agent/faceswap/browser"
	"github.com/use-agent/faceswap/config"
	"github.com/use-agent/faceswap/metrics"
	"github.com/use-agent/faceswap/models"
	"github.com/use-agent/faceswap/provider"
	"github.com/use-agent/faceswap/store"
	"github.com/use-agent/faceswap/watcher"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), bytes.Repeat([]byte{0x02}, 64)...)

// fakeVModel is a polled provider: the task stays processing for a couple
// of polls, then ends with finalStatus.
type fakeVModel struct {
	finalStatus string
	createFails int32 // number of initial create calls answered with 502

	creates  atomic.Int32
	polls    atomic.Int32
	download atomic.Value // Authorization header of the download
}

func (f *fakeVModel) handler(srvURL *string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/create", func(w http.ResponseWriter, _ *http.Request) {
		if f.creates.Add(1) <= f.createFails {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"result":{"task_id":"t-1","task_cost":1}}`))
	})
	mux.HandleFunc("/get/t-1", func(w http.ResponseWriter, _ *http.Request) {
		if f.polls.Add(1) < 3 {
			_, _ = w.Write([]byte(`{"result":{"status":"processing"}}`))
			return
		}
		switch f.finalStatus {
		case "succeeded":
			_, _ = w.Write([]byte(`{"result":{"status":"succeeded","output":["` + *srvURL + `/out.png"]}}`))
		case "failed":
			_, _ = w.Write([]byte(`{"result":{"status":"failed","error":"nsfw"}}`))
		default:
			_, _ = w.Write([]byte(`{"result":{"status":"processing"}}`))
		}
	})
	mux.HandleFunc("/out.png", func(w http.ResponseWriter, r *http.Request) {
		f.download.Store(r.Header.Get("Authorization"))
		_, _ = w.Write(pngBytes)
	})
	return mux
}

func newFixture(t *testing.T, fake *fakeVModel, mutate func(*config.Config)) (*Orchestrator, *config.Config) {
	t.Helper()
	var srvURL string
	srv := httptest.NewServer(fake.handler(&srvURL))
	t.Cleanup(srv.Close)
	srvURL = srv.URL

	cfg := &config.Config{
		Provider: config.ProviderConfig{
			Kind:          config.ProviderPolled,
			BaseURL:       srv.URL,
			Token:         "tok",
			Version:       "v1",
			ReferenceFace: srv.URL + "/kirk.jpg",
		},
		Watch: config.WatchConfig{
			Timeout:         2 * time.Second,
			PollInterval:    10 * time.Millisecond,
			FallbackTimeout: time.Second,
		},
		Store: config.StoreConfig{Dir: t.TempDir(), DownloadTimeout: 5 * time.Second},
		Retry: config.RetryConfig{Backoff: time.Millisecond},
	}
	if mutate != nil {
		mutate(cfg)
	}

	st, err := store.New(cfg.Store, srv.Client())
	require.NoError(t, err)
	adapter, err := provider.New(cfg, srv.Client(), nil, st)
	require.NoError(t, err)
	return New(cfg, adapter, watcher.New(cfg.Watch), st, WithMetrics(metrics.New())), cfg
}

func TestRunPolled(t *testing.T) {
	t.Run("Should download the exact result bytes with the API credential", func(t *testing.T) {
		fake := &fakeVModel{finalStatus: "succeeded"}
		o, _ := newFixture(t, fake, nil)

		res, err := o.Run(context.Background(), models.TransformationRequest{SourceImage: "https://cdn.example.com/me.png"})
		require.NoError(t, err)
		require.Equal(t, "vmodel", res.Provider)
		require.Equal(t, "image/png", res.ContentType)
		require.Equal(t, "Bearer tok", fake.download.Load())

		onDisk, err := os.ReadFile(res.LocalPath)
		require.NoError(t, err)
		require.Equal(t, pngBytes, onDisk)
	})

	t.Run("Should fail with PROVIDER_ERROR carrying the provider reason", func(t *testing.T) {
		o, _ := newFixture(t, &fakeVModel{finalStatus: "failed"}, nil)

		res, err := o.Run(context.Background(), models.TransformationRequest{SourceImage: "https://cdn.example.com/me.png"})
		require.Nil(t, res)
		require.True(t, models.IsKind(err, models.ErrCodeProvider), "got %v", err)
		require.Contains(t, err.Error(), "nsfw")
	})

	t.Run("Should time out when the task never finishes", func(t *testing.T) {
		o, _ := newFixture(t, &fakeVModel{finalStatus: "stuck"}, func(c *config.Config) {
			c.Watch.Timeout = 100 * time.Millisecond
		})

		_, err := o.Run(context.Background(), models.TransformationRequest{SourceImage: "https://cdn.example.com/me.png"})
		require.True(t, models.IsKind(err, models.ErrCodeTimeout), "got %v", err)
	})

	t.Run("Should fail on configuration before any network call", func(t *testing.T) {
		fake := &fakeVModel{finalStatus: "succeeded"}
		o, _ := newFixture(t, fake, func(c *config.Config) { c.Provider.Token = "" })

		_, err := o.Run(context.Background(), models.TransformationRequest{SourceImage: "https://cdn.example.com/me.png"})
		require.True(t, models.IsKind(err, models.ErrCodeConfiguration))
		require.Zero(t, fake.creates.Load())
	})

	t.Run("Should resubmit a fresh job after a transport failure when enabled", func(t *testing.T) {
		fake := &fakeVModel{finalStatus: "succeeded", createFails: 1}
		o, _ := newFixture(t, fake, func(c *config.Config) { c.Retry.Attempts = 2 })

		res, err := o.Run(context.Background(), models.TransformationRequest{SourceImage: "https://cdn.example.com/me.png"})
		require.NoError(t, err)
		require.NotNil(t, res)
		require.Equal(t, int32(2), fake.creates.Load())
	})

	t.Run("Should not resubmit by default", func(t *testing.T) {
		fake := &fakeVModel{finalStatus: "succeeded", createFails: 1}
		o, _ := newFixture(t, fake, nil)

		_, err := o.Run(context.Background(), models.TransformationRequest{SourceImage: "https://cdn.example.com/me.png"})
		require.True(t, models.IsKind(err, models.ErrCodeTransport), "got %v", err)
		require.Equal(t, int32(1), fake.creates.Load())
	})

	t.Run("Should never resubmit a provider failure", func(t *testing.T) {
		fake := &fakeVModel{finalStatus: "failed"}
		o, _ := newFixture(t, fake, func(c *config.Config) { c.Retry.Attempts = 3 })

		_, err := o.Run(context.Background(), models.TransformationRequest{SourceImage: "https://cdn.example.com/me.png"})
		require.True(t, models.IsKind(err, models.ErrCodeProvider))
		require.Equal(t, int32(1), fake.creates.Load())
	})

	t.Run("Should report caller cancellation as CANCELED", func(t *testing.T) {
		o, _ := newFixture(t, &fakeVModel{finalStatus: "stuck"}, nil)
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(30 * time.Millisecond)
			cancel()
		}()

		_, err := o.Run(ctx, models.TransformationRequest{SourceImage: "https://cdn.example.com/me.png"})
		require.True(t, models.IsKind(err, models.ErrCodeCanceled), "got %v", err)
	})
}

func TestRunExactlyOneOutcome(t *testing.T) {
	for _, final := range []string{"succeeded", "failed", "stuck"} {
		t.Run(final, func(t *testing.T) {
			o, _ := newFixture(t, &fakeVModel{finalStatus: final}, func(c *config.Config) {
				c.Watch.Timeout = 150 * time.Millisecond
			})
			res, err := o.Run(context.Background(), models.TransformationRequest{SourceImage: "https://cdn.example.com/me.png"})
			require.True(t, (res == nil) != (err == nil), "res=%v err=%v", res, err)
			if err != nil {
				var se *models.SwapError
				require.ErrorAs(t, err, &se)
			}
		})
	}
}

// countingJob records how often it is released.
type countingJob struct {
	provider.PendingJob
	released atomic.Int32
}

func (j *countingJob) Release() { j.released.Add(1) }

type stubAdapter struct {
	job *countingJob
}

func (a *stubAdapter) Name() string             { return "stub" }
func (a *stubAdapter) Kind() string             { return config.ProviderSynchronous }
func (a *stubAdapter) ResultCredential() string { return "" }
func (a *stubAdapter) Submit(context.Context, models.TransformationRequest) (provider.PendingJob, error) {
	return a.job, nil
}

type stubWatcher struct {
	status models.JobStatus
	err    error
}

func (w stubWatcher) Watch(context.Context, provider.PendingJob) (models.JobStatus, error) {
	return w.status, w.err
}

type stubStore struct {
	err   error
	calls atomic.Int32
}

func (s *stubStore) Materialize(_ context.Context, remoteURL, _ string) (*models.TransformationResult, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &models.TransformationResult{LocalPath: "/tmp/x.png", SourceURL: remoteURL}, nil
}

func TestRunReleasesOnce(t *testing.T) {
	cfg := &config.Config{
		Provider: config.ProviderConfig{
			Kind:          config.ProviderSynchronous,
			BaseURL:       "https://swap.example",
			ReferenceFace: "https://cdn.example.com/kirk.jpg",
		},
		Watch: config.WatchConfig{Timeout: time.Second},
		Store: config.StoreConfig{Dir: t.TempDir()},
	}

	cases := []struct {
		name    string
		watcher stubWatcher
		store   *stubStore
	}{
		{"success", stubWatcher{status: models.Succeeded("https://cdn/out.png")}, &stubStore{}},
		{"watch failure", stubWatcher{status: models.TimedOut("x"), err: models.NewSwapError(models.ErrCodeTimeout, "x", nil)}, &stubStore{}},
		{"download failure", stubWatcher{status: models.Succeeded("https://cdn/out.png")}, &stubStore{err: models.NewSwapError(models.ErrCodeDownload, "403", nil)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			job := &countingJob{}
			o := New(cfg, &stubAdapter{job: job}, tc.watcher, tc.store)
			_, _ = o.Run(context.Background(), models.TransformationRequest{SourceImage: "https://cdn.example.com/me.png"})
			require.Equal(t, int32(1), job.released.Load())
		})
	}

	t.Run("Should not download when the watcher fails", func(t *testing.T) {
		s := &stubStore{}
		o := New(cfg, &stubAdapter{job: &countingJob{}},
			stubWatcher{status: models.Failed("nsfw"), err: models.NewSwapError(models.ErrCodeProvider, "nsfw", nil)}, s)
		_, err := o.Run(context.Background(), models.TransformationRequest{SourceImage: "https://cdn.example.com/me.png"})
		require.True(t, models.IsKind(err, models.ErrCodeProvider))
		require.Zero(t, s.calls.Load())
	})

	t.Run("Should fill the reference face from configuration", func(t *testing.T) {
		var got models.TransformationRequest
		a := &recordingAdapter{stubAdapter: stubAdapter{job: &countingJob{}}, got: &got}
		o := New(cfg, a, stubWatcher{status: models.Succeeded("https://cdn/out.png")}, &stubStore{})
		_, err := o.Run(context.Background(), models.TransformationRequest{SourceImage: "https://cdn.example.com/me.png"})
		require.NoError(t, err)
		require.True(t, strings.HasSuffix(got.ReferenceFace, "kirk.jpg"))
	})
}

type recordingAdapter struct {
	stubAdapter
	got *models.TransformationRequest
}

func (a *recordingAdapter) Submit(ctx context.Context, req models.TransformationRequest) (provider.PendingJob, error) {
	*a.got = req
	return a.stubAdapter.Submit(ctx, req)
}

// signalingSession is a live observed page on which both listeners fire.
type signalingSession struct {
	latch  *browser.Latch
	closed atomic.Int32
}

func (s *signalingSession) Signals() <-chan browser.Candidate              { return s.latch.Done() }
func (s *signalingSession) Seal() (browser.Candidate, bool)                { return s.latch.Seal() }
func (s *signalingSession) HTML(context.Context) (string, error)           { return "", nil }
func (s *signalingSession) ResourceURLs(context.Context) ([]string, error) { return nil, nil }
func (s *signalingSession) Close() error                                   { s.closed.Add(1); return nil }

type observedAdapter struct {
	stubAdapter
	session *signalingSession
}

func (a *observedAdapter) Submit(context.Context, models.TransformationRequest) (provider.PendingJob, error) {
	var wg sync.WaitGroup
	for _, c := range []browser.Candidate{
		{URL: "https://cdn.example.com/results/from-response.png", Source: browser.SourceResponse},
		{URL: "https://cdn.example.com/results/from-asset.png", Source: browser.SourceAsset},
	} {
		wg.Add(1)
		go func(c browser.Candidate) {
			defer wg.Done()
			a.session.latch.Offer(c)
		}(c)
	}
	wg.Wait()
	return provider.NewObservedJob(a.session), nil
}

func TestRunObserved(t *testing.T) {
	cfg := &config.Config{
		Provider: config.ProviderConfig{
			Kind:          config.ProviderSynchronous,
			BaseURL:       "https://swap.example",
			ReferenceFace: "https://cdn.example.com/kirk.jpg",
		},
		Watch: config.WatchConfig{Timeout: time.Second, FallbackTimeout: time.Second},
		Store: config.StoreConfig{Dir: t.TempDir()},
	}

	t.Run("Should download once when both listeners fire", func(t *testing.T) {
		session := &signalingSession{latch: browser.NewLatch()}
		s := &stubStore{}
		o := New(cfg, &observedAdapter{session: session}, watcher.New(cfg.Watch), s)

		res, err := o.Run(context.Background(), models.TransformationRequest{SourceImage: "https://cdn.example.com/me.png"})
		require.NoError(t, err)
		require.Equal(t, int32(1), s.calls.Load())
		require.Contains(t, []string{
			"https://cdn.example.com/results/from-response.png",
			"https://cdn.example.com/results/from-asset.png",
		}, res.SourceURL)
		require.Equal(t, int32(1), session.closed.Load())
		require.False(t, session.latch.Offer(browser.Candidate{URL: "https://cdn.example.com/results/late.png"}))
	})
}

func TestRunRejectsNonTerminalStatus(t *testing.T) {
	cfg := &config.Config{
		Provider: config.ProviderConfig{
			Kind:          config.ProviderSynchronous,
			BaseURL:       "https://swap.example",
			ReferenceFace: "https://cdn.example.com/kirk.jpg",
		},
		Watch: config.WatchConfig{Timeout: time.Second},
		Store: config.StoreConfig{Dir: t.TempDir()},
	}

	t.Run("Should fail with INTERNAL_ERROR when the watcher returns a pending status", func(t *testing.T) {
		s := &stubStore{}
		o := New(cfg, &stubAdapter{job: &countingJob{}}, stubWatcher{status: models.Pending()}, s)

		res, err := o.Run(context.Background(), models.TransformationRequest{SourceImage: "https://cdn.example.com/me.png"})
		require.Nil(t, res)
		require.True(t, models.IsKind(err, models.ErrCodeInternal), "got %v", err)
		require.Zero(t, s.calls.Load())
	})

	t.Run("Should fail with INTERNAL_ERROR on success without a result", func(t *testing.T) {
		s := &stubStore{}
		o := New(cfg, &stubAdapter{job: &countingJob{}}, stubWatcher{status: models.Succeeded("")}, s)

		_, err := o.Run(context.Background(), models.TransformationRequest{SourceImage: "https://cdn.example.com/me.png"})
		require.True(t, models.IsKind(err, models.ErrCodeInternal), "got %v", err)
		require.Zero(t, s.calls.Load())
	})
}
