package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/faceswap/config"
	"github.com/use-agent/faceswap/models"
	"github.com/use-agent/faceswap/store"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), bytes.Repeat([]byte{0x01}, 64)...)

func init() { gin.SetMode(gin.TestMode) }

// fakeSwapper writes pngBytes as the result, or fails with err.
type fakeSwapper struct {
	dir string
	err error

	mu  sync.Mutex
	got []models.TransformationRequest
	// sourceExisted records whether an uploaded source was on disk during Run.
	sourceExisted bool
}

func (f *fakeSwapper) Provider() string { return "fake" }

func (f *fakeSwapper) Run(_ context.Context, req models.TransformationRequest) (*models.TransformationResult, error) {
	f.mu.Lock()
	f.got = append(f.got, req)
	if _, err := os.Stat(req.SourceImage); err == nil {
		f.sourceExisted = true
	}
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	path := filepath.Join(f.dir, "result_test.png")
	if err := os.WriteFile(path, pngBytes, 0o644); err != nil {
		return nil, err
	}
	return &models.TransformationResult{
		LocalPath:   path,
		ContentType: "image/png",
		Size:        int64(len(pngBytes)),
		Provider:    "fake",
		Elapsed:     1500 * time.Millisecond,
	}, nil
}

func (f *fakeSwapper) requests() []models.TransformationRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.TransformationRequest(nil), f.got...)
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(config.StoreConfig{Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	return st
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func multipartRequest(t *testing.T, target string, fields map[string]string, file []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if file != nil {
		fw, err := w.CreateFormFile("image", "me.png")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func swapEngine(sw Swapper, st Artifacts) *gin.Engine {
	r := gin.New()
	r.POST("/swap", Swap(sw, st, 0))
	return r
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) *models.ErrorDetail {
	t.Helper()
	var resp models.SwapErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	return resp.Error
}

func TestSwap(t *testing.T) {
	t.Run("Should return the result image and release it", func(t *testing.T) {
		st := newStore(t)
		sw := &fakeSwapper{dir: st.Dir()}
		rec := httptest.NewRecorder()

		swapEngine(sw, st).ServeHTTP(rec, jsonRequest(t, http.MethodPost, "/swap",
			models.SwapRequest{ImageURL: "https://cdn.example.com/me.jpg"}))

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, pngBytes, rec.Body.Bytes())
		require.Equal(t, "image/png", rec.Header().Get("Content-Type"))
		require.Equal(t, "fake", rec.Header().Get("X-Faceswap-Provider"))
		require.Equal(t, "1500", rec.Header().Get("X-Faceswap-Elapsed-Ms"))

		_, err := os.Stat(filepath.Join(st.Dir(), "result_test.png"))
		require.True(t, os.IsNotExist(err))

		reqs := sw.requests()
		require.Len(t, reqs, 1)
		require.Equal(t, "https://cdn.example.com/me.jpg", reqs[0].SourceImage)
		require.Empty(t, reqs[0].ReferenceFace)
	})

	t.Run("Should forward a reference override", func(t *testing.T) {
		st := newStore(t)
		sw := &fakeSwapper{dir: st.Dir()}
		rec := httptest.NewRecorder()

		swapEngine(sw, st).ServeHTTP(rec, jsonRequest(t, http.MethodPost, "/swap", models.SwapRequest{
			ImageURL:     "https://cdn.example.com/me",
			ReferenceURL: "https://cdn.example.com/face.png",
		}))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "https://cdn.example.com/face.png", sw.requests()[0].ReferenceFace)
	})

	t.Run("Should reject bad input before running", func(t *testing.T) {
		cases := map[string]models.SwapRequest{
			"missing image":     {},
			"not a url":         {ImageURL: "me.png"},
			"declared gif":      {ImageURL: "https://cdn.example.com/me", ContentType: "image/gif"},
			"non-image suffix":  {ImageURL: "https://cdn.example.com/me.pdf"},
			"unsupported image": {ImageURL: "https://cdn.example.com/me.gif"},
		}
		for name, body := range cases {
			t.Run(name, func(t *testing.T) {
				st := newStore(t)
				sw := &fakeSwapper{dir: st.Dir()}
				rec := httptest.NewRecorder()

				swapEngine(sw, st).ServeHTTP(rec, jsonRequest(t, http.MethodPost, "/swap", body))
				require.Equal(t, http.StatusBadRequest, rec.Code)
				require.Equal(t, models.ErrCodeInvalidInput, decodeError(t, rec).Code)
				require.Empty(t, sw.requests())
			})
		}
	})

	t.Run("Should map swap failures to status codes with a short message", func(t *testing.T) {
		cases := []struct {
			kind   models.ErrorKind
			status int
		}{
			{models.ErrCodeProvider, http.StatusBadGateway},
			{models.ErrCodeTimeout, http.StatusGatewayTimeout},
			{models.ErrCodeConfiguration, http.StatusInternalServerError},
			{models.ErrCodeSubmission, http.StatusUnprocessableEntity},
			{models.ErrCodeDownload, http.StatusBadGateway},
		}
		for _, tc := range cases {
			t.Run(string(tc.kind), func(t *testing.T) {
				st := newStore(t)
				sw := &fakeSwapper{dir: st.Dir(), err: models.NewSwapError(tc.kind, "raw provider body {secret}", nil)}
				rec := httptest.NewRecorder()

				swapEngine(sw, st).ServeHTTP(rec, jsonRequest(t, http.MethodPost, "/swap",
					models.SwapRequest{ImageURL: "https://cdn.example.com/me.png"}))
				require.Equal(t, tc.status, rec.Code)
				detail := decodeError(t, rec)
				require.Equal(t, tc.kind, detail.Code)
				require.Equal(t, models.UserMessage(tc.kind), detail.Message)
				require.NotContains(t, rec.Body.String(), "secret")
			})
		}
	})

	t.Run("Should stage an uploaded image and release it afterwards", func(t *testing.T) {
		st := newStore(t)
		sw := &fakeSwapper{dir: st.Dir()}
		rec := httptest.NewRecorder()

		swapEngine(sw, st).ServeHTTP(rec, multipartRequest(t, "/swap", nil, pngBytes))
		require.Equal(t, http.StatusOK, rec.Code)

		reqs := sw.requests()
		require.Len(t, reqs, 1)
		require.True(t, strings.HasPrefix(filepath.Base(reqs[0].SourceImage), "upload_"))
		require.True(t, sw.sourceExisted)
		_, err := os.Stat(reqs[0].SourceImage)
		require.True(t, os.IsNotExist(err))
	})

	t.Run("Should refuse an upload that is not an accepted image", func(t *testing.T) {
		st := newStore(t)
		sw := &fakeSwapper{dir: st.Dir()}
		rec := httptest.NewRecorder()

		swapEngine(sw, st).ServeHTTP(rec, multipartRequest(t, "/swap", nil, []byte("%PDF-1.4 not an image")))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Empty(t, sw.requests())

		entries, err := os.ReadDir(st.Dir())
		require.NoError(t, err)
		require.Empty(t, entries)
	})

	t.Run("Should accept a multipart form without a file", func(t *testing.T) {
		st := newStore(t)
		sw := &fakeSwapper{dir: st.Dir()}
		rec := httptest.NewRecorder()

		swapEngine(sw, st).ServeHTTP(rec, multipartRequest(t, "/swap",
			map[string]string{"image_url": "https://cdn.example.com/me.webp"}, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "https://cdn.example.com/me.webp", sw.requests()[0].SourceImage)
	})
}

// fakeJobs is an in-memory JobRegistry whose jobs finish on demand.
type fakeJobs struct {
	mu     sync.Mutex
	jobs   map[string]models.Job
	onDone map[string][]func()
	hooks  map[string]string
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: map[string]models.Job{}, onDone: map[string][]func(){}, hooks: map[string]string{}}
}

func (f *fakeJobs) Submit(_ models.TransformationRequest, webhookURL string, onDone ...func()) models.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := models.Job{ID: "swap-1", Status: models.AsyncStatusProcessing}
	f.jobs[job.ID] = job
	f.onDone[job.ID] = onDone
	f.hooks[job.ID] = webhookURL
	return job
}

func (f *fakeJobs) Get(id string) (models.Job, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	return job, ok
}

func (f *fakeJobs) finish(id string, res *models.TransformationResult, err *models.SwapError) {
	f.mu.Lock()
	job := f.jobs[id]
	if err != nil {
		job.Status, job.Err = models.AsyncStatusFailed, err
	} else {
		job.Status, job.Result = models.AsyncStatusCompleted, res
	}
	f.jobs[id] = job
	done := f.onDone[id]
	f.mu.Unlock()
	for _, fn := range done {
		fn()
	}
}

func jobsEngine(jobs JobRegistry, st Artifacts) *gin.Engine {
	r := gin.New()
	r.POST("/swap/jobs", PostJob(jobs, st))
	r.GET("/swap/jobs/:id", GetJob(jobs))
	r.GET("/swap/jobs/:id/result", GetJobResult(jobs))
	return r
}

func TestJobs(t *testing.T) {
	t.Run("Should accept a job and report its progress", func(t *testing.T) {
		st := newStore(t)
		jobs := newFakeJobs()
		r := jobsEngine(jobs, st)

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, jsonRequest(t, http.MethodPost, "/swap/jobs", models.SwapRequest{
			ImageURL:   "https://cdn.example.com/me.png",
			WebhookURL: "https://hooks.example.com/done",
		}))
		require.Equal(t, http.StatusAccepted, rec.Code)
		var accepted models.JobResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
		require.Equal(t, "swap-1", accepted.ID)
		require.Equal(t, "https://hooks.example.com/done", jobs.hooks["swap-1"])

		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/swap/jobs/swap-1/result", nil))
		require.Equal(t, http.StatusConflict, rec.Code)

		path := filepath.Join(st.Dir(), "result_job.png")
		require.NoError(t, os.WriteFile(path, pngBytes, 0o644))
		jobs.finish("swap-1", &models.TransformationResult{LocalPath: path, ContentType: "image/png", Size: int64(len(pngBytes)), Provider: "fake"}, nil)

		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/swap/jobs/swap-1", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var status models.JobStatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		require.Equal(t, models.AsyncStatusCompleted, status.Status)
		require.Equal(t, "fake", status.Provider)

		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/swap/jobs/swap-1/result", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, pngBytes, rec.Body.Bytes())
	})

	t.Run("Should report a failed job with its error kind", func(t *testing.T) {
		st := newStore(t)
		jobs := newFakeJobs()
		r := jobsEngine(jobs, st)

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, jsonRequest(t, http.MethodPost, "/swap/jobs", models.SwapRequest{ImageURL: "https://cdn.example.com/me.png"}))
		require.Equal(t, http.StatusAccepted, rec.Code)
		jobs.finish("swap-1", nil, models.NewSwapError(models.ErrCodeTimeout, "deadline", nil))

		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/swap/jobs/swap-1/result", nil))
		require.Equal(t, http.StatusGatewayTimeout, rec.Code)
		require.Equal(t, models.ErrCodeTimeout, decodeError(t, rec).Code)
	})

	t.Run("Should release an uploaded image when the job finishes", func(t *testing.T) {
		st := newStore(t)
		jobs := newFakeJobs()
		r := jobsEngine(jobs, st)

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, multipartRequest(t, "/swap/jobs", nil, pngBytes))
		require.Equal(t, http.StatusAccepted, rec.Code)

		entries, err := os.ReadDir(st.Dir())
		require.NoError(t, err)
		require.Len(t, entries, 1)

		jobs.finish("swap-1", nil, models.NewSwapError(models.ErrCodeProvider, "nsfw", nil))
		entries, err = os.ReadDir(st.Dir())
		require.NoError(t, err)
		require.Empty(t, entries)
	})

	t.Run("Should answer 404 for unknown jobs", func(t *testing.T) {
		r := jobsEngine(newFakeJobs(), newStore(t))
		for _, target := range []string{"/swap/jobs/nope", "/swap/jobs/nope/result"} {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
			require.Equal(t, http.StatusNotFound, rec.Code)
			require.Equal(t, models.ErrCodeNotFound, decodeError(t, rec).Code)
		}
	})
}

type fixedPool models.PoolStats

func (p fixedPool) Stats() models.PoolStats { return models.PoolStats(p) }

func TestHealth(t *testing.T) {
	cases := []struct {
		name   string
		pool   PoolReporter
		status string
	}{
		{"Should be healthy without a browser", nil, "healthy"},
		{"Should be healthy with spare pages", fixedPool{MaxPages: 4, ActivePages: 2}, "healthy"},
		{"Should degrade when the pool is nearly full", fixedPool{MaxPages: 4, ActivePages: 4}, "degraded"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/health", Health("vmodel", tc.pool, time.Now()))
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			require.Equal(t, http.StatusOK, rec.Code)
			var resp models.HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.Equal(t, tc.status, resp.Status)
			require.Equal(t, "vmodel", resp.Provider)
			require.Equal(t, Version, resp.Version)
		})
	}
}
