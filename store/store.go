package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/use-agent/faceswap/config"
	"github.com/use-agent/faceswap/models"
)

// errStatus marks a download that reached the server but got a non-2xx reply.
var errStatus = errors.New("unexpected status")

// errTooLarge marks a body above the configured cap.
var errTooLarge = errors.New("download exceeds size limit")

// Store materializes remote images into the staging directory. Concurrent
// jobs share the directory; every file gets a fresh UUID so writers never
// collide and no locking is needed.
type Store struct {
	dir             string
	client          *http.Client
	maxBytes        int64
	downloadTimeout time.Duration
}

// New creates the staging directory if needed and returns a Store.
func New(cfg config.StoreConfig, client *http.Client) (*Store, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, models.NewSwapError(models.ErrCodeConfiguration, "cannot create staging directory", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 20 << 20
	}
	return &Store{
		dir:             cfg.Dir,
		client:          client,
		maxBytes:        maxBytes,
		downloadTimeout: cfg.DownloadTimeout,
	}, nil
}

// Dir returns the staging directory.
func (s *Store) Dir() string { return s.dir }

// Materialize downloads remoteURL (with a bearer credential when non-empty)
// and persists it as result_<uuid>.<ext>. Transport failures surface as
// TRANSPORT_ERROR; a reply that is not a 2xx image is DOWNLOAD_ERROR.
func (s *Store) Materialize(ctx context.Context, remoteURL, credential string) (*models.TransformationResult, error) {
	if !models.IsRemote(remoteURL) {
		return nil, models.NewSwapError(models.ErrCodeDownload, "result location is not an http(s) URL: "+remoteURL, nil)
	}
	if s.downloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.downloadTimeout)
		defer cancel()
	}

	slog.Info("store: downloading result", "url", remoteURL)
	body, err := s.fetch(ctx, remoteURL, credential)
	if err != nil {
		return nil, classifyFetchError(err, models.ErrCodeDownload, "failed to download result image")
	}

	mtype := mimetype.Detect(body)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return nil, models.NewSwapError(
			models.ErrCodeDownload,
			fmt.Sprintf("result is not an image (%s)", mtype.String()),
			nil,
		)
	}

	path, err := s.write("result", mtype.Extension(), body)
	if err != nil {
		return nil, models.NewSwapError(models.ErrCodeDownload, "failed to persist result image", err)
	}
	slog.Info("store: result saved", "path", path, "bytes", len(body), "mime", mtype.String())

	return &models.TransformationResult{
		LocalPath:   path,
		SourceURL:   remoteURL,
		ContentType: mtype.String(),
		Size:        int64(len(body)),
	}, nil
}

// Stage makes ref available as a local file for browser uploads. Local paths
// are returned as-is (temporary=false); remote URLs are downloaded to
// input_<uuid>.<ext> and must be released by the caller.
func (s *Store) Stage(ctx context.Context, ref string) (path string, temporary bool, err error) {
	if !models.IsRemote(ref) {
		info, statErr := os.Stat(ref)
		if statErr != nil {
			return "", false, models.NewSwapError(models.ErrCodeSubmission, "input image not found: "+ref, statErr)
		}
		if info.IsDir() {
			return "", false, models.NewSwapError(models.ErrCodeSubmission, "input image is a directory: "+ref, nil)
		}
		return ref, false, nil
	}

	body, err := s.fetch(ctx, ref, "")
	if err != nil {
		return "", false, classifyFetchError(err, models.ErrCodeSubmission, "failed to fetch input image")
	}
	mtype := mimetype.Detect(body)
	if !models.IsAcceptedImageType(mtype.String()) {
		return "", false, models.NewSwapError(
			models.ErrCodeSubmission,
			fmt.Sprintf("unsupported input image type %s", mtype.String()),
			nil,
		)
	}
	path, err = s.write("input", mtype.Extension(), body)
	if err != nil {
		return "", false, models.NewSwapError(models.ErrCodeSubmission, "failed to stage input image", err)
	}
	return path, true, nil
}

// Save persists an uploaded body under the staging directory and returns
// its path and sniffed content type.
func (s *Store) Save(prefix string, r io.Reader) (string, string, error) {
	body, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return "", "", fmt.Errorf("store: read upload: %w", err)
	}
	if int64(len(body)) > s.maxBytes {
		return "", "", errTooLarge
	}
	mtype := mimetype.Detect(body)
	path, err := s.write(prefix, mtype.Extension(), body)
	if err != nil {
		return "", "", err
	}
	return path, mtype.String(), nil
}

// Release removes a staged artifact. It is best-effort and idempotent:
// a missing file is not a failure, and other failures are only logged.
func (s *Store) Release(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("store: cleanup failed", "path", path, "error", err)
		return
	}
	slog.Debug("store: released", "path", path)
}

// ReleaseAfter schedules Release once delay has elapsed.
func (s *Store) ReleaseAfter(path string, delay time.Duration) {
	if delay <= 0 {
		s.Release(path)
		return
	}
	time.AfterFunc(delay, func() { s.Release(path) })
}

// fetch GETs rawURL and returns the capped body.
func (s *Store) fetch(ctx context.Context, rawURL, credential string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("store: build request: %w", err)
	}
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("store: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %d %s", errStatus, resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", errStatus, err)
	}
	if int64(len(body)) > s.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", errTooLarge, s.maxBytes)
	}
	return body, nil
}

// write stores body as <prefix>_<uuid><ext> inside the staging directory.
func (s *Store) write(prefix, ext string, body []byte) (string, error) {
	if ext == "" {
		ext = ".bin"
	}
	path := filepath.Join(s.dir, prefix+"_"+uuid.NewString()+ext)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// classifyFetchError maps fetch failures: a reply with a bad status or body
// is reported as replyKind, anything that never got a reply is transport.
func classifyFetchError(err error, replyKind models.ErrorKind, msg string) *models.SwapError {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return models.AsSwapError(err, replyKind, msg)
	case errors.Is(err, errStatus), errors.Is(err, errTooLarge):
		return models.NewSwapError(replyKind, msg, err)
	default:
		return models.NewSwapError(models.ErrCodeTransport, msg, err)
	}
}
