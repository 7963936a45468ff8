package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/use-agent/faceswap/config"
	"github.com/use-agent/faceswap/models"
)

type swapRequest struct {
	TargetURL string `json:"target_url"`
	FaceURL   string `json:"face_url"`
}

type swapResponse struct {
	ResultURL string `json:"result_url"`
	Error     string `json:"error,omitempty"`
}

// Synchronous talks to an API that answers the swap call with the result
// location directly.
type Synchronous struct {
	client *resty.Client
	token  string
}

// NewSynchronous builds a synchronous adapter on top of httpClient.
func NewSynchronous(cfg config.ProviderConfig, httpClient *http.Client) *Synchronous {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	client := resty.NewWithClient(httpClient).
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &Synchronous{client: client, token: cfg.Token}
}

func (s *Synchronous) Name() string             { return "swap-api" }
func (s *Synchronous) Kind() string             { return config.ProviderSynchronous }
func (s *Synchronous) ResultCredential() string { return s.token }

// Submit performs the swap call. The returned SyncJob is already terminal;
// the watcher only validates its location.
func (s *Synchronous) Submit(ctx context.Context, req models.TransformationRequest) (PendingJob, error) {
	if !models.IsRemote(req.SourceImage) || !models.IsRemote(req.ReferenceFace) {
		return nil, models.NewSwapError(
			models.ErrCodeSubmission,
			"synchronous providers accept http(s) image URLs only",
			nil,
		)
	}

	var out swapResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(swapRequest{TargetURL: req.SourceImage, FaceURL: req.ReferenceFace}).
		SetResult(&out).
		Post("/swap")
	if err != nil {
		return nil, transportError(ctx, err, "swap call failed")
	}
	if resp.StatusCode() >= http.StatusInternalServerError {
		slog.Warn("sync: swap call failed", "status", resp.StatusCode(), "body", resp.String())
		return nil, models.NewSwapError(
			models.ErrCodeTransport,
			fmt.Sprintf("swap call failed: %d %s", resp.StatusCode(), http.StatusText(resp.StatusCode())),
			nil,
		)
	}
	if resp.IsError() {
		slog.Warn("sync: swap rejected", "status", resp.StatusCode(), "body", resp.String())
		return nil, models.NewSwapError(
			models.ErrCodeSubmission,
			fmt.Sprintf("provider rejected the swap: %d %s", resp.StatusCode(), http.StatusText(resp.StatusCode())),
			nil,
		)
	}

	slog.Info("sync: swap answered", "provider", s.Name(), "result_url", out.ResultURL)
	return &SyncJob{ResultURL: strings.TrimSpace(out.ResultURL)}, nil
}
