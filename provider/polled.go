package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/use-agent/faceswap/config"
	"github.com/use-agent/faceswap/models"
)

// Remote task states reported by polled providers.
const (
	remoteStarting   = "starting"
	remoteProcessing = "processing"
	remoteSucceeded  = "succeeded"
	remoteFailed     = "failed"
	remoteCanceled   = "canceled"
)

type createInput struct {
	SwapImage            string `json:"swap_image"`
	TargetImage          string `json:"target_image"`
	DisableSafetyChecker bool   `json:"disable_safety_checker"`
}

type createRequest struct {
	Version string      `json:"version"`
	Input   createInput `json:"input"`
}

type createResponse struct {
	Result struct {
		TaskID   string  `json:"task_id"`
		TaskCost float64 `json:"task_cost"`
	} `json:"result"`
}

type statusResponse struct {
	Result struct {
		Status string   `json:"status"`
		Error  string   `json:"error"`
		Output []string `json:"output"`
	} `json:"result"`
}

// Polled talks to a create/poll task API.
type Polled struct {
	client               *resty.Client
	token                string
	version              string
	disableSafetyChecker bool
}

// NewPolled builds a polled adapter on top of httpClient.
func NewPolled(cfg config.ProviderConfig, httpClient *http.Client) *Polled {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	version := cfg.Version
	if version == "" {
		version = config.DefaultModelVersion
	}
	client := resty.NewWithClient(httpClient).
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetAuthToken(cfg.Token)

	return &Polled{
		client:               client,
		token:                cfg.Token,
		version:              version,
		disableSafetyChecker: cfg.DisableSafetyChecker,
	}
}

func (p *Polled) Name() string             { return "vmodel" }
func (p *Polled) Kind() string             { return config.ProviderPolled }
func (p *Polled) ResultCredential() string { return p.token }

// Submit creates a remote task. The reference face goes in swap_image and
// the user's picture in target_image.
func (p *Polled) Submit(ctx context.Context, req models.TransformationRequest) (PendingJob, error) {
	if !models.IsRemote(req.SourceImage) || !models.IsRemote(req.ReferenceFace) {
		return nil, models.NewSwapError(
			models.ErrCodeSubmission,
			"polled providers accept http(s) image URLs only",
			nil,
		)
	}

	body := createRequest{
		Version: p.version,
		Input: createInput{
			SwapImage:            req.ReferenceFace,
			TargetImage:          req.SourceImage,
			DisableSafetyChecker: p.disableSafetyChecker,
		},
	}

	var out createResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/create")
	if err != nil {
		return nil, transportError(ctx, err, "create call failed")
	}
	if resp.StatusCode() >= http.StatusInternalServerError {
		slog.Warn("polled: create rejected", "status", resp.StatusCode(), "body", resp.String())
		return nil, models.NewSwapError(
			models.ErrCodeTransport,
			fmt.Sprintf("create call failed: %d %s", resp.StatusCode(), http.StatusText(resp.StatusCode())),
			nil,
		)
	}
	if resp.IsError() {
		slog.Warn("polled: create rejected", "status", resp.StatusCode(), "body", resp.String())
		return nil, models.NewSwapError(
			models.ErrCodeSubmission,
			fmt.Sprintf("provider rejected the task: %d %s", resp.StatusCode(), http.StatusText(resp.StatusCode())),
			nil,
		)
	}
	if out.Result.TaskID == "" {
		slog.Warn("polled: create reply without task id", "body", resp.String())
		return nil, models.NewSwapError(models.ErrCodeSubmission, "provider did not return a task id", nil)
	}

	slog.Info("polled: task created", "provider", p.Name(), "task_id", out.Result.TaskID, "task_cost", out.Result.TaskCost)
	return &PolledJob{TaskID: out.Result.TaskID, Cost: out.Result.TaskCost, Poller: p}, nil
}

// Status fetches the task once and maps it to a JobStatus. Any HTTP-level
// failure is a TRANSPORT_ERROR.
func (p *Polled) Status(ctx context.Context, taskID string) (models.JobStatus, error) {
	var out statusResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/get/" + url.PathEscape(taskID))
	if err != nil {
		return models.JobStatus{}, transportError(ctx, err, "status call failed")
	}
	if resp.IsError() {
		slog.Warn("polled: status call rejected", "task_id", taskID, "status", resp.StatusCode(), "body", resp.String())
		return models.JobStatus{}, models.NewSwapError(
			models.ErrCodeTransport,
			fmt.Sprintf("status call failed: %d %s", resp.StatusCode(), http.StatusText(resp.StatusCode())),
			nil,
		)
	}

	r := out.Result
	slog.Debug("polled: task status", "task_id", taskID, "status", r.Status, "error", r.Error)

	switch r.Status {
	case remoteSucceeded:
		if len(r.Output) == 0 || r.Output[0] == "" {
			return models.Failed("task succeeded but returned no output"), nil
		}
		return models.Succeeded(r.Output[0]), nil
	case remoteFailed:
		return models.Failed(reasonOr(r.Error, "task failed")), nil
	case remoteCanceled:
		return models.Canceled(reasonOr(r.Error, "task canceled")), nil
	case remoteStarting, remoteProcessing:
		return models.Pending(), nil
	default:
		slog.Warn("polled: unknown task status, treating as pending", "task_id", taskID, "status", r.Status)
		return models.Pending(), nil
	}
}

func reasonOr(reason, fallback string) string {
	if strings.TrimSpace(reason) == "" {
		return fallback
	}
	return reason
}

// transportError maps a failed round trip. Context errors keep their own
// kind so that the watcher can tell cancellation from a broken network.
func transportError(ctx context.Context, err error, msg string) *models.SwapError {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return models.AsSwapError(ctxErr, models.ErrCodeTransport, msg)
	}
	return models.NewSwapError(models.ErrCodeTransport, msg, err)
}
