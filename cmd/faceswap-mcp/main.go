package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// swapRequest mirrors the faceswap API request model.
type swapRequest struct {
	ImageURL     string `json:"image_url"`
	ReferenceURL string `json:"reference_url,omitempty"`
	WebhookURL   string `json:"webhook_url,omitempty"`
}

// apiError mirrors the faceswap API error body.
type apiError struct {
	Success bool `json:"success"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// jobResponse mirrors the faceswap async job responses.
type jobResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Provider  string `json:"provider"`
	ElapsedMs int64  `json:"elapsed_ms"`
	Error     *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func main() {
	apiURL := os.Getenv("FACESWAP_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:3000"
	}
	apiKey := os.Getenv("FACESWAP_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "FACESWAP_API_KEY is required")
		os.Exit(1)
	}

	s := newServer(newAPIClient(apiURL, apiKey, &http.Client{Timeout: 5 * time.Minute}))
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func newServer(api *resty.Client) *server.MCPServer {
	s := server.NewMCPServer(
		"faceswap",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	faceSwapTool := mcp.NewTool("face_swap",
		mcp.WithDescription("Replace the face in an image with the configured reference face (or another face) and return the resulting image. Can take up to a few minutes."),
		mcp.WithString("image_url",
			mcp.Required(),
			mcp.Description("Public http(s) URL of a JPEG, PNG or WebP image containing a face"),
		),
		mcp.WithString("reference_url",
			mcp.Description("Optional URL of the face to apply instead of the server's reference face"),
		),
	)
	s.AddTool(faceSwapTool, handleFaceSwap(api))

	startTool := mcp.NewTool("start_face_swap",
		mcp.WithDescription("Start a face swap in the background and return a job id to check with face_swap_status."),
		mcp.WithString("image_url",
			mcp.Required(),
			mcp.Description("Public http(s) URL of a JPEG, PNG or WebP image containing a face"),
		),
		mcp.WithString("reference_url",
			mcp.Description("Optional URL of the face to apply instead of the server's reference face"),
		),
		mcp.WithString("webhook_url",
			mcp.Description("Optional URL that receives a signed event when the job finishes"),
		),
	)
	s.AddTool(startTool, handleStartFaceSwap(api))

	statusTool := mcp.NewTool("face_swap_status",
		mcp.WithDescription("Check a background face swap. Returns the image once the job has completed."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Job id returned by start_face_swap"),
		),
	)
	s.AddTool(statusTool, handleFaceSwapStatus(api))

	return s
}

// newAPIClient returns a resty client bound to the faceswap API.
func newAPIClient(apiURL, apiKey string, httpClient *http.Client) *resty.Client {
	return resty.NewWithClient(httpClient).
		SetBaseURL(strings.TrimRight(apiURL, "/")).
		SetHeader("X-API-Key", apiKey)
}

func handleFaceSwap(api *resty.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		imageURL, err := request.RequireString("image_url")
		if err != nil {
			return mcp.NewToolResultError("image_url is required"), nil
		}

		resp, err := api.R().
			SetContext(ctx).
			SetBody(swapRequest{ImageURL: imageURL, ReferenceURL: request.GetString("reference_url", "")}).
			Post("/api/v1/swap")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("API request failed: %v", err)), nil
		}
		if resp.IsError() {
			return mcp.NewToolResultError(errorText(resp.Body(), "face swap failed")), nil
		}

		summary := fmt.Sprintf("Face swapped by %s in %sms.",
			resp.Header().Get("X-Faceswap-Provider"), resp.Header().Get("X-Faceswap-Elapsed-Ms"))
		return imageResult(summary, resp.Body(), resp.Header().Get("Content-Type")), nil
	}
}

func handleStartFaceSwap(api *resty.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		imageURL, err := request.RequireString("image_url")
		if err != nil {
			return mcp.NewToolResultError("image_url is required"), nil
		}

		var job jobResponse
		resp, err := api.R().
			SetContext(ctx).
			SetBody(swapRequest{
				ImageURL:     imageURL,
				ReferenceURL: request.GetString("reference_url", ""),
				WebhookURL:   request.GetString("webhook_url", ""),
			}).
			SetResult(&job).
			Post("/api/v1/swap/jobs")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("API request failed: %v", err)), nil
		}
		if resp.IsError() || job.ID == "" {
			return mcp.NewToolResultError(errorText(resp.Body(), "face swap job creation failed")), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Face swap started. Job id: %s (status: %s)", job.ID, job.Status)), nil
	}
}

func handleFaceSwapStatus(api *resty.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("id")
		if err != nil {
			return mcp.NewToolResultError("id is required"), nil
		}

		var job jobResponse
		resp, err := api.R().
			SetContext(ctx).
			SetPathParam("id", id).
			SetResult(&job).
			Get("/api/v1/swap/jobs/{id}")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("API request failed: %v", err)), nil
		}
		if resp.IsError() {
			return mcp.NewToolResultError(errorText(resp.Body(), "job lookup failed")), nil
		}

		switch job.Status {
		case "completed":
			img, err := api.R().
				SetContext(ctx).
				SetPathParam("id", id).
				Get("/api/v1/swap/jobs/{id}/result")
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("API request failed: %v", err)), nil
			}
			if img.IsError() {
				return mcp.NewToolResultError(errorText(img.Body(), "result download failed")), nil
			}
			summary := fmt.Sprintf("Job %s completed by %s in %dms.", job.ID, job.Provider, job.ElapsedMs)
			return imageResult(summary, img.Body(), img.Header().Get("Content-Type")), nil
		case "failed":
			msg := "face swap failed"
			if job.Error != nil {
				msg = fmt.Sprintf("[%s] %s", job.Error.Code, job.Error.Message)
			}
			return mcp.NewToolResultError(msg), nil
		default:
			return mcp.NewToolResultText(fmt.Sprintf("Job %s is still %s.", job.ID, job.Status)), nil
		}
	}
}

func imageResult(summary string, data []byte, contentType string) *mcp.CallToolResult {
	if contentType == "" {
		contentType = "image/png"
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(summary),
			mcp.NewImageContent(base64.StdEncoding.EncodeToString(data), contentType),
		},
	}
}

// errorText renders an API error body as "[CODE] message".
func errorText(body []byte, fallback string) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil || e.Error == nil {
		return fallback
	}
	return fmt.Sprintf("[%s] %s", e.Error.Code, e.Error.Message)
}
