package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0x03}, 32)...)

func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/swap", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("X-Faceswap-Provider", "vmodel")
		w.Header().Set("X-Faceswap-Elapsed-Ms", "4200")
		_, _ = w.Write(pngBytes)
	})
	mux.HandleFunc("/api/v1/swap/jobs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"id":"swap-1","status":"processing"}`))
	})
	mux.HandleFunc("/api/v1/swap/jobs/swap-1", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"swap-1","status":"completed","provider":"vmodel","elapsed_ms":5000}`))
	})
	mux.HandleFunc("/api/v1/swap/jobs/swap-1/result", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	})
	mux.HandleFunc("/api/v1/swap/jobs/swap-2", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"swap-2","status":"failed","error":{"code":"PROVIDER_ERROR","message":"The provider rejected the image."}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func call(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func requireImage(t *testing.T, res *mcp.CallToolResult) {
	t.Helper()
	require.False(t, res.IsError)
	require.Len(t, res.Content, 2)
	img, ok := res.Content[1].(mcp.ImageContent)
	require.True(t, ok)
	require.Equal(t, "image/png", img.MIMEType)
	raw, err := base64.StdEncoding.DecodeString(img.Data)
	require.NoError(t, err)
	require.Equal(t, pngBytes, raw)
}

func TestTools(t *testing.T) {
	srv := fakeAPI(t)
	api := newAPIClient(srv.URL, "key", srv.Client())
	ctx := context.Background()

	t.Run("Should return the swapped image", func(t *testing.T) {
		res, err := handleFaceSwap(api)(ctx, call("face_swap", map[string]any{"image_url": "https://cdn.example.com/me.png"}))
		require.NoError(t, err)
		requireImage(t, res)
		text, ok := res.Content[0].(mcp.TextContent)
		require.True(t, ok)
		require.Contains(t, text.Text, "vmodel")
	})

	t.Run("Should require an image url", func(t *testing.T) {
		res, err := handleFaceSwap(api)(ctx, call("face_swap", map[string]any{}))
		require.NoError(t, err)
		require.True(t, res.IsError)
	})

	t.Run("Should surface API errors", func(t *testing.T) {
		bad := newAPIClient(srv.URL, "wrong", srv.Client())
		res, err := handleFaceSwap(bad)(ctx, call("face_swap", map[string]any{"image_url": "https://cdn.example.com/me.png"}))
		require.NoError(t, err)
		require.True(t, res.IsError)
	})

	t.Run("Should start a job and fetch its image", func(t *testing.T) {
		res, err := handleStartFaceSwap(api)(ctx, call("start_face_swap", map[string]any{"image_url": "https://cdn.example.com/me.png"}))
		require.NoError(t, err)
		require.False(t, res.IsError)
		text, ok := res.Content[0].(mcp.TextContent)
		require.True(t, ok)
		require.Contains(t, text.Text, "swap-1")

		res, err = handleFaceSwapStatus(api)(ctx, call("face_swap_status", map[string]any{"id": "swap-1"}))
		require.NoError(t, err)
		requireImage(t, res)
	})

	t.Run("Should report a failed job", func(t *testing.T) {
		res, err := handleFaceSwapStatus(api)(ctx, call("face_swap_status", map[string]any{"id": "swap-2"}))
		require.NoError(t, err)
		require.True(t, res.IsError)
		text, ok := res.Content[0].(mcp.TextContent)
		require.True(t, ok)
		require.Contains(t, text.Text, "PROVIDER_ERROR")
	})
}
