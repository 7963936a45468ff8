package models

import "time"

// TransformationResult is a finished swap persisted on local disk.
// The caller owns LocalPath and must release it.
type TransformationResult struct {
	// LocalPath is the staged artifact.
	LocalPath string

	// SourceURL is the remote location the bytes were fetched from.
	SourceURL string

	// ContentType is the sniffed MIME type of the artifact.
	ContentType string

	// Size is the artifact size in bytes.
	Size int64

	// Provider is the adapter that produced the result.
	Provider string

	// Elapsed is the wall time from submit to materialized artifact.
	Elapsed time.Duration
}

// SwapErrorResponse is the JSON body for failed synchronous swaps.
type SwapErrorResponse struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status    string    `json:"status"` // "healthy" or "degraded"
	Uptime    string    `json:"uptime"`
	Provider  string    `json:"provider"`
	PoolStats PoolStats `json:"pool_stats"`
	Version   string    `json:"version"`
}

// PoolStats reports the state of the browser page pool. It is zero when
// the configured provider does not drive a browser.
type PoolStats struct {
	MaxPages    int `json:"max_pages"`
	ActivePages int `json:"active_pages"`
}
