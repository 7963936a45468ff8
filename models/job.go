package models

// Async job statuses reported by GET /api/v1/swap/jobs/:id.
const (
	AsyncStatusProcessing = "processing"
	AsyncStatusCompleted  = "completed"
	AsyncStatusFailed     = "failed"
)

// JobResponse is the immediate response for POST /api/v1/swap/jobs.
type JobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// JobStatusResponse is the response for GET /api/v1/swap/jobs/:id.
type JobStatusResponse struct {
	ID          string       `json:"id"`
	Status      string       `json:"status"`
	Provider    string       `json:"provider,omitempty"`
	ContentType string       `json:"content_type,omitempty"`
	Size        int64        `json:"size,omitempty"`
	ElapsedMs   int64        `json:"elapsed_ms,omitempty"`
	Error       *ErrorDetail `json:"error,omitempty"`
}

// Job tracks an asynchronous swap. Result is set once Status is completed;
// its artifact is released when the job is evicted from the registry.
type Job struct {
	ID         string
	Status     string
	Result     *TransformationResult
	Err        *SwapError
	WebhookURL string
	CreatedAt  int64 // unix timestamp
}

// ToResponse renders the job for the status endpoint.
func (j *Job) ToResponse() JobStatusResponse {
	resp := JobStatusResponse{ID: j.ID, Status: j.Status}
	if j.Result != nil {
		resp.Provider = j.Result.Provider
		resp.ContentType = j.Result.ContentType
		resp.Size = j.Result.Size
		resp.ElapsedMs = j.Result.Elapsed.Milliseconds()
	}
	if j.Err != nil {
		resp.Error = j.Err.ToDetail()
	}
	return resp
}
