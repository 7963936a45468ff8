package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/faceswap/models"
)

// JobRegistry runs swaps in the background.
type JobRegistry interface {
	Submit(req models.TransformationRequest, webhookURL string, onDone ...func()) models.Job
	Get(id string) (models.Job, bool)
}

// PostJob returns a handler for POST /api/v1/swap/jobs. It accepts the
// same payload as Swap plus an optional webhook_url and answers 202 with
// the job id. An uploaded image is released once the job finishes.
func PostJob(jobs JobRegistry, store Artifacts) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, webhookURL, uploaded, detail := bindSwap(c, store)
		if detail != nil {
			c.JSON(http.StatusBadRequest, models.SwapErrorResponse{Success: false, Error: detail})
			return
		}

		var onDone []func()
		if uploaded != "" {
			onDone = append(onDone, func() { store.Release(uploaded) })
		}
		job := jobs.Submit(req, webhookURL, onDone...)

		c.JSON(http.StatusAccepted, models.JobResponse{ID: job.ID, Status: job.Status})
	}
}

// GetJob returns a handler for GET /api/v1/swap/jobs/:id.
func GetJob(jobs JobRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := jobs.Get(c.Param("id"))
		if !ok {
			jobNotFound(c)
			return
		}
		c.JSON(http.StatusOK, job.ToResponse())
	}
}

// GetJobResult returns a handler for GET /api/v1/swap/jobs/:id/result,
// serving the image of a completed job. The artifact stays until the job
// is evicted.
func GetJobResult(jobs JobRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := jobs.Get(c.Param("id"))
		if !ok {
			jobNotFound(c)
			return
		}
		switch job.Status {
		case models.AsyncStatusCompleted:
			serveResult(c, job.Result)
		case models.AsyncStatusFailed:
			c.JSON(mapErrorToStatus(job.Err.Kind), models.SwapErrorResponse{
				Success: false,
				Error:   job.Err.ToDetail(),
			})
		default:
			c.JSON(http.StatusConflict, job.ToResponse())
		}
	}
}

func jobNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, models.SwapErrorResponse{
		Success: false,
		Error: &models.ErrorDetail{
			Code:    models.ErrCodeNotFound,
			Message: "swap job not found",
		},
	})
}
