package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/faceswap/models"
)

// Swapper runs one swap end to end.
type Swapper interface {
	Run(ctx context.Context, req models.TransformationRequest) (*models.TransformationResult, error)
	Provider() string
}

// Artifacts stages uploads and removes delivered files.
type Artifacts interface {
	Save(prefix string, r io.Reader) (path, contentType string, err error)
	Release(path string)
	ReleaseAfter(path string, delay time.Duration)
}

// imageExtensions are the URL suffixes let through without a declared type.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// Swap returns a handler for POST /api/v1/swap.
//
// Flow:
//  1. Bind JSON or multipart, stage an uploaded image.
//  2. Run the swap under the request context.
//  3. Stream the result bytes back, then release the artifact after
//     releaseDelay.
func Swap(sw Swapper, store Artifacts, releaseDelay time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, _, uploaded, detail := bindSwap(c, store)
		if detail != nil {
			c.JSON(http.StatusBadRequest, models.SwapErrorResponse{Success: false, Error: detail})
			return
		}
		if uploaded != "" {
			defer store.Release(uploaded)
		}

		res, err := sw.Run(c.Request.Context(), req)
		if err != nil {
			respondError(c, err)
			return
		}

		serveResult(c, res)
		store.ReleaseAfter(res.LocalPath, releaseDelay)
	}
}

// bindSwap reads a SwapRequest from JSON or multipart form data. A multipart
// "image" file is saved to the staging area and its path returned as
// uploaded; the caller must release it.
func bindSwap(c *gin.Context, store Artifacts) (req models.TransformationRequest, webhookURL, uploaded string, detail *models.ErrorDetail) {
	var body models.SwapRequest

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		if err := c.ShouldBind(&body); err != nil {
			return req, "", "", invalidInput(err.Error())
		}
		if fh, err := c.FormFile("image"); err == nil {
			f, err := fh.Open()
			if err != nil {
				return req, "", "", invalidInput("cannot read uploaded image")
			}
			defer f.Close()

			p, ctype, err := store.Save("upload", f)
			if err != nil {
				return req, "", "", invalidInput("cannot store uploaded image: " + err.Error())
			}
			if !models.IsAcceptedImageType(ctype) {
				store.Release(p)
				return req, "", "", invalidInput("unsupported image type " + ctype)
			}
			uploaded = p
		} else if !errors.Is(err, http.ErrMissingFile) {
			return req, "", "", invalidInput(err.Error())
		}
	} else if err := c.ShouldBindJSON(&body); err != nil {
		return req, "", "", invalidInput(err.Error())
	}

	req.ReferenceFace = body.ReferenceURL
	switch {
	case uploaded != "":
		req.SourceImage = uploaded
	case body.ImageURL == "":
		return req, "", "", invalidInput("image_url or an image file is required")
	default:
		if d := checkImageURL(body.ImageURL, body.ContentType); d != nil {
			return req, "", "", d
		}
		req.SourceImage = body.ImageURL
	}
	return req, body.WebhookURL, uploaded, nil
}

// checkImageURL applies the content type gate to a URL input: a declared
// type must be accepted, otherwise a known non-image extension is refused.
func checkImageURL(raw, declared string) *models.ErrorDetail {
	if declared != "" {
		if !models.IsAcceptedImageType(declared) {
			return invalidInput("unsupported image type " + declared)
		}
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return invalidInput("invalid image_url")
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if ext != "" && !imageExtensions[ext] {
		return invalidInput("unsupported image extension " + ext)
	}
	return nil
}

func serveResult(c *gin.Context, res *models.TransformationResult) {
	c.Header("Content-Type", res.ContentType)
	c.Header("X-Faceswap-Provider", res.Provider)
	c.Header("X-Faceswap-Elapsed-Ms", strconv.FormatInt(res.Elapsed.Milliseconds(), 10))
	c.File(res.LocalPath)
}

func invalidInput(msg string) *models.ErrorDetail {
	return &models.ErrorDetail{Code: models.ErrCodeInvalidInput, Message: msg}
}

// respondError writes a failed swap. Provider detail stays in the log.
func respondError(c *gin.Context, err error) {
	se := models.AsSwapError(err, models.ErrCodeInternal, "swap failed")
	slog.Warn("swap request failed", "kind", se.Kind, "error", se)
	c.JSON(mapErrorToStatus(se.Kind), models.SwapErrorResponse{
		Success: false,
		Error:   se.ToDetail(),
	})
}

// mapErrorToStatus translates error kinds to HTTP status codes.
func mapErrorToStatus(kind models.ErrorKind) int {
	switch kind {
	case models.ErrCodeTimeout, models.ErrCodeExtractionExhausted:
		return http.StatusGatewayTimeout // 504
	case models.ErrCodeTransport, models.ErrCodeProvider, models.ErrCodeDownload:
		return http.StatusBadGateway // 502
	case models.ErrCodeSubmission:
		return http.StatusUnprocessableEntity // 422
	case models.ErrCodeCanceled:
		return http.StatusRequestTimeout // 408
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest // 400
	case models.ErrCodeNotFound:
		return http.StatusNotFound // 404
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	default:
		return http.StatusInternalServerError // 500
	}
}
