package models

import (
	"net/url"
	"strings"
)

// TransformationRequest names the two images of a swap. Each field is a
// remote http(s) URL or a local file path. It is passed by value and never
// mutated after submission.
type TransformationRequest struct {
	// SourceImage is the user's picture whose face gets replaced.
	SourceImage string

	// ReferenceFace is the face applied onto SourceImage.
	ReferenceFace string
}

// IsRemote reports whether ref is an absolute http(s) URL.
func IsRemote(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// SwapRequest is the JSON payload for POST /api/v1/swap and
// POST /api/v1/swap/jobs. Multipart uploads use the same field names.
type SwapRequest struct {
	// ImageURL is the user's image. Required unless a multipart "image"
	// file is attached.
	ImageURL string `json:"image_url" form:"image_url" binding:"omitempty,url"`

	// ReferenceURL overrides the configured reference face.
	ReferenceURL string `json:"reference_url,omitempty" form:"reference_url" binding:"omitempty,url"`

	// ContentType is the caller-declared type of ImageURL, checked against
	// the accepted image types when present.
	ContentType string `json:"content_type,omitempty" form:"content_type"`

	// WebhookURL receives a signed completion event for async jobs.
	WebhookURL string `json:"webhook_url,omitempty" form:"webhook_url" binding:"omitempty,url"`
}

// AcceptedImageTypes are the content types the front door lets through.
var AcceptedImageTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/jpg":  {},
	"image/png":  {},
	"image/webp": {},
}

// IsAcceptedImageType reports whether ct (parameters ignored) is accepted.
func IsAcceptedImageType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	_, ok := AcceptedImageTypes[ct]
	return ok
}
