package service

import (
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	apperrors "github.com/chatdesk/chatdesk/console/pkg/errors"
)

// DefaultMaxUploadBytes is the 10 MB media limit.
const DefaultMaxUploadBytes int64 = 10 * 1024 * 1024

// DefaultAllowedUploadTypes are the image and video types the backend relays.
var DefaultAllowedUploadTypes = []string{
	"image/jpeg", "image/png", "image/gif", "image/webp",
	"video/mp4", "video/quicktime", "video/webm",
}

// UploadPolicy 上传约束, checked before any bytes leave the machine.
type UploadPolicy struct {
	MaxBytes     int64
	AllowedTypes []string
}

// NewUploadPolicy fills zero values with the defaults.
func NewUploadPolicy(maxBytes int64, allowed []string) UploadPolicy {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	if len(allowed) == 0 {
		allowed = DefaultAllowedUploadTypes
	}
	return UploadPolicy{MaxBytes: maxBytes, AllowedTypes: allowed}
}

// Validate rejects disallowed media types and files over the size limit.
func (p UploadPolicy) Validate(contentType string, size int64) error {
	mediaType := normalizeMediaType(contentType)
	if !p.allows(mediaType) {
		if mediaType == "" {
			mediaType = "unknown"
		}
		return apperrors.NewUploadRejectedError(fmt.Sprintf("file type %s is not allowed, only images and videos can be sent", mediaType))
	}
	if size <= 0 {
		return apperrors.NewUploadRejectedError("file is empty")
	}
	if size > p.MaxBytes {
		return apperrors.NewUploadRejectedError(fmt.Sprintf("file is %s, the limit is %s", humanBytes(size), humanBytes(p.MaxBytes)))
	}
	return nil
}

func (p UploadPolicy) allows(mediaType string) bool {
	for _, t := range p.AllowedTypes {
		if strings.EqualFold(t, mediaType) {
			return true
		}
	}
	return false
}

func normalizeMediaType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType
}

// DetectContentType guesses the media type from the extension, then from the
// first bytes of the file.
func DetectContentType(filename string, head []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); t != "" {
		return normalizeMediaType(t)
	}
	return normalizeMediaType(http.DetectContentType(head))
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGT"[exp])
}
