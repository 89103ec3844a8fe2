// Package upload implements the image picker used by the event forms: local
// checks, content sniffing, then a multipart upload to the API.
package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/baechuer/real-time-ressys/services/event-client/internal/domain"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/logger"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/metrics"
	"github.com/gabriel-vasile/mimetype"
)

type Mode string

const (
	ModeSingle   Mode = "single"
	ModeMultiple Mode = "multiple"
)

const (
	MaxFileSize      = 5 << 20
	DefaultMaxImages = 10
	// FormMaxImages is the gallery limit used by the event forms.
	FormMaxImages = 5

	msgTooLarge     = "File size must be less than 5MB"
	msgOccupied     = "Remove the current image before uploading another"
	msgNotImage     = "Only JPEG, PNG and GIF images are allowed"
	msgUploadFailed = "Upload failed. Please try again."
)

var allowedTypes = []string{"image/jpeg", "image/png", "image/gif"}

// API is satisfied by *api.Client.
type API interface {
	UploadImage(ctx context.Context, filename, contentType string, r io.Reader) (string, error)
}

type Uploader struct {
	api       API
	mode      Mode
	maxImages int

	mu        sync.Mutex
	images    []string
	uploading bool
	lastErr   string
}

// New returns an uploader. maxImages <= 0 means DefaultMaxImages and is
// ignored in single mode.
func New(api API, mode Mode, maxImages int) *Uploader {
	if maxImages <= 0 {
		maxImages = DefaultMaxImages
	}
	if mode != ModeMultiple {
		mode = ModeSingle
	}
	return &Uploader{api: api, mode: mode, maxImages: maxImages}
}

// SetImages seeds the uploader, e.g. from an event being edited.
func (u *Uploader) SetImages(urls ...string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.images = nil
	for _, url := range urls {
		if url != "" {
			u.images = append(u.images, url)
		}
	}
}

func (u *Uploader) Images() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string{}, u.images...)
}

// URL is the single-mode image, "" when none.
func (u *Uploader) URL() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.images) == 0 {
		return ""
	}
	return u.images[0]
}

// Err is the message shown under the picker, "" when the last attempt
// succeeded.
func (u *Uploader) Err() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastErr
}

// Disabled mirrors the picker state: busy, single image present, or gallery
// full.
func (u *Uploader) Disabled() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.uploading || len(u.images) >= u.capacity()
}

func (u *Uploader) capacity() int {
	if u.mode == ModeSingle {
		return 1
	}
	return u.maxImages
}

// Remove drops url and reports whether it was present.
func (u *Uploader) Remove(url string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	for i, v := range u.images {
		if v == url {
			u.images = append(u.images[:i], u.images[i+1:]...)
			return true
		}
	}
	return false
}

// UploadFile opens path and uploads it.
func (u *Uploader) UploadFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", domain.Wrap(domain.KindValidation, "file_unreadable", "could not open file", err)
	}
	defer f.Close()
	if st, err := f.Stat(); err == nil && st.Size() > MaxFileSize {
		return "", u.reject("too_large", msgTooLarge)
	}
	return u.Upload(ctx, filepath.Base(path), f)
}

// Upload checks, in order: size, gallery limit, single-mode occupancy and
// content type, then posts the file. The returned URL is also recorded.
func (u *Uploader) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return "", domain.Wrap(domain.KindValidation, "file_unreadable", "could not read file", err)
	}
	if len(data) > MaxFileSize {
		return "", u.reject("too_large", msgTooLarge)
	}

	u.mu.Lock()
	switch {
	case u.mode == ModeMultiple && len(u.images) >= u.maxImages:
		u.mu.Unlock()
		return "", u.reject("limit", fmt.Sprintf("Maximum %d images allowed", u.maxImages))
	case u.mode == ModeSingle && len(u.images) > 0:
		u.mu.Unlock()
		return "", u.reject("occupied", msgOccupied)
	case u.uploading:
		u.mu.Unlock()
		return "", domain.ErrBusy
	}
	// claimed together with the limit checks so a second upload cannot
	// slip past them
	u.uploading = true
	u.mu.Unlock()

	mt := mimetype.Detect(data)
	if !mimetype.EqualsAny(mt.String(), allowedTypes...) {
		u.mu.Lock()
		u.uploading = false
		u.mu.Unlock()
		return "", u.reject("content_type", msgNotImage)
	}

	u.mu.Lock()
	u.lastErr = ""
	u.mu.Unlock()

	url, err := u.api.UploadImage(ctx, filename, mt.String(), bytes.NewReader(data))

	u.mu.Lock()
	defer u.mu.Unlock()
	u.uploading = false
	if err != nil {
		u.lastErr = msgUploadFailed
		logger.Ctx(ctx).Warn().Err(err).Str("file", filename).Msg("image_upload_failed")
		return "", &domain.Error{Kind: domain.KindOf(err), Code: "upload_failed", Message: msgUploadFailed, Cause: err}
	}
	u.images = append(u.images, url)
	return url, nil
}

func (u *Uploader) reject(reason, msg string) error {
	metrics.RecordUploadRejection(reason)
	u.mu.Lock()
	u.lastErr = msg
	u.mu.Unlock()
	return domain.ErrValidationField("file", msg)
}
