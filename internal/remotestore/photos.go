package remotestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fieldops/tripsync/internal/domain"
)

// Uploader pushes binary objects (trip and driver photos) to the remote
// object store and returns a public URL that any reader of a Trip record can
// resolve.
type Uploader interface {
	Upload(ctx context.Context, path string, data []byte) (string, error)
}

// HTTPUploader is an Uploader over a plain HTTP object store: a PUT to
// baseURL/path stores the object, and the same URL serves it back.
type HTTPUploader struct {
	baseURL string
	client  *http.Client
}

// NewHTTPUploader builds an HTTPUploader for the given base URL.
// Pass nil to use a client with a sane upload timeout.
func NewHTTPUploader(baseURL string, client *http.Client) *HTTPUploader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPUploader{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Upload stores the object and returns its public URL.
func (u *HTTPUploader) Upload(ctx context.Context, path string, data []byte) (string, error) {
	target := u.baseURL + "/" + strings.TrimLeft(url.PathEscape(path), "/")
	// PathEscape encodes the slashes inside path; restore them so nested
	// keys (trips/123.jpg) keep their structure.
	target = strings.ReplaceAll(target, "%2F", "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("remotestore.HTTPUploader.Upload: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("remotestore.HTTPUploader.Upload: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("remotestore.HTTPUploader.Upload: unexpected status %d", resp.StatusCode)
	}
	return target, nil
}

// UploadTripPhotos pushes every photo on the trip that still carries inline
// bytes (driver photo included) and rewrites each successful one in place to
// its public URL, dropping the cached bytes. Failures are per-photo: the rest
// of the batch still uploads, and the failed photos keep their bytes so a
// later retry can pick them up. Returns how many photos were uploaded along
// with the joined errors, if any.
func UploadTripPhotos(ctx context.Context, u Uploader, t *domain.Trip) (int, error) {
	var uploaded int
	var errs []error

	if t.DriverPhoto != nil && !t.DriverPhoto.Uploaded() {
		key := fmt.Sprintf("trips/%s/%s/driver.jpg", t.DeviceID, t.LocalID)
		publicURL, err := u.Upload(ctx, key, t.DriverPhoto.Data)
		if err != nil {
			errs = append(errs, fmt.Errorf("driver photo: %w", err))
		} else {
			t.DriverPhoto = &domain.PhotoRef{URL: publicURL}
			uploaded++
		}
	}

	for i := range t.Photos {
		if t.Photos[i].Uploaded() {
			continue
		}
		key := fmt.Sprintf("trips/%s/%s/photo_%d.jpg", t.DeviceID, t.LocalID, i)
		publicURL, err := u.Upload(ctx, key, t.Photos[i].Data)
		if err != nil {
			errs = append(errs, fmt.Errorf("photo %d: %w", i, err))
			continue
		}
		t.Photos[i] = domain.PhotoRef{URL: publicURL}
		uploaded++
	}

	return uploaded, errors.Join(errs...)
}
