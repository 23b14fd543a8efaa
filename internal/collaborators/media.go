package collaborators

import (
	"context"
	"fmt"
	"time"

	"github.com/aawaaz/civic-pipeline/internal/models"
	"github.com/go-resty/resty/v2"
)

// MaxMediaBytes bounds a single fetched recording
const MaxMediaBytes = 25 << 20

// MediaFetcher resolves opaque media handles (HTTP URLs issued by the upload
// service) into bytes for collaborators that cannot take a URL directly.
type MediaFetcher struct {
	client *resty.Client
}

// NewMediaFetcher creates a fetcher with the given request timeout
func NewMediaFetcher(timeout time.Duration) *MediaFetcher {
	return &MediaFetcher{
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("Accept", "audio/*, application/octet-stream"),
	}
}

// Fetch downloads ref. 4xx responses are permanent, everything else is retryable.
func (f *MediaFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	resp, err := f.client.R().SetContext(ctx).Get(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch media: %v", models.ErrCollaboratorUnavailable, err)
	}
	if resp.StatusCode() >= 400 && resp.StatusCode() < 500 {
		return nil, fmt.Errorf("%w: media %s returned %d", models.ErrValidation, ref, resp.StatusCode())
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: media %s returned %d", models.ErrCollaboratorUnavailable, ref, resp.StatusCode())
	}
	body := resp.Body()
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: media %s is empty", models.ErrValidation, ref)
	}
	if len(body) > MaxMediaBytes {
		return nil, fmt.Errorf("%w: media %s exceeds %d bytes", models.ErrValidation, ref, MaxMediaBytes)
	}
	return body, nil
}
