// Package content is the boundary to the course-content API. The transcode
// task hands playback location and duration back through it; everything else
// about content records lives outside this system.
package content

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/courseloom/video-ingest/internal/logger"
)

// Media is the payload attached to a content record once transcoding is done.
type Media struct {
	PlaybackURL     string  `json:"playbackUrl"`
	RenditionPrefix string  `json:"renditionPrefix"`
	DurationSeconds float64 `json:"durationSeconds"`
	DurationMillis  int64   `json:"durationMilliseconds"`
}

// Updater attaches finished media to a content record.
type Updater interface {
	AttachMedia(ctx context.Context, videoID string, media Media) error
}

// Client calls the content API over HTTP.
type Client struct {
	http    *resty.Client
	baseURL string
	log     *slog.Logger
}

// NewClient creates a content API client.
func NewClient(baseURL string, log *slog.Logger) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(30 * time.Second).
			SetRetryCount(2),
		baseURL: baseURL,
		log:     log,
	}
}

// AttachMedia posts the media payload for one video.
func (c *Client) AttachMedia(ctx context.Context, videoID string, media Media) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(media).
		Put(fmt.Sprintf("/internal/videos/%s/media", videoID))
	if err != nil {
		return fmt.Errorf("content api call failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("content api returned status %d", resp.StatusCode())
	}

	logger.Info(ctx, c.log, "Attached media to content record",
		"videoId", videoID,
		"playbackUrl", media.PlaybackURL,
	)
	return nil
}
