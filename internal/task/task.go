// Package task runs the transcode job for one video: download the source,
// probe its duration, build the HLS ladder, upload the renditions, and attach
// the playback metadata to the content record.
package task

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/courseloom/video-ingest/internal/content"
	"github.com/courseloom/video-ingest/internal/logger"
	"github.com/courseloom/video-ingest/internal/metrics"
	"github.com/courseloom/video-ingest/internal/probe"
	"github.com/courseloom/video-ingest/internal/transcoder"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("ingest-task")

// FailureMarker records a terminal processing failure for a video.
type FailureMarker interface {
	MarkFailed(ctx context.Context, videoID, message string) error
}

// Runner executes the full transcode lifecycle for one video.
type Runner struct {
	download   *downloader
	upload     *renditionUploader
	transcoder *transcoder.Transcoder
	updater    content.Updater
	failures   FailureMarker
	cdnDomain  string
	log        *slog.Logger
}

// NewRunner wires a Runner from its collaborators.
func NewRunner(
	s3Client *s3.Client,
	mediaBucket, renditionBucket, cdnDomain string,
	tc *transcoder.Transcoder,
	updater content.Updater,
	failures FailureMarker,
	log *slog.Logger,
) *Runner {
	return &Runner{
		download:   &downloader{s3Client: s3Client, bucket: mediaBucket, log: log},
		upload:     &renditionUploader{s3Client: s3Client, bucket: renditionBucket, log: log},
		transcoder: tc,
		updater:    updater,
		failures:   failures,
		cdnDomain:  cdnDomain,
		log:        log,
	}
}

// Run processes one video end to end. On failure it marks the processing
// record FAILED before returning, so a later upload of the same video can
// reacquire the lock.
func (r *Runner) Run(ctx context.Context, videoID, objectKey string) error {
	ctx, span := tracer.Start(ctx, "transcode-task")
	defer span.End()
	span.SetAttributes(
		attribute.String("video.id", videoID),
		attribute.String("video.object_key", objectKey),
	)

	if err := r.process(ctx, videoID, objectKey); err != nil {
		logger.Error(ctx, r.log, "Transcode task failed",
			"videoId", videoID,
			"error", err,
		)
		// Mark with a fresh context so a canceled ctx still records the failure.
		markCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if markErr := r.failures.MarkFailed(markCtx, videoID, err.Error()); markErr != nil {
			logger.Error(ctx, r.log, "Failed to mark video as failed",
				"videoId", videoID,
				"error", markErr,
			)
		}
		return err
	}

	logger.Info(ctx, r.log, "Transcode task complete", "videoId", videoID)
	return nil
}

func (r *Runner) process(ctx context.Context, videoID, objectKey string) error {
	downloadStart := time.Now()
	sourcePath, err := r.download.download(ctx, videoID, objectKey)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer os.Remove(sourcePath)
	metrics.DownloadDuration.Observe(time.Since(downloadStart).Seconds())

	duration, err := probe.File(ctx, sourcePath)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	logger.Info(ctx, r.log, "Probed source duration",
		"videoId", videoID,
		"durationSeconds", duration.Seconds,
	)

	outDir, err := os.MkdirTemp(TempOutputDir, "hls-*")
	if err != nil {
		if mkErr := os.MkdirAll(TempOutputDir, 0o755); mkErr != nil {
			return fmt.Errorf("failed to create output dir: %w", mkErr)
		}
		outDir, err = os.MkdirTemp(TempOutputDir, "hls-*")
		if err != nil {
			return fmt.Errorf("failed to create output dir: %w", err)
		}
	}
	defer os.RemoveAll(outDir)

	if err := r.transcoder.Run(ctx, sourcePath, outDir); err != nil {
		return fmt.Errorf("transcode: %w", err)
	}

	prefix, err := r.upload.uploadAll(ctx, videoID, outDir)
	if err != nil {
		return fmt.Errorf("upload renditions: %w", err)
	}

	media := content.Media{
		PlaybackURL:     fmt.Sprintf("https://%s/%s/master.m3u8", r.cdnDomain, prefix),
		RenditionPrefix: prefix,
		DurationSeconds: duration.Seconds,
		DurationMillis:  duration.Millis,
	}
	if err := r.updater.AttachMedia(ctx, videoID, media); err != nil {
		return fmt.Errorf("attach media: %w", err)
	}

	return nil
}
