package task

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel/attribute"

	"github.com/courseloom/video-ingest/internal/logger"
)

// Directory paths for temporary files inside the task container
const (
	TempSourceDir = "/tmp/source"
	TempOutputDir = "/tmp/renditions"
)

// downloader pulls the source object to a local temp file.
type downloader struct {
	s3Client *s3.Client
	bucket   string
	log      *slog.Logger
}

func (d *downloader) download(ctx context.Context, videoID, objectKey string) (string, error) {
	ctx, span := tracer.Start(ctx, "download-source")
	defer span.End()

	if err := os.MkdirAll(TempSourceDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}

	ext := filepath.Ext(objectKey)
	tmpFile, err := os.CreateTemp(TempSourceDir, fmt.Sprintf("source-*%s", ext))
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	result, err := d.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to get source object: %w", err)
	}
	defer result.Body.Close()

	written, err := io.Copy(tmpFile, result.Body)
	if err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write source file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}

	span.SetAttributes(attribute.Int64("video.size_bytes", written))
	logger.Info(ctx, d.log, "Downloaded source video",
		"videoId", videoID,
		"sizeBytes", written,
	)

	return tmpPath, nil
}
