package task

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/courseloom/video-ingest/internal/logger"
	"github.com/courseloom/video-ingest/internal/metrics"
	"github.com/courseloom/video-ingest/pkg/models"
	"go.opentelemetry.io/otel/attribute"
)

const uploadConcurrency = 8

// renditionUploader pushes the finished HLS tree to the rendition bucket.
type renditionUploader struct {
	s3Client *s3.Client
	bucket   string
	log      *slog.Logger
}

// uploadAll walks outDir and uploads every file under hls/{videoID}/,
// preserving the relative layout. The first failure cancels the rest.
func (u *renditionUploader) uploadAll(ctx context.Context, videoID, outDir string) (string, error) {
	ctx, span := tracer.Start(ctx, "upload-renditions")
	defer span.End()

	start := time.Now()
	prefix := fmt.Sprintf("hls/%s", videoID)

	var files []string
	err := filepath.Walk(outDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to walk output dir: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		firstErr atomic.Pointer[error]
		sem      = make(chan struct{}, uploadConcurrency)
	)

	for _, path := range files {
		relPath, err := filepath.Rel(outDir, path)
		if err != nil {
			return "", fmt.Errorf("failed to resolve relative path: %w", err)
		}
		key := fmt.Sprintf("%s/%s", prefix, filepath.ToSlash(relPath))

		wg.Add(1)
		go func(path, key string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			if err := u.uploadFile(ctx, path, key); err != nil {
				wrapped := fmt.Errorf("%w: %s: %v", models.ErrRenditionUpload, key, err)
				if firstErr.CompareAndSwap(nil, &wrapped) {
					cancel()
				}
			}
		}(path, key)
	}

	wg.Wait()

	if errPtr := firstErr.Load(); errPtr != nil {
		return "", *errPtr
	}

	metrics.RenditionUploadDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("renditions.file_count", len(files)))
	logger.Info(ctx, u.log, "Uploaded renditions",
		"videoId", videoID,
		"fileCount", len(files),
		"prefix", prefix,
	)

	return prefix, nil
}

func (u *renditionUploader) uploadFile(ctx context.Context, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	_, err = u.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentTypeForFile(path)),
	})
	if err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}
	return nil
}

func contentTypeForFile(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	default:
		return "application/octet-stream"
	}
}
