// Package uploader implements the client-side resumable multipart upload. A
// file is split into fixed-size parts, each uploaded straight to object
// storage through a short-lived signed URL; the completed-part set is
// persisted so a restarted process re-uploads nothing it already finished.
package uploader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-resty/resty/v2"

	"github.com/courseloom/video-ingest/internal/logger"
	"github.com/courseloom/video-ingest/pkg/models"
)

// DefaultConcurrency is how many part uploads run at once.
const DefaultConcurrency = 4

// PartSigner hands out a fresh signed URL for one part. URLs are scoped to a
// single part and short-lived, so they are never cached across retries.
type PartSigner interface {
	SignPart(ctx context.Context, intentID string, partNumber int32) (string, error)
}

// Completer issues the one completion call once every part is done.
type Completer interface {
	CompleteMultipart(ctx context.Context, intentID string, parts []models.PartETag) error
}

// Job describes the multipart session handed back by presign.
type Job struct {
	IntentID   string
	PartSize   int64
	TotalParts int
}

// Uploader drives a bounded worker pool over the pending parts of one file.
type Uploader struct {
	signer      PartSigner
	completer   Completer
	state       StateStore
	http        *resty.Client
	concurrency int
	log         *slog.Logger
}

// New creates an Uploader with the default concurrency.
func New(signer PartSigner, completer Completer, state StateStore, log *slog.Logger) *Uploader {
	return &Uploader{
		signer:      signer,
		completer:   completer,
		state:       state,
		http:        resty.New(),
		concurrency: DefaultConcurrency,
		log:         log,
	}
}

// Upload uploads filePath according to job, resuming from whatever the state
// store already recorded for the intent. isPaused is polled between part
// claims; a paused upload drains cleanly with a nil error and resumes later
// from persisted state. onProgress receives a monotonic percentage of total
// bytes, with previously finished parts credited immediately.
//
// Any part failure (network error, non-2xx status, missing entity tag) is
// fatal to the whole call. The persisted done-set stays valid, so the caller
// retries by calling Upload again and only the remaining parts go up.
func (u *Uploader) Upload(ctx context.Context, filePath string, job Job, isPaused func() bool, onProgress func(float64)) error {
	if job.TotalParts < 1 || job.PartSize < 1 {
		return fmt.Errorf("invalid upload job: %d parts of %d bytes", job.TotalParts, job.PartSize)
	}
	if isPaused == nil {
		isPaused = func() bool { return false }
	}
	if onProgress == nil {
		onProgress = func(float64) {}
	}

	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	totalBytes := info.Size()

	done, err := u.state.Load(job.IntentID)
	if err != nil {
		return err
	}

	// Pre-credit parts finished in a previous session.
	var uploadedBytes atomic.Int64
	for n := range done {
		uploadedBytes.Add(partBytes(int(n), job, totalBytes))
	}

	progress := newProgressReporter(totalBytes, onProgress)
	progress.report(uploadedBytes.Load())

	// FIFO queue of pending part numbers.
	pending := make(chan int32, job.TotalParts)
	for n := 1; n <= job.TotalParts; n++ {
		if _, ok := done[int32(n)]; !ok {
			pending <- int32(n)
		}
	}
	close(pending)

	var (
		mu       sync.Mutex // guards done and the state store
		firstErr atomic.Pointer[error]
		wg       sync.WaitGroup
	)

	for i := 0; i < u.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				// Pause is checked before claiming work, never mid-part: an
				// in-flight part finishes, then the pool drains.
				if isPaused() || firstErr.Load() != nil || ctx.Err() != nil {
					return
				}

				partNumber, ok := <-pending
				if !ok {
					return
				}

				etag, err := u.uploadPart(ctx, file, job, partNumber, totalBytes)
				if err != nil {
					wrapped := fmt.Errorf("%w: part %d: %v", models.ErrPartUploadFailed, partNumber, err)
					firstErr.CompareAndSwap(nil, &wrapped)
					return
				}

				mu.Lock()
				done[partNumber] = etag
				saveErr := u.state.Save(job.IntentID, done)
				mu.Unlock()
				if saveErr != nil {
					firstErr.CompareAndSwap(nil, &saveErr)
					return
				}

				progress.report(uploadedBytes.Add(partBytes(int(partNumber), job, totalBytes)))
			}
		}()
	}

	wg.Wait()

	if errPtr := firstErr.Load(); errPtr != nil {
		return *errPtr
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: during upload", models.ErrContextCanceled)
	}

	if len(done) < job.TotalParts {
		// Paused before the queue drained; persisted state carries the rest.
		logger.Info(ctx, u.log, "Upload paused",
			"intentId", job.IntentID,
			"partsDone", len(done),
			"totalParts", job.TotalParts,
		)
		return nil
	}

	parts := make([]models.PartETag, 0, job.TotalParts)
	for n := 1; n <= job.TotalParts; n++ {
		parts = append(parts, models.PartETag{PartNumber: int32(n), ETag: done[int32(n)]})
	}

	if err := u.completer.CompleteMultipart(ctx, job.IntentID, parts); err != nil {
		return fmt.Errorf("failed to complete upload: %w", err)
	}

	if err := u.state.Clear(job.IntentID); err != nil {
		logger.Warn(ctx, u.log, "Failed to clear upload state", "intentId", job.IntentID, "error", err)
	}

	logger.Info(ctx, u.log, "Upload complete",
		"intentId", job.IntentID,
		"totalParts", job.TotalParts,
		"totalBytes", totalBytes,
	)

	return nil
}

// uploadPart signs, uploads, and verifies one part, returning its entity tag.
func (u *Uploader) uploadPart(ctx context.Context, file *os.File, job Job, partNumber int32, totalBytes int64) (string, error) {
	url, err := u.signer.SignPart(ctx, job.IntentID, partNumber)
	if err != nil {
		return "", fmt.Errorf("failed to sign part: %w", err)
	}

	offset := int64(partNumber-1) * job.PartSize
	size := partBytes(int(partNumber), job, totalBytes)
	section := io.NewSectionReader(file, offset, size)

	resp, err := u.http.R().
		SetContext(ctx).
		SetContentLength(true).
		SetHeader("Content-Length", fmt.Sprintf("%d", size)).
		SetBody(section).
		Put(url)
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("storage returned status %d", resp.StatusCode())
	}

	etag := resp.Header().Get("ETag")
	if etag == "" {
		return "", models.ErrMissingETag
	}

	return etag, nil
}

// partBytes returns the byte length of part n; the last part may be shorter.
func partBytes(n int, job Job, totalBytes int64) int64 {
	if n < job.TotalParts {
		return job.PartSize
	}
	return totalBytes - int64(job.TotalParts-1)*job.PartSize
}

// progressReporter keeps reported percentages monotonic across workers.
type progressReporter struct {
	mu         sync.Mutex
	totalBytes int64
	last       float64
	fn         func(float64)
}

func newProgressReporter(totalBytes int64, fn func(float64)) *progressReporter {
	return &progressReporter{totalBytes: totalBytes, fn: fn}
}

func (p *progressReporter) report(uploadedBytes int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pct := float64(uploadedBytes) / float64(p.totalBytes) * 100
	if pct > 100 {
		pct = 100
	}
	if pct < p.last {
		return
	}
	p.last = pct
	p.fn(pct)
}
