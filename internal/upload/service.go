// Package upload implements the presign/finalize protocol that turns a
// client-side upload into a durable object in the permanent namespace.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/courseloom/video-ingest/internal/logger"
	"github.com/courseloom/video-ingest/internal/metrics"
	"github.com/courseloom/video-ingest/pkg/models"
)

// Protocol constants
const (
	// MultipartThreshold is the declared size at which presign switches from
	// a single PUT to a multipart session.
	MultipartThreshold = 16 << 20 // 16 MiB

	// PartSizeFloor is the provider-imposed minimum part size.
	PartSizeFloor = 5 << 20 // 5 MiB

	// MaxPartCount is the provider-imposed part-count ceiling.
	MaxPartCount = 10000

	// MaxVideoBytes caps what a caller may declare for a video upload.
	MaxVideoBytes = 8 << 30 // 8 GiB

	MaxFilenameLength = 255

	// IntentTTL bounds how long an intent may sit between presign and
	// finalize.
	IntentTTL = 5 * time.Minute

	// PresignLifetime bounds every signed URL this service hands out.
	PresignLifetime = 10 * time.Minute

	// StagingPrefix is the temporary namespace. A crashed upload never
	// pollutes the permanent namespace because presigned keys live here.
	StagingPrefix = "staging/videos/"

	// PresignVersion tags the response shape for clients.
	PresignVersion = 1
)

// Allowed video extensions and content types
var (
	AllowedExtensions = map[string]bool{
		".mp4":  true,
		".mov":  true,
		".avi":  true,
		".mkv":  true,
		".webm": true,
	}

	AllowedContentTypes = map[string]bool{
		"video/mp4":        true,
		"video/quicktime":  true,
		"video/x-msvideo":  true,
		"video/x-matroska": true,
		"video/webm":       true,
	}
)

// ObjectStore is the slice of the S3 client the service uses.
type ObjectStore interface {
	PresignPut(ctx context.Context, bucket, key, contentType string, lifetime time.Duration) (string, error)
	CreateMultipartUpload(ctx context.Context, bucket, key, contentType string) (string, error)
	PresignUploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, lifetime time.Duration) (string, error)
	CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []models.PartETag) error
	AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error
	MoveObject(ctx context.Context, bucket, srcKey, dstKey string) error
}

// IntentStore is the slice of the DynamoDB intent store the service uses.
type IntentStore interface {
	Put(ctx context.Context, intent *models.UploadIntent) error
	Get(ctx context.Context, intentID string) (*models.UploadIntent, error)
	Delete(ctx context.Context, intentID string) error
}

// Service mediates the upload intent lifecycle. It is stateless per call;
// the intent store is the only shared state, and each intent is written once,
// read once, and deleted once by construction of the protocol.
type Service struct {
	objects   ObjectStore
	intents   IntentStore
	bucket    string
	cdnDomain string
	log       *slog.Logger
	newID     func() string
	now       func() time.Time
}

// NewService creates an upload Service.
func NewService(objects ObjectStore, intents IntentStore, bucket, cdnDomain string, log *slog.Logger) *Service {
	return &Service{
		objects:   objects,
		intents:   intents,
		bucket:    bucket,
		cdnDomain: cdnDomain,
		log:       log,
		newID:     func() string { return uuid.New().String() },
		now:       time.Now,
	}
}

// DeclaredFile is what the caller claims about the file it is about to
// upload. Nothing here is verified against real bytes, which is why intents
// are never deduplicated.
type DeclaredFile struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
}

// PresignResult is the tagged union returned by Presign. Mode decides which
// of the remaining fields are populated.
type PresignResult struct {
	Mode     models.UploadMode `json:"mode"`
	IntentID string            `json:"intentId"`
	RawKey   string            `json:"rawKey"`
	Version  int               `json:"version"`

	// Simple mode only
	UploadURL string `json:"uploadUrl,omitempty"`

	// Multipart mode only
	UploadID   string `json:"uploadId,omitempty"`
	PartSize   int64  `json:"partSize,omitempty"`
	TotalParts int    `json:"totalParts,omitempty"`
}

// Presign validates the declared file, creates one upload intent, and returns
// time-boxed upload credentials. Each call produces an independent intent;
// retried presigns are the caller's to discard.
func (s *Service) Presign(ctx context.Context, ownerID string, file DeclaredFile) (*PresignResult, error) {
	if err := validateDeclaredFile(file); err != nil {
		return nil, err
	}

	intentID := s.newID()
	ext := strings.ToLower(filepath.Ext(file.Filename))
	rawKey := fmt.Sprintf("%s%s%s", StagingPrefix, intentID, ext)
	now := s.now()

	intent := &models.UploadIntent{
		IntentID:      intentID,
		OwnerID:       ownerID,
		ObjectKey:     rawKey,
		DeclaredBytes: file.SizeBytes,
		DeclaredMime:  file.ContentType,
		CreatedAt:     now.UTC().Format(time.RFC3339),
		ExpiresAt:     now.Add(IntentTTL).Unix(),
	}

	result := &PresignResult{
		IntentID: intentID,
		RawKey:   rawKey,
		Version:  PresignVersion,
	}

	if file.SizeBytes < MultipartThreshold {
		uploadURL, err := s.objects.PresignPut(ctx, s.bucket, rawKey, file.ContentType, PresignLifetime)
		if err != nil {
			return nil, fmt.Errorf("failed to presign upload: %w", err)
		}
		result.Mode = models.ModeSimple
		result.UploadURL = uploadURL
	} else {
		uploadID, err := s.objects.CreateMultipartUpload(ctx, s.bucket, rawKey, file.ContentType)
		if err != nil {
			return nil, fmt.Errorf("failed to open multipart session: %w", err)
		}
		partSize := PartSize(file.SizeBytes)
		intent.UploadID = uploadID

		result.Mode = models.ModeMultipart
		result.UploadID = uploadID
		result.PartSize = partSize
		result.TotalParts = TotalParts(file.SizeBytes, partSize)
	}

	if err := s.intents.Put(ctx, intent); err != nil {
		return nil, fmt.Errorf("failed to store intent: %w", err)
	}

	metrics.UploadsPresigned.WithLabelValues(string(result.Mode)).Inc()

	logger.Info(ctx, s.log, "Upload presigned",
		"intentId", intentID,
		"ownerId", ownerID,
		"mode", result.Mode,
		"rawKey", rawKey,
		"declaredBytes", file.SizeBytes,
	)

	return result, nil
}

// SignPart returns a fresh URL for one part of an open multipart session.
// Signed part URLs are scoped to a single part and short-lived, so clients
// request one per part and never cache them across retries.
func (s *Service) SignPart(ctx context.Context, intentID string, partNumber int32) (string, error) {
	if partNumber < 1 || partNumber > MaxPartCount {
		return "", fmt.Errorf("part number %d out of range", partNumber)
	}

	intent, err := s.intents.Get(ctx, intentID)
	if err != nil {
		return "", err
	}
	if intent.UploadID == "" {
		return "", fmt.Errorf("intent %s is not a multipart upload", intentID)
	}

	return s.objects.PresignUploadPart(ctx, s.bucket, intent.ObjectKey, intent.UploadID, partNumber, PresignLifetime)
}

// CompleteMultipart assembles an uploaded multipart session. Every part must
// appear exactly once with its entity tag; order does not matter.
func (s *Service) CompleteMultipart(ctx context.Context, intentID string, parts []models.PartETag) error {
	if len(parts) == 0 {
		return errors.New("no parts listed")
	}

	seen := make(map[int32]bool, len(parts))
	for _, p := range parts {
		if p.ETag == "" {
			return fmt.Errorf("%w: part %d", models.ErrMissingETag, p.PartNumber)
		}
		if seen[p.PartNumber] {
			return fmt.Errorf("part %d listed twice", p.PartNumber)
		}
		seen[p.PartNumber] = true
	}
	for n := int32(1); n <= int32(len(parts)); n++ {
		if !seen[n] {
			return fmt.Errorf("part %d missing from completion list", n)
		}
	}

	intent, err := s.intents.Get(ctx, intentID)
	if err != nil {
		return err
	}
	if intent.UploadID == "" {
		return fmt.Errorf("intent %s is not a multipart upload", intentID)
	}

	return s.objects.CompleteMultipartUpload(ctx, s.bucket, intent.ObjectKey, intent.UploadID, parts)
}

// Abort discards an open multipart session so the provider releases its
// stored parts before the intent TTL lapses.
func (s *Service) Abort(ctx context.Context, callerID, intentID string) error {
	intent, err := s.intents.Get(ctx, intentID)
	if err != nil {
		return err
	}
	if intent.OwnerID != callerID {
		return models.ErrNotIntentOwner
	}
	if intent.UploadID != "" {
		if err := s.objects.AbortMultipartUpload(ctx, s.bucket, intent.ObjectKey, intent.UploadID); err != nil {
			return err
		}
	}
	return s.intents.Delete(ctx, intentID)
}

// FinalizeResult is the permanent address of a finalized upload.
type FinalizeResult struct {
	FinalKey string `json:"finalKey"`
	URL      string `json:"url"`
}

// Finalize promotes a completed upload from the staging namespace to its
// permanent key and consumes the intent. It is single-use by design: the
// intent is deleted on success, so a second call with the same id fails with
// ErrIntentNotFound. Callers must not blindly retry an ambiguous failure
// without checking whether the final object already exists.
func (s *Service) Finalize(ctx context.Context, callerID, intentID string) (*FinalizeResult, error) {
	intent, err := s.intents.Get(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.OwnerID != callerID {
		return nil, models.ErrNotIntentOwner
	}

	ext := strings.ToLower(filepath.Ext(intent.ObjectKey))
	finalKey := fmt.Sprintf("media/%s/videos/%s/source%s", intent.OwnerID, s.newID(), ext)

	// Copy then delete. A crash in between orphans the staging object, which
	// the bucket lifecycle policy reaps; the object itself is never lost.
	if err := s.objects.MoveObject(ctx, s.bucket, intent.ObjectKey, finalKey); err != nil {
		return nil, err
	}

	if err := s.intents.Delete(ctx, intentID); err != nil {
		return nil, err
	}

	metrics.UploadsFinalized.Inc()

	logger.Info(ctx, s.log, "Upload finalized",
		"intentId", intentID,
		"ownerId", intent.OwnerID,
		"finalKey", finalKey,
	)

	return &FinalizeResult{
		FinalKey: finalKey,
		URL:      fmt.Sprintf("https://%s/%s", s.cdnDomain, finalKey),
	}, nil
}

// PartSize returns the per-part byte size for a declared total: the larger of
// the provider floor and what keeps the part count under the provider
// ceiling.
func PartSize(totalBytes int64) int64 {
	size := (totalBytes + MaxPartCount - 1) / MaxPartCount
	if size < PartSizeFloor {
		return PartSizeFloor
	}
	return size
}

// TotalParts returns how many parts a file of totalBytes splits into at
// partSize. The last part may be shorter.
func TotalParts(totalBytes, partSize int64) int {
	return int((totalBytes + partSize - 1) / partSize)
}

func validateDeclaredFile(file DeclaredFile) error {
	if file.Filename == "" {
		return fmt.Errorf("%w: filename is required", models.ErrInvalidFileType)
	}
	if len(file.Filename) > MaxFilenameLength {
		return models.ErrFilenameTooLong
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !AllowedExtensions[ext] {
		return fmt.Errorf("%w: allowed extensions are mp4, mov, avi, mkv, webm", models.ErrInvalidFileType)
	}

	if file.ContentType == "" || !AllowedContentTypes[file.ContentType] {
		return fmt.Errorf("%w: %s", models.ErrInvalidContentType, file.ContentType)
	}

	if file.SizeBytes <= 0 {
		return fmt.Errorf("%w: declared size must be positive", models.ErrFileTooLarge)
	}
	if file.SizeBytes > MaxVideoBytes {
		return fmt.Errorf("%w: %d bytes", models.ErrFileTooLarge, file.SizeBytes)
	}

	return nil
}
