package models

import "errors"

// Sentinel errors for the ingest pipeline.
var (
	// Caller errors surfaced by the upload API
	ErrIntentNotFound     = errors.New("upload intent not found")
	ErrNotIntentOwner     = errors.New("caller does not own this upload intent")
	ErrInvalidContentType = errors.New("invalid content type")
	ErrInvalidFileType    = errors.New("invalid file type")
	ErrFileTooLarge       = errors.New("declared size exceeds limit")
	ErrFilenameTooLong    = errors.New("filename too long")

	// Lock store outcomes
	ErrLockHeld = errors.New("processing lock held by another owner")

	// Intake worker message handling
	ErrEventParseFailed = errors.New("failed to parse storage event")
	ErrNoObjectKey      = errors.New("event has no object key")
	ErrKeyFormat        = errors.New("object key has unexpected format")
	ErrNotSourceVideo   = errors.New("object is not a source video")

	// Chunk uploader
	ErrPartUploadFailed = errors.New("part upload failed")
	ErrMissingETag      = errors.New("storage response missing etag")

	// Transcode task
	ErrDownloadFailed  = errors.New("failed to download source video")
	ErrTranscodeFailed = errors.New("failed to transcode video")
	ErrRenditionUpload = errors.New("failed to upload renditions")
	ErrFFmpegFailed    = errors.New("ffmpeg execution failed")
	ErrProbeFailed     = errors.New("ffprobe execution failed")
	ErrContextCanceled = errors.New("context canceled")
)
