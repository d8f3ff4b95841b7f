package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/courseloom/video-ingest/pkg/models"
)

// Default timeout for s3 control-plane operations
const DefaultS3Timeout = 30 * time.Second

// S3Client wraps the AWS S3 client with the presign and object-move
// operations the upload protocol needs.
type S3Client struct {
	*s3.Client
	presigner *s3.PresignClient
}

// NewS3ClientFromAWSConfig creates an S3Client from a loaded AWS config.
func NewS3ClientFromAWSConfig(cfg aws.Config) *S3Client {
	client := s3.NewFromConfig(cfg)
	return &S3Client{
		Client:    client,
		presigner: s3.NewPresignClient(client),
	}
}

// PresignPut returns a time-boxed URL for a single-PUT upload of the whole
// object.
func (c *S3Client) PresignPut(ctx context.Context, bucket, key, contentType string, lifetime time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultS3Timeout)
	defer cancel()

	req, err := c.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = lifetime
	})
	if err != nil {
		return "", fmt.Errorf("failed to presign put: %w", err)
	}

	return req.URL, nil
}

// CreateMultipartUpload opens a multipart session and returns its upload id.
func (c *S3Client) CreateMultipartUpload(ctx context.Context, bucket, key, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultS3Timeout)
	defer cancel()

	out, err := c.Client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create multipart upload: %w", err)
	}

	return aws.ToString(out.UploadId), nil
}

// PresignUploadPart returns a time-boxed URL scoped to one part of one
// multipart session. URLs are single-part; callers fetch a fresh one per part.
func (c *S3Client) PresignUploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, lifetime time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultS3Timeout)
	defer cancel()

	req, err := c.presigner.PresignUploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(partNumber),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = lifetime
	})
	if err != nil {
		return "", fmt.Errorf("failed to presign part %d: %w", partNumber, err)
	}

	return req.URL, nil
}

// CompleteMultipartUpload assembles the uploaded parts into the final object.
// Parts may arrive in any order; S3 requires them ascending.
func (c *S3Client) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []models.PartETag) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultS3Timeout)
	defer cancel()

	sorted := make([]models.PartETag, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })

	completed := make([]s3types.CompletedPart, 0, len(sorted))
	for _, p := range sorted {
		if p.ETag == "" {
			return fmt.Errorf("%w: part %d", models.ErrMissingETag, p.PartNumber)
		}
		completed = append(completed, s3types.CompletedPart{
			PartNumber: aws.Int32(p.PartNumber),
			ETag:       aws.String(p.ETag),
		})
	}

	_, err := c.Client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}

	return nil
}

// AbortMultipartUpload discards an open session and its stored parts.
func (c *S3Client) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultS3Timeout)
	defer cancel()

	_, err := c.Client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return fmt.Errorf("failed to abort multipart upload: %w", err)
	}

	return nil
}

// MoveObject copies srcKey to dstKey and then deletes srcKey. The two calls
// are not transactional: a crash between them leaves an orphaned source
// object, never a lost one. The delete only runs after the copy succeeds.
func (c *S3Client) MoveObject(ctx context.Context, bucket, srcKey, dstKey string) error {
	_, err := c.Client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(bucket),
		CopySource: aws.String(fmt.Sprintf("%s/%s", bucket, srcKey)),
		Key:        aws.String(dstKey),
	})
	if err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", srcKey, dstKey, err)
	}

	_, err = c.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(srcKey),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s after copy: %w", srcKey, err)
	}

	return nil
}
