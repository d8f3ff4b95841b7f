package models

import "time"

// UploadMode distinguishes a single presigned PUT from a chunked multipart session.
type UploadMode string

const (
	ModeSimple    UploadMode = "simple"
	ModeMultipart UploadMode = "multipart"
)

// UploadIntent is the short-lived record tying a presign call to its eventual
// finalize call. It lives in DynamoDB between the two and nowhere else; an
// abandoned intent is reaped by the table's TTL.
type UploadIntent struct {
	PK string `dynamodbav:"pk"`

	IntentID      string `dynamodbav:"intent_id"`
	OwnerID       string `dynamodbav:"owner_id"`
	ObjectKey     string `dynamodbav:"object_key"`
	DeclaredBytes int64  `dynamodbav:"declared_bytes"`
	DeclaredMime  string `dynamodbav:"declared_mime"`
	UploadID      string `dynamodbav:"upload_id,omitempty"`
	CreatedAt     string `dynamodbav:"created_at"`
	ExpiresAt     int64  `dynamodbav:"expires_at"` // epoch seconds, DynamoDB TTL attribute
}

// Expired reports whether the intent's TTL has lapsed. DynamoDB TTL deletion
// lags, so readers must check this themselves.
func (i *UploadIntent) Expired(now time.Time) bool {
	return now.Unix() >= i.ExpiresAt
}

// PartETag pairs a part number with the entity tag storage returned for it.
// The multipart completion call needs every part exactly once.
type PartETag struct {
	PartNumber int32  `json:"partNumber"`
	ETag       string `json:"eTag"`
}
