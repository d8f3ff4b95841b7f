package models

// LockStatus is the recorded state of a per-video processing lock.
type LockStatus string

const (
	LockProcessing LockStatus = "PROCESSING"
	LockFailed     LockStatus = "FAILED"
)

// ProcessingLock is the single DynamoDB item that gates transcoding of one
// video. A lock is acquirable iff the item is absent or its lease has lapsed;
// the conditional write that enforces this is the only coordination between
// worker instances. Items are never deleted; an expired lease simply becomes
// acquirable again.
type ProcessingLock struct {
	PK string `dynamodbav:"pk"`

	VideoID     string     `dynamodbav:"video_id"`
	Status      LockStatus `dynamodbav:"status"`
	LockedBy    string     `dynamodbav:"locked_by"`
	LeaseExpiry int64      `dynamodbav:"lease_expiry"` // epoch seconds
	UpdatedAt   string     `dynamodbav:"updated_at"`
}
