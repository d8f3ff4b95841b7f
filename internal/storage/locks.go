package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/courseloom/video-ingest/pkg/models"
)

// LockStore hands out per-video processing locks. The whole guarantee lives
// in one conditional write: the put succeeds iff no item exists for the video
// or the existing item's lease has lapsed. No read-then-write window exists,
// so at most one worker can hold a live lease regardless of how many
// instances race.
type LockStore struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time
}

// NewLockStore creates a LockStore backed by the given client.
func NewLockStore(client DynamoAPI, tableName string) (*LockStore, error) {
	if tableName == "" {
		return nil, errors.New("lock table name is required")
	}
	return &LockStore{
		client:    client,
		tableName: tableName,
		now:       time.Now,
	}, nil
}

func lockPK(videoID string) string {
	return fmt.Sprintf("LOCK#%s", videoID)
}

// Acquire attempts to take the processing lock for videoID with the given
// lease. It returns nil when acquired, ErrLockHeld when another owner holds a
// live lease, and any other error when the outcome could not be determined.
// Callers must treat that last case as retryable, not as contention.
func (s *LockStore) Acquire(ctx context.Context, videoID, owner string, lease time.Duration) error {
	now := s.now()

	lock := &models.ProcessingLock{
		PK:          lockPK(videoID),
		VideoID:     videoID,
		Status:      models.LockProcessing,
		LockedBy:    owner,
		LeaseExpiry: now.Add(lease).Unix(),
		UpdatedAt:   now.UTC().Format(time.RFC3339),
	}

	item, err := attributevalue.MarshalMap(lock)
	if err != nil {
		return fmt.Errorf("failed to marshal lock: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk) OR lease_expiry < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return models.ErrLockHeld
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	return nil
}

// MarkFailed records a terminal failure on the lock record. The item stays in
// place as an explicit marker; the lapsed lease is what makes the video
// acquirable again.
func (s *LockStore) MarkFailed(ctx context.Context, videoID, reason string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: lockPK(videoID)},
		},
		UpdateExpression: aws.String("SET #status = :status, error_message = :error, updated_at = :updated_at"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":     &types.AttributeValueMemberS{Value: string(models.LockFailed)},
			":error":      &types.AttributeValueMemberS{Value: reason},
			":updated_at": &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to mark lock failed: %w", err)
	}
	return nil
}

// Get returns the current lock record, or nil when none exists.
func (s *LockStore) Get(ctx context.Context, videoID string) (*models.ProcessingLock, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: lockPK(videoID)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get lock: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var lock models.ProcessingLock
	if err := attributevalue.UnmarshalMap(result.Item, &lock); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lock: %w", err)
	}

	return &lock, nil
}
