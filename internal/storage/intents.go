package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/courseloom/video-ingest/pkg/models"
)

// DynamoAPI is the subset of the DynamoDB client the stores use. Narrowed so
// tests can substitute a fake.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// IntentStore persists upload intents between presign and finalize. The
// table's TTL attribute reaps abandoned intents; readers still check expiry
// themselves because TTL deletion lags.
type IntentStore struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time
}

// NewIntentStore creates an IntentStore backed by the given client.
func NewIntentStore(client DynamoAPI, tableName string) (*IntentStore, error) {
	if tableName == "" {
		return nil, errors.New("intent table name is required")
	}
	return &IntentStore{
		client:    client,
		tableName: tableName,
		now:       time.Now,
	}, nil
}

func intentPK(intentID string) string {
	return fmt.Sprintf("INTENT#%s", intentID)
}

// Put stores a freshly created intent. Intent ids are generator-assigned, so
// a key collision means a bug rather than a retry.
func (s *IntentStore) Put(ctx context.Context, intent *models.UploadIntent) error {
	intent.PK = intentPK(intent.IntentID)

	item, err := attributevalue.MarshalMap(intent)
	if err != nil {
		return fmt.Errorf("failed to marshal intent: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("intent already exists: %s", intent.IntentID)
		}
		return fmt.Errorf("failed to store intent: %w", err)
	}

	return nil
}

// Get returns the intent, or ErrIntentNotFound if it is absent or its TTL has
// lapsed.
func (s *IntentStore) Get(ctx context.Context, intentID string) (*models.UploadIntent, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: intentPK(intentID)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get intent: %w", err)
	}

	if result.Item == nil {
		return nil, models.ErrIntentNotFound
	}

	var intent models.UploadIntent
	if err := attributevalue.UnmarshalMap(result.Item, &intent); err != nil {
		return nil, fmt.Errorf("failed to unmarshal intent: %w", err)
	}

	if intent.Expired(s.now()) {
		return nil, models.ErrIntentNotFound
	}

	return &intent, nil
}

// Delete removes the intent unconditionally. Finalize calls this after a
// successful move, making the intent single-use.
func (s *IntentStore) Delete(ctx context.Context, intentID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: intentPK(intentID)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete intent: %w", err)
	}
	return nil
}
