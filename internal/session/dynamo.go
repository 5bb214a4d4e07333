package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore keeps records in a DynamoDB table with partition key user_id
// and sort key feature. Ownership checks are condition expressions on
// device_id.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
}

// NewDynamoStore wraps an existing client.
func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName}
}

// NewDynamoStoreFromEnv loads the default AWS configuration for region.
func NewDynamoStoreFromEnv(ctx context.Context, region, tableName string) (*DynamoStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewDynamoStore(dynamodb.NewFromConfig(cfg), tableName), nil
}

func (s *DynamoStore) itemKey(userID, feature string) map[string]dynamodbtypes.AttributeValue {
	return map[string]dynamodbtypes.AttributeValue{
		"user_id": &dynamodbtypes.AttributeValueMemberS{Value: userID},
		"feature": &dynamodbtypes.AttributeValueMemberS{Value: feature},
	}
}

func (s *DynamoStore) Get(ctx context.Context, userID, feature string) (Record, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.itemKey(userID, feature),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to get session: %w", err)
	}
	if out.Item == nil {
		return Record{}, false, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return Record{}, false, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return rec, true, nil
}

func (s *DynamoStore) Upsert(ctx context.Context, rec Record) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *DynamoStore) Touch(ctx context.Context, userID, feature, deviceID string, at time.Time) (bool, error) {
	ts, err := attributevalue.Marshal(at)
	if err != nil {
		return false, err
	}
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.itemKey(userID, feature),
		UpdateExpression:    aws.String("SET last_active_at = :at"),
		ConditionExpression: aws.String("device_id = :device"),
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
			":at":     ts,
			":device": &dynamodbtypes.AttributeValueMemberS{Value: deviceID},
		},
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to touch session: %w", err)
	}
	return true, nil
}

func (s *DynamoStore) Delete(ctx context.Context, userID, feature, deviceID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.itemKey(userID, feature),
		ConditionExpression: aws.String("device_id = :device"),
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
			":device": &dynamodbtypes.AttributeValueMemberS{Value: deviceID},
		},
	})
	if err != nil && !isConditionFailed(err) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func isConditionFailed(err error) bool {
	var ccf *dynamodbtypes.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
