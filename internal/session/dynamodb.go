package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/dynamo"
)

// AttrData holds the serialized session on DynamoDB session items.
const AttrData = "data"

// DynamoDBClient defines the interface for DynamoDB operations.
type DynamoDBClient interface {
	GetItem(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, input *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoDBStore keeps sessions as SESSION# items expired by the table TTL.
type DynamoDBStore struct {
	client    DynamoDBClient
	tableName string
	now       func() time.Time
}

// NewDynamoDBStore creates a new DynamoDBStore.
func NewDynamoDBStore(client DynamoDBClient, tableName string) *DynamoDBStore {
	return &DynamoDBStore{
		client:    client,
		tableName: tableName,
		now:       time.Now,
	}
}

func sessionKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamo.AttrPK: &types.AttributeValueMemberS{Value: dynamo.PrefixSession + id},
		dynamo.AttrSK: &types.AttributeValueMemberS{Value: dynamo.SKSession},
	}
}

// Get implements Store. Items past their ttl are treated as missing since
// the table removes expired items lazily.
func (s *DynamoDBStore) Get(ctx context.Context, id string) ([]byte, error) {
	output, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            sessionKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if output.Item == nil {
		return nil, ErrNotFound
	}

	if v, ok := output.Item[dynamo.AttrTTL].(*types.AttributeValueMemberN); ok {
		if exp, err := strconv.ParseInt(v.Value, 10, 64); err == nil && s.now().Unix() >= exp {
			return nil, ErrNotFound
		}
	}

	v, ok := output.Item[AttrData].(*types.AttributeValueMemberS)
	if !ok {
		return nil, ErrNotFound
	}
	return []byte(v.Value), nil
}

// Set implements Store.
func (s *DynamoDBStore) Set(ctx context.Context, id string, data []byte, ttl time.Duration) error {
	item := sessionKey(id)
	item[AttrData] = &types.AttributeValueMemberS{Value: string(data)}
	item[dynamo.AttrTTL] = &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Add(ttl).Unix(), 10)}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *DynamoDBStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       sessionKey(id),
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
