// Package stats keeps named counters such as login successes and failures.
package stats

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/dynamo"
	"github.com/redis/go-redis/v9"
)

// Counter names.
const (
	AuthSuccess = "www:auth:success"
	AuthFail    = "www:auth:fail"
	Create      = "www:create"
)

// AttrValue holds the counter value on DynamoDB counter items.
const AttrValue = "value"

// Counter increments and reads named counters.
type Counter interface {
	Incr(ctx context.Context, name string) (int64, error)
	Get(ctx context.Context, name string) (int64, error)
}

// RedisClient is the subset of the go-redis API used by RedisCounter.
// *redis.Client satisfies it.
type RedisClient interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisCounter stores counters as plain Redis integers.
type RedisCounter struct {
	client RedisClient
}

// NewRedisCounter creates a new RedisCounter.
func NewRedisCounter(client RedisClient) *RedisCounter {
	return &RedisCounter{client: client}
}

// Incr increments the counter and returns the new value.
func (c *RedisCounter) Incr(ctx context.Context, name string) (int64, error) {
	n, err := c.client.Incr(ctx, name).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", name, err)
	}
	return n, nil
}

// Get returns the counter value. A missing counter reads as 0.
func (c *RedisCounter) Get(ctx context.Context, name string) (int64, error) {
	n, err := c.client.Get(ctx, name).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter %s: %w", name, err)
	}
	return n, nil
}

// DynamoDBClient defines the interface for DynamoDB operations.
type DynamoDBClient interface {
	GetItem(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, input *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoDBCounter stores counters as COUNTER# items in the shared table.
type DynamoDBCounter struct {
	client    DynamoDBClient
	tableName string
}

// NewDynamoDBCounter creates a new DynamoDBCounter.
func NewDynamoDBCounter(client DynamoDBClient, tableName string) *DynamoDBCounter {
	return &DynamoDBCounter{
		client:    client,
		tableName: tableName,
	}
}

func counterKey(name string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamo.AttrPK: &types.AttributeValueMemberS{Value: dynamo.PrefixCounter + name},
		dynamo.AttrSK: &types.AttributeValueMemberS{Value: dynamo.SKCounter},
	}
}

// Incr atomically increments the counter and returns the new value.
func (c *DynamoDBCounter) Incr(ctx context.Context, name string) (int64, error) {
	output, err := c.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tableName),
		Key:              counterKey(name),
		UpdateExpression: aws.String("SET #value = if_not_exists(#value, :zero) + :one"),
		ExpressionAttributeNames: map[string]string{
			"#value": AttrValue,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":one":  &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", name, err)
	}
	return parseValue(output.Attributes)
}

// Get returns the counter value. A missing counter reads as 0.
func (c *DynamoDBCounter) Get(ctx context.Context, name string) (int64, error) {
	output, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key:       counterKey(name),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read counter %s: %w", name, err)
	}
	if output.Item == nil {
		return 0, nil
	}
	return parseValue(output.Item)
}

func parseValue(item map[string]types.AttributeValue) (int64, error) {
	v, ok := item[AttrValue].(*types.AttributeValueMemberN)
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(v.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse counter: %w", err)
	}
	return n, nil
}
