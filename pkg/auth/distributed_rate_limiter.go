package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBAPI is the subset of the DynamoDB client used by the limiter
type DynamoDBAPI interface {
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DistributedRateLimiter counts requests in fixed windows stored in the
// service table, so limits hold across Lambda instances.
type DistributedRateLimiter struct {
	client    DynamoDBAPI
	tableName string
	limit     int
	window    time.Duration
	now       func() time.Time
}

// NewDistributedRateLimiter creates a limiter admitting limit requests per window
func NewDistributedRateLimiter(client DynamoDBAPI, tableName string, limit int, window time.Duration) *DistributedRateLimiter {
	return &DistributedRateLimiter{
		client:    client,
		tableName: tableName,
		limit:     limit,
		window:    window,
		now:       time.Now,
	}
}

func (r *DistributedRateLimiter) windowKey(key string, start time.Time) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("RATELIMIT#%s#%d", key, start.Unix())},
		"SK": &types.AttributeValueMemberS{Value: "RATELIMIT"},
	}
}

// Allow atomically increments the current window's counter unless it is at the limit.
// Storage errors fail open and are returned alongside true.
func (r *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	start := r.now().UTC().Truncate(r.window)
	end := start.Add(r.window)

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 r.windowKey(key, start),
		UpdateExpression:    aws.String("SET #count = if_not_exists(#count, :zero) + :incr, #ttl = :ttl"),
		ConditionExpression: aws.String("attribute_not_exists(#count) OR #count < :limit"),
		ExpressionAttributeNames: map[string]string{
			"#count": "Count",
			"#ttl":   "TTL",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero":  &types.AttributeValueMemberN{Value: "0"},
			":incr":  &types.AttributeValueMemberN{Value: "1"},
			":limit": &types.AttributeValueMemberN{Value: strconv.Itoa(r.limit)},
			":ttl":   &types.AttributeValueMemberN{Value: strconv.FormatInt(end.Add(time.Hour).Unix(), 10)},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return false, nil
		}
		return true, fmt.Errorf("rate limiter error (failing open): %w", err)
	}
	return true, nil
}

// Reset clears the current window for key
func (r *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	start := r.now().UTC().Truncate(r.window)
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       r.windowKey(key, start),
	})
	return err
}
