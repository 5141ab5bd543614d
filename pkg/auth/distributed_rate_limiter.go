package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DistributedRateLimiter implements fixed-window rate limiting with
// DynamoDB as the shared counter store, so limits hold across server
// instances. Counter items expire through the table's TTL attribute.
type DistributedRateLimiter struct {
	client    *dynamodb.Client
	tableName string
	limit     int
	window    time.Duration
}

// NewDistributedRateLimiter creates a DynamoDB-backed rate limiter
func NewDistributedRateLimiter(client *dynamodb.Client, tableName string, limit int, window time.Duration) *DistributedRateLimiter {
	return &DistributedRateLimiter{
		client:    client,
		tableName: tableName,
		limit:     limit,
		window:    window,
	}
}

func (l *DistributedRateLimiter) ratePK(key string, windowStart time.Time) string {
	return fmt.Sprintf("RATE#%s#%d", key, windowStart.Unix())
}

// Allow atomically increments the counter for the key's current window
// and reports whether the increment stayed within the limit.
func (l *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	windowStart := time.Now().Truncate(l.window)
	ttl := windowStart.Add(2 * l.window).Unix()

	out, err := l.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(l.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: l.ratePK(key, windowStart)},
			"SK": &types.AttributeValueMemberS{Value: "LIMIT"},
		},
		UpdateExpression: aws.String("ADD #count :one SET #ttl = if_not_exists(#ttl, :ttl)"),
		ExpressionAttributeNames: map[string]string{
			"#count": "Count",
			"#ttl":   "TTL",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":ttl": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttl)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return false, fmt.Errorf("failed to update rate counter: %w", err)
	}

	var record struct {
		Count int `dynamodbav:"Count"`
	}
	if err := attributevalue.UnmarshalMap(out.Attributes, &record); err != nil {
		return false, fmt.Errorf("failed to unmarshal rate counter: %w", err)
	}

	return record.Count <= l.limit, nil
}

// Reset clears the counter for the key's current window
func (l *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	windowStart := time.Now().Truncate(l.window)

	_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(l.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: l.ratePK(key, windowStart)},
			"SK": &types.AttributeValueMemberS{Value: "LIMIT"},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to reset rate counter: %w", err)
	}
	return nil
}
