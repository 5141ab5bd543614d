package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrLockHeld is returned when another owner currently holds the lock
var ErrLockHeld = errors.New("lock already held")

const (
	// defaultLockDuration bounds how long a crashed owner can block
	// other writers before the lock is taken over
	defaultLockDuration = 30 * time.Second

	// defaultLockWait is the retry budget for acquiring a held lock
	defaultLockWait = 5 * time.Second
)

// DistributedLock serializes aggregate dispatch across processes using
// DynamoDB conditional writes. Within one process the repository's keyed
// mutex is enough; deployments with multiple writers put this in front.
type DistributedLock struct {
	client    *dynamodb.Client
	tableName string
	logger    *zap.Logger
}

// LockRecord represents a lock record in DynamoDB
type LockRecord struct {
	PK         string `dynamodbav:"PK"`         // LOCK#<aggregate_type>#<aggregate_id>
	SK         string `dynamodbav:"SK"`         // LOCK
	LockID     string `dynamodbav:"LockID"`     // Unique lock identifier
	Owner      string `dynamodbav:"Owner"`      // Lock owner identifier
	AcquiredAt string `dynamodbav:"AcquiredAt"` // RFC3339 timestamp
	ExpiresAt  string `dynamodbav:"ExpiresAt"`  // RFC3339 timestamp
	TTL        int64  `dynamodbav:"TTL"`        // Unix timestamp for DynamoDB TTL
}

// NewDistributedLock creates a new distributed lock instance
func NewDistributedLock(client *dynamodb.Client, tableName string, logger *zap.Logger) *DistributedLock {
	return &DistributedLock{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

func lockPK(aggregateType, aggregateID string) string {
	return fmt.Sprintf("LOCK#%s#%s", aggregateType, aggregateID)
}

// Acquire implements ports.Locker for the repository's cross-process
// dispatch serialization, with a fresh owner identity per call
func (dl *DistributedLock) Acquire(ctx context.Context, aggregateType, aggregateID string) (func(context.Context) error, error) {
	lock, err := dl.TryAcquireLock(ctx, aggregateType, aggregateID, uuid.New().String(), defaultLockDuration, defaultLockWait)
	if err != nil {
		return nil, err
	}
	return lock.Release, nil
}

// AcquireLock attempts to acquire the dispatch lock for one aggregate.
// An expired lock left behind by a crashed owner is taken over.
func (dl *DistributedLock) AcquireLock(ctx context.Context, aggregateType, aggregateID, ownerID string, lockDuration time.Duration) (*Lock, error) {
	lockID := fmt.Sprintf("%s_%d", ownerID, time.Now().UnixNano())
	now := time.Now()
	expiresAt := now.Add(lockDuration)

	item := map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: lockPK(aggregateType, aggregateID)},
		"SK":         &types.AttributeValueMemberS{Value: "LOCK"},
		"LockID":     &types.AttributeValueMemberS{Value: lockID},
		"Owner":      &types.AttributeValueMemberS{Value: ownerID},
		"AcquiredAt": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		"ExpiresAt":  &types.AttributeValueMemberS{Value: expiresAt.Format(time.RFC3339)},
		"TTL":        &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expiresAt.Unix())},
	}

	input := &dynamodb.PutItemInput{
		TableName:           aws.String(dl.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR ExpiresAt < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	}

	_, err := dl.client.PutItem(ctx, input)
	if err != nil {
		var conditionalCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionalCheckFailed) {
			dl.logger.Debug("Failed to acquire lock - already held",
				zap.String("aggregate_type", aggregateType),
				zap.String("aggregate_id", aggregateID),
				zap.String("owner", ownerID),
			)
			return nil, fmt.Errorf("%w: %s/%s", ErrLockHeld, aggregateType, aggregateID)
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	dl.logger.Debug("Lock acquired successfully",
		zap.String("aggregate_type", aggregateType),
		zap.String("aggregate_id", aggregateID),
		zap.String("lockID", lockID),
		zap.String("owner", ownerID),
		zap.Duration("duration", lockDuration),
	)

	return &Lock{
		distributedLock: dl,
		aggregateType:   aggregateType,
		aggregateID:     aggregateID,
		lockID:          lockID,
		ownerID:         ownerID,
		expiresAt:       expiresAt,
	}, nil
}

// TryAcquireLock attempts to acquire a lock, retrying with backoff until
// the timeout elapses
func (dl *DistributedLock) TryAcquireLock(ctx context.Context, aggregateType, aggregateID, ownerID string, lockDuration, timeout time.Duration) (*Lock, error) {
	deadline := time.Now().Add(timeout)
	retryInterval := 100 * time.Millisecond

	for time.Now().Before(deadline) {
		lock, err := dl.AcquireLock(ctx, aggregateType, aggregateID, ownerID, lockDuration)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, ErrLockHeld) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
			if retryInterval < time.Second {
				retryInterval = time.Duration(float64(retryInterval) * 1.5)
			}
		}
	}

	return nil, fmt.Errorf("timeout acquiring lock for %s/%s", aggregateType, aggregateID)
}

// ReleaseLock releases the specified lock
func (dl *DistributedLock) ReleaseLock(ctx context.Context, aggregateType, aggregateID, lockID, ownerID string) error {
	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(dl.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: lockPK(aggregateType, aggregateID)},
			"SK": &types.AttributeValueMemberS{Value: "LOCK"},
		},
		ConditionExpression: aws.String("LockID = :lockId AND #owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "Owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":lockId": &types.AttributeValueMemberS{Value: lockID},
			":owner":  &types.AttributeValueMemberS{Value: ownerID},
		},
	}

	_, err := dl.client.DeleteItem(ctx, input)
	if err != nil {
		var conditionalCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionalCheckFailed) {
			dl.logger.Warn("Lock already released or owned by someone else",
				zap.String("aggregate_type", aggregateType),
				zap.String("aggregate_id", aggregateID),
				zap.String("lockID", lockID),
				zap.String("owner", ownerID),
			)
			return nil // Lock is already gone, which is what we wanted
		}
		return fmt.Errorf("failed to release lock: %w", err)
	}

	dl.logger.Debug("Lock released successfully",
		zap.String("aggregate_type", aggregateType),
		zap.String("aggregate_id", aggregateID),
		zap.String("lockID", lockID),
		zap.String("owner", ownerID),
	)

	return nil
}

// Lock represents an acquired distributed lock
type Lock struct {
	distributedLock *DistributedLock
	aggregateType   string
	aggregateID     string
	lockID          string
	ownerID         string
	expiresAt       time.Time
}

// Release releases the lock
func (l *Lock) Release(ctx context.Context) error {
	return l.distributedLock.ReleaseLock(ctx, l.aggregateType, l.aggregateID, l.lockID, l.ownerID)
}

// IsExpired checks if the lock has expired
func (l *Lock) IsExpired() bool {
	return time.Now().After(l.expiresAt)
}

// TimeUntilExpiry returns the time until the lock expires
func (l *Lock) TimeUntilExpiry() time.Duration {
	if l.IsExpired() {
		return 0
	}
	return time.Until(l.expiresAt)
}

// Extend pushes the expiry forward, as long as this owner still holds
// the lock
func (l *Lock) Extend(ctx context.Context, additionalDuration time.Duration) error {
	newExpiry := l.expiresAt.Add(additionalDuration)

	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(l.distributedLock.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: lockPK(l.aggregateType, l.aggregateID)},
			"SK": &types.AttributeValueMemberS{Value: "LOCK"},
		},
		UpdateExpression:    aws.String("SET ExpiresAt = :expiresAt, #ttl = :ttl"),
		ConditionExpression: aws.String("LockID = :lockId AND #owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "Owner",
			"#ttl":   "TTL",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expiresAt": &types.AttributeValueMemberS{Value: newExpiry.Format(time.RFC3339)},
			":ttl":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", newExpiry.Unix())},
			":lockId":    &types.AttributeValueMemberS{Value: l.lockID},
			":owner":     &types.AttributeValueMemberS{Value: l.ownerID},
		},
	}

	_, err := l.distributedLock.client.UpdateItem(ctx, input)
	if err != nil {
		var conditionalCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionalCheckFailed) {
			return fmt.Errorf("%w: lost before extension", ErrLockHeld)
		}
		return fmt.Errorf("failed to extend lock: %w", err)
	}

	l.expiresAt = newExpiry
	return nil
}
