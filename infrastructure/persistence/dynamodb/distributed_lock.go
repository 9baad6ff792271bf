package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatgraph/application/ports"
	"chatgraph/domain/core/valueobjects"
	pkgerrors "chatgraph/pkg/errors"
)

var errLockHeld = errors.New("lock already held")

// LockRecord represents a lock record in DynamoDB
type LockRecord struct {
	PK         string `dynamodbav:"PK"`         // LOCK#CHAT#<chat_id>
	SK         string `dynamodbav:"SK"`         // LOCK
	LockID     string `dynamodbav:"LockID"`     // Unique lock identifier
	Owner      string `dynamodbav:"Owner"`      // Process holding the lock
	AcquiredAt string `dynamodbav:"AcquiredAt"` // RFC3339Nano, UTC
	ExpiresAt  string `dynamodbav:"ExpiresAt"`  // RFC3339Nano, UTC
	TTL        int64  `dynamodbav:"TTL"`        // Unix timestamp for DynamoDB TTL
}

// DistributedChatLock extends an in-process ChatLocker across processes.
// Shared acquires stay local; exclusive acquires additionally hold a lease
// item in the table, so writers on different instances never overlap.
type DistributedChatLock struct {
	local     ports.ChatLocker
	client    API
	tableName string
	owner     string
	lease     time.Duration
	timeout   time.Duration
	logger    *zap.Logger
	clock     func() time.Time
}

// NewDistributedChatLock creates a lock whose leases last lease and whose
// acquisition gives up after timeout when ctx carries no deadline.
func NewDistributedChatLock(local ports.ChatLocker, client API, tableName string, lease, timeout time.Duration, logger *zap.Logger) *DistributedChatLock {
	return &DistributedChatLock{
		local:     local,
		client:    client,
		tableName: tableName,
		owner:     uuid.New().String(),
		lease:     lease,
		timeout:   timeout,
		logger:    logger,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

var _ ports.ChatLocker = (*DistributedChatLock)(nil)

// Acquire implements ports.ChatLocker
func (dl *DistributedChatLock) Acquire(ctx context.Context, chatID valueobjects.ChatID, exclusive bool) (func(), error) {
	releaseLocal, err := dl.local.Acquire(ctx, chatID, exclusive)
	if err != nil || !exclusive {
		return releaseLocal, err
	}

	lock, err := dl.tryAcquire(ctx, chatID)
	if err != nil {
		releaseLocal()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { dl.releaseLease(chatID, lock, releaseLocal) })
	}, nil
}

func (dl *DistributedChatLock) releaseLease(chatID valueobjects.ChatID, lock LockRecord, releaseLocal func()) {
	defer releaseLocal()

	// The caller's context may already be cancelled; the lease must still go.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dl.release(ctx, lock); err != nil {
		dl.logger.Error("Failed to release chat lease",
			zap.String("chatID", chatID.String()),
			zap.Error(err),
		)
	}
}

func (dl *DistributedChatLock) tryAcquire(ctx context.Context, chatID valueobjects.ChatID) (LockRecord, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && dl.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dl.timeout)
		defer cancel()
	}

	retryInterval := 50 * time.Millisecond
	for {
		lock, err := dl.acquire(ctx, chatID)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, errLockHeld) {
			return LockRecord{}, err
		}

		select {
		case <-ctx.Done():
			return LockRecord{}, pkgerrors.NewConcurrencyConflictError("timed out waiting for chat lock").
				WithDetail("chat_id", chatID.String()).
				WithCause(ctx.Err())
		case <-time.After(retryInterval):
			if retryInterval < time.Second {
				retryInterval = time.Duration(float64(retryInterval) * 1.5)
			}
		}
	}
}

func (dl *DistributedChatLock) acquire(ctx context.Context, chatID valueobjects.ChatID) (LockRecord, error) {
	now := dl.clock()
	expiresAt := now.Add(dl.lease)
	record := LockRecord{
		PK:         lockPK(chatID),
		SK:         "LOCK",
		LockID:     uuid.New().String(),
		Owner:      dl.owner,
		AcquiredAt: now.Format(timeLayout),
		ExpiresAt:  expiresAt.Format(timeLayout),
		TTL:        expiresAt.Unix(),
	}

	_, err := dl.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(dl.tableName),
		Item: map[string]types.AttributeValue{
			"PK":         &types.AttributeValueMemberS{Value: record.PK},
			"SK":         &types.AttributeValueMemberS{Value: record.SK},
			"LockID":     &types.AttributeValueMemberS{Value: record.LockID},
			"Owner":      &types.AttributeValueMemberS{Value: record.Owner},
			"AcquiredAt": &types.AttributeValueMemberS{Value: record.AcquiredAt},
			"ExpiresAt":  &types.AttributeValueMemberS{Value: record.ExpiresAt},
			"TTL":        &types.AttributeValueMemberN{Value: strconv.FormatInt(record.TTL, 10)},
		},
		// Timestamps share one UTC layout, so string order is time order.
		ConditionExpression: aws.String("attribute_not_exists(PK) OR ExpiresAt < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberS{Value: now.Format(timeLayout)},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return LockRecord{}, errLockHeld
		}
		return LockRecord{}, pkgerrors.NewDatabaseError("AcquireChatLock", err)
	}

	dl.logger.Debug("Chat lease acquired",
		zap.String("chatID", chatID.String()),
		zap.String("lockID", record.LockID),
		zap.Duration("lease", dl.lease),
	)
	return record, nil
}

func (dl *DistributedChatLock) release(ctx context.Context, record LockRecord) error {
	_, err := dl.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(dl.tableName),
		Key:                 itemKey(record.PK, record.SK),
		ConditionExpression: aws.String("LockID = :lockId AND #owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "Owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":lockId": &types.AttributeValueMemberS{Value: record.LockID},
			":owner":  &types.AttributeValueMemberS{Value: record.Owner},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			dl.logger.Warn("Chat lease expired before release",
				zap.String("resource", record.PK),
				zap.String("lockID", record.LockID),
			)
			return nil
		}
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func lockPK(chatID valueobjects.ChatID) string {
	return "LOCK#CHAT#" + chatID.String()
}
