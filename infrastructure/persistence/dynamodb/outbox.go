package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatgraph/application/ports"
	"chatgraph/domain/events"
	pkgerrors "chatgraph/pkg/errors"
)

// PublishStatus represents the publishing status of an outbox record
type PublishStatus string

const (
	PublishStatusPending   PublishStatus = "pending"
	PublishStatusPublished PublishStatus = "published"
	PublishStatusFailed    PublishStatus = "failed"
)

const (
	gsiPendingIndex = "GSI2"
	pendingMarker   = "OUTBOX#PENDING"
	outboxRetention = 30 * 24 * time.Hour
)

// OutboxRecord is a domain event written in the same transaction as the
// change that raised it. PendingPK is set only while the record awaits
// delivery, which keeps the GSI2 index sparse.
type OutboxRecord struct {
	PK              string `dynamodbav:"PK"` // OUTBOX#<chat_id>
	SK              string `dynamodbav:"SK"` // EVENT#<timestamp>#<event_id>
	EntityType      string `dynamodbav:"EntityType"`
	EventID         string `dynamodbav:"EventID"`
	EventType       string `dynamodbav:"EventType"`
	AggregateID     string `dynamodbav:"AggregateID"`
	Version         int    `dynamodbav:"Version"`
	Timestamp       string `dynamodbav:"Timestamp"`
	Payload         string `dynamodbav:"Payload"`
	PublishStatus   string `dynamodbav:"PublishStatus"`
	PublishAttempts int    `dynamodbav:"PublishAttempts"`
	LastPublishTry  string `dynamodbav:"LastPublishTry,omitempty"`
	ErrorMessage    string `dynamodbav:"ErrorMessage,omitempty"`
	PendingPK       string `dynamodbav:"PendingPK,omitempty"`
	TTL             int64  `dynamodbav:"TTL"`
}

func newOutboxRecord(event events.DomainEvent) (OutboxRecord, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return OutboxRecord{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	eventID := uuid.New().String()
	ts := event.GetTimestamp().UTC()
	return OutboxRecord{
		PK:            "OUTBOX#" + event.GetAggregateID(),
		SK:            fmt.Sprintf("EVENT#%s#%s", ts.Format(timeLayout), eventID),
		EntityType:    "EVENT",
		EventID:       eventID,
		EventType:     event.GetEventType(),
		AggregateID:   event.GetAggregateID(),
		Version:       event.GetVersion(),
		Timestamp:     ts.Format(timeLayout),
		Payload:       string(payload),
		PublishStatus: string(PublishStatusPending),
		PendingPK:     pendingMarker,
		TTL:           ts.Add(outboxRetention).Unix(),
	}, nil
}

// storedEvent replays an outbox record as a DomainEvent. It marshals to the
// exact payload that was recorded.
type storedEvent struct {
	events.BaseEvent
	payload json.RawMessage
}

func (e storedEvent) MarshalJSON() ([]byte, error) { return e.payload, nil }

func (r OutboxRecord) toEvent() events.DomainEvent {
	return storedEvent{
		BaseEvent: events.BaseEvent{
			AggregateID: r.AggregateID,
			EventType:   r.EventType,
			Timestamp:   parseTime(r.Timestamp),
			Version:     r.Version,
		},
		payload: json.RawMessage(r.Payload),
	}
}

func (s *Store) outboxPut(event events.DomainEvent) (types.TransactWriteItem, error) {
	record, err := newOutboxRecord(event)
	if err != nil {
		return types.TransactWriteItem{}, pkgerrors.NewInternalError("failed to build outbox record").WithCause(err)
	}
	return s.conditionalPut(record, nil)
}

// PendingEvents returns up to limit undelivered outbox records, oldest first
func (s *Store) PendingEvents(ctx context.Context, limit int32) ([]OutboxRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key("PendingPK").Equal(expression.Value(pendingMarker))).
		Build()
	if err != nil {
		return nil, pkgerrors.NewInternalError("failed to build key condition").WithCause(err)
	}

	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		IndexName:                 aws.String(gsiPendingIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(true),
		Limit:                     aws.Int32(limit),
	})
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("PendingEvents", err)
	}

	records := make([]OutboxRecord, 0, len(result.Items))
	for _, item := range result.Items {
		var record OutboxRecord
		if err := attributevalue.UnmarshalMap(item, &record); err != nil {
			s.logger.Warn("Skipping malformed outbox record", zap.Error(err))
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// MarkPublished records a successful delivery and drops the record from the pending index
func (s *Store) MarkPublished(ctx context.Context, record OutboxRecord) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.tableName),
		Key:              itemKey(record.PK, record.SK),
		UpdateExpression: aws.String("SET PublishStatus = :published, LastPublishTry = :now REMOVE PendingPK"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":published": &types.AttributeValueMemberS{Value: string(PublishStatusPublished)},
			":now":       &types.AttributeValueMemberS{Value: s.clock().Format(timeLayout)},
		},
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		return pkgerrors.NewDatabaseError("MarkPublished", err)
	}
	return nil
}

// MarkFailed records a failed attempt. Once attempts reach maxAttempts the
// record is parked as failed and leaves the pending index.
func (s *Store) MarkFailed(ctx context.Context, record OutboxRecord, reason string, maxAttempts int) error {
	attempts := record.PublishAttempts + 1
	update := "SET PublishStatus = :status, PublishAttempts = :attempts, LastPublishTry = :now, ErrorMessage = :error"
	status := PublishStatusPending
	if attempts >= maxAttempts {
		status = PublishStatusFailed
		update += " REMOVE PendingPK"
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.tableName),
		Key:              itemKey(record.PK, record.SK),
		UpdateExpression: aws.String(update),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":   &types.AttributeValueMemberS{Value: string(status)},
			":attempts": &types.AttributeValueMemberN{Value: strconv.Itoa(attempts)},
			":now":      &types.AttributeValueMemberS{Value: s.clock().Format(timeLayout)},
			":error":    &types.AttributeValueMemberS{Value: reason},
		},
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		return pkgerrors.NewDatabaseError("MarkFailed", err)
	}
	return nil
}

// OutboxProcessor delivers pending outbox records to the event publisher
type OutboxProcessor struct {
	store     *Store
	publisher ports.EventPublisher
	logger    *zap.Logger

	batchSize   int32
	interval    time.Duration
	maxAttempts int

	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewOutboxProcessor creates a processor polling every interval
func NewOutboxProcessor(store *Store, publisher ports.EventPublisher, interval time.Duration, logger *zap.Logger) *OutboxProcessor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &OutboxProcessor{
		store:       store,
		publisher:   publisher,
		logger:      logger,
		batchSize:   50,
		interval:    interval,
		maxAttempts: 3,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start begins background delivery
func (p *OutboxProcessor) Start(ctx context.Context) {
	p.logger.Info("Starting outbox processor",
		zap.Int32("batchSize", p.batchSize),
		zap.Duration("interval", p.interval),
	)
	go p.loop(ctx)
}

// Stop waits for the loop to exit
func (p *OutboxProcessor) Stop() {
	close(p.stopChan)
	<-p.stoppedChan
	p.logger.Info("Outbox processor stopped")
}

func (p *OutboxProcessor) loop(ctx context.Context) {
	defer close(p.stoppedChan)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error("Error processing outbox batch", zap.Error(err))
			}
		}
	}
}

// ProcessBatch delivers one batch and returns how many records were published
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	records, err := p.store.PendingEvents(ctx, p.batchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, record := range records {
		if err := p.publisher.Publish(ctx, record.toEvent()); err != nil {
			p.logger.Warn("Outbox delivery failed",
				zap.String("eventID", record.EventID),
				zap.String("eventType", record.EventType),
				zap.Int("attempt", record.PublishAttempts+1),
				zap.Error(err),
			)
			if markErr := p.store.MarkFailed(ctx, record, err.Error(), p.maxAttempts); markErr != nil {
				p.logger.Error("Failed to record outbox failure", zap.Error(markErr))
			}
			continue
		}
		if err := p.store.MarkPublished(ctx, record); err != nil {
			p.logger.Error("Failed to mark outbox record published",
				zap.String("eventID", record.EventID),
				zap.Error(err),
			)
			continue
		}
		published++
	}

	if len(records) > 0 {
		p.logger.Debug("Outbox batch processed",
			zap.Int("pending", len(records)),
			zap.Int("published", published),
		)
	}
	return published, nil
}
