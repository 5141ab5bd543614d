package dynamodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"chronicle/domain/aggregate"
	"chronicle/domain/entity"
	"chronicle/domain/events"
	pkgerrors "chronicle/pkg/errors"
)

// PublishStatus represents the publishing status of an event
type PublishStatus string

const (
	PublishStatusPending   PublishStatus = "pending"   // Event is saved but not yet published
	PublishStatusPublished PublishStatus = "published" // Event successfully published
	PublishStatusFailed    PublishStatus = "failed"    // Event publishing failed
)

// StateDecoder rehydrates a concrete aggregate state from its serialized
// snapshot form
type StateDecoder func(data []byte) (entity.State, error)

// DynamoDBEventStore implements the EventStore port on a single-table
// DynamoDB layout:
//
//	EVENTS#<aggregate_id>   / EVENT#<version, zero-padded>  one item per event
//	SNAPSHOT#<aggregate_id> / LATEST                        the current snapshot
//	COUNTER#<aggregate_id>  / POST_SNAPSHOT                 events since snapshot
//
// Appends go through TransactWriteItems with a not-exists condition per
// version key, so a concurrent writer racing on the same version range
// fails the whole batch.
type DynamoDBEventStore struct {
	client      *dynamodb.Client
	tableName   string
	codec       *events.Codec
	decodeState StateDecoder
}

// NewDynamoDBEventStore creates a new DynamoDB event store. The codec
// rehydrates event payloads, the state decoder rehydrates snapshot state.
func NewDynamoDBEventStore(client *dynamodb.Client, tableName string, codec *events.Codec, decodeState StateDecoder) *DynamoDBEventStore {
	return &DynamoDBEventStore{
		client:      client,
		tableName:   tableName,
		codec:       codec,
		decodeState: decodeState,
	}
}

// EventRecord represents how events are stored in DynamoDB with Outbox pattern
type EventRecord struct {
	PK          string            `dynamodbav:"PK"` // EVENTS#<aggregate_id>
	SK          string            `dynamodbav:"SK"` // EVENT#<version>
	EventID     string            `dynamodbav:"EventID"`
	EventType   string            `dynamodbav:"EventType"`
	AggregateID string            `dynamodbav:"AggregateID"`
	Payload     []byte            `dynamodbav:"Payload"`
	Metadata    map[string]string `dynamodbav:"Metadata,omitempty"`
	Timestamp   string            `dynamodbav:"Timestamp"`
	Version     int               `dynamodbav:"Version"`

	// Outbox pattern fields
	PublishStatus   string `dynamodbav:"PublishStatus"`
	PublishAttempts int    `dynamodbav:"PublishAttempts"`
	LastPublishTry  string `dynamodbav:"LastPublishTry,omitempty"`
	PublishedAt     string `dynamodbav:"PublishedAt,omitempty"`
	ErrorMessage    string `dynamodbav:"ErrorMessage,omitempty"`

	// GSI attributes for querying by type
	GSI2PK string `dynamodbav:"GSI2PK"` // EVENTTYPE#<type>
	GSI2SK string `dynamodbav:"GSI2SK"` // EVENT#<timestamp>
}

// SnapshotRecord persists the serialized aggregate state alongside the
// version and lifecycle flags it captured
type SnapshotRecord struct {
	PK          string `dynamodbav:"PK"` // SNAPSHOT#<aggregate_id>
	SK          string `dynamodbav:"SK"` // LATEST
	AggregateID string `dynamodbav:"AggregateID"`
	Version     int    `dynamodbav:"Version"`
	State       []byte `dynamodbav:"State"`
	Archived    bool   `dynamodbav:"Archived"`
	Deleted     bool   `dynamodbav:"Deleted"`
	TakenAt     string `dynamodbav:"TakenAt"`
}

// CounterRecord tracks events written since the last snapshot
type CounterRecord struct {
	PK    string `dynamodbav:"PK"` // COUNTER#<aggregate_id>
	SK    string `dynamodbav:"SK"` // POST_SNAPSHOT
	Count int    `dynamodbav:"Count"`
}

func eventPK(aggregateID string) string {
	return fmt.Sprintf("EVENTS#%s", aggregateID)
}

func eventSK(version int) string {
	// Zero-padded so lexicographic SK order is version order
	return fmt.Sprintf("EVENT#%010d", version)
}

func snapshotPK(aggregateID string) string {
	return fmt.Sprintf("SNAPSHOT#%s", aggregateID)
}

func counterPK(aggregateID string) string {
	return fmt.Sprintf("COUNTER#%s", aggregateID)
}

// AppendEvents appends the envelopes for one aggregate atomically. A
// version key that already exists fails the whole transaction with a
// CONFLICT error.
func (es *DynamoDBEventStore) AppendEvents(ctx context.Context, aggregateID string, envelopes []events.Envelope) error {
	if len(envelopes) == 0 {
		return nil
	}

	items := make([]types.TransactWriteItem, 0, len(envelopes))
	for _, env := range envelopes {
		record, err := es.envelopeToRecord(env)
		if err != nil {
			return err
		}

		item, err := attributevalue.MarshalMap(record)
		if err != nil {
			return fmt.Errorf("failed to marshal event record: %w", err)
		}

		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(es.tableName),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(SK)"),
			},
		})
	}

	_, err := es.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			return pkgerrors.NewDomainError(pkgerrors.DomainConflictError, "VERSION_CONFLICT",
				fmt.Sprintf("concurrent write detected for aggregate %s", aggregateID)).WithCause(err)
		}
		return fmt.Errorf("failed to append events: %w", err)
	}

	return nil
}

// ReadHistory returns the latest snapshot, if any, and the events recorded
// after it in version order
func (es *DynamoDBEventStore) ReadHistory(ctx context.Context, aggregateID string) (*aggregate.Snapshot, []events.Envelope, error) {
	snapshot, err := es.readSnapshot(ctx, aggregateID)
	if err != nil {
		return nil, nil, err
	}

	afterVersion := 0
	if snapshot != nil {
		afterVersion = snapshot.Version
	}

	tail, err := es.readEventsAfter(ctx, aggregateID, afterVersion)
	if err != nil {
		return nil, nil, err
	}

	return snapshot, tail, nil
}

func (es *DynamoDBEventStore) readSnapshot(ctx context.Context, aggregateID string) (*aggregate.Snapshot, error) {
	result, err := es.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(es.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: snapshotPK(aggregateID)},
			"SK": &types.AttributeValueMemberS{Value: "LATEST"},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var record SnapshotRecord
	if err := attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	state, err := es.decodeState(record.State)
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot state for %s: %w", aggregateID, err)
	}

	takenAt, err := time.Parse(time.RFC3339Nano, record.TakenAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot timestamp: %w", err)
	}

	return &aggregate.Snapshot{
		AggregateID: record.AggregateID,
		State:       state,
		Version:     record.Version,
		Flags:       entity.LifecycleFlags{Archived: record.Archived, Deleted: record.Deleted},
		TakenAt:     takenAt,
	}, nil
}

func (es *DynamoDBEventStore) readEventsAfter(ctx context.Context, aggregateID string, afterVersion int) ([]events.Envelope, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(es.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND SK > :sk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: eventPK(aggregateID)},
			":sk": &types.AttributeValueMemberS{Value: eventSK(afterVersion)},
		},
		ScanIndexForward: aws.Bool(true),
		ConsistentRead:   aws.Bool(true),
	}

	var envelopes []events.Envelope
	for {
		result, err := es.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query events: %w", err)
		}

		for _, item := range result.Items {
			var record EventRecord
			if err := attributevalue.UnmarshalMap(item, &record); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event record: %w", err)
			}

			env, err := es.recordToEnvelope(record)
			if err != nil {
				return nil, err
			}
			envelopes = append(envelopes, env)
		}

		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	return envelopes, nil
}

// WriteSnapshot stores a new snapshot, superseding any previous one
func (es *DynamoDBEventStore) WriteSnapshot(ctx context.Context, aggregateID string, snapshot aggregate.Snapshot) error {
	stateData, err := json.Marshal(snapshot.State)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot state: %w", err)
	}

	record := SnapshotRecord{
		PK:          snapshotPK(aggregateID),
		SK:          "LATEST",
		AggregateID: aggregateID,
		Version:     snapshot.Version,
		State:       stateData,
		Archived:    snapshot.Flags.Archived,
		Deleted:     snapshot.Flags.Deleted,
		TakenAt:     snapshot.TakenAt.Format(time.RFC3339Nano),
	}

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	_, err = es.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(es.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	return nil
}

// ReadPostSnapshotCount returns the number of events written since the
// last snapshot
func (es *DynamoDBEventStore) ReadPostSnapshotCount(ctx context.Context, aggregateID string) (int, error) {
	result, err := es.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(es.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: counterPK(aggregateID)},
			"SK": &types.AttributeValueMemberS{Value: "POST_SNAPSHOT"},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get event counter: %w", err)
	}
	if result.Item == nil {
		return 0, nil
	}

	var record CounterRecord
	if err := attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return 0, fmt.Errorf("failed to unmarshal event counter: %w", err)
	}
	return record.Count, nil
}

// WritePostSnapshotCount records the number of events written since the
// last snapshot
func (es *DynamoDBEventStore) WritePostSnapshotCount(ctx context.Context, aggregateID string, count int) error {
	item, err := attributevalue.MarshalMap(CounterRecord{
		PK:    counterPK(aggregateID),
		SK:    "POST_SNAPSHOT",
		Count: count,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event counter: %w", err)
	}

	_, err = es.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(es.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save event counter: %w", err)
	}
	return nil
}

func (es *DynamoDBEventStore) envelopeToRecord(env events.Envelope) (*EventRecord, error) {
	payload, err := es.codec.Encode(env.Event)
	if err != nil {
		return nil, err
	}

	return &EventRecord{
		PK:          eventPK(env.AggregateID),
		SK:          eventSK(env.Version),
		EventID:     env.EventID,
		EventType:   env.EventType,
		AggregateID: env.AggregateID,
		Payload:     payload,
		Metadata:    env.Metadata,
		Timestamp:   env.Timestamp.Format(time.RFC3339Nano),
		Version:     env.Version,

		// Events start as pending until the outbox processor confirms them
		PublishStatus:   string(PublishStatusPending),
		PublishAttempts: 0,

		GSI2PK: fmt.Sprintf("EVENTTYPE#%s", env.EventType),
		GSI2SK: fmt.Sprintf("EVENT#%s", env.Timestamp.Format(time.RFC3339Nano)),
	}, nil
}

func (es *DynamoDBEventStore) recordToEnvelope(record EventRecord) (events.Envelope, error) {
	event, err := es.codec.Decode(record.EventType, record.Payload)
	if err != nil {
		return events.Envelope{}, err
	}

	timestamp, err := time.Parse(time.RFC3339Nano, record.Timestamp)
	if err != nil {
		return events.Envelope{}, fmt.Errorf("failed to parse event timestamp: %w", err)
	}

	return events.Envelope{
		EventID:     record.EventID,
		AggregateID: record.AggregateID,
		EventType:   record.EventType,
		Version:     record.Version,
		Timestamp:   timestamp,
		Metadata:    record.Metadata,
		Event:       event,
	}, nil
}

// Outbox Pattern Methods

// GetPendingEvents retrieves events that haven't been published yet
func (es *DynamoDBEventStore) GetPendingEvents(ctx context.Context, limit int32) ([]*EventRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	input := &dynamodb.ScanInput{
		TableName:        aws.String(es.tableName),
		FilterExpression: aws.String("PublishStatus = :status AND begins_with(PK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(PublishStatusPending)},
			":prefix": &types.AttributeValueMemberS{Value: "EVENTS#"},
		},
		Limit: aws.Int32(limit),
	}

	result, err := es.client.Scan(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to scan pending events: %w", err)
	}

	records := make([]*EventRecord, 0, len(result.Items))
	for _, item := range result.Items {
		var record EventRecord
		if err := attributevalue.UnmarshalMap(item, &record); err != nil {
			continue // Skip malformed records
		}
		records = append(records, &record)
	}

	return records, nil
}

// Envelope rehydrates the typed envelope carried by a pending record
func (es *DynamoDBEventStore) Envelope(record *EventRecord) (events.Envelope, error) {
	return es.recordToEnvelope(*record)
}

// MarkEventAsPublished marks an event as successfully published
func (es *DynamoDBEventStore) MarkEventAsPublished(ctx context.Context, eventPK, eventSK string) error {
	now := time.Now().Format(time.RFC3339)

	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(es.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: eventPK},
			"SK": &types.AttributeValueMemberS{Value: eventSK},
		},
		UpdateExpression: aws.String("SET PublishStatus = :published, PublishedAt = :publishedAt"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":published":   &types.AttributeValueMemberS{Value: string(PublishStatusPublished)},
			":publishedAt": &types.AttributeValueMemberS{Value: now},
		},
		ConditionExpression: aws.String("attribute_exists(PK)"),
	}

	_, err := es.client.UpdateItem(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to mark event as published: %w", err)
	}

	return nil
}

// MarkEventAsFailed marks an event as failed to publish with error details
func (es *DynamoDBEventStore) MarkEventAsFailed(ctx context.Context, eventPK, eventSK string, errorMsg string, attempts int) error {
	now := time.Now().Format(time.RFC3339)

	// Keep retrying as pending until the attempt budget is spent
	status := string(PublishStatusFailed)
	if attempts < 3 {
		status = string(PublishStatusPending)
	}

	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(es.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: eventPK},
			"SK": &types.AttributeValueMemberS{Value: eventSK},
		},
		UpdateExpression: aws.String("SET PublishStatus = :status, PublishAttempts = :attempts, LastPublishTry = :lastTry, ErrorMessage = :error"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":   &types.AttributeValueMemberS{Value: status},
			":attempts": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", attempts)},
			":lastTry":  &types.AttributeValueMemberS{Value: now},
			":error":    &types.AttributeValueMemberS{Value: errorMsg},
		},
		ConditionExpression: aws.String("attribute_exists(PK)"),
	}

	_, err := es.client.UpdateItem(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}

	return nil
}
