package eventbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/zap"

	"chronicle/application/ports"
	"chronicle/domain/events"
)

// EventBridgePublisher implements the EventPublisher port using AWS
// EventBridge. Envelopes are serialized whole so subscribers see the
// version, timestamp, and metadata alongside the payload.
type EventBridgePublisher struct {
	client       *eventbridge.Client
	eventBusName string
	source       string
	logger       *zap.Logger
}

// NewEventBridgePublisher creates a new EventBridge publisher
func NewEventBridgePublisher(
	client *eventbridge.Client,
	eventBusName string,
	source string,
	logger *zap.Logger,
) ports.EventPublisher {
	return &EventBridgePublisher{
		client:       client,
		eventBusName: eventBusName,
		source:       source,
		logger:       logger,
	}
}

// Publish sends the envelopes to EventBridge in order
func (p *EventBridgePublisher) Publish(ctx context.Context, envelopes []events.Envelope) error {
	if len(envelopes) == 0 {
		return nil
	}

	// EventBridge limits to 10 events per PutEvents call
	const batchSize = 10

	for i := 0; i < len(envelopes); i += batchSize {
		end := i + batchSize
		if end > len(envelopes) {
			end = len(envelopes)
		}

		if err := p.publishBatch(ctx, envelopes[i:end]); err != nil {
			return err
		}
	}

	return nil
}

func (p *EventBridgePublisher) publishBatch(ctx context.Context, envelopes []events.Envelope) error {
	entries := make([]types.PutEventsRequestEntry, 0, len(envelopes))

	for _, env := range envelopes {
		detail, err := p.marshalDetail(env)
		if err != nil {
			p.logger.Error("Failed to marshal envelope",
				zap.Error(err),
				zap.String("eventType", env.EventType),
				zap.String("eventID", env.EventID),
			)
			return err
		}

		entries = append(entries, types.PutEventsRequestEntry{
			EventBusName: aws.String(p.eventBusName),
			Source:       aws.String(p.source),
			DetailType:   aws.String(env.EventType),
			Detail:       aws.String(string(detail)),
			Time:         aws.Time(env.Timestamp),
			Resources: []string{
				fmt.Sprintf("arn:aws:chronicle::%s", env.AggregateID),
			},
		})
	}

	result, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("failed to publish events to EventBridge: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, entry := range result.Entries {
			if entry.ErrorCode != nil {
				p.logger.Error("Failed to publish event",
					zap.String("eventType", envelopes[i].EventType),
					zap.String("eventID", envelopes[i].EventID),
					zap.String("errorCode", *entry.ErrorCode),
					zap.String("errorMessage", aws.ToString(entry.ErrorMessage)),
				)
			}
		}
		return fmt.Errorf("%d events failed to publish", result.FailedEntryCount)
	}

	p.logger.Debug("Events published to EventBridge",
		zap.Int("count", len(entries)),
		zap.String("eventBus", p.eventBusName),
	)

	return nil
}

// marshalDetail flattens the envelope and its payload into one document
func (p *EventBridgePublisher) marshalDetail(env events.Envelope) ([]byte, error) {
	payload, err := json.Marshal(env.Event)
	if err != nil {
		return nil, err
	}

	return json.Marshal(struct {
		events.Envelope
		Payload json.RawMessage `json:"payload"`
	}{
		Envelope: env,
		Payload:  payload,
	})
}
