package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"stockledger/internal/infrastructure/storage/postgres"
)

// DefaultChannelPrefix prefixes every pub/sub channel written by the relay.
const DefaultChannelPrefix = "stockledger.events."

// Envelope is the message published for one outbox row.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	EventType     string          `json:"eventType"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     string          `json:"createdAt"`
}

// EventPublisher forwards outbox messages to redis pub/sub, one channel per
// event type. It implements postgres.OutboxHandler.
type EventPublisher struct {
	client redis.Cmdable
	prefix string
}

var _ postgres.OutboxHandler = (*EventPublisher)(nil)

// NewEventPublisher creates a publisher. An empty prefix means DefaultChannelPrefix.
func NewEventPublisher(client redis.Cmdable, prefix string) *EventPublisher {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &EventPublisher{client: client, prefix: prefix}
}

// Channel returns the pub/sub channel for an event type.
func (p *EventPublisher) Channel(eventType string) string {
	return p.prefix + eventType
}

func envelopeFor(msg *postgres.OutboxMessage) ([]byte, error) {
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return json.Marshal(Envelope{
		ID:            msg.ID.String(),
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		CreatedAt:     msg.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

// Handle implements postgres.OutboxHandler.
func (p *EventPublisher) Handle(ctx context.Context, msg *postgres.OutboxMessage) error {
	body, err := envelopeFor(msg)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := p.client.Publish(ctx, p.Channel(msg.EventType), body).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.EventType, err)
	}
	return nil
}
