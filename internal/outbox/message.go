// Package outbox stores outbound events in the same transaction as the state
// change that produced them, and relays them to the bus afterwards.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-saga-orders/internal/bus"
	"github.com/ariefcatur/go-saga-orders/internal/events"
	"github.com/ariefcatur/go-saga-orders/internal/telemetry"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
	StatusDead      Status = "dead"
)

type Message struct {
	ID          string
	Topic       string
	Key         string
	Payload     []byte
	Headers     map[string]string
	Status      Status
	Attempts    int
	LastError   string
	AvailableAt time.Time
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// FromEnvelope prepares env for the outbox, keyed by key (usually the order
// id). The trace context of ctx travels in the headers.
func FromEnvelope(ctx context.Context, env events.Envelope, key string) (Message, error) {
	topic, ok := events.TopicFor(env.EventType)
	if !ok {
		return Message{}, fmt.Errorf("no topic for event type %s", env.EventType)
	}
	if env.TraceID == "" {
		env.TraceID = telemetry.TraceID(ctx)
	}
	raw, err := env.Marshal()
	if err != nil {
		return Message{}, fmt.Errorf("encode envelope: %w", err)
	}
	headers := env.Headers()
	telemetry.Inject(ctx, headers)
	return Message{
		ID:          uuid.NewString(),
		Topic:       topic,
		Key:         key,
		Payload:     raw,
		Headers:     headers,
		Status:      StatusPending,
		AvailableAt: env.OccurredAt,
		CreatedAt:   env.OccurredAt,
	}, nil
}

func (m Message) busMessage() bus.Message {
	return bus.Message{
		Topic:   m.Topic,
		Key:     events.PartitionKey(m.Key),
		Value:   m.Payload,
		Headers: m.Headers,
	}
}

// Writer queues messages, inside the caller's transaction when ctx carries one.
type Writer interface {
	Enqueue(ctx context.Context, msgs ...Message) error
}

// Store is the relay side of the outbox.
type Store interface {
	Writer
	// FetchPending claims up to limit pending messages available at now, oldest first.
	FetchPending(ctx context.Context, limit int, now time.Time) ([]Message, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, cause error, retryAt time.Time) error
	MarkDead(ctx context.Context, id string, cause error) error
}
