package outbox

import (
	"context"
	"time"

	"github.com/ariefcatur/go-saga-orders/internal/events"
)

// Emit wraps payload in an envelope and queues it on w. correlationID is the
// order id; key selects the partition.
func Emit(ctx context.Context, w Writer, producer string, at time.Time, eventType, correlationID, key string, payload any) error {
	env, err := events.New(eventType, producer, correlationID, at, payload)
	if err != nil {
		return err
	}
	msg, err := FromEnvelope(ctx, env, key)
	if err != nil {
		return err
	}
	return w.Enqueue(ctx, msg)
}
