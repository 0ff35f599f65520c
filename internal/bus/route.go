package bus

import (
	"context"
	"fmt"

	pkgerrors "github.com/ariefcatur/go-saga-orders/internal/errors"
	"github.com/ariefcatur/go-saga-orders/internal/events"
)

// Route binds a topic to the handler a service registers for it.
type Route struct {
	Topic   string
	Handler Handler
}

// SubscribeAll registers routes in order under one consumer group, wrapping
// each handler with mws.
func SubscribeAll(b Bus, group string, routes []Route, mws ...Middleware) error {
	for _, r := range routes {
		if err := b.Subscribe(r.Topic, group, Chain(r.Handler, mws...)); err != nil {
			return fmt.Errorf("subscribe %s: %w", r.Topic, err)
		}
	}
	return nil
}

// Typed decodes the envelope and payload of a message before calling fn.
// Messages that cannot be decoded are fatal; redelivery would not fix them.
func Typed[T any](fn func(ctx context.Context, env events.Envelope, payload T) error) Handler {
	return func(ctx context.Context, msg Message) error {
		env, err := events.Unmarshal(msg.Value)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeFatal, err, "decode envelope")
		}
		payload, err := events.Decode[T](env)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeFatal, err, "decode payload")
		}
		return fn(ctx, env, payload)
	}
}
