// Package bus is the transport-neutral event bus every service publishes to
// and consumes from. Delivery is at-least-once; handlers must be idempotent.
package bus

import (
	"context"
	"errors"
	"hash/fnv"
)

// Message is one event on the bus. Value holds an encoded events.Envelope.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
	// Attempt is the 1-based delivery attempt seen by the handler.
	Attempt int
}

// Handler returns nil only when the message may be acknowledged.
type Handler func(ctx context.Context, msg Message) error

// Middleware decorates a Handler.
type Middleware func(Handler) Handler

type Publisher interface {
	Publish(ctx context.Context, msgs ...Message) error
}

// Bus is a Publisher with a consumer lifecycle: register subscriptions, Run
// until the context ends, then Close to release the transport.
type Bus interface {
	Publisher
	Subscribe(topic, group string, h Handler) error
	Run(ctx context.Context) error
	Close() error
}

var (
	ErrClosed  = errors.New("bus closed")
	ErrRunning = errors.New("bus already running")
)

// Chain applies middlewares so the first one is outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func cloneHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

func shard(key []byte, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32() % uint32(n))
}
