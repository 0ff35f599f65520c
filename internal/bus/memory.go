package bus

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/ariefcatur/go-saga-orders/internal/logger"
	"github.com/ariefcatur/go-saga-orders/internal/metrics"
)

// MemoryOptions configures a MemoryBus.
type MemoryOptions struct {
	Dispatch DispatchConfig
	// Duplicate enqueues every published message twice, to exercise
	// at-least-once handling.
	Duplicate bool
	// NoBackoff skips retry sleeps.
	NoBackoff bool
	Logger    *logger.Logger
	Metrics   *metrics.ConsumerMetrics
}

type memSub struct {
	topic string
	group string
	h     Handler
	queue []Message
	wake  chan struct{}
}

// MemoryBus is an in-process Bus. Messages are queued per subscription and
// delivered either by Run (one goroutine per subscription) or synchronously
// by Drain.
type MemoryBus struct {
	mu        sync.Mutex
	subs      []*memSub
	log       []Message
	duplicate bool
	running   bool
	closed    bool

	dispatcher *Dispatcher
	wg         sync.WaitGroup
}

func NewMemory(opts MemoryOptions) *MemoryBus {
	b := &MemoryBus{duplicate: opts.Duplicate}
	b.dispatcher = NewDispatcher(opts.Dispatch, b, opts.Logger, opts.Metrics)
	if opts.NoBackoff {
		b.dispatcher.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	}
	return b
}

func (b *MemoryBus) Subscribe(topic, group string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.running {
		return ErrRunning
	}
	b.subs = append(b.subs, &memSub{topic: topic, group: group, h: h, wake: make(chan struct{}, 1)})
	return nil
}

func (b *MemoryBus) Publish(_ context.Context, msgs ...Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	for _, m := range msgs {
		m.Headers = cloneHeaders(m.Headers)
		m.Key = slices.Clone(m.Key)
		b.log = append(b.log, m)
		for _, s := range b.subs {
			if s.topic != m.Topic {
				continue
			}
			s.queue = append(s.queue, m)
			if b.duplicate {
				s.queue = append(s.queue, m)
			}
			select {
			case s.wake <- struct{}{}:
			default:
			}
		}
	}
	return nil
}

// Run delivers queued messages until ctx ends.
func (b *MemoryBus) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.running {
		b.mu.Unlock()
		return ErrRunning
	}
	b.running = true
	subs := slices.Clone(b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		b.wg.Add(1)
		go func(s *memSub) {
			defer b.wg.Done()
			for {
				for {
					msg, ok := b.pop(s)
					if !ok {
						break
					}
					if err := b.dispatcher.Deliver(ctx, s.group, msg, s.h); err != nil && ctx.Err() == nil {
						b.requeue(s, msg)
					}
				}
				select {
				case <-ctx.Done():
					return
				case <-s.wake:
				}
			}
		}(s)
	}
	<-ctx.Done()
	b.wg.Wait()
	return nil
}

// Drain delivers every queued message, including those published while
// draining, on the calling goroutine. It returns the number of deliveries.
func (b *MemoryBus) Drain(ctx context.Context) (int, error) {
	n := 0
	for {
		s, msg, ok := b.next()
		if !ok {
			return n, nil
		}
		if err := b.dispatcher.Deliver(ctx, s.group, msg, s.h); err != nil {
			return n, err
		}
		n++
	}
}

// Published returns every message published to topic so far.
func (b *MemoryBus) Published(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Message
	for _, m := range b.log {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}

func (b *MemoryBus) pop(s *memSub) (Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(s.queue) == 0 {
		return Message{}, false
	}
	m := s.queue[0]
	s.queue = s.queue[1:]
	return m, true
}

func (b *MemoryBus) requeue(s *memSub, m Message) {
	b.mu.Lock()
	s.queue = append([]Message{m}, s.queue...)
	b.mu.Unlock()
}

func (b *MemoryBus) next() (*memSub, Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if len(s.queue) > 0 {
			m := s.queue[0]
			s.queue = s.queue[1:]
			return s, m, true
		}
	}
	return nil, Message{}, false
}
