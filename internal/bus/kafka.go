package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	kafkax "github.com/ariefcatur/go-saga-orders/internal/kafka"
	"github.com/ariefcatur/go-saga-orders/internal/logger"
	"github.com/ariefcatur/go-saga-orders/internal/metrics"
	"github.com/ariefcatur/go-saga-orders/internal/telemetry"
)

type KafkaOptions struct {
	Brokers      []string
	GroupPrefix  string
	Workers      int
	WriteTimeout time.Duration
	Dispatch     DispatchConfig
	Logger       *logger.Logger
	Metrics      *metrics.ConsumerMetrics
}

type kafkaSub struct {
	topic string
	group string
	h     Handler
}

// KafkaBus publishes through one synchronous writer and runs one consumer
// group reader per subscription.
type KafkaBus struct {
	opts       KafkaOptions
	producer   *kafkax.Producer
	dispatcher *Dispatcher
	logg       *logger.Logger

	mu      sync.Mutex
	subs    []kafkaSub
	running bool
	closed  bool
}

func NewKafka(opts KafkaOptions) *KafkaBus {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	b := &KafkaBus{
		opts:     opts,
		producer: kafkax.NewProducer(opts.Brokers, opts.WriteTimeout),
		logg:     opts.Logger,
	}
	b.dispatcher = NewDispatcher(opts.Dispatch, b, opts.Logger, opts.Metrics)
	return b
}

func (b *KafkaBus) Subscribe(topic, group string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.running {
		return ErrRunning
	}
	b.subs = append(b.subs, kafkaSub{topic: topic, group: group, h: h})
	return nil
}

func (b *KafkaBus) Publish(ctx context.Context, msgs ...Message) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	out := make([]kafkago.Message, 0, len(msgs))
	for _, m := range msgs {
		headers := cloneHeaders(m.Headers)
		telemetry.Inject(ctx, headers)
		out = append(out, kafkago.Message{
			Topic:   m.Topic,
			Key:     m.Key,
			Value:   m.Value,
			Headers: kafkax.MapToHeaders(headers),
			Time:    time.Now(),
		})
	}
	if err := b.producer.Write(ctx, out...); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Run blocks until ctx ends or a reader fails.
func (b *KafkaBus) Run(ctx context.Context) error {
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
	subs := append([]kafkaSub(nil), b.subs...)
	b.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, s := range subs {
		groupID := s.group
		if b.opts.GroupPrefix != "" {
			groupID = b.opts.GroupPrefix + "-" + s.group
		}
		consumer := kafkax.NewConsumer(b.opts.Brokers, groupID, s.topic, b.opts.Workers, b.logg)
		g.Go(func() error {
			b.logg.Info(b.logg.WithFields(ctx, map[string]any{"topic": s.topic, "group": groupID}), "consumer started")
			return consumer.Start(ctx, func(ctx context.Context, m kafkago.Message) error {
				return b.dispatcher.Deliver(ctx, s.group, Message{
					Topic:   m.Topic,
					Key:     m.Key,
					Value:   m.Value,
					Headers: kafkax.HeadersToMap(m.Headers),
				}, s.h)
			})
		})
	}
	return g.Wait()
}

func (b *KafkaBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	return b.producer.Close()
}
