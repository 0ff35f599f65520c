package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-saga-orders/internal/logger"
)

// Handler returns nil only when the message is settled and its offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

const redeliverBackoff = 500 * time.Millisecond

type Consumer struct {
	r       *kafka.Reader
	workers int
	logg    *logger.Logger
}

func NewConsumer(brokers []string, group, topic string, workers int, logg *logger.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
		StartOffset:    kafka.FirstOffset,
	})
	if workers <= 0 {
		workers = 1
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Consumer{r: r, workers: workers, logg: logg}
}

// Start fetches until ctx ends. Messages are sharded to workers by partition,
// so offsets of one partition are handled and committed in order.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				if !c.settle(ctx, h, m) {
					return
				}
			}
		}(jobs[i])
	}
	stop := func() {
		for _, ch := range jobs {
			close(ch)
		}
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		select {
		case jobs[m.Partition%c.workers] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

// settle retries h until it succeeds, then commits. It reports false when ctx ended first.
func (c *Consumer) settle(ctx context.Context, h Handler, m kafka.Message) bool {
	for {
		err := h(ctx, m)
		if err == nil {
			break
		}
		c.logg.Error(c.logg.WithFields(ctx, map[string]any{
			"topic":     m.Topic,
			"partition": m.Partition,
			"offset":    m.Offset,
		}), "message not settled, redelivering", err)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(redeliverBackoff):
		}
	}
	if err := c.r.CommitMessages(ctx, m); err != nil {
		if ctx.Err() != nil {
			return false
		}
		c.logg.Error(ctx, "commit offset", err)
	}
	return true
}

func HeadersToMap(hs []kafka.Header) map[string]string {
	out := make(map[string]string, len(hs))
	for _, h := range hs {
		out[h.Key] = string(h.Value)
	}
	return out
}

func MapToHeaders(m map[string]string) []kafka.Header {
	out := make([]kafka.Header, 0, len(m))
	for k, v := range m {
		out = append(out, kafka.Header{Key: k, Value: []byte(v)})
	}
	return out
}
