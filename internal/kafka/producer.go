package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer writes synchronously so callers (the outbox relay) learn about
// failures and can retry. The topic is taken from each message.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(brokers []string, writeTimeout time.Duration) *Producer {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
			WriteTimeout:           writeTimeout,
		},
	}
}

func (p *Producer) Write(ctx context.Context, msgs ...kafka.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return p.w.WriteMessages(ctx, msgs...)
}

// Close flushes pending writes and closes the connection pool.
func (p *Producer) Close() error { return p.w.Close() }
