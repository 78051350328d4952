package kafka

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"matchbook/domain/event"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer is a feed source over a topic. Each message is committed once
// it has been decoded; an end marker reads as io.EOF.
type Consumer struct {
	reader messageReader
	log    *zap.Logger
	ended  bool
}

func NewConsumer(brokers []string, topic, groupID string, log *zap.Logger) *Consumer {
	return newConsumer(kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10 << 20,
	}), log)
}

func newConsumer(r messageReader, log *zap.Logger) *Consumer {
	return &Consumer{reader: r, log: log.Named("kafka-consumer")}
}

func (c *Consumer) Next(ctx context.Context) (event.Event, error) {
	if c.ended {
		return event.Event{}, io.EOF
	}
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return event.Event{}, errors.Wrap(err, "fetch feed message")
	}

	ev, err := event.Unmarshal(msg.Value)
	if err != nil {
		c.log.Error("undecodable feed message",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return event.Event{}, errors.Wrapf(err, "partition %d offset %d", msg.Partition, msg.Offset)
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return event.Event{}, errors.Wrap(err, "commit feed message")
	}

	if ev.Kind == event.KindEnd {
		c.ended = true
		return event.Event{}, io.EOF
	}
	return ev, nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
