package kafka

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"matchbook/domain/event"
	"matchbook/feed"
)

// feedKey pins every feed message to one partition so consumers see the
// feed in publish order.
var feedKey = []byte("feed")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes normalized feed events to a topic.
type Producer struct {
	writer messageWriter
	log    *zap.Logger
}

func NewProducer(brokers []string, topic string, log *zap.Logger) *Producer {
	return newProducer(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}, log)
}

func newProducer(w messageWriter, log *zap.Logger) *Producer {
	return &Producer{writer: w, log: log.Named("kafka-producer")}
}

func (p *Producer) Send(ctx context.Context, evs ...event.Event) error {
	msgs := make([]kafka.Message, len(evs))
	for i, ev := range evs {
		msgs[i] = kafka.Message{Key: feedKey, Value: event.Marshal(ev)}
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

// Publish copies src to the topic in batches and closes the feed with an
// end marker. It returns the number of events published.
func (p *Producer) Publish(ctx context.Context, src feed.Source, batch int) (int, error) {
	if batch <= 0 {
		batch = 1
	}
	events, err := feed.Collect(ctx, src)
	if err != nil {
		return 0, errors.Wrap(err, "read feed")
	}

	sent := 0
	for len(events) > 0 {
		n := min(batch, len(events))
		if err := p.Send(ctx, events[:n]...); err != nil {
			return sent, errors.Wrapf(err, "publish after %d events", sent)
		}
		sent += n
		events = events[n:]
	}
	if err := p.Send(ctx, event.End()); err != nil {
		return sent, errors.Wrap(err, "publish end marker")
	}
	p.log.Info("feed published", zap.Int("events", sent))
	return sent, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
