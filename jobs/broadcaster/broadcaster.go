// Package broadcaster delivers book reports from the outbox to Kafka.
package broadcaster

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"matchbook/infra/wal/exit"
)

const (
	DefaultInterval   = 250 * time.Millisecond
	DefaultMaxRetries = 5
)

const headerRunID = "run-id"

type Broadcaster struct {
	outbox   *exit.Outbox
	producer sarama.SyncProducer
	topic    string
	log      *zap.Logger

	Interval   time.Duration
	MaxRetries uint32
}

// New dials brokers with a synchronous producer that waits for every
// in-sync replica.
func New(outbox *exit.Outbox, brokers []string, topic string, log *zap.Logger) (*Broadcaster, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create report producer")
	}
	return NewWithProducer(outbox, producer, topic, log), nil
}

func NewWithProducer(outbox *exit.Outbox, producer sarama.SyncProducer, topic string, log *zap.Logger) *Broadcaster {
	return &Broadcaster{
		outbox:     outbox,
		producer:   producer,
		topic:      topic,
		log:        log.Named("broadcaster"),
		Interval:   DefaultInterval,
		MaxRetries: DefaultMaxRetries,
	}
}

// Start flushes the outbox every Interval until ctx is done. The returned
// channel is closed once the loop has exited.
func (b *Broadcaster) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	b.log.Info("broadcaster started", zap.String("topic", b.topic))

	go func() {
		defer close(done)
		ticker := time.NewTicker(b.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := b.Flush(ctx); err != nil {
					b.log.Warn("flush failed", zap.Error(err))
				}
			}
		}
	}()
	return done
}

// Flush sends every pending report once and returns how many were
// acknowledged. A failed send is counted against the record and retried
// on a later flush.
func (b *Broadcaster) Flush(ctx context.Context) (int, error) {
	var pending []exit.Record
	err := b.outbox.ScanPending(func(rec exit.Record) error {
		pending = append(pending, rec)
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "scan outbox")
	}

	acked := 0
	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return acked, err
		}
		// SENT is idempotent; a crash after it resends the record.
		if err := b.outbox.MarkSent(rec.Key); err != nil {
			return acked, err
		}

		msg := &sarama.ProducerMessage{
			Topic: b.topic,
			Key:   sarama.StringEncoder(rec.BookID()),
			Value: sarama.ByteEncoder(rec.Payload),
			Headers: []sarama.RecordHeader{
				{Key: []byte(headerRunID), Value: []byte(rec.RunID())},
			},
		}
		partition, offset, err := b.producer.SendMessage(msg)
		if err != nil {
			b.log.Warn("report not delivered",
				zap.String("key", rec.Key),
				zap.Uint32("retries", rec.Retries+1),
				zap.Error(err),
			)
			if err := b.outbox.MarkFailed(rec.Key, b.MaxRetries); err != nil {
				return acked, err
			}
			continue
		}

		if err := b.outbox.MarkAcked(rec.Key); err != nil {
			return acked, err
		}
		acked++
		b.log.Debug("report delivered",
			zap.String("key", rec.Key),
			zap.Int32("partition", partition),
			zap.Int64("offset", offset),
		)
	}
	return acked, nil
}

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
