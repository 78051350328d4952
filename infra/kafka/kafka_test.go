package kafka

import (
	"context"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"matchbook/domain/event"
	"matchbook/domain/orderbook"
	"matchbook/feed"
)

// memTopic plays both ends of a single-partition topic.
type memTopic struct {
	msgs      []kafka.Message
	pos       int
	committed []int64
	writes    int
	failWrite error
}

func (m *memTopic) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if m.failWrite != nil {
		return m.failWrite
	}
	m.writes++
	for _, msg := range msgs {
		msg.Offset = int64(len(m.msgs))
		m.msgs = append(m.msgs, msg)
	}
	return nil
}

func (m *memTopic) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if m.pos >= len(m.msgs) {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := m.msgs[m.pos]
	m.pos++
	return msg, nil
}

func (m *memTopic) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, msg := range msgs {
		m.committed = append(m.committed, msg.Offset)
	}
	return nil
}

func (m *memTopic) Close() error { return nil }

func TestPublishThenConsume(t *testing.T) {
	topic := &memTopic{}
	events := []event.Event{
		event.Add("A", 1, orderbook.Buy, decimal.RequireFromString("10.5"), 3),
		event.Add("B", 2, orderbook.Sell, decimal.RequireFromString("11"), 4),
		event.Cancel("A", 1),
	}

	p := newProducer(topic, zap.NewNop())
	n, err := p.Publish(context.Background(), feed.NewSliceSource(events...), 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, topic.writes, "two batches plus the end marker")
	for _, msg := range topic.msgs {
		assert.Equal(t, feedKey, msg.Key)
	}

	c := newConsumer(topic, zap.NewNop())
	got, err := feed.Collect(context.Background(), c)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := range events {
		assert.Equal(t, events[i].String(), got[i].String())
	}
	assert.Equal(t, []int64{0, 1, 2, 3}, topic.committed)

	_, err = c.Next(context.Background())
	assert.Equal(t, io.EOF, err, "consumer stays at end of feed")
}

func TestConsumerRejectsGarbage(t *testing.T) {
	topic := &memTopic{msgs: []kafka.Message{{Value: []byte{0xff, 0xff}}}}
	c := newConsumer(topic, zap.NewNop())

	_, err := c.Next(context.Background())
	assert.True(t, errors.Is(err, event.ErrMalformed))
	assert.Empty(t, topic.committed)
}

func TestConsumerHonoursContext(t *testing.T) {
	c := newConsumer(&memTopic{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Next(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPublishReportsWriteFailure(t *testing.T) {
	boom := errors.New("broker down")
	p := newProducer(&memTopic{failWrite: boom}, zap.NewNop())
	_, err := p.Publish(context.Background(), feed.NewSliceSource(event.Cancel("A", 1)), 10)
	assert.True(t, errors.Is(err, boom))
}
