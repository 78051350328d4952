package feed

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchbook/domain/event"
	"matchbook/domain/orderbook"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<Orders>
  <AddOrder book="book-1" operation="SELL" price="100.10" volume="81" orderId="1" />
  <AddOrder book="book-2" operation="BUY" price="99.5" volume="10" orderId="2" />
  <Heartbeat at="12:00" />
  <DeleteOrder book="book-1" orderId="1" />
</Orders>`

func TestXMLSourceStreamsEvents(t *testing.T) {
	src := NewXMLSource(strings.NewReader(sampleFeed))
	events, err := Collect(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, event.Add("book-1", 1, orderbook.Sell, decimal.RequireFromString("100.10"), 81), events[0])
	assert.Equal(t, orderbook.Buy, events[1].Side)
	assert.True(t, events[1].Price.Equal(decimal.RequireFromString("99.5")))
	assert.Equal(t, event.Cancel("book-1", 1), events[2])
	assert.Equal(t, 3, src.Read())

	_, err = src.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestXMLSourceKeepsDecimalPrecision(t *testing.T) {
	src := NewXMLSource(strings.NewReader(`<AddOrder book="b" operation="buy" price="0.1000000000000000055" volume="1" orderId="9"/>`))
	ev, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.1000000000000000055", ev.Price.String())
}

func TestXMLSourceRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"missing book":       `<AddOrder operation="BUY" price="1" volume="1" orderId="1"/>`,
		"missing id":         `<AddOrder book="b" operation="BUY" price="1" volume="1"/>`,
		"missing price":      `<AddOrder book="b" operation="BUY" volume="1" orderId="1"/>`,
		"bad operation":      `<AddOrder book="b" operation="HOLD" price="1" volume="1" orderId="1"/>`,
		"bad price":          `<AddOrder book="b" operation="BUY" price="1,5" volume="1" orderId="1"/>`,
		"negative volume":    `<AddOrder book="b" operation="BUY" price="1" volume="-4" orderId="1"/>`,
		"fractional volume":  `<AddOrder book="b" operation="BUY" price="1" volume="1.5" orderId="1"/>`,
		"negative id":        `<AddOrder book="b" operation="BUY" price="1" volume="1" orderId="-1"/>`,
		"unknown attribute":  `<AddOrder book="b" operation="BUY" price="1" volume="1" orderId="1" venue="x"/>`,
		"delete without id":  `<DeleteOrder book="b"/>`,
		"delete empty book":  `<DeleteOrder book="" orderId="3"/>`,
		"broken document":    `<Orders><AddOrder book="b"`,
		"mismatched closing": `<Orders></Order>`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Collect(context.Background(), NewXMLSource(strings.NewReader(doc)))
			require.Error(t, err)
			assert.True(t, errors.Is(err, event.ErrMalformed), err.Error())
		})
	}
}

func TestXMLSourceHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewXMLSource(strings.NewReader(sampleFeed)).Next(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSliceSourceStopsAtEnd(t *testing.T) {
	src := NewSliceSource(
		event.Cancel("a", 1),
		event.End(),
		event.Cancel("a", 2),
	)
	events, err := Collect(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, []event.Event{event.Cancel("a", 1)}, events)
}
