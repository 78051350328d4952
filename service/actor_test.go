package service

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"matchbook/domain/event"
	"matchbook/domain/orderbook"
	"matchbook/infra/sequence"
)

func newTestActor(t *testing.T) (*BookActor, *Metrics) {
	t.Helper()
	m := NewMetrics(prometheus.NewRegistry())
	a := NewBookActor("AAPL", sequence.New(0), m, zap.NewNop())
	a.Start()
	t.Cleanup(func() {
		a.Stop()
		<-a.Done()
	})
	return a, m
}

func add(book string, id uint64, side orderbook.Side, price string, volume int64) event.Event {
	return event.Add(book, id, side, decimal.RequireFromString(price), volume)
}

func TestActorAppliesInQueueOrder(t *testing.T) {
	a, m := newTestActor(t)

	require.NoError(t, a.Enqueue(add("AAPL", 1, orderbook.Sell, "100", 60)))
	require.NoError(t, a.Enqueue(add("AAPL", 2, orderbook.Sell, "101.5", 50)))
	require.NoError(t, a.Enqueue(add("AAPL", 3, orderbook.Buy, "101.5", 75)))

	snap, err := a.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Buys)
	require.Len(t, snap.Sells, 1)
	assert.Equal(t, uint64(2), snap.Sells[0].ID)
	assert.Equal(t, int64(35), snap.Sells[0].Volume)

	assert.Equal(t, uint64(3), a.Applied())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Fills))
	assert.Equal(t, 75.0, testutil.ToFloat64(m.FilledVolume))
}

func TestActorRejectsDuplicateAndCarriesOn(t *testing.T) {
	a, m := newTestActor(t)

	require.NoError(t, a.Enqueue(add("AAPL", 1, orderbook.Buy, "10", 5)))
	require.NoError(t, a.Enqueue(add("AAPL", 1, orderbook.Sell, "12", 5)))
	require.NoError(t, a.Enqueue(add("AAPL", 2, orderbook.Buy, "9", 5)))

	snap, err := a.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Buys, 2)
	assert.Empty(t, snap.Sells)
	assert.Equal(t, uint64(1), a.Rejected())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejected))
	assert.Equal(t, Running, a.State())
}

func TestActorArrivalFollowsEnqueueOrder(t *testing.T) {
	a, _ := newTestActor(t)
	for id := uint64(1); id <= 50; id++ {
		require.NoError(t, a.Enqueue(add("AAPL", id, orderbook.Buy, "10", 1)))
	}

	snap, err := a.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Buys, 50)
	for i, e := range snap.Buys {
		assert.Equal(t, uint64(i+1), e.ID)
		if i > 0 {
			assert.Greater(t, e.Arrival, snap.Buys[i-1].Arrival)
		}
	}
}

func TestActorStopDrainsQueueFirst(t *testing.T) {
	a := NewBookActor("MSFT", sequence.New(0), nil, zap.NewNop())
	for id := uint64(1); id <= 100; id++ {
		require.NoError(t, a.Enqueue(add("MSFT", id, orderbook.Sell, "20", 1)))
	}
	assert.True(t, a.Stop())
	assert.Equal(t, Draining, a.State())
	assert.False(t, a.Stop(), "second stop is a no-op")

	err := a.Enqueue(event.Cancel("MSFT", 1))
	assert.True(t, errors.Is(err, ErrActorStopped))

	a.Start()
	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("actor did not stop")
	}
	assert.Equal(t, Stopped, a.State())
	assert.Equal(t, uint64(100), a.Applied())
	assert.Zero(t, a.Pending())

	snap, err := a.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Sells, 100)
}

func TestActorStoppedSnapshotIgnoresExpiredContext(t *testing.T) {
	a := NewBookActor("IBM", sequence.New(0), nil, zap.NewNop())
	a.Start()
	require.NoError(t, a.Enqueue(event.Add("IBM", 1, orderbook.Sell, decimal.RequireFromString("10"), 5)))
	a.Stop()
	<-a.Done()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 50; i++ {
		snap, err := a.Snapshot(ctx)
		require.NoError(t, err)
		require.Len(t, snap.Sells, 1)
	}
}

func TestActorSnapshotHonoursContext(t *testing.T) {
	a := NewBookActor("IBM", sequence.New(0), nil, zap.NewNop())
	// never started, so the query is never answered
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := a.Snapshot(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestActorRejectsEndEvent(t *testing.T) {
	a, _ := newTestActor(t)
	err := a.Enqueue(event.End())
	assert.True(t, errors.Is(err, event.ErrMalformed))
}

func TestActorRecoversFromPanickingOperation(t *testing.T) {
	a, m := newTestActor(t)

	// a submit without an order panics in apply
	require.True(t, a.box.push(operation{kind: opSubmit, ev: add("AAPL", 7, orderbook.Buy, "1", 1)}, nil))
	require.NoError(t, a.Enqueue(add("AAPL", 8, orderbook.Buy, "1", 1)))

	snap, err := a.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Buys, 1)
	assert.Equal(t, uint64(8), snap.Buys[0].ID)
	assert.Equal(t, uint64(1), a.Rejected())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejected))
}
