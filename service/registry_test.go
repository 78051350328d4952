package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"matchbook/domain/event"
	"matchbook/domain/orderbook"
	"matchbook/feed"
)

type failingSource struct {
	events []event.Event
	err    error
}

func (s *failingSource) Next(context.Context) (event.Event, error) {
	if len(s.events) == 0 {
		return event.Event{}, s.err
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

type recordingJournal struct {
	mu     sync.Mutex
	events []event.Event
	err    error
}

func (j *recordingJournal) Append(ev event.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.events = append(j.events, ev)
	return nil
}

func newTestRegistry(t *testing.T, opts ...Option) (*BookRegistry, *Metrics) {
	t.Helper()
	m := NewMetrics(prometheus.NewRegistry())
	r := NewBookRegistry(zap.NewNop(), append([]Option{WithMetrics(m)}, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = r.Shutdown(ctx)
	})
	return r, m
}

func shutdown(t *testing.T, r *BookRegistry) ShutdownReport {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rep, err := r.Shutdown(ctx)
	require.NoError(t, err)
	return rep
}

func TestRegistryCreatesBooksLazily(t *testing.T) {
	r, m := newTestRegistry(t)
	assert.Empty(t, r.BookIDs())

	require.NoError(t, r.Route(add("MSFT", 1, orderbook.Buy, "10", 1)))
	require.NoError(t, r.Route(add("AAPL", 2, orderbook.Buy, "10", 1)))
	require.NoError(t, r.Route(add("MSFT", 3, orderbook.Sell, "11", 1)))

	assert.Equal(t, []string{"AAPL", "MSFT"}, r.BookIDs())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Books))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EventsRouted.WithLabelValues("add")))
}

func TestRegistryDropsCancelForUnknownBook(t *testing.T) {
	r, _ := newTestRegistry(t)

	require.NoError(t, r.Route(event.Cancel("GOOG", 5)))
	assert.Empty(t, r.BookIDs())

	_, ok, err := r.Snapshot(context.Background(), "GOOG")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistryRejectsMalformedEvent(t *testing.T) {
	r, _ := newTestRegistry(t)

	err := r.Route(add("", 1, orderbook.Buy, "10", 1))
	assert.True(t, errors.Is(err, event.ErrMalformed))
	err = r.Route(add("X", 1, orderbook.Buy, "10", -1))
	assert.True(t, errors.Is(err, event.ErrMalformed))
	assert.Empty(t, r.BookIDs())
}

func TestRegistryRoutesScenarios(t *testing.T) {
	r, _ := newTestRegistry(t)
	src := feed.NewSliceSource(
		add("A", 1, orderbook.Sell, "100", 60),
		add("A", 2, orderbook.Sell, "101.5", 50),
		add("A", 3, orderbook.Buy, "101.5", 75),

		add("B", 1, orderbook.Buy, "10", 50),
		event.Cancel("B", 1),

		add("C", 1, orderbook.Buy, "100", 30),
		add("C", 2, orderbook.Buy, "100", 40),
		add("C", 3, orderbook.Sell, "100", 30),
		event.End(),
		add("C", 4, orderbook.Sell, "1", 1000),
	)

	n, err := r.Consume(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 8, n, "events after the end marker are not routed")
	rep := shutdown(t, r)
	assert.Equal(t, []string{"A", "B", "C"}, rep.Stopped)

	a, ok, err := r.Snapshot(context.Background(), "A")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, a.Buys)
	require.Len(t, a.Sells, 1)
	assert.Equal(t, int64(35), a.Sells[0].Volume)

	b, _, err := r.Snapshot(context.Background(), "B")
	require.NoError(t, err)
	assert.Empty(t, b.Buys)
	assert.Empty(t, b.Sells)

	c, _, err := r.Snapshot(context.Background(), "C")
	require.NoError(t, err)
	require.Len(t, c.Buys, 1)
	assert.Equal(t, uint64(2), c.Buys[0].ID)
	assert.Equal(t, int64(40), c.Buys[0].Volume)
}

func TestRegistryConsumeStopsOnFeedError(t *testing.T) {
	r, _ := newTestRegistry(t)
	boom := errors.New("disk on fire")
	src := &failingSource{
		events: []event.Event{add("A", 1, orderbook.Buy, "1", 1)},
		err:    boom,
	}

	n, err := r.Consume(context.Background(), src)
	assert.Equal(t, 1, n)
	assert.True(t, errors.Is(err, boom))
}

func TestRegistryJournalsBeforeQueueing(t *testing.T) {
	j := &recordingJournal{}
	r, _ := newTestRegistry(t, WithJournal(j))

	require.NoError(t, r.Route(add("A", 1, orderbook.Buy, "1", 1)))
	require.NoError(t, r.Route(event.Cancel("Z", 9)))
	require.NoError(t, r.Route(event.End()))
	assert.Len(t, j.events, 2)

	j.err = errors.New("journal full")
	err := r.Route(add("A", 2, orderbook.Buy, "1", 1))
	require.Error(t, err)

	shutdown(t, r)
	snap, _, err := r.Snapshot(context.Background(), "A")
	require.NoError(t, err)
	assert.Len(t, snap.Buys, 1, "an event that failed to journal is not applied")
}

func TestRegistryRefusesEventsAfterShutdown(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.Route(add("A", 1, orderbook.Buy, "1", 1)))
	shutdown(t, r)

	err := r.Route(add("A", 2, orderbook.Buy, "1", 1))
	assert.True(t, errors.Is(err, ErrRegistryClosed))
	err = r.Route(add("NEW", 1, orderbook.Buy, "1", 1))
	assert.True(t, errors.Is(err, ErrRegistryClosed))
	assert.Equal(t, []string{"A"}, r.BookIDs())
}

func TestRegistryCountsRejectionsWithoutStopping(t *testing.T) {
	r, m := newTestRegistry(t)
	require.NoError(t, r.Route(add("A", 1, orderbook.Buy, "1", 1)))
	require.NoError(t, r.Route(add("A", 1, orderbook.Buy, "2", 1)))
	require.NoError(t, r.Route(add("A", 2, orderbook.Buy, "3", 1)))

	stats, err := r.Stats(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, uint64(1), stats[0].Rejected)
	assert.Equal(t, uint64(2), stats[0].Applied)
	assert.Equal(t, Running, stats[0].State)
	assert.Len(t, stats[0].Snapshot.Buys, 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejected))
}

func TestRegistryShutdownTimesOutOnStuckBook(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.Route(add("FAST", 1, orderbook.Buy, "1", 1)))
	require.NoError(t, r.Route(add("SLOW", 1, orderbook.Buy, "1", 1)))

	slow, ok := r.Actor("SLOW")
	require.True(t, ok)
	// an unbuffered reply blocks the loop until the test reads it
	block := make(chan orderbook.Snapshot)
	require.True(t, slow.box.push(operation{kind: opQuery, reply: block}, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	rep, err := r.Shutdown(ctx)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShutdownTimeout))
	assert.True(t, rep.Degraded())
	assert.Equal(t, 2, rep.Books)
	assert.Equal(t, []string{"FAST"}, rep.Stopped)
	assert.Equal(t, []string{"SLOW"}, rep.Pending)
	assert.Equal(t, Draining, slow.State())

	<-block
	select {
	case <-slow.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("slow book never finished draining")
	}
	assert.Equal(t, Stopped, slow.State())
}

func TestRegistryReportsStoppedBooksAfterDegradedShutdown(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.Route(add("FAST", 1, orderbook.Buy, "1", 1)))
	require.NoError(t, r.Route(add("SLOW", 1, orderbook.Buy, "1", 1)))

	slow, ok := r.Actor("SLOW")
	require.True(t, ok)
	block := make(chan orderbook.Snapshot)
	require.True(t, slow.box.push(operation{kind: opQuery, reply: block}, nil))
	defer func() {
		<-block
		<-slow.Done()
	}()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	rep, err := r.Shutdown(shutdownCtx)
	require.True(t, errors.Is(err, ErrShutdownTimeout))
	require.Equal(t, []string{"SLOW"}, rep.Pending)

	graceCtx, cancelGrace := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelGrace()
	_, err = r.Stats(graceCtx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "strict stats fail on the stuck book")

	stats := r.FinalStats(graceCtx)
	require.Len(t, stats, 2)

	assert.Equal(t, "FAST", stats[0].Snapshot.BookID)
	assert.False(t, stats[0].Unread)
	assert.Equal(t, Stopped, stats[0].State)
	require.Len(t, stats[0].Snapshot.Buys, 1)
	assert.Equal(t, uint64(1), stats[0].Applied)

	assert.Equal(t, "SLOW", stats[1].Snapshot.BookID)
	assert.True(t, stats[1].Unread)
	assert.Equal(t, Draining, stats[1].State)
	assert.Empty(t, stats[1].Snapshot.Buys)
}

func TestRegistryRunsBooksInParallel(t *testing.T) {
	r, _ := newTestRegistry(t)
	const books, perBook = 8, 500

	var events []event.Event
	for i := 0; i < perBook; i++ {
		for b := 0; b < books; b++ {
			side := orderbook.Buy
			if i%2 == 1 {
				side = orderbook.Sell
			}
			events = append(events, add(fmt.Sprintf("B%d", b), uint64(i+1), side, "10", 1))
		}
	}

	rep, err := r.Run(context.Background(), context.Background(), feed.NewSliceSource(events...))
	require.NoError(t, err)
	assert.Len(t, rep.Stopped, books)

	stats, err := r.Stats(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, books)
	for _, s := range stats {
		// alternating buy/sell at one price pairs off completely
		assert.Empty(t, s.Snapshot.Buys, s.Snapshot.BookID)
		assert.Empty(t, s.Snapshot.Sells, s.Snapshot.BookID)
		assert.Equal(t, uint64(perBook), s.Applied)
		assert.Equal(t, Stopped, s.State)
	}
}
