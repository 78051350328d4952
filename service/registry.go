package service

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/google/btree"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"matchbook/domain/event"
	"matchbook/domain/orderbook"
	"matchbook/feed"
	"matchbook/infra/sequence"
)

var (
	ErrRegistryClosed  = errors.New("service: registry is shutting down")
	ErrShutdownTimeout = errors.New("service: books did not stop in time")
)

// Journal records every routed event before it is queued.
type Journal interface {
	Append(ev event.Event) error
}

type Option func(*BookRegistry)

func WithJournal(j Journal) Option {
	return func(r *BookRegistry) { r.journal = j }
}

func WithMetrics(m *Metrics) Option {
	return func(r *BookRegistry) { r.metrics = m }
}

func WithSequencer(s *sequence.Sequencer) Option {
	return func(r *BookRegistry) { r.seq = s }
}

// BookRegistry owns one BookActor per book id. Books are created on first
// reference and live until the process exits; the index only grows.
type BookRegistry struct {
	mu      sync.RWMutex
	books   *btree.BTreeG[*BookActor]
	closing bool

	seq     *sequence.Sequencer
	journal Journal
	metrics *Metrics
	log     *zap.Logger
}

func NewBookRegistry(log *zap.Logger, opts ...Option) *BookRegistry {
	r := &BookRegistry{
		books: btree.NewG(16, func(a, b *BookActor) bool {
			return a.id < b.id
		}),
		log: log.Named("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.seq == nil {
		r.seq = sequence.New(0)
	}
	if r.metrics == nil {
		r.metrics = NewMetrics(nil)
	}
	return r
}

// Route validates ev and queues it on its book's actor, creating the book
// for an add on an unseen id. A cancel for an unseen book is dropped.
// Route calls are serialized so journal order equals queue order.
func (r *BookRegistry) Route(ev event.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if ev.Kind == event.KindEnd {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing {
		return ErrRegistryClosed
	}

	if r.journal != nil {
		if err := r.journal.Append(ev); err != nil {
			return errors.Wrap(err, "journal event")
		}
	}

	actor, ok := r.books.Get(&BookActor{id: ev.BookID})
	if !ok {
		if ev.Kind == event.KindCancel {
			r.metrics.EventsRouted.WithLabelValues(ev.Kind.String()).Inc()
			r.log.Debug("cancel for unknown book dropped",
				zap.String("book", ev.BookID),
				zap.Uint64("order", ev.OrderID),
			)
			return nil
		}
		actor = NewBookActor(ev.BookID, r.seq, r.metrics, r.log)
		actor.Start()
		r.books.ReplaceOrInsert(actor)
		r.metrics.Books.Inc()
		r.log.Debug("book created", zap.String("book", ev.BookID))
	}

	if err := actor.Enqueue(ev); err != nil {
		return err
	}
	r.metrics.EventsRouted.WithLabelValues(ev.Kind.String()).Inc()
	return nil
}

// Consume routes events from src until end of feed. Feed errors and
// malformed events abort consumption and are returned.
func (r *BookRegistry) Consume(ctx context.Context, src feed.Source) (int, error) {
	n := 0
	for {
		ev, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, errors.Wrapf(err, "read feed after %d events", n)
		}
		if ev.Kind == event.KindEnd {
			return n, nil
		}
		if err := r.Route(ev); err != nil {
			return n, errors.Wrapf(err, "route event %d (%s)", n+1, ev)
		}
		n++
	}
}

// ShutdownReport describes how far a shutdown got.
type ShutdownReport struct {
	Books   int
	Stopped []string
	Pending []string
}

// Degraded reports whether some books were still draining when the wait
// ended.
func (s ShutdownReport) Degraded() bool { return len(s.Pending) > 0 }

// Shutdown stops accepting events, queues the stop sentinel on every book
// and waits for all of them until ctx is done. Books that are still
// draining are left running; the returned error wraps ErrShutdownTimeout.
func (r *BookRegistry) Shutdown(ctx context.Context) (ShutdownReport, error) {
	r.mu.Lock()
	r.closing = true
	actors := r.list()
	r.mu.Unlock()

	for _, a := range actors {
		a.Stop()
	}

	rep := ShutdownReport{Books: len(actors)}
	expired := false
	for _, a := range actors {
		if !expired {
			select {
			case <-a.Done():
				rep.Stopped = append(rep.Stopped, a.id)
				continue
			case <-ctx.Done():
				expired = true
			}
		}
		select {
		case <-a.Done():
			rep.Stopped = append(rep.Stopped, a.id)
		default:
			rep.Pending = append(rep.Pending, a.id)
		}
	}

	if rep.Degraded() {
		r.log.Error("shutdown incomplete",
			zap.Int("books", rep.Books),
			zap.Strings("pending", rep.Pending),
		)
		return rep, errors.Wrapf(ErrShutdownTimeout, "%d of %d books still draining: %s",
			len(rep.Pending), rep.Books, strings.Join(rep.Pending, ","))
	}
	r.log.Info("all books stopped", zap.Int("books", rep.Books))
	return rep, nil
}

// Run consumes src to its end and then shuts every book down, waiting
// until ctx is done. A feed error skips shutdown and is returned as is.
func (r *BookRegistry) Run(ctx, shutdownCtx context.Context, src feed.Source) (ShutdownReport, error) {
	n, err := r.Consume(ctx, src)
	if err != nil {
		return ShutdownReport{}, err
	}
	r.log.Info("feed drained", zap.Int("events", n))
	return r.Shutdown(shutdownCtx)
}

// Actor returns the actor of a known book.
func (r *BookRegistry) Actor(id string) (*BookActor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.books.Get(&BookActor{id: id})
}

// BookIDs returns every known book id in ascending order.
func (r *BookRegistry) BookIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, r.books.Len())
	r.books.Ascend(func(a *BookActor) bool {
		ids = append(ids, a.id)
		return true
	})
	return ids
}

// Snapshot reads one book through its actor.
func (r *BookRegistry) Snapshot(ctx context.Context, id string) (orderbook.Snapshot, bool, error) {
	a, ok := r.Actor(id)
	if !ok {
		return orderbook.Snapshot{}, false, nil
	}
	s, err := a.Snapshot(ctx)
	return s, true, err
}

// Snapshots reads every book through its actor, in id order.
func (r *BookRegistry) Snapshots(ctx context.Context) ([]orderbook.Snapshot, error) {
	r.mu.RLock()
	actors := r.list()
	r.mu.RUnlock()

	out := make([]orderbook.Snapshot, 0, len(actors))
	for _, a := range actors {
		s, err := a.Snapshot(ctx)
		if err != nil {
			return out, errors.Wrapf(err, "snapshot book %s", a.id)
		}
		out = append(out, s)
	}
	return out, nil
}

// BookStats is the per-book outcome reported next to a snapshot. Unread
// marks a book whose snapshot could not be taken before the deadline; its
// Snapshot then carries only the book id.
type BookStats struct {
	Snapshot orderbook.Snapshot
	State    State
	Applied  uint64
	Rejected uint64
	Unread   bool
}

// Stats snapshots every book in id order. The first book that cannot be
// read fails the whole call.
func (r *BookRegistry) Stats(ctx context.Context) ([]BookStats, error) {
	return r.stats(ctx, false)
}

// FinalStats is Stats for after Shutdown. A book still draining when ctx
// is done is reported as Unread and the remaining books are still read.
func (r *BookRegistry) FinalStats(ctx context.Context) []BookStats {
	out, _ := r.stats(ctx, true)
	return out
}

func (r *BookRegistry) stats(ctx context.Context, partial bool) ([]BookStats, error) {
	r.mu.RLock()
	actors := r.list()
	r.mu.RUnlock()

	out := make([]BookStats, 0, len(actors))
	for _, a := range actors {
		s, err := a.Snapshot(ctx)
		st := BookStats{
			Snapshot: s,
			State:    a.State(),
			Applied:  a.Applied(),
			Rejected: a.Rejected(),
		}
		if err != nil {
			if !partial {
				return out, errors.Wrapf(err, "snapshot book %s", a.id)
			}
			r.log.Warn("book not read before deadline",
				zap.String("book", a.id),
				zap.String("state", st.State.String()),
				zap.Error(err),
			)
			st.Snapshot = orderbook.Snapshot{BookID: a.id}
			st.Unread = true
		}
		out = append(out, st)
	}
	return out, nil
}

// list must be called with r.mu held.
func (r *BookRegistry) list() []*BookActor {
	out := make([]*BookActor, 0, r.books.Len())
	r.books.Ascend(func(a *BookActor) bool {
		out = append(out, a)
		return true
	})
	return out
}
