package service

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"matchbook/domain/event"
	"matchbook/domain/orderbook"
	"matchbook/infra/sequence"
)

var ErrActorStopped = errors.New("service: book actor no longer accepts operations")

type State int32

const (
	Running State = iota
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// BookActor serializes every operation on one OrderBook through a single
// goroutine. The book is only read from outside once the loop has exited.
type BookActor struct {
	id   string
	book *orderbook.OrderBook
	box  *mailbox
	seq  *sequence.Sequencer

	metrics *Metrics
	log     *zap.Logger

	state    atomic.Int32
	applied  atomic.Uint64
	rejected atomic.Uint64
	done     chan struct{}
}

func NewBookActor(id string, seq *sequence.Sequencer, metrics *Metrics, log *zap.Logger) *BookActor {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &BookActor{
		id:      id,
		book:    orderbook.NewOrderBook(id),
		box:     newMailbox(),
		seq:     seq,
		metrics: metrics,
		log:     log.With(zap.String("book", id)),
		done:    make(chan struct{}),
	}
}

// Start launches the processing loop.
func (a *BookActor) Start() {
	go a.run()
}

func (a *BookActor) ID() string { return a.id }

func (a *BookActor) State() State { return State(a.state.Load()) }

// Done is closed when the loop has consumed the stop sentinel.
func (a *BookActor) Done() <-chan struct{} { return a.done }

// Rejected counts operations discarded as invariant violations.
func (a *BookActor) Rejected() uint64 { return a.rejected.Load() }

// Applied counts operations that reached the book.
func (a *BookActor) Applied() uint64 { return a.applied.Load() }

// Pending returns the number of queued operations.
func (a *BookActor) Pending() int { return a.box.len() }

// Enqueue queues an add or cancel event for this book.
func (a *BookActor) Enqueue(ev event.Event) error {
	var ok bool
	switch ev.Kind {
	case event.KindAdd:
		ok = a.box.push(operation{kind: opSubmit, ev: ev}, a.stamp)
	case event.KindCancel:
		ok = a.box.push(operation{kind: opCancel, orderID: ev.OrderID}, nil)
	default:
		return errors.Wrapf(event.ErrMalformed, "book %s cannot apply %s", a.id, ev.Kind)
	}
	if !ok {
		return errors.Wrapf(ErrActorStopped, "book %s", a.id)
	}
	return nil
}

// stamp builds the order under the mailbox lock so arrival follows queue order.
func (a *BookActor) stamp(op *operation) {
	op.order, op.err = orderbook.NewOrder(op.ev.OrderID, op.ev.Side, op.ev.Price, op.ev.Volume, a.seq.Next())
}

// Stop queues the stop sentinel behind everything already accepted. It
// reports false if the sentinel was already queued.
func (a *BookActor) Stop() bool {
	a.state.CompareAndSwap(int32(Running), int32(Draining))
	return a.box.push(operation{kind: opStop}, nil)
}

// Snapshot returns the book state as seen by the actor after every
// operation queued before this call. Once the stop sentinel is queued it
// waits for the loop to exit and reads the book directly.
func (a *BookActor) Snapshot(ctx context.Context) (orderbook.Snapshot, error) {
	reply := make(chan orderbook.Snapshot, 1)
	if a.box.push(operation{kind: opQuery, reply: reply}, nil) {
		select {
		case s := <-reply:
			return s, nil
		case <-ctx.Done():
			return orderbook.Snapshot{}, ctx.Err()
		}
	}

	// a stopped book stays readable after ctx is done
	select {
	case <-a.done:
		return a.book.Snapshot(), nil
	default:
	}
	select {
	case <-a.done:
		return a.book.Snapshot(), nil
	case <-ctx.Done():
		return orderbook.Snapshot{}, ctx.Err()
	}
}

func (a *BookActor) run() {
	defer close(a.done)
	for {
		op := a.box.pop()
		if op.kind == opStop {
			a.state.Store(int32(Stopped))
			a.log.Debug("book actor stopped",
				zap.Uint64("applied", a.applied.Load()),
				zap.Uint64("rejected", a.rejected.Load()),
			)
			return
		}
		a.apply(op)
	}
}

// apply runs one operation. A failing operation is logged and counted and
// leaves the book as it was; the loop carries on.
func (a *BookActor) apply(op operation) {
	defer func() {
		if r := recover(); r != nil {
			a.reject(op, errors.Errorf("panic: %v", r))
		}
	}()

	switch op.kind {
	case opSubmit:
		if op.err != nil {
			a.reject(op, op.err)
			return
		}
		var fills []orderbook.Fill
		var err error
		if op.order.Side() == orderbook.Buy {
			fills, err = a.book.SubmitBuy(op.order)
		} else {
			fills, err = a.book.SubmitSell(op.order)
		}
		if err != nil {
			a.reject(op, err)
			return
		}
		for _, f := range fills {
			a.metrics.Fills.Inc()
			a.metrics.FilledVolume.Add(float64(f.Volume))
		}
	case opCancel:
		if _, err := a.book.Cancel(op.orderID); err != nil {
			a.reject(op, err)
			return
		}
	case opQuery:
		op.reply <- a.book.Snapshot()
		return
	}
	a.applied.Add(1)
}

func (a *BookActor) reject(op operation, err error) {
	a.rejected.Add(1)
	a.metrics.Rejected.Inc()

	id := op.orderID
	if op.kind == opSubmit {
		id = op.ev.OrderID
	}
	a.log.Warn("operation rejected",
		zap.String("op", op.kind.String()),
		zap.Uint64("order", id),
		zap.Error(err),
	)
}
