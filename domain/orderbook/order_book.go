package orderbook

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Fill is one execution between the aggressor and a resting order. It
// trades at the resting order's price.
type Fill struct {
	Aggressor uint64
	Resting   uint64
	Price     decimal.Decimal
	Volume    int64
}

// OrderBook holds the resting interest of one instrument.
//
// It is single-writer: the owning actor is the only caller, so it does
// no locking of its own.
type OrderBook struct {
	ID string

	Bids *RBTree
	Asks *RBTree

	byID map[uint64]*Order
}

func NewOrderBook(id string) *OrderBook {
	return &OrderBook{
		ID:   id,
		Bids: NewRBTree(),
		Asks: NewRBTree(),
		byID: make(map[uint64]*Order),
	}
}

// SubmitBuy matches o against the sells and rests any remainder.
func (b *OrderBook) SubmitBuy(o *Order) ([]Fill, error) {
	return b.submit(Buy, o)
}

// SubmitSell matches o against the buys and rests any remainder.
func (b *OrderBook) SubmitSell(o *Order) ([]Fill, error) {
	return b.submit(Sell, o)
}

func (b *OrderBook) submit(side Side, o *Order) ([]Fill, error) {
	if o == nil {
		return nil, ErrNilOrder
	}
	if o.side != side {
		return nil, errors.Wrapf(ErrSideMismatch, "order %d is %s, submitted as %s", o.id, o.side, side)
	}
	if _, ok := b.byID[o.id]; ok || o.level != nil {
		return nil, errors.Wrapf(ErrDuplicateOrder, "order %d", o.id)
	}

	fills, err := b.match(o)
	if err != nil {
		return fills, err
	}
	if o.volume > 0 {
		b.rest(o)
	}
	return fills, nil
}

// match walks the opposite ladder best-first while prices cross and the
// aggressor has volume left. Equal prices cross.
func (b *OrderBook) match(o *Order) ([]Fill, error) {
	var fills []Fill
	for o.volume > 0 {
		lvl := b.best(o.side.Opposite())
		if lvl == nil || !crosses(o, lvl.Price) {
			break
		}

		head := lvl.head
		qty := min(o.volume, head.volume)
		if err := o.Fill(qty); err != nil {
			return fills, err
		}
		if err := head.Fill(qty); err != nil {
			return fills, err
		}
		lvl.filled(qty)

		fills = append(fills, Fill{
			Aggressor: o.id,
			Resting:   head.id,
			Price:     lvl.Price,
			Volume:    qty,
		})

		if head.Filled() {
			if err := b.remove(head); err != nil {
				return fills, err
			}
		}
	}
	return fills, nil
}

func crosses(aggressor *Order, resting decimal.Decimal) bool {
	if aggressor.side == Buy {
		return resting.LessThanOrEqual(aggressor.price)
	}
	return resting.GreaterThanOrEqual(aggressor.price)
}

func (b *OrderBook) ladder(side Side) *RBTree {
	if side == Buy {
		return b.Bids
	}
	return b.Asks
}

func (b *OrderBook) best(side Side) *PriceLevel {
	if side == Buy {
		return b.Bids.MaxLevel()
	}
	return b.Asks.MinLevel()
}

func (b *OrderBook) rest(o *Order) {
	b.ladder(o.side).UpsertLevel(o.price).Enqueue(o)
	b.byID[o.id] = o
}

// remove drops a resting order from its level and the id index together.
func (b *OrderBook) remove(o *Order) error {
	lvl := o.level
	if lvl == nil {
		return errors.Wrapf(ErrIndexCorrupted, "order %d has no level", o.id)
	}
	lvl.Unlink(o)
	if lvl.Empty() {
		b.ladder(o.side).DeleteLevel(lvl.Price)
	}
	delete(b.byID, o.id)
	return nil
}

// Cancel removes a resting order. Unknown ids are a no-op: the order may
// already have been filled or cancelled.
func (b *OrderBook) Cancel(id uint64) (bool, error) {
	o, ok := b.byID[id]
	if !ok {
		return false, nil
	}
	if o.level == nil || b.ladder(o.side).FindLevel(o.price) != o.level {
		return false, errors.Wrapf(ErrIndexCorrupted, "order %d indexed as %s@%s", id, o.side, o.price)
	}
	if err := b.remove(o); err != nil {
		return false, err
	}
	return true, nil
}

// Get returns a copy of a resting order.
func (b *OrderBook) Get(id uint64) (Entry, bool) {
	o, ok := b.byID[id]
	if !ok {
		return Entry{}, false
	}
	return o.entry(), true
}

// Len returns the number of resting orders on both sides.
func (b *OrderBook) Len() int {
	return len(b.byID)
}

func (b *OrderBook) BestBid() (decimal.Decimal, bool) {
	if lvl := b.Bids.MaxLevel(); lvl != nil {
		return lvl.Price, true
	}
	return decimal.Decimal{}, false
}

func (b *OrderBook) BestAsk() (decimal.Decimal, bool) {
	if lvl := b.Asks.MinLevel(); lvl != nil {
		return lvl.Price, true
	}
	return decimal.Decimal{}, false
}
