package orderbook

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// Opposite returns the side an aggressor on s trades against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Order is a unit of interest owned by exactly one OrderBook.
//
// ID, Side, Price and Arrival are fixed at construction. Volume only
// shrinks, through Fill. Identity is by ID alone.
type Order struct {
	id      uint64
	side    Side
	price   decimal.Decimal
	volume  int64
	arrival uint64

	// intrusive FIFO links inside a PriceLevel
	level *PriceLevel
	next  *Order
	prev  *Order
}

// NewOrder builds an order. arrival is the time-priority tie-break and
// must come from a monotonic source.
func NewOrder(id uint64, side Side, price decimal.Decimal, volume int64, arrival uint64) (*Order, error) {
	if volume < 0 {
		return nil, errors.Wrapf(ErrVolumeUnderflow, "order %d: negative volume %d", id, volume)
	}
	return &Order{
		id:      id,
		side:    side,
		price:   price,
		volume:  volume,
		arrival: arrival,
	}, nil
}

func (o *Order) ID() uint64             { return o.id }
func (o *Order) Side() Side             { return o.side }
func (o *Order) Price() decimal.Decimal { return o.price }
func (o *Order) Volume() int64          { return o.volume }
func (o *Order) Arrival() uint64        { return o.arrival }

// Filled reports whether the order has no remaining volume.
func (o *Order) Filled() bool { return o.volume == 0 }

// Fill reduces the remaining volume by delta. A delta larger than the
// remaining volume, or a negative one, leaves the order untouched.
func (o *Order) Fill(delta int64) error {
	if delta < 0 {
		return errors.Wrapf(ErrVolumeUnderflow, "order %d: negative fill %d", o.id, delta)
	}
	if delta > o.volume {
		return errors.Wrapf(ErrVolumeUnderflow, "order %d: fill %d exceeds volume %d", o.id, delta, o.volume)
	}
	o.volume -= delta
	return nil
}

// Same reports whether o and other denote the same order.
func (o *Order) Same(other *Order) bool {
	return o != nil && other != nil && o.id == other.id
}

// Entry is a detached copy of a resting order, safe to hand out of the book.
type Entry struct {
	ID      uint64
	Side    Side
	Price   decimal.Decimal
	Volume  int64
	Arrival uint64
}

func (o *Order) entry() Entry {
	return Entry{
		ID:      o.id,
		Side:    o.side,
		Price:   o.price,
		Volume:  o.volume,
		Arrival: o.arrival,
	}
}

func (e Entry) String() string {
	return fmt.Sprintf("[%s] %d; %s; %d", e.Side, e.ID, e.Price.String(), e.Volume)
}
