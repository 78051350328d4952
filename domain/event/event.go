// Package event defines the normalized feed events consumed by the book
// registry. The add/cancel distinction is a tag decided once, at the
// feed boundary.
package event

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"matchbook/domain/orderbook"
)

// ErrMalformed marks an event that violates the feed contract. Sources
// return it wrapped; it aborts a run.
var ErrMalformed = errors.New("event: malformed")

type Kind uint8

const (
	KindUnknown Kind = iota
	KindAdd
	KindCancel
	// KindEnd is the terminal marker of a feed.
	KindEnd
)

func (k Kind) String() string {
	switch k {
	case KindAdd:
		return "add"
	case KindCancel:
		return "cancel"
	case KindEnd:
		return "end"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Event is one normalized feed message. Side, Price and Volume are only
// meaningful for KindAdd.
type Event struct {
	Kind    Kind
	BookID  string
	OrderID uint64
	Side    orderbook.Side
	Price   decimal.Decimal
	Volume  int64
}

func Add(bookID string, orderID uint64, side orderbook.Side, price decimal.Decimal, volume int64) Event {
	return Event{
		Kind:    KindAdd,
		BookID:  bookID,
		OrderID: orderID,
		Side:    side,
		Price:   price,
		Volume:  volume,
	}
}

func Cancel(bookID string, orderID uint64) Event {
	return Event{Kind: KindCancel, BookID: bookID, OrderID: orderID}
}

func End() Event {
	return Event{Kind: KindEnd}
}

// Validate checks the structural contract of an event.
func (e Event) Validate() error {
	switch e.Kind {
	case KindEnd:
		return nil
	case KindAdd, KindCancel:
	default:
		return errors.Wrapf(ErrMalformed, "unknown kind %d", uint8(e.Kind))
	}
	if e.BookID == "" {
		return errors.Wrapf(ErrMalformed, "%s order %d: empty book id", e.Kind, e.OrderID)
	}
	if e.Kind == KindCancel {
		return nil
	}
	if e.Side != orderbook.Buy && e.Side != orderbook.Sell {
		return errors.Wrapf(ErrMalformed, "add order %d: bad side %d", e.OrderID, int(e.Side))
	}
	if e.Volume < 0 {
		return errors.Wrapf(ErrMalformed, "add order %d: negative volume %d", e.OrderID, e.Volume)
	}
	if e.Price.IsNegative() {
		return errors.Wrapf(ErrMalformed, "add order %d: negative price %s", e.OrderID, e.Price)
	}
	return nil
}

func (e Event) String() string {
	switch e.Kind {
	case KindAdd:
		return fmt.Sprintf("add %s/%d %s %d@%s", e.BookID, e.OrderID, e.Side, e.Volume, e.Price)
	case KindCancel:
		return fmt.Sprintf("cancel %s/%d", e.BookID, e.OrderID)
	default:
		return e.Kind.String()
	}
}
