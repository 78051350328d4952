package orderbook

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PriceLevel is a FIFO queue of resting orders at a single price.
type PriceLevel struct {
	Price decimal.Decimal

	head *Order
	tail *Order

	TotalVolume int64
	OrderCount  int
}

func (p *PriceLevel) Enqueue(o *Order) {
	if p.head == nil {
		p.head = o
		p.tail = o
	} else {
		p.tail.next = o
		o.prev = p.tail
		p.tail = o
	}
	o.level = p
	p.TotalVolume += o.volume
	p.OrderCount++
}

// Unlink removes o from the queue. o must belong to p.
func (p *PriceLevel) Unlink(o *Order) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		p.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		p.tail = o.prev
	}
	o.next = nil
	o.prev = nil
	o.level = nil

	p.TotalVolume -= o.volume
	p.OrderCount--
}

// filled keeps TotalVolume in step with a fill applied to a member order.
func (p *PriceLevel) filled(delta int64) {
	p.TotalVolume -= delta
}

func (p *PriceLevel) Empty() bool {
	return p.head == nil
}

func (p *PriceLevel) Head() *Order {
	return p.head
}

func (p *PriceLevel) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s x%d (%d):", p.Price.String(), p.OrderCount, p.TotalVolume)
	for o := p.head; o != nil; o = o.next {
		fmt.Fprintf(&sb, " %d#%d", o.volume, o.id)
	}
	return sb.String()
}
