package orderbook

import "github.com/pkg/errors"

// Snapshot is a detached copy of both sides, best price first.
type Snapshot struct {
	BookID string
	Buys   []Entry
	Sells  []Entry
}

func (b *OrderBook) Snapshot() Snapshot {
	s := Snapshot{
		BookID: b.ID,
		Buys:   make([]Entry, 0, len(b.byID)),
		Sells:  make([]Entry, 0, len(b.byID)),
	}
	b.Bids.ForEachDescending(func(lvl *PriceLevel) bool {
		for o := lvl.head; o != nil; o = o.next {
			s.Buys = append(s.Buys, o.entry())
		}
		return true
	})
	b.Asks.ForEachAscending(func(lvl *PriceLevel) bool {
		for o := lvl.head; o != nil; o = o.next {
			s.Sells = append(s.Sells, o.entry())
		}
		return true
	})
	return s
}

// Verify walks the whole book and checks its structural invariants: price
// and arrival ordering, level totals, index correspondence, no empty
// orders and an uncrossed top of book.
func (b *OrderBook) Verify() error {
	seen := 0
	check := func(side Side, tree *RBTree) error {
		var err error
		visit := func(lvl *PriceLevel) bool {
			var total int64
			var count int
			var lastArrival uint64
			for o := lvl.head; o != nil; o = o.next {
				switch {
				case o.side != side:
					err = errors.Errorf("order %d on %s ladder has side %s", o.id, side, o.side)
				case !o.price.Equal(lvl.Price):
					err = errors.Errorf("order %d price %s in level %s", o.id, o.price, lvl.Price)
				case o.volume <= 0:
					err = errors.Errorf("order %d rests with volume %d", o.id, o.volume)
				case count > 0 && o.arrival < lastArrival:
					err = errors.Errorf("order %d arrived before its predecessor in level %s", o.id, lvl.Price)
				case b.byID[o.id] != o:
					err = errors.Wrapf(ErrIndexCorrupted, "order %d missing from index", o.id)
				case o.level != lvl:
					err = errors.Wrapf(ErrIndexCorrupted, "order %d points at the wrong level", o.id)
				}
				if err != nil {
					return false
				}
				lastArrival = o.arrival
				total += o.volume
				count++
				seen++
			}
			if count == 0 {
				err = errors.Errorf("empty level %s left on %s ladder", lvl.Price, side)
			} else if total != lvl.TotalVolume || count != lvl.OrderCount {
				err = errors.Errorf("level %s totals %d/%d, counted %d/%d", lvl.Price, lvl.TotalVolume, lvl.OrderCount, total, count)
			}
			return err == nil
		}
		tree.ForEachAscending(visit)
		return err
	}

	if err := check(Buy, b.Bids); err != nil {
		return err
	}
	if err := check(Sell, b.Asks); err != nil {
		return err
	}
	if seen != len(b.byID) {
		return errors.Wrapf(ErrIndexCorrupted, "index holds %d orders, ladders hold %d", len(b.byID), seen)
	}

	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if okBid && okAsk && !bid.LessThan(ask) {
		return errors.Errorf("book crossed: best bid %s >= best ask %s", bid, ask)
	}
	return nil
}
