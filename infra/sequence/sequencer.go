package sequence

import "sync/atomic"

// Sequencer hands out strictly increasing arrival numbers. It is shared
// by every book, so arrivals are also comparable across books.
type Sequencer struct {
	last atomic.Uint64
}

// New returns a sequencer whose first Next is start+1.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Last returns the most recently issued value.
func (s *Sequencer) Last() uint64 {
	return s.last.Load()
}
