package service

import (
	"sync"

	"github.com/eapache/queue"

	"matchbook/domain/event"
	"matchbook/domain/orderbook"
)

type opKind uint8

const (
	opSubmit opKind = iota
	opCancel
	opQuery
	opStop
)

func (k opKind) String() string {
	switch k {
	case opSubmit:
		return "submit"
	case opCancel:
		return "cancel"
	case opQuery:
		return "query"
	default:
		return "stop"
	}
}

// operation is one mailbox item. order is built under the mailbox lock so
// its arrival number matches its queue position.
type operation struct {
	kind    opKind
	ev      event.Event
	order   *orderbook.Order
	err     error
	orderID uint64
	reply   chan orderbook.Snapshot
}

// mailbox is an unbounded FIFO; producers never block. Once the stop
// sentinel is in, nothing else is accepted.
type mailbox struct {
	mu     sync.Mutex
	q      *queue.Queue
	ready  chan struct{}
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{
		q:     queue.New(),
		ready: make(chan struct{}, 1),
	}
}

// push appends op, running prepare under the lock first. It reports false
// if the mailbox is already closed.
func (m *mailbox) push(op operation, prepare func(*operation)) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	if prepare != nil {
		prepare(&op)
	}
	if op.kind == opStop {
		m.closed = true
	}
	m.q.Add(op)
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
	return true
}

// pop blocks until an operation is available.
func (m *mailbox) pop() operation {
	for {
		m.mu.Lock()
		if m.q.Length() > 0 {
			op := m.q.Remove().(operation)
			m.mu.Unlock()
			return op
		}
		m.mu.Unlock()
		<-m.ready
	}
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q.Length()
}

func (m *mailbox) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
