package agent

import (
	"sync"

	"github.com/c360/agentruntime/errors"
)

// Mailbox is an unbounded FIFO queue with a single consumer. Producers never
// block; the consumer blocks in Pop until an item arrives or the mailbox is
// closed and drained.
//
// The runtime uses one Mailbox per agent plus one for its own delivery queue.
type Mailbox[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
}

// NewMailbox creates an empty open mailbox
func NewMailbox[T any]() *Mailbox[T] {
	m := &Mailbox[T]{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Push appends an item. Returns ErrMailboxClosed after Close.
func (m *Mailbox[T]) Push(item T) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.WrapInvalid(errors.ErrMailboxClosed, "Mailbox", "Push", "enqueue")
	}
	m.items = append(m.items, item)
	m.cond.Signal()
	return nil
}

// Pop removes and returns the oldest item, blocking while the mailbox is
// open and empty. The second return is false once the mailbox is closed and
// fully drained, which is the consumer's signal to terminate.
func (m *Mailbox[T]) Pop() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.items) == 0 && !m.closed {
		m.cond.Wait()
	}

	if len(m.items) == 0 {
		var zero T
		return zero, false
	}

	item := m.items[0]
	// Drop the reference so drained items can be collected
	var zero T
	m.items[0] = zero
	m.items = m.items[1:]
	return item, true
}

// Close closes the mailbox for writing. Queued items remain poppable; Pop
// returns false once they are drained. Closing twice is a no-op.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.cond.Broadcast()
}

// Len returns the number of queued items
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Closed reports whether the mailbox has been closed for writing
func (m *Mailbox[T]) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
